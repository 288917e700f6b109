// realtime connects to the matchline realtime backend and streams chat and
// notification traffic to the console. Lines typed on stdin are sent as chat
// messages to the -to user.
//
// Usage: go run ./cmd/realtime --config configs/realtime.example.yaml --from me --to them
//
// Without --config, settings come from the environment:
//
//	MATCHLINE_WS_URL       - WebSocket endpoint (ws:// or wss://)
//	MATCHLINE_ACCESS_TOKEN - Access token appended to the URL
//	MATCHLINE_LOG_LEVEL    - debug, info, warn or error
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/matchline/internal/archive"
	"github.com/rickgao/matchline/internal/auth"
	"github.com/rickgao/matchline/internal/bridge"
	"github.com/rickgao/matchline/internal/config"
	"github.com/rickgao/matchline/internal/connection"
	"github.com/rickgao/matchline/internal/database"
	"github.com/rickgao/matchline/internal/router"
	"github.com/rickgao/matchline/internal/status"
	"github.com/rickgao/matchline/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: environment only)")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	from := flag.String("from", "", "sender id for outbound chat messages")
	to := flag.String("to", "", "receiver id for outbound chat messages (enables stdin sending)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath, *verbose, *from, *to); err != nil {
		fmt.Fprintln(os.Stderr, "realtime:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
		return cfg, nil
	}
	return config.LoadAndValidate(path)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}

func loadToken(cfg config.AuthConfig) (string, error) {
	if cfg.AccessToken != "" {
		return cfg.AccessToken, nil
	}
	if cfg.TokenFile != "" {
		return auth.LoadTokenFile(cfg.TokenFile)
	}
	return "", nil
}

func supervisorConfig(rc config.RealtimeConfig) connection.Config {
	return connection.Config{
		Backoff: connection.Backoff{
			Floor:  rc.ReconnectBaseDelay,
			Cap:    rc.ReconnectMaxDelay,
			Jitter: rc.Jitter,
		},
		MaxAttempts:        rc.MaxReconnectAttempts,
		TerminalCloseCodes: rc.TerminalCloseCodes,
	}
}

func clientConfig(rc config.RealtimeConfig) connection.ClientConfig {
	cc := connection.DefaultClientConfig()
	cc.HandshakeTimeout = rc.HandshakeTimeout
	cc.PingInterval = rc.PingInterval
	cc.PingTimeout = rc.PingTimeout
	cc.WriteTimeout = rc.WriteTimeout
	cc.UserAgent = version.UserAgent()
	return cc
}

func run(configPath string, verbose bool, from, to string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	logger.Info("starting realtime client", "version", version.String())

	token, err := loadToken(cfg.Auth)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	tokens := auth.NewStore(token)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	rtr := router.NewRouter(logger)
	publisher := status.NewPublisher(logger)

	// Console output
	if err := registerPrinters(rtr, verbose); err != nil {
		return fmt.Errorf("register printers: %w", err)
	}
	publisher.Subscribe(func(s status.Status) {
		if s.Error != "" {
			fmt.Printf("[STATUS] %s: %s\n", s.ConnectionStatus, s.Error)
		} else {
			fmt.Printf("[STATUS] %s\n", s.ConnectionStatus)
		}
		// The supervisor goes idle after a terminal failure
		if s.ConnectionStatus == status.Disconnected && s.Error != "" {
			logger.Error("connection stopped", "error", s.Error)
			cancel()
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	var stops []func(context.Context)

	// Chat archive
	if cfg.Archive.Enabled {
		pool, err := database.Connect(ctx, cfg.Archive.Database)
		if err != nil {
			return fmt.Errorf("connect archive database: %w", err)
		}
		defer pool.Close()

		if err := archive.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("archive schema: %w", err)
		}

		writer := archive.NewChatWriter(archive.WriterConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, pool, logger)
		if err := writer.Start(gctx); err != nil {
			return fmt.Errorf("start archive: %w", err)
		}
		if err := rtr.Register(router.KindChatMessage, writer); err != nil {
			return fmt.Errorf("register archive: %w", err)
		}
		stops = append(stops, func(ctx context.Context) {
			if err := writer.Stop(ctx); err != nil {
				logger.Warn("archive stop", "error", err)
			}
			stats := writer.Stats()
			logger.Info("archive stats",
				"inserts", stats.Inserts,
				"conflicts", stats.Conflicts,
				"errors", stats.Errors,
				"dropped", stats.Dropped,
			)
		})
	}

	// Redis relay
	if cfg.Bridge.Enabled {
		client := bridge.NewClient(cfg.Bridge)
		defer client.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}

		relay := bridge.NewRedisRelay(client, cfg.Bridge.Prefix, cfg.Bridge.QueueSize, logger)
		for _, kind := range rtr.Kinds() {
			if err := rtr.Register(kind, relay); err != nil {
				return fmt.Errorf("register relay: %w", err)
			}
		}
		publisher.Subscribe(relay.ObserveStatus)
		g.Go(func() error { return relay.Run(gctx) })
	}

	transport := connection.NewWSTransport(clientConfig(cfg.Realtime), logger)
	sup := connection.NewSupervisor(supervisorConfig(cfg.Realtime), transport, tokens, rtr, publisher, logger)

	if err := sup.Connect(cfg.Realtime.WSURL); err != nil {
		if errors.Is(err, connection.ErrUnauthenticated) {
			return fmt.Errorf("no access token: set MATCHLINE_ACCESS_TOKEN or auth.token_file")
		}
		return fmt.Errorf("connect: %w", err)
	}

	// Stdin sender. Not part of the group: a blocked read cannot be cancelled.
	if to != "" {
		go sendLines(gctx, sup, from, to, logger)
	}

	// Stats printer
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				rs := rtr.Stats()
				logger.Info("stats",
					"status", publisher.Current().ConnectionStatus,
					"received", rs.Received,
					"delivered", rs.Delivered,
					"parse_errors", rs.ParseErrors,
					"invalid_envelopes", rs.InvalidEnvelopes,
					"invalid_payloads", rs.InvalidPayloads,
					"handler_panics", rs.HandlerPanics,
				)
			}
		}
	})

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-gctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	sup.Disconnect()
	rtr.ClearAll()
	tokens.Clear()
	for _, stop := range stops {
		stop(shutdownCtx)
	}

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

func registerPrinters(rtr *router.Router, verbose bool) error {
	show := func(label string, v any, line string) {
		if verbose {
			data, _ := json.MarshalIndent(v, "", "  ")
			fmt.Printf("[%s] %s\n", label, data)
			return
		}
		fmt.Printf("[%s] %s\n", label, line)
	}

	printers := []struct {
		kind router.Kind
		h    router.Handler
	}{
		{router.KindChatMessage, router.On(func(m router.ChatMessage) {
			show("CHAT", m, fmt.Sprintf("id=%s from=%s to=%s: %s", m.ID, m.SenderID, m.ReceiverID, m.Content))
		})},
		{router.KindChatAck, router.On(func(m router.ChatAck) {
			show("ACK", m, fmt.Sprintf("message=%s status=%s", m.MessageID, m.Status))
		})},
		{router.KindChatRead, router.On(func(m router.ChatRead) {
			show("READ", m, fmt.Sprintf("conversation=%s at=%s", m.ConversationID, m.ReadAt))
		})},
		{router.KindNotification, router.On(func(m router.Notification) {
			show("NOTIFY", m, fmt.Sprintf("id=%s type=%s: %s", m.ID, m.Type, m.Message))
		})},
	}
	for _, p := range printers {
		if err := rtr.Register(p.kind, p.h); err != nil {
			return fmt.Errorf("%s: %w", p.kind, err)
		}
	}
	return nil
}

func sendLines(ctx context.Context, sup *connection.Supervisor, from, to string, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !sup.Send(router.NewChatMessage(from, to, line)) {
			logger.Warn("not connected, message not sent")
		}
	}
}
