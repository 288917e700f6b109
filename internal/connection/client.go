package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport opens gorilla/websocket connections.
type WSTransport struct {
	cfg    ClientConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewWSTransport creates a transport. Zero durations in cfg fall back to
// DefaultClientConfig, except PingInterval which disables keepalive.
func NewWSTransport(cfg ClientConfig, logger *slog.Logger) *WSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	return &WSTransport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.With("component", "ws"),
	}
}

// Open starts dialing url in the background and returns immediately.
func (t *WSTransport) Open(url string, events Events) Socket {
	ctx, cancel := context.WithCancel(context.Background())
	sock := &wsSocket{
		cfg:    t.cfg,
		dialer: t.dialer,
		logger: t.logger.With("url", redactURL(url)),
		url:    url,
		events: events,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  ReadyConnecting,
	}
	go sock.run(ctx)
	return sock
}

// wsSocket is one gorilla connection attempt. All events are delivered from
// the goroutine running run.
type wsSocket struct {
	cfg    ClientConfig
	dialer *websocket.Dialer
	logger *slog.Logger
	url    string
	events Events
	cancel context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	conn       *websocket.Conn
	state      ReadyState
	closing    bool
	closeCode  int
	stale      bool
	lastPingAt time.Time
}

func (c *wsSocket) ReadyState() ReadyState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Send writes a text frame.
func (c *wsSocket) Send(data []byte) error {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()
	if state != ReadyOpen || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and tears the connection down. A
// dial still in flight is aborted.
func (c *wsSocket) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closing || c.state == ReadyClosed {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.closeCode = code
	conn := c.conn
	if conn != nil {
		c.state = ReadyClosing
	}
	c.mu.Unlock()

	c.cancel()
	if conn == nil {
		return nil
	}

	werr := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	if err := conn.Close(); err != nil {
		return err
	}
	return werr
}

func (c *wsSocket) run(ctx context.Context) {
	defer c.cancel()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		header.Set("User-Agent", c.cfg.UserAgent)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.dialFailed(resp, err)
		return
	}

	c.mu.Lock()
	if c.closing {
		// Close raced the handshake.
		code := c.closeCode
		c.state = ReadyClosed
		c.mu.Unlock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
		c.events.OnClose(CloseEvent{Code: code, Clean: true})
		return
	}
	c.conn = conn
	c.state = ReadyOpen
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	// Set up ping handler - server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Set up pong handler - server responds to our ping
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	c.logger.Debug("websocket connected")
	c.events.OnOpen()

	go c.heartbeatLoop(conn)
	c.readLoop(conn)
}

func (c *wsSocket) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

func (c *wsSocket) dialFailed(resp *http.Response, err error) {
	c.mu.Lock()
	c.state = ReadyClosed
	closing, code := c.closing, c.closeCode
	c.mu.Unlock()
	c.stop()

	if closing {
		c.events.OnClose(CloseEvent{Code: code, Clean: true})
		return
	}

	// A rejected upgrade maps onto the close codes the server would send
	// after accepting it.
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			c.events.OnClose(CloseEvent{Code: CloseUnauthorized, Reason: resp.Status})
			return
		case http.StatusForbidden:
			c.events.OnClose(CloseEvent{Code: CloseForbidden, Reason: resp.Status})
			return
		}
	}

	c.logger.Debug("dial failed", "error", err)
	c.events.OnError(err)
	c.events.OnClose(CloseEvent{Code: CloseAbnormal, Reason: err.Error()})
}

// readLoop forwards frames until the connection ends.
func (c *wsSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.finish(conn, err)
			return
		}
		c.events.OnMessage(data)
	}
}

func (c *wsSocket) finish(conn *websocket.Conn, err error) {
	c.mu.Lock()
	c.state = ReadyClosed
	closing, code, stale := c.closing, c.closeCode, c.stale
	c.mu.Unlock()
	c.stop()
	conn.Close()

	var closeErr *websocket.CloseError
	switch {
	case closing:
		c.events.OnClose(CloseEvent{Code: code, Clean: true})
	case stale:
		c.events.OnError(ErrStaleConnection)
		c.events.OnClose(CloseEvent{Code: CloseAbnormal, Reason: ErrStaleConnection.Error()})
	case errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure:
		// 1006 is synthesized by gorilla for a dropped connection and
		// reported as a read error below.
		c.logger.Debug("server closed connection", "code", closeErr.Code, "reason", closeErr.Text)
		c.events.OnClose(CloseEvent{
			Code:   closeErr.Code,
			Reason: closeErr.Text,
			Clean:  closeErr.Code == websocket.CloseNormalClosure,
		})
	default:
		c.logger.Debug("read failed", "error", err)
		c.events.OnError(err)
		c.events.OnClose(CloseEvent{Code: CloseAbnormal, Reason: err.Error()})
	}
}

func (c *wsSocket) stop() {
	c.doneOnce.Do(func() { close(c.done) })
}

// heartbeatLoop pings the server and drops the connection when neither
// pings nor pongs arrive within PingTimeout.
func (c *wsSocket) heartbeatLoop(conn *websocket.Conn) {
	if c.cfg.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.Lock()
			lastPing := c.lastPingAt
			expired := time.Since(lastPing) > c.cfg.PingTimeout
			if expired {
				c.stale = true
			}
			c.mu.Unlock()

			if expired {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				// Unblocks readLoop, which reports the abnormal close.
				conn.Close()
				return
			}
		}
	}
}
