package connection

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rickgao/matchline/internal/auth"
	"github.com/rickgao/matchline/internal/status"
)

// Dispatcher receives every inbound frame verbatim.
type Dispatcher interface {
	Dispatch(raw []byte)
}

// StatusSink receives connection state transitions.
type StatusSink interface {
	Publish(s status.Status)
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithClock replaces the timer source used for reconnect delays.
func WithClock(c Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithRandom replaces the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(s *Supervisor) { s.random = fn }
}

// Supervisor owns at most one live socket and reconnects it after
// transient drops.
//
// Every socket and reconnect timer is tagged with the session generation it
// was created under. Connect, Disconnect and each new dial bump the
// generation, so callbacks from a replaced socket or a cancelled timer are
// ignored.
type Supervisor struct {
	cfg        Config
	terminal   map[int]struct{}
	transport  Transport
	tokens     auth.TokenSource
	dispatcher Dispatcher
	publisher  StatusSink
	clock      Clock
	random     func() float64
	logger     *slog.Logger

	mu          sync.Mutex
	socket      Socket
	gen         uint64
	url         string
	backoff     time.Duration
	attempts    int
	intentional bool
	timer       Timer
}

// NewSupervisor creates a Supervisor. It does not connect.
func NewSupervisor(
	cfg Config,
	transport Transport,
	tokens auth.TokenSource,
	dispatcher Dispatcher,
	publisher StatusSink,
	logger *slog.Logger,
	opts ...Option,
) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = status.NewPublisher(logger)
	}
	cfg.Backoff = cfg.Backoff.normalized()
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}

	terminal := make(map[int]struct{}, len(cfg.TerminalCloseCodes))
	for _, code := range cfg.TerminalCloseCodes {
		terminal[code] = struct{}{}
	}

	s := &Supervisor{
		cfg:        cfg,
		terminal:   terminal,
		transport:  transport,
		tokens:     tokens,
		dispatcher: dispatcher,
		publisher:  publisher,
		clock:      realClock{},
		random:     rand.Float64,
		logger:     logger.With("component", "supervisor"),
		backoff:    cfg.Backoff.Floor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a session to baseURL, replacing any existing one. It fails
// fast with ErrUnauthenticated when no access token is available, and with
// ErrInvalidURL for a malformed URL; no socket is opened in either case.
func (s *Supervisor) Connect(baseURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked(CloseNormal, "reconnecting")
	s.intentional = false
	s.attempts = 0
	s.backoff = s.cfg.Backoff.Floor
	s.url = baseURL

	s.publishLocked(status.Connecting, "")
	return s.dialLocked()
}

// Disconnect closes the session and cancels any pending reconnect.
// Calling it again is a no-op beyond republishing disconnected.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.intentional = true
	s.teardownLocked(CloseNormal, "client disconnect")
	s.attempts = 0
	s.backoff = s.cfg.Backoff.Floor
	s.url = ""

	s.publishLocked(status.Disconnected, "")
	s.logger.Info("disconnected")
}

// Send marshals message to JSON and writes it when the socket is open.
// It reports whether the frame reached the transport; it never fails loudly.
func (s *Supervisor) Send(message any) bool {
	s.mu.Lock()
	sock := s.socket
	s.mu.Unlock()

	if sock == nil || sock.ReadyState() != ReadyOpen {
		return false
	}

	data, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn("marshal outbound message", "error", err)
		return false
	}
	if err := sock.Send(data); err != nil {
		s.logger.Warn("send failed", "error", err)
		return false
	}
	return true
}

// Attempts returns the reconnect attempts made since the last successful open.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// NextBackoff returns the nominal delay the next reconnect would wait.
func (s *Supervisor) NextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return min(s.backoff, s.cfg.Backoff.Cap)
}

// teardownLocked stops the reconnect timer and closes the live socket.
func (s *Supervisor) teardownLocked(code int, reason string) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	if s.socket != nil {
		sock := s.socket
		s.socket = nil
		if err := sock.Close(code, reason); err != nil {
			s.logger.Debug("close socket", "error", err)
		}
	}
}

func (s *Supervisor) dialLocked() error {
	wsURL, err := BuildWSURL(s.url, s.tokens)
	if err != nil {
		s.publishLocked(status.Disconnected, err.Error())
		return err
	}

	s.gen++
	s.socket = s.transport.Open(wsURL, &sessionEvents{s: s, gen: s.gen})
	s.logger.Debug("dialing", "url", redactURL(wsURL), "attempt", s.attempts)
	return nil
}

func (s *Supervisor) publishLocked(state status.State, errText string) {
	s.publisher.Publish(status.Status{ConnectionStatus: state, Error: errText})
}

func (s *Supervisor) handleOpen(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	s.backoff = s.cfg.Backoff.Floor
	s.attempts = 0
	s.publishLocked(status.Connected, "")
	s.logger.Info("connected")
}

func (s *Supervisor) handleClose(gen uint64, ev CloseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.socket = nil

	// Terminal codes are checked before the clean flag: a server rejecting
	// auth completes the closing handshake.
	switch {
	case s.intentional:
		s.publishLocked(status.Disconnected, "")
	case s.isTerminal(ev.Code):
		err := fmt.Errorf("%w (code %d)", ErrAuthRejected, ev.Code)
		s.logger.Error("connection rejected", "code", ev.Code, "reason", ev.Reason)
		s.publishLocked(status.Disconnected, err.Error())
	case ev.Code == CloseNormal || ev.Clean:
		s.logger.Info("connection closed by server", "code", ev.Code, "reason", ev.Reason)
		s.publishLocked(status.Disconnected, "")
	default:
		s.logger.Warn("connection dropped", "code", ev.Code, "reason", ev.Reason)
		s.scheduleReconnectLocked()
	}
}

func (s *Supervisor) handleError(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	// Report the socket's readiness now, not the last published state.
	state := status.Connecting
	if s.socket != nil && s.socket.ReadyState() == ReadyOpen {
		state = status.Connected
	}
	s.logger.Warn("socket error", "error", err, "state", state)
	s.publishLocked(state, err.Error())
}

func (s *Supervisor) handleMessage(gen uint64, data []byte) {
	s.mu.Lock()
	current := gen == s.gen
	s.mu.Unlock()

	// Dispatch runs unlocked so handlers may call Send.
	if current && s.dispatcher != nil {
		s.dispatcher.Dispatch(data)
	}
}

func (s *Supervisor) isTerminal(code int) bool {
	_, ok := s.terminal[code]
	return ok
}

func (s *Supervisor) scheduleReconnectLocked() {
	if s.attempts >= s.cfg.MaxAttempts {
		s.logger.Error("giving up on reconnect", "attempts", s.attempts)
		s.publishLocked(status.Disconnected, ErrMaxAttempts.Error())
		return
	}

	delay := s.cfg.Backoff.Delay(s.backoff, s.random())
	s.publishLocked(status.Reconnecting, "")

	gen := s.gen
	s.timer = s.clock.AfterFunc(delay, func() { s.reconnect(gen) })
	s.logger.Info("reconnect scheduled",
		"delay", delay,
		"attempt", s.attempts+1,
		"max_attempts", s.cfg.MaxAttempts,
	)

	s.backoff = s.cfg.Backoff.Next(s.backoff)
}

func (s *Supervisor) reconnect(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.intentional || s.socket != nil {
		return
	}

	s.timer = nil
	s.attempts++
	s.publishLocked(status.Connecting, "")
	if err := s.dialLocked(); err != nil {
		s.logger.Error("reconnect aborted", "error", err)
	}
}

// sessionEvents binds transport callbacks to the generation they were
// opened under.
type sessionEvents struct {
	s   *Supervisor
	gen uint64
}

func (e *sessionEvents) OnOpen()               { e.s.handleOpen(e.gen) }
func (e *sessionEvents) OnClose(ev CloseEvent) { e.s.handleClose(e.gen, ev) }
func (e *sessionEvents) OnError(err error)     { e.s.handleError(e.gen, err) }
func (e *sessionEvents) OnMessage(data []byte) { e.s.handleMessage(e.gen, data) }
