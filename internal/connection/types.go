package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrUnauthenticated = errors.New("not authenticated: no access token")
	ErrInvalidURL      = errors.New("invalid websocket url")
	ErrAuthRejected    = errors.New("authentication rejected by server")
	ErrMaxAttempts     = errors.New("maximum reconnection attempts reached")
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
)

// Close codes used by the realtime backend.
const (
	CloseNormal       = 1000
	CloseGoingAway    = 1001
	CloseAbnormal     = 1006 // No close frame received; never sent on the wire
	CloseUnauthorized = 4401
	CloseForbidden    = 4403
)

// ReadyState mirrors the transport's readiness.
type ReadyState int

const (
	ReadyConnecting ReadyState = iota
	ReadyOpen
	ReadyClosing
	ReadyClosed
)

// String returns the state name.
func (s ReadyState) String() string {
	switch s {
	case ReadyConnecting:
		return "connecting"
	case ReadyOpen:
		return "open"
	case ReadyClosing:
		return "closing"
	case ReadyClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseEvent describes how a socket closed.
type CloseEvent struct {
	Code   int
	Reason string
	Clean  bool // Closing handshake completed with a normal closure
}

// Config configures the Supervisor.
type Config struct {
	Backoff            Backoff
	MaxAttempts        int   // Reconnect attempts before giving up
	TerminalCloseCodes []int // Close codes that are never retried
}

// DefaultConfig returns the production reconnect policy.
func DefaultConfig() Config {
	return Config{
		Backoff:            DefaultBackoff(),
		MaxAttempts:        10,
		TerminalCloseCodes: []int{CloseUnauthorized, CloseForbidden},
	}
}

// ClientConfig configures the gorilla WebSocket transport.
type ClientConfig struct {
	HandshakeTimeout time.Duration // Max time for the opening handshake
	PingInterval     time.Duration // Keepalive ping period (0 disables keepalive)
	PingTimeout      time.Duration // Max time without ping/pong before the connection is stale
	WriteTimeout     time.Duration // Write deadline for sends
	ReadLimit        int64         // Max inbound frame size in bytes (0 = unlimited)
	UserAgent        string        // Sent on the handshake when set
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
	}
}
