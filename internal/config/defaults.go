package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultJitter               = 0.5
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 100
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 1000
	DefaultBridgeAddr           = "localhost:6379"
	DefaultBridgePrefix         = "matchline:"
	DefaultBridgeQueueSize      = 256
	DefaultLogLevel             = "info"
)

// DefaultTerminalCloseCodes are the server's auth rejection codes.
var DefaultTerminalCloseCodes = []int{4401, 4403}

func (c *Config) applyDefaults() {
	// Realtime defaults
	r := &c.Realtime
	if r.MaxReconnectAttempts == 0 {
		r.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if r.ReconnectBaseDelay == 0 {
		r.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if r.ReconnectMaxDelay == 0 {
		r.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if r.Jitter == 0 {
		r.Jitter = DefaultJitter
	}
	if len(r.TerminalCloseCodes) == 0 {
		r.TerminalCloseCodes = append([]int(nil), DefaultTerminalCloseCodes...)
	}
	if r.HandshakeTimeout == 0 {
		r.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if r.PingInterval == 0 {
		r.PingInterval = DefaultPingInterval
	}
	if r.PingTimeout == 0 {
		r.PingTimeout = DefaultPingTimeout
	}
	if r.WriteTimeout == 0 {
		r.WriteTimeout = DefaultWriteTimeout
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultBufferSize
	}

	// Bridge defaults
	if c.Bridge.Addr == "" {
		c.Bridge.Addr = DefaultBridgeAddr
	}
	if c.Bridge.Prefix == "" {
		c.Bridge.Prefix = DefaultBridgePrefix
	}
	if c.Bridge.QueueSize == 0 {
		c.Bridge.QueueSize = DefaultBridgeQueueSize
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
