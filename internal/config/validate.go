package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := c.Realtime.validate(); err != nil {
		return err
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
		if c.Archive.FlushInterval <= 0 {
			return errors.New("archive.flush_interval must be > 0")
		}
	}

	if c.Bridge.Enabled {
		if c.Bridge.Addr == "" {
			return errors.New("bridge.addr is required")
		}
		if c.Bridge.DB < 0 {
			return errors.New("bridge.db must be >= 0")
		}
		if c.Bridge.QueueSize < 1 {
			return errors.New("bridge.queue_size must be >= 1")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}

	return nil
}

func (r *RealtimeConfig) validate() error {
	if r.WSURL == "" {
		return errors.New("realtime.ws_url is required")
	}
	u, err := url.Parse(r.WSURL)
	if err != nil {
		return fmt.Errorf("realtime.ws_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("realtime.ws_url scheme %q must be ws or wss", u.Scheme)
	}
	if r.MaxReconnectAttempts < 0 {
		return errors.New("realtime.max_reconnect_attempts must be >= 0")
	}
	if r.ReconnectBaseDelay <= 0 {
		return errors.New("realtime.reconnect_base_delay must be > 0")
	}
	if r.ReconnectMaxDelay < r.ReconnectBaseDelay {
		return fmt.Errorf("realtime.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			r.ReconnectMaxDelay, r.ReconnectBaseDelay)
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return errors.New("realtime.jitter must be between 0 and 1")
	}
	if r.PingInterval > 0 && r.PingTimeout <= r.PingInterval {
		return errors.New("realtime.ping_timeout must exceed ping_interval")
	}
	for _, code := range r.TerminalCloseCodes {
		if code < 1000 || code > 4999 {
			return fmt.Errorf("realtime.terminal_close_codes: %d is not a valid close code", code)
		}
		if code == 1000 {
			return errors.New("realtime.terminal_close_codes: 1000 is a normal closure and cannot be terminal")
		}
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
