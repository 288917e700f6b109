package config

import "time"

// Config is the realtime client configuration.
type Config struct {
	Realtime RealtimeConfig `yaml:"realtime"`
	Auth     AuthConfig     `yaml:"auth"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Log      LogConfig      `yaml:"log"`
}

// RealtimeConfig holds socket and reconnect settings.
type RealtimeConfig struct {
	WSURL                string        `yaml:"ws_url" env:"MATCHLINE_WS_URL"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	Jitter               float64       `yaml:"jitter"`
	TerminalCloseCodes   []int         `yaml:"terminal_close_codes"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// AuthConfig locates the access token. AccessToken wins over TokenFile.
type AuthConfig struct {
	AccessToken string `yaml:"access_token" env:"MATCHLINE_ACCESS_TOKEN"`
	TokenFile   string `yaml:"token_file"`
}

// ArchiveConfig controls the PostgreSQL chat archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds database connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// BridgeConfig controls the Redis relay.
type BridgeConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Prefix    string `yaml:"prefix"`
	QueueSize int    `yaml:"queue_size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level" env:"MATCHLINE_LOG_LEVEL"`
}
