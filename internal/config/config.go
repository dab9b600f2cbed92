package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`

	Docs    DocsConfig    `mapstructure:"docs" yaml:"docs"`
	Chat    ChatConfig    `mapstructure:"chat" yaml:"chat"`
	WS      WSConfig      `mapstructure:"ws" yaml:"ws"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	LiveKit LiveKitConfig `mapstructure:"livekit" yaml:"livekit"`
}

// DocsConfig tunes the document collaboration relay.
type DocsConfig struct {
	AutosaveDelay  time.Duration `mapstructure:"autosave_delay" yaml:"autosave_delay"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`
}

// ChatConfig tunes the chat relay and history API.
type ChatConfig struct {
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
}

// WSConfig holds per-connection transport limits.
type WSConfig struct {
	SendBuffer        int     `mapstructure:"send_buffer" yaml:"send_buffer"`
	MaxMessageBytes   int64   `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second" yaml:"messages_per_second"`
	MessageBurst      int     `mapstructure:"message_burst" yaml:"message_burst"`
}

// AuthConfig enables bearer token checks when JWTSecret is set.
type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`
}

// LiveKitConfig enables SFU fallback credentials for call rooms when all fields are set.
type LiveKitConfig struct {
	URL       string `mapstructure:"url" yaml:"url"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	APISecret string `mapstructure:"api_secret" yaml:"api_secret"`
}

// Enabled reports whether LiveKit credentials are fully configured.
func (l LiveKitConfig) Enabled() bool {
	return l.URL != "" && l.APIKey != "" && l.APISecret != ""
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "themis.db",
		Docs: DocsConfig{
			AutosaveDelay:  2 * time.Second,
			PersistTimeout: 10 * time.Second,
		},
		Chat: ChatConfig{
			HistoryLimit: 50,
		},
		WS: WSConfig{
			SendBuffer:        256,
			MaxMessageBytes:   1 << 20,
			MessagesPerSecond: 50,
			MessageBurst:      100,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.Docs.AutosaveDelay != 0 {
		c.Docs.AutosaveDelay = other.Docs.AutosaveDelay
	}
	if other.Auth.JWTSecret != "" {
		c.Auth.JWTSecret = other.Auth.JWTSecret
	}
}
