package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"widgetbridge/internal/transport"
)

// Config is the system-wide configuration. Precedence: defaults, then
// the TOML file, then WIDGETBRIDGE_* environment overrides.
type Config struct {
	HTTP     HTTPConfig     `toml:"http"`
	Database DatabaseConfig `toml:"database"`
	Channel  ChannelConfig  `toml:"channel"`
	Manifest ManifestConfig `toml:"manifest"`
	Logging  LoggingConfig  `toml:"logging"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Host         string   `toml:"host"`
	Port         int      `toml:"port"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path         string   `toml:"path"`
	WriteTimeout duration `toml:"write_timeout"`
}

// ChannelConfig tunes the channel hub and transports.
type ChannelConfig struct {
	MailboxSize   int      `toml:"mailbox_size"`
	SetupInterval duration `toml:"setup_interval"`
	PollMin       duration `toml:"poll_min"`
	PollMax       duration `toml:"poll_max"`
	RelayInterval duration `toml:"relay_interval"`
}

// TransportOptions maps the channel tuning onto the transport layer.
// The hub consumes MailboxSize directly; everything else is timing for
// the transports an embedding page negotiates.
func (c ChannelConfig) TransportOptions() transport.Options {
	return transport.Options{
		SetupInterval: c.SetupInterval.Duration,
		PollMin:       c.PollMin.Duration,
		PollMax:       c.PollMax.Duration,
		RelayInterval: c.RelayInterval.Duration,
	}
}

// ManifestConfig locates the widget catalog. An empty path disables
// the catalog.
type ManifestConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level   string `toml:"level"`
	Console bool   `toml:"console"`
}

// duration parses TOML duration strings like "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns production-ready defaults.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  duration{30 * time.Second},
			WriteTimeout: duration{30 * time.Second},
		},
		Database: DatabaseConfig{
			Path:         "./widgetbridge.db",
			WriteTimeout: duration{30 * time.Second},
		},
		Channel: ChannelConfig{
			MailboxSize:   256,
			SetupInterval: duration{100 * time.Millisecond},
			PollMin:       duration{10 * time.Millisecond},
			PollMax:       duration{time.Second},
			RelayInterval: duration{250 * time.Millisecond},
		},
		Manifest: ManifestConfig{
			Path:  "",
			Watch: true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: false,
		},
	}
}

// Load builds the configuration with full precedence. An empty path
// skips the file layer; a named but unreadable file is an error rather
// than a silent fallback.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if host := os.Getenv("WIDGETBRIDGE_HTTP_HOST"); host != "" {
		c.HTTP.Host = host
	}
	if port := os.Getenv("WIDGETBRIDGE_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.HTTP.Port = p
		}
	}
	if path := os.Getenv("WIDGETBRIDGE_DATABASE_PATH"); path != "" {
		c.Database.Path = path
	}
	if path := os.Getenv("WIDGETBRIDGE_MANIFEST_PATH"); path != "" {
		c.Manifest.Path = path
	}
	if level := os.Getenv("WIDGETBRIDGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if v := os.Getenv("WIDGETBRIDGE_HTTP_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.ReadTimeout = duration{d}
		}
	}
	if v := os.Getenv("WIDGETBRIDGE_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.WriteTimeout = duration{d}
		}
	}
}

// Validate rejects impossible configurations before any component
// starts.
func (c *Config) Validate() error {
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout.Duration <= 0 {
		return fmt.Errorf("http read timeout must be positive")
	}
	if c.HTTP.WriteTimeout.Duration <= 0 {
		return fmt.Errorf("http write timeout must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.WriteTimeout.Duration <= 0 {
		return fmt.Errorf("database write timeout must be positive")
	}
	if c.Channel.MailboxSize <= 0 {
		return fmt.Errorf("channel mailbox size must be positive")
	}
	if c.Channel.SetupInterval.Duration <= 0 {
		return fmt.Errorf("channel setup interval must be positive")
	}
	if c.Channel.PollMin.Duration <= 0 {
		return fmt.Errorf("channel poll floor must be positive")
	}
	if c.Channel.PollMax.Duration < c.Channel.PollMin.Duration {
		return fmt.Errorf("channel poll ceiling must be at least the floor")
	}
	if c.Channel.RelayInterval.Duration <= 0 {
		return fmt.Errorf("channel relay interval must be positive")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
