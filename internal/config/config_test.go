package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr = %q", cfg.Addr())
	}
	if cfg.Channel.PollMin.Duration != 10*time.Millisecond || cfg.Channel.PollMax.Duration != time.Second {
		t.Errorf("poll decay bounds = %v..%v", cfg.Channel.PollMin.Duration, cfg.Channel.PollMax.Duration)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Port != 8080 || cfg.Database.Path != "./widgetbridge.db" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[http]
host = "127.0.0.1"
port = 9090
read_timeout = "10s"

[database]
path = "/var/lib/widgetbridge/data.db"

[channel]
mailbox_size = 512
relay_interval = "500ms"

[manifest]
path = "/etc/widgetbridge/widgets.yaml"
watch = false

[logging]
level = "debug"
console = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Host != "127.0.0.1" || cfg.HTTP.Port != 9090 {
		t.Errorf("http = %+v", cfg.HTTP)
	}
	if cfg.HTTP.ReadTimeout.Duration != 10*time.Second {
		t.Errorf("read timeout = %v", cfg.HTTP.ReadTimeout.Duration)
	}
	// Unset keys keep their defaults.
	if cfg.HTTP.WriteTimeout.Duration != 30*time.Second {
		t.Errorf("write timeout = %v", cfg.HTTP.WriteTimeout.Duration)
	}
	if cfg.Database.Path != "/var/lib/widgetbridge/data.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Channel.MailboxSize != 512 || cfg.Channel.RelayInterval.Duration != 500*time.Millisecond {
		t.Errorf("channel = %+v", cfg.Channel)
	}
	if cfg.Manifest.Path != "/etc/widgetbridge/widgets.yaml" || cfg.Manifest.Watch {
		t.Errorf("manifest = %+v", cfg.Manifest)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_MissingNamedFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("a named but unreadable file must not fall back silently")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[http]\nport = 9090\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("WIDGETBRIDGE_HTTP_HOST", "10.0.0.5")
	t.Setenv("WIDGETBRIDGE_HTTP_PORT", "7070")
	t.Setenv("WIDGETBRIDGE_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("WIDGETBRIDGE_MANIFEST_PATH", "/tmp/widgets.yaml")
	t.Setenv("WIDGETBRIDGE_LOG_LEVEL", "warn")
	t.Setenv("WIDGETBRIDGE_HTTP_READ_TIMEOUT", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Host != "10.0.0.5" || cfg.HTTP.Port != 7070 {
		t.Errorf("env did not win: %+v", cfg.HTTP)
	}
	if cfg.Database.Path != "/tmp/env.db" || cfg.Manifest.Path != "/tmp/widgets.yaml" {
		t.Errorf("paths not overridden: %q %q", cfg.Database.Path, cfg.Manifest.Path)
	}
	if cfg.Logging.Level != "warn" || cfg.HTTP.ReadTimeout.Duration != 5*time.Second {
		t.Errorf("level/timeout not overridden: %+v", cfg)
	}
}

func TestLoad_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("WIDGETBRIDGE_HTTP_PORT", "not-a-port")
	t.Setenv("WIDGETBRIDGE_HTTP_READ_TIMEOUT", "soon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Port != 8080 || cfg.HTTP.ReadTimeout.Duration != 30*time.Second {
		t.Errorf("unparsable env should be ignored: %+v", cfg.HTTP)
	}
}

func TestChannelConfig_TransportOptions(t *testing.T) {
	cfg := Default()
	cfg.Channel.SetupInterval = duration{150 * time.Millisecond}
	cfg.Channel.PollMin = duration{20 * time.Millisecond}
	cfg.Channel.PollMax = duration{2 * time.Second}
	cfg.Channel.RelayInterval = duration{400 * time.Millisecond}

	opts := cfg.Channel.TransportOptions()
	if opts.SetupInterval != 150*time.Millisecond ||
		opts.PollMin != 20*time.Millisecond ||
		opts.PollMax != 2*time.Second ||
		opts.RelayInterval != 400*time.Millisecond {
		t.Errorf("channel tuning not carried into transport options: %+v", opts)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := map[string]func(*Config){
		"empty host":          func(c *Config) { c.HTTP.Host = "" },
		"port too high":       func(c *Config) { c.HTTP.Port = 70000 },
		"zero port":           func(c *Config) { c.HTTP.Port = 0 },
		"zero read timeout":   func(c *Config) { c.HTTP.ReadTimeout = duration{} },
		"empty database path": func(c *Config) { c.Database.Path = "" },
		"zero mailbox":        func(c *Config) { c.Channel.MailboxSize = 0 },
		"poll ceiling < floor": func(c *Config) {
			c.Channel.PollMin = duration{time.Second}
			c.Channel.PollMax = duration{time.Millisecond}
		},
		"zero relay interval": func(c *Config) { c.Channel.RelayInterval = duration{} },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation failure", name)
		}
	}
}
