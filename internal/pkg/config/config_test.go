package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadFile(missing)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}

		if cfg.Server.Port != 8080 {
			t.Errorf("port = %v, want 8080", cfg.Server.Port)
		}
		if cfg.Storage.Type != "sqlite" {
			t.Errorf("storage.type = %q, want sqlite", cfg.Storage.Type)
		}
		if cfg.Queue.Type != "inprocess" {
			t.Errorf("queue.type = %q, want inprocess", cfg.Queue.Type)
		}
		if cfg.Callback.MaxAttempts != 5 {
			t.Errorf("callback.max_attempts = %d, want 5", cfg.Callback.MaxAttempts)
		}
		if cfg.Callback.BaseDelay != time.Second {
			t.Errorf("callback.base_delay = %v, want 1s", cfg.Callback.BaseDelay)
		}
		if cfg.Callback.Timeout != 10*time.Second {
			t.Errorf("callback.timeout = %v, want 10s", cfg.Callback.Timeout)
		}
		if !cfg.Callback.GuardDial {
			t.Error("callback.guard_dial = false, want true")
		}
		if cfg.Work.SimulatedDelay != 200*time.Millisecond {
			t.Errorf("work.simulated_delay = %v, want 200ms", cfg.Work.SimulatedDelay)
		}
	})

	t.Run("env var overrides", func(t *testing.T) {
		t.Setenv("CONSUMA_SERVER__PORT", "9000")
		t.Setenv("CONSUMA_CALLBACK__BASE_DELAY", "250ms")
		t.Setenv("CONSUMA_CALLBACK__BLOCKED_HOSTS", "internal.example.com, corp.local")
		t.Setenv("CONSUMA_QUEUE__TYPE", "redis")

		cfg, err := LoadFile(missing)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("port = %v, want 9000", cfg.Server.Port)
		}
		if cfg.Callback.BaseDelay != 250*time.Millisecond {
			t.Errorf("base_delay = %v, want 250ms", cfg.Callback.BaseDelay)
		}
		if len(cfg.Callback.BlockedHosts) != 2 || cfg.Callback.BlockedHosts[1] != "corp.local" {
			t.Errorf("blocked_hosts = %v", cfg.Callback.BlockedHosts)
		}
		if cfg.Queue.Type != "redis" {
			t.Errorf("queue.type = %q, want redis", cfg.Queue.Type)
		}
	})
}

func TestLoadFile_YAML(t *testing.T) {
	t.Setenv("TEST_PG_PASSWORD", "s3cret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 7070
storage:
  type: postgres
  database:
    dsn: postgres://app:${TEST_PG_PASSWORD}@db:5432/consuma
callback:
  max_attempts: 3
  timeout: 2s
  blocked_hosts:
    - internal.example.com
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %v, want 7070", cfg.Server.Port)
	}
	if cfg.Storage.Database.DSN != "postgres://app:s3cret@db:5432/consuma" {
		t.Errorf("dsn = %q", cfg.Storage.Database.DSN)
	}
	if cfg.Callback.MaxAttempts != 3 || cfg.Callback.Timeout != 2*time.Second {
		t.Errorf("callback = %+v", cfg.Callback)
	}
	if cfg.Callback.BaseDelay != time.Second {
		t.Errorf("base_delay = %v, want default 1s", cfg.Callback.BaseDelay)
	}
	if len(cfg.Callback.BlockedHosts) != 1 {
		t.Errorf("blocked_hosts = %v", cfg.Callback.BlockedHosts)
	}
}

func TestLoad_UsesConfigEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 6060\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("CONSUMA_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("port = %v, want 6060", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "none.yaml"))
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad storage", func(c *Config) { c.Storage.Type = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = "postgres" }},
		{"bad queue", func(c *Config) { c.Queue.Type = "kafka" }},
		{"zero attempts", func(c *Config) { c.Callback.MaxAttempts = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple substitution", "${TEST_VAR}", "test-value"},
		{"embedded", "redis://${TEST_VAR}@host", "redis://test-value@host"},
		{"unset var", "${DEFINITELY_UNSET_VAR_XYZ}", ""},
		{"no vars", "plain", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substituteEnvVars(tt.input); got != tt.want {
				t.Errorf("substituteEnvVars() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Storage.Type != "sqlite" || cfg.Queue.Type != "inprocess" {
		t.Errorf("Default() = %+v", cfg)
	}
	if !cfg.Callback.GuardDial {
		t.Error("Default() should guard callback dials")
	}
}
