package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore, e.g. CONSUMA_SERVER__PORT=9000.
const EnvPrefix = "CONSUMA_"

// DefaultPath is the config file read when CONSUMA_CONFIG is unset.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Storage   StorageConfig   `koanf:"storage"`
	Queue     QueueConfig     `koanf:"queue"`
	Callback  CallbackConfig  `koanf:"callback"`
	Work      WorkConfig      `koanf:"work"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

type StorageConfig struct {
	Type     string         `koanf:"type"` // sqlite, postgres, memory
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Database DatabaseConfig `koanf:"database"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type DatabaseConfig struct {
	DSN string `koanf:"dsn"` // PostgreSQL connection string
}

type QueueConfig struct {
	Type  string      `koanf:"type"` // inprocess, redis
	Redis RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Key      string `koanf:"key"`
	Workers  int    `koanf:"workers"`
}

type CallbackConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	BaseDelay    time.Duration `koanf:"base_delay"`
	Timeout      time.Duration `koanf:"timeout"`
	GuardDial    bool          `koanf:"guard_dial"`
	BlockedHosts []string      `koanf:"blocked_hosts"`
}

type WorkConfig struct {
	SimulatedDelay time.Duration `koanf:"simulated_delay"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"server.port":            8080,
	"server.request_timeout": 30 * time.Second,
	"log.level":              "info",
	"storage.type":           "sqlite",
	"storage.sqlite.path":    "./data/requests.db",
	"queue.type":             "inprocess",
	"queue.redis.addr":       "localhost:6379",
	"queue.redis.db":         0,
	"queue.redis.key":        "consuma:tasks",
	"queue.redis.workers":    4,
	"callback.max_attempts":  5,
	"callback.base_delay":    time.Second,
	"callback.timeout":       10 * time.Second,
	"callback.guard_dial":    true,
	"work.simulated_delay":   200 * time.Millisecond,
	"telemetry.enabled":      false,
	"telemetry.service_name": "consuma-api",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the file named by CONSUMA_CONFIG (default config.yaml), then
// applies CONSUMA_ environment overrides. A missing file is not an error.
func Load() (*Config, error) {
	path := os.Getenv(EnvPrefix + "CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// Default returns the built-in configuration with no file or environment
// overrides applied.
func Default() *Config {
	k, err := withDefaults()
	if err != nil {
		panic(err)
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		panic(fmt.Sprintf("decode default config: %v", err))
	}
	return &cfg
}

func withDefaults() (*koanf.Koanf, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return k, nil
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	k, err := withDefaults()
	if err != nil {
		return nil, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)
	cfg.Storage.SQLite.Path = substituteEnvVars(cfg.Storage.SQLite.Path)
	cfg.Queue.Redis.Addr = substituteEnvVars(cfg.Queue.Redis.Addr)
	cfg.Queue.Redis.Password = substituteEnvVars(cfg.Queue.Redis.Password)
	cfg.Callback.BlockedHosts = splitList(cfg.Callback.BlockedHosts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and numeric bounds.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch c.Storage.Type {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.Database.DSN == "" {
			errs = append(errs, errors.New("storage.database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type %q must be sqlite, postgres or memory", c.Storage.Type))
	}
	switch c.Queue.Type {
	case "inprocess":
	case "redis":
		if c.Queue.Redis.Workers <= 0 {
			errs = append(errs, fmt.Errorf("queue.redis.workers must be positive, got %d", c.Queue.Redis.Workers))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.type %q must be inprocess or redis", c.Queue.Type))
	}
	if c.Callback.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("callback.max_attempts must be at least 1, got %d", c.Callback.MaxAttempts))
	}
	if c.Callback.BaseDelay < 0 || c.Callback.Timeout <= 0 {
		errs = append(errs, errors.New("callback.base_delay must be >= 0 and callback.timeout > 0"))
	}

	return errors.Join(errs...)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// splitList expands comma separated entries, which is how list values arrive
// from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
