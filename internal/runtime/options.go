package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/Thejas-AM/consuma-api/internal/core/ports"
	"github.com/Thejas-AM/consuma-api/internal/pkg/config"
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) error {
		if cfg == nil {
			return errors.New("nil config")
		}
		s.cfg = cfg
		return nil
	}
}

// WithConfigFile loads configuration from a YAML file plus CONSUMA_
// environment overrides.
func WithConfigFile(path string) Option {
	return func(s *Service) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		s.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithStore uses a caller-owned store instead of the configured one. The
// service does not close it.
func WithStore(store ports.RequestStore) Option {
	return func(s *Service) error {
		s.store = store
		return nil
	}
}

// WithExecutor replaces the built-in text work executor.
func WithExecutor(executor ports.WorkExecutor) Option {
	return func(s *Service) error {
		s.executor = executor
		return nil
	}
}

// WithURLValidator replaces the callback URL validator used at acceptance.
func WithURLValidator(v ports.URLValidator) Option {
	return func(s *Service) error {
		s.validator = v
		return nil
	}
}

// WithCallbackClient sets the HTTP client used for callback delivery. The
// client's own transport decides whether dials are guarded.
func WithCallbackClient(client *http.Client) Option {
	return func(s *Service) error {
		s.callbackClient = client
		return nil
	}
}

// WithTaskQueue replaces the configured task queue. The service starts and
// closes it.
func WithTaskQueue(queue ports.TaskQueue) Option {
	return func(s *Service) error {
		s.queue = queue
		return nil
	}
}

// WithRedisClient supplies the client used when queue.type is redis. The
// service does not close it.
func WithRedisClient(client *redis.Client) Option {
	return func(s *Service) error {
		s.redis = client
		return nil
	}
}
