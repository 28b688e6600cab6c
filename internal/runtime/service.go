// Package runtime assembles the request service from configuration and
// manages its start and shutdown.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Thejas-AM/consuma-api/internal/callback"
	"github.com/Thejas-AM/consuma-api/internal/core/ports"
	workapi "github.com/Thejas-AM/consuma-api/internal/frontdoor/work"
	"github.com/Thejas-AM/consuma-api/internal/lifecycle"
	"github.com/Thejas-AM/consuma-api/internal/pkg/config"
	"github.com/Thejas-AM/consuma-api/internal/pkg/safehttp"
	"github.com/Thejas-AM/consuma-api/internal/server"
	"github.com/Thejas-AM/consuma-api/internal/storage"
	"github.com/Thejas-AM/consuma-api/internal/tasks"
	"github.com/Thejas-AM/consuma-api/internal/work"
)

// Service is the running request service: HTTP surface, lifecycle
// controller, task queue and store. It can be embedded in a larger program
// or run standalone.
type Service struct {
	// Dependencies (injected via options)
	cfg            *config.Config
	logger         *slog.Logger
	store          ports.RequestStore
	executor       ports.WorkExecutor
	validator      ports.URLValidator
	callbackClient *http.Client
	queue          ports.TaskQueue
	redis          *redis.Client

	// Assembled in Start
	ownsStore  bool
	ownsRedis  bool
	fallback   *tasks.InProcess
	controller *lifecycle.Controller
	server     *server.Server
	listener   net.Listener
	serveErr   chan error

	mu      sync.Mutex
	started bool
}

// New creates a Service. Without WithConfig the built-in defaults are used.
func New(opts ...Option) (*Service, error) {
	s := &Service{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if s.cfg == nil {
		s.cfg = config.Default()
	}
	return s, nil
}

// Start opens storage, wires the lifecycle and begins serving HTTP. It
// returns once the listener is bound.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("service already started")
	}

	if err := s.assemble(ctx); err != nil {
		s.release()
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.Port))
	if err != nil {
		s.release()
		return fmt.Errorf("listen on port %d: %w", s.cfg.Server.Port, err)
	}
	s.listener = ln

	if err := s.queue.Start(s.controller); err != nil {
		_ = ln.Close()
		s.release()
		return fmt.Errorf("start task queue: %w", err)
	}

	s.serveErr = make(chan error, 1)
	go func() {
		s.serveErr <- s.server.Serve(ln)
	}()

	s.started = true
	s.logger.Info("service started",
		slog.String("addr", ln.Addr().String()),
		slog.String("storage", s.cfg.Storage.Type),
		slog.String("queue", s.cfg.Queue.Type),
	)
	return nil
}

// assemble builds every component from configuration and options.
func (s *Service) assemble(ctx context.Context) error {
	cfg := s.cfg

	if s.store == nil {
		store, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		s.store = store
		s.ownsStore = true
	}

	urlValidator := safehttp.NewValidator(cfg.Callback.BlockedHosts...)
	if s.validator == nil {
		s.validator = urlValidator
	}
	if s.callbackClient == nil {
		s.callbackClient = callback.NewHTTPClient(urlValidator, cfg.Callback.GuardDial)
	}
	if s.executor == nil {
		s.executor = work.NewExecutor(cfg.Work.SimulatedDelay, s.logger)
	}

	engine := callback.NewEngine(s.store,
		callback.WithHTTPClient(s.callbackClient),
		callback.WithRetryPolicy(callback.RetryPolicy{
			MaxAttempts: cfg.Callback.MaxAttempts,
			BaseDelay:   cfg.Callback.BaseDelay,
			Timeout:     cfg.Callback.Timeout,
		}),
		callback.WithLogger(s.logger),
	)

	s.fallback = tasks.NewInProcess(s.logger)
	if s.queue == nil {
		queue, err := s.newTaskQueue(ctx)
		if err != nil {
			return err
		}
		s.queue = queue
	}

	controller, err := lifecycle.New(lifecycle.Config{
		Store:     s.store,
		Executor:  s.executor,
		Validator: s.validator,
		Deliverer: engine,
		Queue:     s.queue,
		Fallback:  s.fallback,
		Logger:    s.logger,
	})
	if err != nil {
		return fmt.Errorf("create lifecycle controller: %w", err)
	}
	s.controller = controller

	if err := s.fallback.Start(controller); err != nil {
		return fmt.Errorf("start fallback queue: %w", err)
	}

	s.server = server.New(server.Options{
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout,
		ServiceName:    cfg.Telemetry.ServiceName,
	}, s.logger)
	workapi.NewHandler(controller).Register(s.server.Router)

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Handler returns the HTTP handler, or nil before Start.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	return s.server.Router
}

// Controller exposes the lifecycle controller for in-process callers.
func (s *Service) Controller() *lifecycle.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controller
}

// Shutdown stops the HTTP server, drains background tasks until ctx is done
// and closes owned resources.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	s.logger.Info("shutting down service")

	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("shutdown server: %w", err))
	}
	if err := <-s.serveErr; err != nil {
		errs = append(errs, fmt.Errorf("serve: %w", err))
	}

	if err := s.queue.Close(ctx); err != nil {
		s.logger.Error("failed to drain task queue", slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("close task queue: %w", err))
	}
	if s.queue != ports.TaskQueue(s.fallback) {
		if err := s.fallback.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close fallback queue: %w", err))
		}
	}

	s.release()

	s.logger.Info("service shutdown complete")
	return errors.Join(errs...)
}

// release closes the store and Redis client when the service created them.
func (s *Service) release() {
	if s.redis != nil && s.ownsRedis {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("failed to close redis client", slog.String("error", err.Error()))
		}
		s.redis = nil
	}
	if s.store != nil && s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
		s.store = nil
	}
}
