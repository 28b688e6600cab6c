package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Thejas-AM/consuma-api/internal/core/ports"
)

// DefaultRedisKey is the list that holds pending task envelopes.
const DefaultRedisKey = "consuma:tasks"

// pollTimeout bounds each BRPOP so pollers notice Close.
const pollTimeout = time.Second

// envelope is the JSON stored in the Redis list.
type envelope struct {
	RequestID  string    `json:"request_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RedisQueue pushes tasks onto a Redis list (LPUSH) and runs a fixed number
// of poll loops that pop from the other end (BRPOP). Each popped task runs in
// its own goroutine, so the poller count bounds dequeue throughput but not how
// many requests are processed at once.
//
// Delivery from the list is at-most-once: BRPOP removes the entry before the
// task runs, so a process that dies mid-task leaves that request in pending
// or processing. The request record stays in the store and can be found with
// List.
type RedisQueue struct {
	client  *redis.Client
	key     string
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ ports.TaskQueue = (*RedisQueue)(nil)

// RedisConfig configures a RedisQueue.
type RedisConfig struct {
	Key string
	// Workers is the number of BRPOP loops. Tasks themselves are not capped.
	Workers int
}

// NewRedisQueue creates a queue over client. The caller owns the client.
func NewRedisQueue(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisQueue {
	if cfg.Key == "" {
		cfg.Key = DefaultRedisKey
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{
		client:  client,
		key:     cfg.Key,
		workers: cfg.Workers,
		logger:  logger,
	}
}

// Start launches the poll loops.
func (q *RedisQueue) Start(h ports.TaskHandler) error {
	if h == nil {
		return errors.New("nil task handler")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("task queue already started")
	}
	if q.closed {
		return ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i, h)
	}

	q.logger.Info("redis task pollers started",
		slog.String("key", q.key),
		slog.Int("workers", q.workers),
	)
	return nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, requestID string) error {
	q.mu.Lock()
	closed, started := q.closed, q.started
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}

	data, err := json.Marshal(envelope{RequestID: requestID, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", requestID, err)
	}
	return nil
}

// Close stops polling and waits for running tasks until ctx is done. Tasks
// still in the list stay there for the next process.
func (q *RedisQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return waitGroup(ctx, &q.wg)
}

func (q *RedisQueue) worker(ctx context.Context, id int, h ports.TaskHandler) {
	defer q.wg.Done()

	logger := q.logger.With(slog.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}

		result, err := q.client.BRPop(ctx, pollTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn("redis dequeue failed", slog.String("error", err.Error()))
			if !sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		// result is [key, value]
		if len(result) < 2 {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(result[1]), &env); err != nil || env.RequestID == "" {
			logger.Error("dropping malformed task", slog.String("raw", result[1]))
			continue
		}

		// The task runs to completion even if Close cancels the poller.
		q.wg.Add(1)
		go func(id string) {
			defer q.wg.Done()
			run(context.WithoutCancel(ctx), h, id, logger)
		}(env.RequestID)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
