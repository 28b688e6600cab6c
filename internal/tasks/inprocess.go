// Package tasks runs request processing off the submitting caller's path.
//
// A task is identified only by its request ID; the store holds everything
// else. Tasks are fire-and-forget: once accepted they cannot be cancelled from
// outside, and nothing reports their completion back to the submitter.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/Thejas-AM/consuma-api/internal/core/ports"
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("task queue closed")

	// ErrNotStarted is returned by Enqueue before Start.
	ErrNotStarted = errors.New("task queue not started")
)

// InProcess runs each task in its own goroutine.
type InProcess struct {
	mu      sync.Mutex
	handler ports.TaskHandler
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

var _ ports.TaskQueue = (*InProcess)(nil)

// NewInProcess creates an in-process queue.
func NewInProcess(logger *slog.Logger) *InProcess {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcess{logger: logger}
}

func (q *InProcess) Start(h ports.TaskHandler) error {
	if h == nil {
		return errors.New("nil task handler")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
	return nil
}

// Enqueue spawns the task. The task's context keeps the caller's values but
// not its cancellation, so it outlives the request that submitted it.
func (q *InProcess) Enqueue(ctx context.Context, requestID string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	h := q.handler
	if h == nil {
		q.mu.Unlock()
		return ErrNotStarted
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		run(context.WithoutCancel(ctx), h, requestID, q.logger)
	}()
	return nil
}

// Close rejects new tasks and waits for running ones until ctx is done.
func (q *InProcess) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	return waitGroup(ctx, &q.wg)
}

// run invokes h and converts panics and errors into log records.
func run(ctx context.Context, h ports.TaskHandler, requestID string, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panic",
				slog.String("request_id", requestID),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := h.HandleTask(ctx, requestID); err != nil {
		logger.Error("task failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
	}
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tasks: %w", ctx.Err())
	}
}
