package ports

import (
	"context"
	"encoding/json"

	"github.com/Thejas-AM/consuma-api/internal/core/domain"
)

// WorkExecutor runs the unit of work for a request. It never returns an
// error; failures are reported through the outcome.
type WorkExecutor interface {
	Execute(ctx context.Context, input json.RawMessage) domain.Outcome
}

// URLValidator decides whether a callback URL is safe to contact.
type URLValidator interface {
	Validate(rawURL string) error
}

// CallbackDeliverer posts a finished request's result to its callback target
// and records every attempt in the store. Delivery failure is a recorded
// outcome, never an error.
type CallbackDeliverer interface {
	Deliver(ctx context.Context, req *domain.Request) domain.DeliveryResult
}

// TaskHandler processes one background task identified by a request ID.
type TaskHandler interface {
	HandleTask(ctx context.Context, requestID string) error
}

// TaskHandlerFunc adapts a function to TaskHandler.
type TaskHandlerFunc func(ctx context.Context, requestID string) error

// HandleTask calls f(ctx, requestID).
func (f TaskHandlerFunc) HandleTask(ctx context.Context, requestID string) error {
	return f(ctx, requestID)
}

// TaskQueue runs background tasks outside of the submitting caller's lifetime.
// Implementations: in-process goroutines (default), Redis list workers.
type TaskQueue interface {
	// Start begins dispatching tasks to h. It must be called before Enqueue.
	Start(h TaskHandler) error

	// Enqueue schedules a task. It returns once the task is accepted, not
	// when it completes.
	Enqueue(ctx context.Context, requestID string) error

	// Close stops accepting tasks and waits for in-flight ones until ctx is done.
	Close(ctx context.Context) error
}
