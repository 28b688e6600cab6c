// Package lifecycle drives requests through pending, processing and a terminal
// status, and hands finished async requests to callback delivery.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Thejas-AM/consuma-api/internal/core/domain"
	"github.com/Thejas-AM/consuma-api/internal/core/ports"
)

const tracerName = "github.com/Thejas-AM/consuma-api/internal/lifecycle"

const (
	terminalWriteAttempts     = 3
	defaultTerminalRetryDelay = 100 * time.Millisecond
)

// AcceptedMessage is returned with every async acknowledgement.
const AcceptedMessage = "Request accepted. Result will be sent to callback URL."

// Config wires a Controller to its collaborators.
type Config struct {
	Store     ports.RequestStore
	Executor  ports.WorkExecutor
	Validator ports.URLValidator
	Deliverer ports.CallbackDeliverer

	// Queue runs async processing. Fallback is used when Queue rejects a
	// task; when Fallback is nil a bare goroutine is used instead.
	Queue    ports.TaskQueue
	Fallback ports.TaskQueue

	Logger *slog.Logger

	// NewID generates request identifiers. Defaults to random UUIDs.
	NewID func() string
}

// Controller is the single writer of request status. It implements
// ports.TaskHandler for the background half of async requests.
type Controller struct {
	store     ports.RequestStore
	executor  ports.WorkExecutor
	validator ports.URLValidator
	deliverer ports.CallbackDeliverer
	queue     ports.TaskQueue
	fallback  ports.TaskQueue
	newID     func() string
	logger    *slog.Logger
	tracer    trace.Tracer

	terminalRetryDelay time.Duration
}

var _ ports.TaskHandler = (*Controller)(nil)

// New creates a controller. Store, Executor, Validator, Deliverer and Queue
// are required.
func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("lifecycle: store is required")
	case cfg.Executor == nil:
		return nil, errors.New("lifecycle: executor is required")
	case cfg.Validator == nil:
		return nil, errors.New("lifecycle: validator is required")
	case cfg.Deliverer == nil:
		return nil, errors.New("lifecycle: deliverer is required")
	case cfg.Queue == nil:
		return nil, errors.New("lifecycle: queue is required")
	}

	c := &Controller{
		store:     cfg.Store,
		executor:  cfg.Executor,
		validator: cfg.Validator,
		deliverer: cfg.Deliverer,
		queue:     cfg.Queue,
		fallback:  cfg.Fallback,
		newID:     cfg.NewID,
		logger:    cfg.Logger,
		tracer:    otel.Tracer(tracerName),

		terminalRetryDelay: defaultTerminalRetryDelay,
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// SubmitSync runs a request to completion on the caller's context. A failed
// execution returns the stored record together with an execution APIError.
func (c *Controller) SubmitSync(ctx context.Context, in domain.WorkInput) (*domain.Request, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.submit_sync")
	defer span.End()

	input, apiErr := encodeInput(in)
	if apiErr != nil {
		span.SetStatus(codes.Error, apiErr.Message)
		return nil, apiErr
	}

	req, err := c.store.Create(ctx, c.newID(), domain.ModeSync, input, "")
	if err != nil {
		span.RecordError(err)
		return nil, domain.ErrServer("failed to record request").WithCause(err)
	}
	span.SetAttributes(attribute.String("request.id", req.ID))

	logger := c.logger.With(slog.String("request_id", req.ID), slog.String("mode", string(domain.ModeSync)))

	final, err := c.process(ctx, logger, req)
	if err != nil {
		span.RecordError(err)
		return nil, domain.ErrServer("failed to record request status").WithCause(err)
	}

	if final.Status == domain.StatusFailed {
		msg := "unknown error"
		if final.Error != nil {
			msg = *final.Error
		}
		span.SetStatus(codes.Error, msg)
		return final, domain.ErrExecution(msg)
	}
	return final, nil
}

// SubmitAsync validates the callback target, records the request as pending
// and schedules processing. It returns as soon as the pending record exists.
// An empty callbackURL means the result is only observable through Get.
func (c *Controller) SubmitAsync(ctx context.Context, in domain.WorkInput, callbackURL string) (*domain.Request, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.submit_async")
	defer span.End()

	input, apiErr := encodeInput(in)
	if apiErr != nil {
		span.SetStatus(codes.Error, apiErr.Message)
		return nil, apiErr
	}

	if callbackURL != "" {
		if err := c.validator.Validate(callbackURL); err != nil {
			span.SetStatus(codes.Error, "unsafe callback url")
			return nil, domain.ErrValidation("invalid callback URL: " + err.Error()).
				WithCode(domain.ErrorCodeUnsafeCallbackURL).
				WithParam("callback_url").
				WithCause(err)
		}
	}

	req, err := c.store.Create(ctx, c.newID(), domain.ModeAsync, input, callbackURL)
	if err != nil {
		span.RecordError(err)
		return nil, domain.ErrServer("failed to record request").WithCause(err)
	}
	span.SetAttributes(attribute.String("request.id", req.ID))

	if err := c.queue.Enqueue(ctx, req.ID); err != nil {
		c.logger.Warn("task queue rejected request, running in process",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
		c.runFallback(ctx, req.ID)
	}

	c.logger.Info("async request accepted",
		slog.String("request_id", req.ID),
		slog.Bool("callback", req.HasCallback()),
	)
	return req, nil
}

func (c *Controller) runFallback(ctx context.Context, id string) {
	if c.fallback != nil {
		if err := c.fallback.Enqueue(ctx, id); err == nil {
			return
		}
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("task panic", slog.String("request_id", id), slog.String("panic", fmt.Sprint(r)))
			}
		}()
		if err := c.HandleTask(context.WithoutCancel(ctx), id); err != nil {
			c.logger.Error("task failed", slog.String("request_id", id), slog.String("error", err.Error()))
		}
	}()
}

// HandleTask processes a pending async request and delivers its callback.
// Requests that are no longer pending are skipped, so redelivered tasks are
// harmless.
func (c *Controller) HandleTask(ctx context.Context, requestID string) error {
	ctx, span := c.tracer.Start(ctx, "lifecycle.process",
		trace.WithAttributes(attribute.String("request.id", requestID)),
	)
	defer span.End()

	logger := c.logger.With(slog.String("request_id", requestID), slog.String("mode", string(domain.ModeAsync)))

	req, err := c.store.Get(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("load request: %w", err)
	}
	if req.Status != domain.StatusPending {
		logger.Debug("skipping task for request not pending", slog.String("status", string(req.Status)))
		return nil
	}

	final, err := c.process(ctx, logger, req)
	if errors.Is(err, domain.ErrInvalidTransition) {
		logger.Debug("request claimed by another task")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	if final.HasCallback() {
		result := c.deliverer.Deliver(ctx, final)
		span.SetAttributes(attribute.String("callback.result", string(result)))
	}
	return nil
}

// process moves req from pending through processing to a terminal status.
// Only the executor sees ctx's cancellation. Store writes use a detached
// context so a request that was started always gets a terminal record, even
// when the caller disconnects or times out mid-execution.
func (c *Controller) process(ctx context.Context, logger *slog.Logger, req *domain.Request) (*domain.Request, error) {
	storeCtx := context.WithoutCancel(ctx)

	if _, err := c.store.UpdateStatus(storeCtx, req.ID, domain.StatusProcessing, nil, ""); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	outcome := c.execute(ctx, logger, req.Input)

	final, err := c.recordTerminal(storeCtx, logger, req.ID, outcome)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", outcome.Status, err)
	}

	switch final.Status {
	case domain.StatusCompleted:
		logger.Info("request completed")
	case domain.StatusFailed:
		logger.Warn("request failed", slog.String("error", outcome.Err))
	case domain.StatusPending, domain.StatusProcessing:
		return nil, fmt.Errorf("request %s left in %s", req.ID, final.Status)
	}
	return final, nil
}

// recordTerminal writes the outcome, retrying transient store failures. A
// request left in processing would never be retried or delivered.
func (c *Controller) recordTerminal(ctx context.Context, logger *slog.Logger, id string, outcome domain.Outcome) (*domain.Request, error) {
	var err error
	for attempt := 1; attempt <= terminalWriteAttempts; attempt++ {
		var final *domain.Request
		final, err = c.store.UpdateStatus(ctx, id, outcome.Status, outcome.Output, outcome.Err)
		if err == nil {
			return final, nil
		}
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		logger.Warn("failed to record terminal status",
			slog.Int("attempt", attempt),
			slog.String("status", string(outcome.Status)),
			slog.String("error", err.Error()),
		)
		if attempt < terminalWriteAttempts {
			time.Sleep(c.terminalRetryDelay * time.Duration(attempt))
		}
	}
	return nil, err
}

// execute runs the work executor, turning a panic into a failed outcome.
func (c *Controller) execute(ctx context.Context, logger *slog.Logger, input json.RawMessage) (out domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("work executor panic",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			out = domain.Failed(fmt.Sprintf("panic: %v", r))
		}
	}()
	return c.executor.Execute(ctx, input)
}

// Get returns the stored request.
func (c *Controller) Get(ctx context.Context, id string) (*domain.Request, error) {
	req, err := c.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrRequestNotFound(id)
	}
	if err != nil {
		return nil, domain.ErrServer("failed to load request").WithCause(err)
	}
	return req, nil
}

// List returns request summaries newest first with the total match count.
func (c *Controller) List(ctx context.Context, opts ports.ListOptions) ([]domain.RequestSummary, int, error) {
	items, total, err := c.store.List(ctx, opts.Normalize())
	if err != nil {
		return nil, 0, domain.ErrServer("failed to list requests").WithCause(err)
	}
	return items, total, nil
}

func encodeInput(in domain.WorkInput) (json.RawMessage, *domain.APIError) {
	if apiErr := in.Normalize(); apiErr != nil {
		return nil, apiErr
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	return data, nil
}
