// Package callback delivers finished request results to caller-supplied
// webhook targets with bounded exponential-backoff retries.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Thejas-AM/consuma-api/internal/core/domain"
	"github.com/Thejas-AM/consuma-api/internal/core/ports"
	"github.com/Thejas-AM/consuma-api/internal/pkg/safehttp"
)

const (
	tracerName = "github.com/Thejas-AM/consuma-api/internal/callback"

	// UserAgent identifies callback requests to receivers.
	UserAgent = "consuma-callback/1.0"

	// AttemptHeader carries the 1-indexed attempt number.
	AttemptHeader = "X-Callback-Attempt"

	maxErrorBody = 200
)

// Payload is the JSON body posted to a callback target.
type Payload struct {
	RequestID string          `json:"request_id"`
	Status    domain.Status   `json:"status"`
	Result    json.RawMessage `json:"result"`
	Error     *string         `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewPayload builds the callback body for a request in a terminal state.
func NewPayload(req *domain.Request, now time.Time) Payload {
	p := Payload{
		RequestID: req.ID,
		Status:    req.Status,
		Error:     req.Error,
		Timestamp: now.UTC(),
	}
	if len(req.Output) > 0 {
		p.Result = req.Output
	} else {
		p.Result = json.RawMessage("null")
	}
	return p
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Engine performs callback delivery and records every attempt in the store.
type Engine struct {
	store  ports.RequestStore
	client *http.Client
	policy RetryPolicy
	sleep  SleepFunc
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets the client used for attempts.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithRetryPolicy sets attempt limits and backoff.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.policy = p.withDefaults() }
}

// WithSleep replaces the backoff wait.
func WithSleep(fn SleepFunc) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithClock replaces the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a delivery engine writing attempt state to store.
func NewEngine(store ports.RequestStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		client: http.DefaultClient,
		policy: DefaultRetryPolicy(),
		sleep:  sleepContext,
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = http.DefaultClient
	}
	e.client = withoutRedirects(e.client)
	return e
}

// withoutRedirects returns a copy of c that hands 3xx responses back to the
// caller. A redirect status counts as delivered, and the redirect target is
// never contacted.
func withoutRedirects(c *http.Client) *http.Client {
	cp := *c
	cp.CheckRedirect = safehttp.NoRedirect
	return &cp
}

// NewHTTPClient returns the traced client used for callbacks. With guard set,
// every connection is checked against the validator's address denylist.
func NewHTTPClient(v *safehttp.Validator, guard bool) *http.Client {
	base := safehttp.NewClient(v, guard)
	return &http.Client{
		Transport:     otelhttp.NewTransport(base.Transport),
		CheckRedirect: safehttp.NoRedirect,
	}
}

// Deliver posts req's terminal state to its callback URL, retrying failures.
// Each attempt is persisted before the next step. Requests without a callback
// target are reported as delivered without any I/O.
func (e *Engine) Deliver(ctx context.Context, req *domain.Request) domain.DeliveryResult {
	if !req.HasCallback() {
		return domain.DeliveryDelivered
	}
	target := *req.CallbackURL

	ctx, span := e.tracer.Start(ctx, "callback.deliver",
		trace.WithAttributes(
			attribute.String("request.id", req.ID),
			attribute.String("request.status", string(req.Status)),
			attribute.Int("callback.max_attempts", e.policy.MaxAttempts),
		),
	)
	defer span.End()

	logger := e.logger.With(slog.String("request_id", req.ID))

	payload := NewPayload(req, e.now())
	body, err := json.Marshal(payload)
	if err != nil {
		// Stored output is not valid JSON; deliver the failure instead.
		msg := fmt.Sprintf("encode result: %v", err)
		payload.Result = json.RawMessage("null")
		payload.Error = &msg
		if body, err = json.Marshal(payload); err != nil {
			logger.Error("failed to encode callback payload", slog.String("error", err.Error()))
			return domain.DeliveryExhausted
		}
	}

	var lastErr string
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err := e.attempt(ctx, target, body, attempt)
		if err == nil {
			sentAt := e.now().UTC()
			e.record(ctx, logger, req.ID, domain.CallbackUpdate{
				Status:   domain.CallbackSent,
				Attempts: attempt,
				SentAt:   &sentAt,
			})
			span.SetAttributes(attribute.Int("callback.attempts", attempt))
			span.SetStatus(codes.Ok, "")
			logger.Info("callback delivered", slog.Int("attempt", attempt))
			return domain.DeliveryDelivered
		}

		lastErr = err.Error()
		logger.Warn("callback attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", lastErr),
		)

		if attempt == e.policy.MaxAttempts {
			break
		}

		e.record(ctx, logger, req.ID, domain.CallbackUpdate{
			Status:    domain.CallbackPending,
			Attempts:  attempt,
			LastError: &lastErr,
		})

		delay := e.policy.NextDelay(attempt)
		logger.Info("retrying callback",
			slog.Duration("delay", delay),
			slog.Int("next_attempt", attempt+1),
		)
		if err := e.sleep(ctx, delay); err != nil {
			msg := fmt.Sprintf("delivery aborted after %d attempts: %v. Last error: %s", attempt, err, lastErr)
			e.record(context.WithoutCancel(ctx), logger, req.ID, domain.CallbackUpdate{
				Status:    domain.CallbackFailed,
				Attempts:  attempt,
				LastError: &msg,
			})
			span.SetStatus(codes.Error, msg)
			return domain.DeliveryExhausted
		}
	}

	msg := fmt.Sprintf("Max retries (%d) exhausted. Last error: %s", e.policy.MaxAttempts, lastErr)
	e.record(ctx, logger, req.ID, domain.CallbackUpdate{
		Status:    domain.CallbackFailed,
		Attempts:  e.policy.MaxAttempts,
		LastError: &msg,
	})
	span.SetAttributes(attribute.Int("callback.attempts", e.policy.MaxAttempts))
	span.SetStatus(codes.Error, msg)
	logger.Error("callback permanently failed", slog.String("error", lastErr))
	return domain.DeliveryExhausted
}

func (e *Engine) attempt(ctx context.Context, target string, body []byte, attempt int) error {
	ctx, span := e.tracer.Start(ctx, "callback.attempt",
		trace.WithAttributes(attribute.Int("callback.attempt", attempt)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.policy.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", UserAgent)
	httpReq.Header.Set(AttemptHeader, strconv.Itoa(attempt))

	resp, err := e.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(snippet))
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (e *Engine) record(ctx context.Context, logger *slog.Logger, id string, u domain.CallbackUpdate) {
	if _, err := e.store.UpdateCallbackStatus(ctx, id, u); err != nil {
		logger.Error("failed to record callback status",
			slog.String("callback_status", string(u.Status)),
			slog.Int("attempts", u.Attempts),
			slog.String("error", err.Error()),
		)
	}
}
