package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode is how a request was submitted. It is fixed at creation.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// ParseMode converts a wire value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSync, ModeAsync:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Status is the lifecycle state of a request.
//
//	pending -> processing -> completed | failed
//
// Transitions only move forward; see CanTransition.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus converts a stored value into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// rank orders statuses along the lifecycle. Completed and Failed share a rank
// so that one terminal state can never be replaced by the other.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports whether no further status transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	case StatusPending, StatusProcessing:
		return false
	default:
		return false
	}
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to Status) bool {
	if from.rank() < 0 || to.rank() < 0 {
		return false
	}
	return to.rank() > from.rank()
}

// CallbackStatus is the delivery state of a request's callback.
type CallbackStatus string

const (
	CallbackPending CallbackStatus = "pending"
	CallbackSent    CallbackStatus = "sent"
	CallbackFailed  CallbackStatus = "failed"
)

// ParseCallbackStatus converts a stored value into a CallbackStatus.
func ParseCallbackStatus(s string) (CallbackStatus, error) {
	switch CallbackStatus(s) {
	case CallbackPending, CallbackSent, CallbackFailed:
		return CallbackStatus(s), nil
	default:
		return "", fmt.Errorf("unknown callback status %q", s)
	}
}

// IsTerminal reports whether the callback will not be attempted again.
func (s CallbackStatus) IsTerminal() bool {
	switch s {
	case CallbackSent, CallbackFailed:
		return true
	case CallbackPending:
		return false
	default:
		return false
	}
}

// Request is the persisted record of one unit of work.
type Request struct {
	ID          string          `json:"id"`
	Mode        Mode            `json:"mode"`
	Input       json.RawMessage `json:"input_data"`
	Output      json.RawMessage `json:"output_data"`
	Status      Status          `json:"status"`
	Error       *string         `json:"error"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	CallbackURL *string         `json:"callback_url"`

	Callback CallbackState `json:"-"`
}

// CallbackState tracks delivery of the result to a request's callback target.
// Status is empty when the request has no callback target.
type CallbackState struct {
	Status    CallbackStatus
	Attempts  int
	LastError *string
	SentAt    *time.Time
}

// HasCallback reports whether the request carries a callback target.
func (r *Request) HasCallback() bool {
	return r.CallbackURL != nil && *r.CallbackURL != ""
}

// MarshalJSON flattens the callback state into the record.
func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	var status *CallbackStatus
	if r.Callback.Status != "" {
		s := r.Callback.Status
		status = &s
	}
	return json.Marshal(struct {
		plain
		CallbackStatus    *CallbackStatus `json:"callback_status"`
		CallbackAttempts  int             `json:"callback_attempts"`
		CallbackLastError *string         `json:"callback_last_error"`
		CallbackSentAt    *time.Time      `json:"callback_sent_at"`
	}{
		plain:             plain(r),
		CallbackStatus:    status,
		CallbackAttempts:  r.Callback.Attempts,
		CallbackLastError: r.Callback.LastError,
		CallbackSentAt:    r.Callback.SentAt,
	})
}

// RequestSummary is the listing view of a request.
type RequestSummary struct {
	ID             string          `json:"id"`
	Mode           Mode            `json:"mode"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
	CallbackStatus *CallbackStatus `json:"callback_status"`
}

// Summary returns the listing view of the request.
func (r *Request) Summary() RequestSummary {
	s := RequestSummary{
		ID:          r.ID,
		Mode:        r.Mode,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.Callback.Status != "" {
		cs := r.Callback.Status
		s.CallbackStatus = &cs
	}
	return s
}

// CallbackUpdate is one recorded delivery outcome.
type CallbackUpdate struct {
	Status    CallbackStatus
	Attempts  int
	LastError *string
	SentAt    *time.Time
}

// Validate checks the parts of the callback invariants that do not depend on
// the stored state: a positive attempt count, and sentAt present exactly when
// the status is sent. Stores additionally reject attempt counts lower than
// the recorded one.
func (u CallbackUpdate) Validate() error {
	switch u.Status {
	case CallbackSent:
		if u.SentAt == nil {
			return fmt.Errorf("sent callback without sent_at: %w", ErrInvalidTransition)
		}
	case CallbackPending, CallbackFailed:
		if u.SentAt != nil {
			return fmt.Errorf("%s callback with sent_at: %w", u.Status, ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("unknown callback status %q: %w", u.Status, ErrInvalidTransition)
	}
	if u.Attempts < 1 {
		return fmt.Errorf("callback attempts must be positive, got %d: %w", u.Attempts, ErrInvalidTransition)
	}
	return nil
}

// StringPtr returns a pointer to s, or nil if s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DeliveryResult is the terminal outcome of delivering a callback.
type DeliveryResult string

const (
	DeliveryDelivered DeliveryResult = "delivered"
	DeliveryExhausted DeliveryResult = "exhausted"
)
