package ports

import (
	"context"
	"encoding/json"

	"github.com/Thejas-AM/consuma-api/internal/core/domain"
)

// RequestStore persists request records and their callback state.
// Implementations must be safe for concurrent use.
type RequestStore interface {
	// Create inserts a new record in the Pending state. When callbackURL is
	// non-empty the record's callback status starts as Pending with zero attempts.
	Create(ctx context.Context, id string, mode domain.Mode, input json.RawMessage, callbackURL string) (*domain.Request, error)

	// Get retrieves a request by ID. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*domain.Request, error)

	// UpdateStatus moves a request to a new status. Terminal statuses set
	// CompletedAt. Backward transitions return domain.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, status domain.Status, output json.RawMessage, errMsg string) (*domain.Request, error)

	// UpdateCallbackStatus records a delivery attempt outcome.
	UpdateCallbackStatus(ctx context.Context, id string, update domain.CallbackUpdate) (*domain.Request, error)

	// List returns summaries newest first along with the total match count.
	List(ctx context.Context, opts ListOptions) ([]domain.RequestSummary, int, error)

	// Close releases underlying resources.
	Close() error
}

// ListOptions filters and paginates RequestStore.List.
type ListOptions struct {
	Mode   domain.Mode // empty matches every mode
	Limit  int
	Offset int
}

// Pagination defaults for listing requests.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Normalize clamps the limit and offset into their accepted ranges.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
