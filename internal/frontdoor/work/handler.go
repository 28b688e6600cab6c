// Package work exposes the request lifecycle over HTTP.
package work

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Thejas-AM/consuma-api/internal/core/domain"
	"github.com/Thejas-AM/consuma-api/internal/core/ports"
	"github.com/Thejas-AM/consuma-api/internal/lifecycle"
	"github.com/Thejas-AM/consuma-api/internal/server"
)

// maxBodyBytes caps submission bodies. The text limit is far below this.
const maxBodyBytes = 1 << 20

// Lifecycle is the subset of the lifecycle controller the handlers call.
type Lifecycle interface {
	SubmitSync(ctx context.Context, in domain.WorkInput) (*domain.Request, error)
	SubmitAsync(ctx context.Context, in domain.WorkInput, callbackURL string) (*domain.Request, error)
	Get(ctx context.Context, id string) (*domain.Request, error)
	List(ctx context.Context, opts ports.ListOptions) ([]domain.RequestSummary, int, error)
}

var _ Lifecycle = (*lifecycle.Controller)(nil)

type Handler struct {
	lc Lifecycle
}

func NewHandler(lc Lifecycle) *Handler {
	return &Handler{lc: lc}
}

// Register mounts the work routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sync", h.HandleSync)
	r.Post("/async", h.HandleAsync)
	r.Get("/requests", h.HandleList)
	r.Get("/requests/{id}", h.HandleGet)
}

type syncRequest struct {
	Text  string `json:"text"`
	Count *int   `json:"count"`
}

type asyncRequest struct {
	Text        string `json:"text"`
	Count       *int   `json:"count"`
	CallbackURL string `json:"callback_url"`
}

// SyncResponse is returned by POST /sync.
type SyncResponse struct {
	RequestID string          `json:"request_id"`
	Status    domain.Status   `json:"status"`
	Result    json.RawMessage `json:"result"`
}

// AsyncResponse is returned by POST /async.
type AsyncResponse struct {
	RequestID string        `json:"request_id"`
	Status    domain.Status `json:"status"`
	Message   string        `json:"message"`
}

// ListResponse is returned by GET /requests.
type ListResponse struct {
	Requests []domain.RequestSummary `json:"requests"`
	Total    int                     `json:"total"`
	Limit    int                     `json:"limit"`
	Offset   int                     `json:"offset"`
}

// ErrorResponse wraps an APIError on the wire.
type ErrorResponse struct {
	Error *domain.APIError `json:"error"`
}

func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	var body syncRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	req, err := h.lc.SubmitSync(r.Context(), domain.WorkInput{Text: body.Text, Count: domain.CountOrDefault(body.Count)})
	if req != nil {
		server.AddLogField(r.Context(), "work_request_id", req.ID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SyncResponse{
		RequestID: req.ID,
		Status:    req.Status,
		Result:    req.Output,
	})
}

func (h *Handler) HandleAsync(w http.ResponseWriter, r *http.Request) {
	var body asyncRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.CallbackURL == "" {
		writeError(w, r, domain.ErrValidation("callback_url is required").WithParam("callback_url"))
		return
	}

	req, err := h.lc.SubmitAsync(r.Context(), domain.WorkInput{Text: body.Text, Count: domain.CountOrDefault(body.Count)}, body.CallbackURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	server.AddLogField(r.Context(), "work_request_id", req.ID)

	writeJSON(w, http.StatusAccepted, AsyncResponse{
		RequestID: req.ID,
		Status:    req.Status,
		Message:   lifecycle.AcceptedMessage,
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := h.lc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items, total, err := h.lc.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.RequestSummary{}
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Requests: items,
		Total:    total,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

func parseListOptions(r *http.Request) (ports.ListOptions, error) {
	q := r.URL.Query()
	opts := ports.ListOptions{Limit: ports.DefaultListLimit}

	if v := q.Get("mode"); v != "" {
		mode, err := domain.ParseMode(v)
		if err != nil {
			return opts, domain.ErrValidation("mode must be sync or async").WithParam("mode")
		}
		opts.Mode = mode
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > ports.MaxListLimit {
			return opts, domain.ErrValidation("limit must be between 1 and 100").WithParam("limit")
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, domain.ErrValidation("offset must be a non-negative integer").WithParam("offset")
		}
		opts.Offset = n
	}
	return opts, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ErrValidation("request body too large")
		}
		return domain.ErrValidation("invalid JSON body: " + err.Error()).WithCause(err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := domain.AsAPIError(err)
	server.AddError(r.Context(), err)
	writeJSON(w, apiErr.HTTPStatusCode(), ErrorResponse{Error: apiErr})
}
