package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// ReceivedCallback is one request captured by a CallbackReceiver.
type ReceivedCallback struct {
	Header  http.Header
	Body    []byte
	Payload map[string]any
}

// CallbackReceiver is an httptest server that answers callback posts with a
// scripted sequence of status codes and records every request.
type CallbackReceiver struct {
	*httptest.Server

	mu       sync.Mutex
	statuses []int
	calls    []ReceivedCallback
	notify   chan struct{}
}

// NewCallbackReceiver starts a receiver. The nth request gets statuses[n]; once
// the script runs out the last status repeats. With no statuses every request
// gets 200. The server is closed when the test ends.
func NewCallbackReceiver(t *testing.T, statuses ...int) *CallbackReceiver {
	t.Helper()

	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	r := &CallbackReceiver{
		statuses: statuses,
		notify:   make(chan struct{}, 64),
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.handle))
	t.Cleanup(r.Server.Close)
	return r
}

func (r *CallbackReceiver) handle(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)

	var payload map[string]any
	_ = json.Unmarshal(body, &payload)

	r.mu.Lock()
	idx := len(r.calls)
	if idx >= len(r.statuses) {
		idx = len(r.statuses) - 1
	}
	status := r.statuses[idx]
	r.calls = append(r.calls, ReceivedCallback{
		Header:  req.Header.Clone(),
		Body:    body,
		Payload: payload,
	})
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}

	w.WriteHeader(status)
	if status >= http.StatusBadRequest {
		_, _ = io.WriteString(w, http.StatusText(status))
	}
}

// Calls returns a copy of the requests received so far.
func (r *CallbackReceiver) Calls() []ReceivedCallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReceivedCallback(nil), r.calls...)
}

// WaitForCalls blocks until at least n requests have arrived or timeout passes.
func (r *CallbackReceiver) WaitForCalls(t *testing.T, n int, timeout time.Duration) []ReceivedCallback {
	t.Helper()

	deadline := time.After(timeout)
	for {
		if calls := r.Calls(); len(calls) >= n {
			return calls
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d callbacks, got %d", n, len(r.Calls()))
			return nil
		}
	}
}
