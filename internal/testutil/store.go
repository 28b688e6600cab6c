// Package testutil holds helpers shared by package tests: a behavioural suite
// every ports.RequestStore must pass and a scriptable callback receiver.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/Thejas-AM/consuma-api/internal/core/domain"
	"github.com/Thejas-AM/consuma-api/internal/core/ports"
)

// RunStoreSuite exercises the RequestStore contract. newStore must return an
// empty store; it is called once per subtest.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) ports.RequestStore) {
	t.Helper()

	ctx := context.Background()
	input := json.RawMessage(`{"text":"Hello World","count":2}`)

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)

		created, err := s.Create(ctx, "req-1", domain.ModeAsync, input, "https://example.com/hook")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if created.Status != domain.StatusPending {
			t.Errorf("Status = %v, want %v", created.Status, domain.StatusPending)
		}
		if created.Callback.Status != domain.CallbackPending {
			t.Errorf("Callback.Status = %v, want %v", created.Callback.Status, domain.CallbackPending)
		}
		if created.Callback.Attempts != 0 {
			t.Errorf("Callback.Attempts = %d, want 0", created.Callback.Attempts)
		}

		got, err := s.Get(ctx, "req-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ID != "req-1" || got.Mode != domain.ModeAsync {
			t.Errorf("Get() = %+v", got)
		}
		if string(got.Input) != string(input) {
			t.Errorf("Input = %s, want %s", got.Input, input)
		}
		if got.CallbackURL == nil || *got.CallbackURL != "https://example.com/hook" {
			t.Errorf("CallbackURL = %v", got.CallbackURL)
		}
		if got.CompletedAt != nil {
			t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
		}
	})

	t.Run("CreateWithoutCallback", func(t *testing.T) {
		s := newStore(t)

		created, err := s.Create(ctx, "req-sync", domain.ModeSync, input, "")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if created.HasCallback() {
			t.Error("HasCallback() = true, want false")
		}
		if created.Callback.Status != "" {
			t.Errorf("Callback.Status = %q, want empty", created.Callback.Status)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t)

		if _, err := s.Create(ctx, "dup", domain.ModeSync, input, ""); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		_, err := s.Create(ctx, "dup", domain.ModeSync, input, "")
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("Create() duplicate error = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(ctx, "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("StatusLifecycle", func(t *testing.T) {
		s := newStore(t)

		created, err := s.Create(ctx, "req-2", domain.ModeAsync, input, "")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if _, err := s.UpdateStatus(ctx, "req-2", domain.StatusProcessing, nil, ""); err != nil {
			t.Fatalf("UpdateStatus(processing) error = %v", err)
		}

		output := json.RawMessage(`{"word_count":2}`)
		done, err := s.UpdateStatus(ctx, "req-2", domain.StatusCompleted, output, "")
		if err != nil {
			t.Fatalf("UpdateStatus(completed) error = %v", err)
		}
		if done.Status != domain.StatusCompleted {
			t.Errorf("Status = %v, want %v", done.Status, domain.StatusCompleted)
		}
		if done.CompletedAt == nil {
			t.Fatal("CompletedAt = nil, want set")
		}
		if done.CompletedAt.Before(created.CreatedAt) {
			t.Errorf("CompletedAt %v before CreatedAt %v", done.CompletedAt, created.CreatedAt)
		}
		var out map[string]int
		if err := json.Unmarshal(done.Output, &out); err != nil || out["word_count"] != 2 {
			t.Errorf("Output = %s (err %v)", done.Output, err)
		}

		for _, back := range []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusFailed} {
			_, err := s.UpdateStatus(ctx, "req-2", back, nil, "late")
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("UpdateStatus(%s) after completed error = %v, want ErrInvalidTransition", back, err)
			}
		}

		again, err := s.Get(ctx, "req-2")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if again.Error != nil {
			t.Errorf("Error = %q, want nil after rejected updates", *again.Error)
		}
	})

	t.Run("StatusFailedRecordsError", func(t *testing.T) {
		s := newStore(t)

		if _, err := s.Create(ctx, "req-3", domain.ModeSync, input, ""); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		failed, err := s.UpdateStatus(ctx, "req-3", domain.StatusFailed, nil, "boom")
		if err != nil {
			t.Fatalf("UpdateStatus(failed) error = %v", err)
		}
		if failed.Error == nil || *failed.Error != "boom" {
			t.Errorf("Error = %v, want boom", failed.Error)
		}
		if failed.Output != nil {
			t.Errorf("Output = %s, want nil", failed.Output)
		}
		if failed.CompletedAt == nil {
			t.Error("CompletedAt = nil, want set")
		}
	})

	t.Run("UpdateStatusMissing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.UpdateStatus(ctx, "missing", domain.StatusProcessing, nil, "")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("UpdateStatus() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("CallbackLifecycle", func(t *testing.T) {
		s := newStore(t)

		if _, err := s.Create(ctx, "req-4", domain.ModeAsync, input, "https://example.com/hook"); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		lastErr := "HTTP 500: oops"
		pending, err := s.UpdateCallbackStatus(ctx, "req-4", domain.CallbackUpdate{
			Status:    domain.CallbackPending,
			Attempts:  1,
			LastError: &lastErr,
		})
		if err != nil {
			t.Fatalf("UpdateCallbackStatus(pending) error = %v", err)
		}
		if pending.Callback.Attempts != 1 || pending.Callback.LastError == nil {
			t.Errorf("Callback = %+v", pending.Callback)
		}

		sentAt := time.Now().UTC().Truncate(time.Microsecond)
		sent, err := s.UpdateCallbackStatus(ctx, "req-4", domain.CallbackUpdate{
			Status:   domain.CallbackSent,
			Attempts: 2,
			SentAt:   &sentAt,
		})
		if err != nil {
			t.Fatalf("UpdateCallbackStatus(sent) error = %v", err)
		}
		if sent.Callback.Status != domain.CallbackSent {
			t.Errorf("Callback.Status = %v, want %v", sent.Callback.Status, domain.CallbackSent)
		}
		if sent.Callback.Attempts != 2 {
			t.Errorf("Callback.Attempts = %d, want 2", sent.Callback.Attempts)
		}
		if sent.Callback.LastError != nil {
			t.Errorf("Callback.LastError = %q, want nil", *sent.Callback.LastError)
		}
		if sent.Callback.SentAt == nil || !sent.Callback.SentAt.Equal(sentAt) {
			t.Errorf("Callback.SentAt = %v, want %v", sent.Callback.SentAt, sentAt)
		}

		_, err = s.UpdateCallbackStatus(ctx, "req-4", domain.CallbackUpdate{Status: domain.CallbackFailed, Attempts: 5})
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("UpdateCallbackStatus() after sent error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("CallbackWithoutTarget", func(t *testing.T) {
		s := newStore(t)

		if _, err := s.Create(ctx, "req-5", domain.ModeSync, input, ""); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		now := time.Now().UTC()
		_, err := s.UpdateCallbackStatus(ctx, "req-5", domain.CallbackUpdate{Status: domain.CallbackSent, Attempts: 1, SentAt: &now})
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("UpdateCallbackStatus() error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("CallbackRejectsInvalidUpdates", func(t *testing.T) {
		s := newStore(t)

		if _, err := s.Create(ctx, "req-7", domain.ModeAsync, input, "https://example.com/hook"); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		lastErr := "HTTP 502: bad gateway"
		if _, err := s.UpdateCallbackStatus(ctx, "req-7", domain.CallbackUpdate{
			Status:    domain.CallbackPending,
			Attempts:  3,
			LastError: &lastErr,
		}); err != nil {
			t.Fatalf("UpdateCallbackStatus() error = %v", err)
		}

		now := time.Now().UTC()
		tests := []struct {
			name   string
			update domain.CallbackUpdate
		}{
			{"attempts decrease", domain.CallbackUpdate{Status: domain.CallbackPending, Attempts: 2, LastError: &lastErr}},
			{"zero attempts", domain.CallbackUpdate{Status: domain.CallbackPending, Attempts: 0}},
			{"sent without sent_at", domain.CallbackUpdate{Status: domain.CallbackSent, Attempts: 4}},
			{"failed with sent_at", domain.CallbackUpdate{Status: domain.CallbackFailed, Attempts: 4, SentAt: &now}},
			{"unknown status", domain.CallbackUpdate{Status: "bounced", Attempts: 4}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := s.UpdateCallbackStatus(ctx, "req-7", tt.update)
				if !errors.Is(err, domain.ErrInvalidTransition) {
					t.Errorf("UpdateCallbackStatus() error = %v, want ErrInvalidTransition", err)
				}
			})
		}

		got, err := s.Get(ctx, "req-7")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Callback.Status != domain.CallbackPending || got.Callback.Attempts != 3 {
			t.Errorf("Callback = %+v, want pending after 3 attempts", got.Callback)
		}

		// Repeating the recorded count is allowed: an aborted backoff closes
		// out the last attempt without a new one.
		if _, err := s.UpdateCallbackStatus(ctx, "req-7", domain.CallbackUpdate{
			Status:    domain.CallbackFailed,
			Attempts:  3,
			LastError: &lastErr,
		}); err != nil {
			t.Errorf("UpdateCallbackStatus(failed, same attempts) error = %v", err)
		}
	})

	t.Run("GetIsStable", func(t *testing.T) {
		s := newStore(t)

		if _, err := s.Create(ctx, "req-6", domain.ModeSync, input, ""); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, err := s.UpdateStatus(ctx, "req-6", domain.StatusCompleted, json.RawMessage(`{}`), ""); err != nil {
			t.Fatalf("UpdateStatus() error = %v", err)
		}

		first, err := s.Get(ctx, "req-6")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		second, err := s.Get(ctx, "req-6")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("Get() not stable:\n%+v\n%+v", first, second)
		}
	})

	t.Run("List", func(t *testing.T) {
		s := newStore(t)

		for i := 0; i < 5; i++ {
			mode := domain.ModeSync
			cb := ""
			if i%2 == 1 {
				mode = domain.ModeAsync
				cb = "https://example.com/hook"
			}
			if _, err := s.Create(ctx, fmt.Sprintf("req-%d", i), mode, input, cb); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
		}

		all, total, err := s.List(ctx, ports.ListOptions{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if total != 5 || len(all) != 5 {
			t.Fatalf("List() len = %d total = %d, want 5/5", len(all), total)
		}
		if all[0].ID != "req-4" || all[4].ID != "req-0" {
			t.Errorf("List() order = %s..%s, want req-4..req-0", all[0].ID, all[4].ID)
		}

		async, total, err := s.List(ctx, ports.ListOptions{Mode: domain.ModeAsync})
		if err != nil {
			t.Fatalf("List(async) error = %v", err)
		}
		if total != 2 || len(async) != 2 {
			t.Fatalf("List(async) len = %d total = %d, want 2/2", len(async), total)
		}
		for _, r := range async {
			if r.CallbackStatus == nil || *r.CallbackStatus != domain.CallbackPending {
				t.Errorf("summary %s CallbackStatus = %v, want pending", r.ID, r.CallbackStatus)
			}
		}

		page, total, err := s.List(ctx, ports.ListOptions{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List(page) error = %v", err)
		}
		if total != 5 || len(page) != 2 || page[0].ID != "req-2" {
			t.Errorf("List(page) = %+v total %d", page, total)
		}

		empty, total, err := s.List(ctx, ports.ListOptions{Offset: 10})
		if err != nil {
			t.Fatalf("List(offset) error = %v", err)
		}
		if total != 5 || len(empty) != 0 {
			t.Errorf("List(offset) len = %d total = %d, want 0/5", len(empty), total)
		}
	})
}
