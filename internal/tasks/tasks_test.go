package tasks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Thejas-AM/consuma-api/internal/core/ports"
)

type recordingHandler struct {
	mu    sync.Mutex
	ids   []string
	done  chan string
	block chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{done: make(chan string, 16)}
}

func (h *recordingHandler) HandleTask(ctx context.Context, id string) error {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.ids = append(h.ids, id)
	h.mu.Unlock()
	h.done <- id
	return nil
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]string(nil), h.ids...)
	sort.Strings(out)
	return out
}

func waitFor(t *testing.T, ch <-chan string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d tasks", i, n)
		}
	}
}

func TestInProcess_RunsTasks(t *testing.T) {
	q := NewInProcess(nil)
	h := newRecordingHandler()
	if err := q.Start(h); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(context.Background(), id); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}
	waitFor(t, h.done, 3)

	got := h.seen()
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("handled = %v, want [a b c]", got)
	}
}

func TestInProcess_OutlivesCallerContext(t *testing.T) {
	q := NewInProcess(nil)

	var gotErr error
	var mu sync.Mutex
	done := make(chan struct{})
	release := make(chan struct{})
	_ = q.Start(ports.TaskHandlerFunc(func(ctx context.Context, id string) error {
		<-release
		mu.Lock()
		gotErr = ctx.Err()
		mu.Unlock()
		close(done)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Enqueue(ctx, "x"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	if gotErr != nil {
		t.Errorf("task context error = %v, want nil", gotErr)
	}
}

func TestInProcess_RecoversPanics(t *testing.T) {
	q := NewInProcess(nil)
	_ = q.Start(ports.TaskHandlerFunc(func(ctx context.Context, id string) error {
		panic("boom")
	}))

	if err := q.Enqueue(context.Background(), "x"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestInProcess_CloseWaitsAndRejects(t *testing.T) {
	q := NewInProcess(nil)
	h := newRecordingHandler()
	h.block = make(chan struct{})
	_ = q.Start(h)

	if err := q.Enqueue(context.Background(), "slow"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Close(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want deadline exceeded", err)
	}

	if err := q.Enqueue(context.Background(), "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue() after Close error = %v, want ErrClosed", err)
	}

	close(h.block)
	if err := q.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if got := h.seen(); len(got) != 1 || got[0] != "slow" {
		t.Errorf("handled = %v, want [slow]", got)
	}
}

func TestInProcess_NotStarted(t *testing.T) {
	q := NewInProcess(nil)
	if err := q.Enqueue(context.Background(), "x"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Enqueue() error = %v, want ErrNotStarted", err)
	}
}

func newRedisQueue(t *testing.T, workers int) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisQueue(client, RedisConfig{Key: "test:tasks", Workers: workers}, nil), mr
}

func TestRedisQueue_RoundTrip(t *testing.T) {
	q, _ := newRedisQueue(t, 2)
	h := newRecordingHandler()
	if err := q.Start(h); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, id := range []string{"r1", "r2", "r3"} {
		if err := q.Enqueue(context.Background(), id); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}
	waitFor(t, h.done, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := h.seen()
	if len(got) != 3 || got[0] != "r1" || got[2] != "r3" {
		t.Errorf("handled = %v, want [r1 r2 r3]", got)
	}
}

func TestRedisQueue_SlowTasksDoNotBlockPollers(t *testing.T) {
	q, _ := newRedisQueue(t, 1)

	started := make(chan string, 8)
	release := make(chan struct{})
	if err := q.Start(ports.TaskHandlerFunc(func(ctx context.Context, id string) error {
		started <- id
		<-release
		return nil
	})); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ids := []string{"s1", "s2", "s3"}
	for _, id := range ids {
		if err := q.Enqueue(context.Background(), id); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}
	// All tasks must be running at once even with a single poller.
	waitFor(t, started, len(ids))
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestRedisQueue_CloseWaitsForRunningTasks(t *testing.T) {
	q, _ := newRedisQueue(t, 1)

	started := make(chan string, 1)
	release := make(chan struct{})
	var finished atomic.Bool
	if err := q.Start(ports.TaskHandlerFunc(func(ctx context.Context, id string) error {
		started <- id
		<-release
		finished.Store(true)
		return nil
	})); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := q.Enqueue(context.Background(), "slow"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, started, 1)

	time.AfterFunc(50*time.Millisecond, func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !finished.Load() {
		t.Error("Close() returned before the running task finished")
	}
}

func TestRedisQueue_SkipsMalformedEntries(t *testing.T) {
	q, mr := newRedisQueue(t, 1)
	h := newRecordingHandler()

	if _, err := mr.Lpush("test:tasks", "not-json"); err != nil {
		t.Fatalf("Lpush() error = %v", err)
	}
	if err := q.Start(h); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := q.Enqueue(context.Background(), "good"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, h.done, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = q.Close(ctx)

	if got := h.seen(); len(got) != 1 || got[0] != "good" {
		t.Errorf("handled = %v, want [good]", got)
	}
}

func TestRedisQueue_EnqueueFailsWhenRedisDown(t *testing.T) {
	q, mr := newRedisQueue(t, 1)
	if err := q.Start(newRecordingHandler()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Enqueue(ctx, "x"); err == nil {
		t.Error("Enqueue() = nil, want error with Redis down")
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	_ = q.Close(closeCtx)
}

func TestRedisQueue_Lifecycle(t *testing.T) {
	q, _ := newRedisQueue(t, 1)

	if err := q.Enqueue(context.Background(), "x"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Enqueue() before Start error = %v, want ErrNotStarted", err)
	}
	if err := q.Start(newRecordingHandler()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := q.Start(newRecordingHandler()); err == nil {
		t.Error("second Start() = nil, want error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := q.Enqueue(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue() after Close error = %v, want ErrClosed", err)
	}
}
