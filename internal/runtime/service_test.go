package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Thejas-AM/consuma-api/internal/pkg/config"
	"github.com/Thejas-AM/consuma-api/internal/testutil"
)

type allowAll struct{}

func (allowAll) Validate(string) error { return nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Storage.Type = "memory"
	cfg.Work.SimulatedDelay = 0
	cfg.Callback.BaseDelay = time.Millisecond
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startService(t *testing.T, opts ...Option) *Service {
	t.Helper()

	svc, err := New(append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func baseURL(svc *Service) string {
	return "http://" + svc.Addr().String()
}

func postJSON(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, out
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, out
}

// waitForRecord polls GET /requests/{id} until check passes.
func waitForRecord(t *testing.T, url string, check func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, record := getJSON(t, url)
		if check(record) {
			return record
		}
		if time.Now().After(deadline) {
			t.Fatalf("record never reached expected state: %v", record)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func callbackSettled(record map[string]any) bool {
	return record["callback_status"] == "sent" || record["callback_status"] == "failed"
}

func TestNew_Defaults(t *testing.T) {
	svc, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if svc.cfg == nil || svc.cfg.Server.Port != 8080 {
		t.Errorf("cfg = %+v, want defaults", svc.cfg)
	}
	if svc.Handler() != nil || svc.Addr() != nil {
		t.Error("Handler and Addr should be nil before Start")
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() before Start error = %v", err)
	}
}

func TestNew_RejectsNilConfig(t *testing.T) {
	if _, err := New(WithConfig(nil)); err == nil {
		t.Error("New(WithConfig(nil)) = nil error")
	}
}

func TestService_SyncAndHealth(t *testing.T) {
	svc := startService(t, WithConfig(testConfig()))

	code, health := getJSON(t, baseURL(svc)+"/healthz")
	if code != http.StatusOK || health["status"] != "healthy" {
		t.Errorf("healthz = %d %v", code, health)
	}

	code, body := postJSON(t, baseURL(svc)+"/sync", `{"text":"Hello World","count":2}`)
	if code != http.StatusOK {
		t.Fatalf("sync status = %d, body = %v", code, body)
	}
	result, _ := body["result"].(map[string]any)
	if result["word_count"] != float64(2) || result["character_count"] != float64(11) {
		t.Errorf("result = %v", result)
	}

	code, record := getJSON(t, fmt.Sprintf("%s/requests/%s", baseURL(svc), body["request_id"]))
	if code != http.StatusOK || record["mode"] != "sync" || record["callback_status"] != nil {
		t.Errorf("record = %d %v", code, record)
	}
}

func TestService_StartTwice(t *testing.T) {
	svc := startService(t, WithConfig(testConfig()))
	if err := svc.Start(context.Background()); err == nil {
		t.Error("second Start() = nil error")
	}
}

func TestService_AsyncInProcess(t *testing.T) {
	receiver := testutil.NewCallbackReceiver(t)
	svc := startService(t,
		WithConfig(testConfig()),
		WithURLValidator(allowAll{}),
		WithCallbackClient(receiver.Client()),
	)

	code, ack := postJSON(t, baseURL(svc)+"/async",
		fmt.Sprintf(`{"text":"Hello World","count":2,"callback_url":%q}`, receiver.URL))
	if code != http.StatusAccepted || ack["status"] != "pending" {
		t.Fatalf("async = %d %v", code, ack)
	}

	calls := receiver.WaitForCalls(t, 1, 5*time.Second)
	if calls[0].Payload["request_id"] != ack["request_id"] || calls[0].Payload["status"] != "completed" {
		t.Errorf("payload = %v", calls[0].Payload)
	}

	record := waitForRecord(t, fmt.Sprintf("%s/requests/%s", baseURL(svc), ack["request_id"]), callbackSettled)
	if record["callback_status"] != "sent" {
		t.Errorf("callback_status = %v, want sent", record["callback_status"])
	}
}

func TestService_GuardedDefaultsRejectLoopback(t *testing.T) {
	svc := startService(t, WithConfig(testConfig()))

	code, body := postJSON(t, baseURL(svc)+"/async", `{"text":"x","callback_url":"http://127.0.0.1:9/hook"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %v)", code, body)
	}
}

func TestService_RedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := testConfig()
	cfg.Queue.Type = "redis"
	cfg.Queue.Redis.Workers = 2

	receiver := testutil.NewCallbackReceiver(t)
	svc := startService(t,
		WithConfig(cfg),
		WithRedisClient(client),
		WithURLValidator(allowAll{}),
		WithCallbackClient(receiver.Client()),
	)

	for i := 0; i < 3; i++ {
		code, ack := postJSON(t, baseURL(svc)+"/async",
			fmt.Sprintf(`{"text":"job %d","callback_url":%q}`, i, receiver.URL))
		if code != http.StatusAccepted {
			t.Fatalf("async %d = %d %v", i, code, ack)
		}
	}

	receiver.WaitForCalls(t, 3, 5*time.Second)
}

func TestService_RedisDownFallsBackInProcess(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	cfg := testConfig()
	cfg.Queue.Type = "redis"

	receiver := testutil.NewCallbackReceiver(t)
	svc := startService(t,
		WithConfig(cfg),
		WithRedisClient(client),
		WithURLValidator(allowAll{}),
		WithCallbackClient(receiver.Client()),
	)
	mr.Close()

	code, ack := postJSON(t, baseURL(svc)+"/async",
		fmt.Sprintf(`{"text":"x","callback_url":%q}`, receiver.URL))
	if code != http.StatusAccepted {
		t.Fatalf("async = %d %v", code, ack)
	}

	calls := receiver.WaitForCalls(t, 1, 5*time.Second)
	if calls[0].Payload["request_id"] != ack["request_id"] {
		t.Errorf("payload = %v", calls[0].Payload)
	}
}

func TestService_SQLiteStorage(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Type = "sqlite"
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "nested", "requests.db")

	svc := startService(t, WithConfig(cfg))

	code, body := postJSON(t, baseURL(svc)+"/sync", `{"text":"persist me"}`)
	if code != http.StatusOK {
		t.Fatalf("sync = %d %v", code, body)
	}

	code, list := getJSON(t, baseURL(svc)+"/requests?mode=sync")
	if code != http.StatusOK || list["total"] != float64(1) {
		t.Errorf("list = %d %v", code, list)
	}
}

func TestService_ShutdownDrainsTasks(t *testing.T) {
	receiver := testutil.NewCallbackReceiver(t)
	cfg := testConfig()
	cfg.Work.SimulatedDelay = 50 * time.Millisecond

	svc, err := New(
		WithConfig(cfg),
		WithLogger(quietLogger()),
		WithURLValidator(allowAll{}),
		WithCallbackClient(receiver.Client()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	code, _ := postJSON(t, baseURL(svc)+"/async", fmt.Sprintf(`{"text":"x","callback_url":%q}`, receiver.URL))
	if code != http.StatusAccepted {
		t.Fatalf("async status = %d", code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := len(receiver.Calls()); got != 1 {
		t.Errorf("callbacks after shutdown = %d, want 1", got)
	}
}
