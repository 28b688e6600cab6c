// Command loadgen drives the sync and async endpoints with concurrent
// submissions and reports success rates and latency percentiles.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type options struct {
	baseURL     string
	mode        string
	requests    int
	concurrency int
	callbackURL string
	listen      string
	check       time.Duration
	text        string
	count       int
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "base URL of the service")
	flag.StringVar(&opts.mode, "mode", "both", "endpoints to exercise: sync, async or both")
	flag.IntVar(&opts.requests, "n", 100, "number of requests to send")
	flag.IntVar(&opts.concurrency, "concurrency", 10, "maximum in-flight requests")
	flag.StringVar(&opts.callbackURL, "callback", "https://httpbin.org/post", "callback URL for async requests")
	flag.StringVar(&opts.listen, "listen", "", "if set, run a callback receiver on this address and count deliveries")
	flag.DurationVar(&opts.check, "check", 0, "after the run, poll async records for up to this long and report callback status")
	flag.StringVar(&opts.text, "text", "Hello, this is a test message for load testing.", "text to submit")
	flag.IntVar(&opts.count, "count", 3, "count to submit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := opts.validate(); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout, logger); err != nil {
		log.Fatalf("load test failed: %v", err)
	}
}

func (o options) validate() error {
	var errs []error
	switch o.mode {
	case "sync", "async", "both":
	default:
		errs = append(errs, fmt.Errorf("mode %q must be sync, async or both", o.mode))
	}
	if o.requests < 1 {
		errs = append(errs, errors.New("n must be positive"))
	}
	if o.concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	return errors.Join(errs...)
}

type generator struct {
	client  *http.Client
	baseURL string
	payload map[string]any
	cbURL   string
}

func run(ctx context.Context, opts options, out io.Writer, logger *slog.Logger) error {
	var received atomic.Int64
	if opts.listen != "" {
		stopReceiver, err := startReceiver(opts.listen, &received, logger)
		if err != nil {
			return err
		}
		defer stopReceiver()
	}

	g := &generator{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: strings.TrimRight(opts.baseURL, "/"),
		payload: map[string]any{"text": opts.text, "count": opts.count},
		cbURL:   opts.callbackURL,
	}

	fmt.Fprintf(out, "\nStarting load test\n")
	fmt.Fprintf(out, "   Target:      %s\n", g.baseURL)
	fmt.Fprintf(out, "   Requests:    %d\n", opts.requests)
	fmt.Fprintf(out, "   Concurrency: %d\n", opts.concurrency)
	fmt.Fprintf(out, "   Mode:        %s\n", opts.mode)
	if opts.mode != "sync" {
		fmt.Fprintf(out, "   Callback:    %s\n", g.cbURL)
	}

	syncStats, asyncStats := newStats("sync"), newStats("async")
	sem := semaphore.NewWeighted(int64(opts.concurrency))
	eg, egCtx := errgroup.WithContext(ctx)

	start := time.Now()
	for i := 0; i < opts.requests; i++ {
		if err := sem.Acquire(egCtx, 1); err != nil {
			break
		}

		async := opts.mode == "async" || (opts.mode == "both" && i%2 == 1)
		eg.Go(func() error {
			defer sem.Release(1)
			if async {
				asyncStats.add(g.send(egCtx, "/async", http.StatusAccepted, true))
			} else {
				syncStats.add(g.send(egCtx, "/sync", http.StatusOK, false))
			}
			return nil
		})
	}
	_ = eg.Wait()
	elapsed := time.Since(start)

	fmt.Fprintf(out, "\n%s\nLOAD TEST RESULTS\n%s\n", strings.Repeat("=", 60), strings.Repeat("=", 60))
	fmt.Fprintf(out, "Total time:       %.2fs\n", elapsed.Seconds())
	fmt.Fprintf(out, "Requests/second:  %.2f\n\n", float64(opts.requests)/elapsed.Seconds())

	if opts.mode != "async" {
		printSummary(out, "SYNC ENDPOINT", "Latency", syncStats.summary())
	}
	if opts.mode != "sync" {
		printSummary(out, "ASYNC ENDPOINT", "Ack latency", asyncStats.summary())

		if opts.check > 0 {
			counts := g.checkCallbacks(ctx, asyncStats.ids(), opts.check)
			fmt.Fprintf(out, "  Callback status after polling:\n")
			for _, status := range []string{"sent", "failed", "pending", "unknown"} {
				fmt.Fprintf(out, "    %-8s %d\n", status, counts[status])
			}
			fmt.Fprintln(out)
		}
		if opts.listen != "" {
			fmt.Fprintf(out, "  Callbacks received locally: %d\n\n", received.Load())
		}
	}
	fmt.Fprintln(out, strings.Repeat("=", 60))
	return ctx.Err()
}

func (g *generator) send(ctx context.Context, path string, wantStatus int, async bool) result {
	body := g.payload
	if async {
		body = map[string]any{"text": g.payload["text"], "count": g.payload["count"], "callback_url": g.cbURL}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return result{err: err.Error()}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return result{err: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return result{latency: latency, err: err.Error()}
	}
	defer resp.Body.Close()

	var decoded struct {
		RequestID string `json:"request_id"`
		Error     *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)

	if resp.StatusCode != wantStatus {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if decoded.Error != nil {
			msg += ": " + decoded.Error.Message
		}
		return result{requestID: decoded.RequestID, latency: latency, err: msg}
	}
	return result{requestID: decoded.RequestID, success: true, latency: latency}
}

// checkCallbacks polls each async record until its callback settles or the
// budget runs out, and tallies the final callback statuses.
func (g *generator) checkCallbacks(ctx context.Context, ids []string, budget time.Duration) map[string]int {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	statuses := make([]string, len(ids))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for i, id := range ids {
		eg.Go(func() error {
			statuses[i] = g.pollCallback(egCtx, id)
			return nil
		})
	}
	_ = eg.Wait()

	counts := make(map[string]int)
	for _, s := range statuses {
		counts[s]++
	}
	return counts
}

func (g *generator) pollCallback(ctx context.Context, id string) string {
	last := "unknown"
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/requests/"+id, nil)
		if err != nil {
			return last
		}
		if resp, err := g.client.Do(req); err == nil {
			var rec struct {
				CallbackStatus *string `json:"callback_status"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&rec)
			resp.Body.Close()
			if rec.CallbackStatus != nil {
				last = *rec.CallbackStatus
				if last == "sent" || last == "failed" {
					return last
				}
			}
		}

		select {
		case <-ctx.Done():
			return last
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func printSummary(out io.Writer, title, latencyLabel string, s summary) {
	fmt.Fprintf(out, "%s\n%s\n", title, strings.Repeat("-", 40))
	fmt.Fprintf(out, "  Total requests:  %d\n", s.Total)
	fmt.Fprintf(out, "  Successful:      %d\n", s.Successful)
	fmt.Fprintf(out, "  Failed:          %d\n", s.Failed)
	fmt.Fprintf(out, "  Success rate:    %s\n", s.SuccessRate)
	fmt.Fprintf(out, "  %s p50: %s\n", latencyLabel, formatMillis(s.P50))
	fmt.Fprintf(out, "  %s p95: %s\n", latencyLabel, formatMillis(s.P95))
	fmt.Fprintf(out, "  %s p99: %s\n", latencyLabel, formatMillis(s.P99))
	for msg, n := range s.Errors {
		fmt.Fprintf(out, "  error x%d: %s\n", n, msg)
	}
	fmt.Fprintln(out)
}

// startReceiver accepts callback posts on addr and counts them.
func startReceiver(addr string, received *atomic.Int64, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for callbacks on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			received.Add(1)
			w.WriteHeader(http.StatusOK)
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("callback receiver stopped", slog.String("error", err.Error()))
		}
	}()
	logger.Info("callback receiver listening", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
