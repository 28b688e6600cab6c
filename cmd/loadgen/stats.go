package main

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"
)

// result is the outcome of one submission.
type result struct {
	requestID string
	success   bool
	latency   time.Duration
	err       string
}

// stats aggregates results for one endpoint. Safe for concurrent use.
type stats struct {
	mode string

	mu         sync.Mutex
	total      int
	successful int
	failed     int
	latencies  []float64 // milliseconds, successful requests only
	requestIDs []string
	errors     map[string]int
}

func newStats(mode string) *stats {
	return &stats{mode: mode, errors: make(map[string]int)}
}

func (s *stats) add(r result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if r.success {
		s.successful++
		s.latencies = append(s.latencies, float64(r.latency)/float64(time.Millisecond))
		s.requestIDs = append(s.requestIDs, r.requestID)
		return
	}
	s.failed++
	if r.err != "" {
		s.errors[r.err]++
	}
}

func (s *stats) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requestIDs)
}

// summary is the printable view of stats.
type summary struct {
	Mode        string
	Total       int
	Successful  int
	Failed      int
	SuccessRate string
	P50, P95    *float64
	P99         *float64
	Errors      map[string]int
}

func (s *stats) summary() summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := summary{
		Mode:        s.mode,
		Total:       s.total,
		Successful:  s.successful,
		Failed:      s.failed,
		SuccessRate: "N/A",
		Errors:      s.errors,
	}
	if s.total > 0 {
		out.SuccessRate = fmt.Sprintf("%.1f%%", float64(s.successful)/float64(s.total)*100)
	}
	sorted := slices.Clone(s.latencies)
	slices.Sort(sorted)
	out.P50 = percentile(sorted, 50)
	out.P95 = percentile(sorted, 95)
	out.P99 = percentile(sorted, 99)
	return out
}

// percentile linearly interpolates between the closest ranks of sorted data.
// It returns nil for empty input.
func percentile(sorted []float64, p float64) *float64 {
	if len(sorted) == 0 {
		return nil
	}
	k := float64(len(sorted)-1) * p / 100
	f := int(k)
	c := f + 1
	if c >= len(sorted) {
		c = f
	}
	v := sorted[f] + (k-float64(f))*(sorted[c]-sorted[f])
	v = math.Round(v*100) / 100
	return &v
}

func formatMillis(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f ms", *v)
}
