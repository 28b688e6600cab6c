// Package work implements the deterministic text-processing job that both the
// synchronous and asynchronous entry points run.
package work

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Thejas-AM/consuma-api/internal/core/domain"
)

// DefaultSimulatedDelay is how long a job pretends to work before computing.
const DefaultSimulatedDelay = 200 * time.Millisecond

// Executor runs the text job.
type Executor struct {
	delay  time.Duration
	logger *slog.Logger
}

// NewExecutor creates an executor that waits delay before computing each
// result. A negative delay is treated as zero.
func NewExecutor(delay time.Duration, logger *slog.Logger) *Executor {
	if delay < 0 {
		delay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{delay: delay, logger: logger}
}

// Execute decodes input as a domain.WorkInput and processes it. Decode,
// validation and cancellation failures become a failed outcome.
func (e *Executor) Execute(ctx context.Context, input json.RawMessage) domain.Outcome {
	start := time.Now()

	var raw struct {
		Text  string `json:"text"`
		Count *int   `json:"count"`
	}
	if err := json.Unmarshal(input, &raw); err != nil {
		return domain.Failed(fmt.Sprintf("decode input: %v", err))
	}
	in := domain.WorkInput{Text: raw.Text, Count: domain.CountOrDefault(raw.Count)}
	if apiErr := in.Normalize(); apiErr != nil {
		return domain.Failed(apiErr.Message)
	}

	if e.delay > 0 {
		timer := time.NewTimer(e.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.Failed(ctx.Err().Error())
		case <-timer.C:
		}
	}

	result := Process(in)
	result.ProcessingTimeMs = roundMillis(time.Since(start))

	out, err := json.Marshal(result)
	if err != nil {
		return domain.Failed(fmt.Sprintf("encode result: %v", err))
	}

	e.logger.Debug("work executed",
		slog.String("input_hash", result.InputHash),
		slog.Int("iterations", result.Iterations),
		slog.Float64("processing_time_ms", result.ProcessingTimeMs),
	)

	return domain.Completed(out)
}

// Process computes the job result without any delay. ProcessingTimeMs is left
// zero for the caller to fill in.
func Process(in domain.WorkInput) domain.WorkResult {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", in.Text, in.Count)))

	return domain.WorkResult{
		InputHash:      hex.EncodeToString(sum[:])[:16],
		WordCount:      len(strings.Fields(in.Text)),
		CharacterCount: utf8.RuneCountInString(in.Text),
		ProcessedText:  transform(in.Text, in.Count),
		Iterations:     in.Count,
	}
}

// transform alternates upper and lower case count times, starting with upper.
// Only the last pass is observable, so an odd count yields upper case.
func transform(text string, count int) string {
	if count <= 0 {
		return text
	}
	if count%2 == 1 {
		return strings.ToUpper(text)
	}
	return strings.ToLower(text)
}

func roundMillis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
