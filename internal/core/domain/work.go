package domain

import (
	"encoding/json"
	"unicode/utf8"
)

// Input bounds accepted by the work executor.
const (
	MaxTextLength = 10000
	MinCount      = 1
	MaxCount      = 100

	// DefaultCount applies when the caller omits count entirely.
	DefaultCount = 1
)

// WorkInput is the payload a caller submits for processing.
type WorkInput struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// Normalize checks bounds. Count is taken as given, so callers decoding a
// payload where count may be absent resolve the default first (see
// CountOrDefault); an explicit zero is rejected.
func (in *WorkInput) Normalize() *APIError {
	n := utf8.RuneCountInString(in.Text)
	switch {
	case n == 0:
		return ErrValidation("text must not be empty").WithParam("text")
	case n > MaxTextLength:
		return ErrValidation("text must be at most 10000 characters").WithParam("text")
	case in.Count < MinCount || in.Count > MaxCount:
		return ErrValidation("count must be between 1 and 100").WithParam("count")
	}
	return nil
}

// CountOrDefault resolves an optional decoded count.
func CountOrDefault(count *int) int {
	if count == nil {
		return DefaultCount
	}
	return *count
}

// WorkResult is the output of a successful execution.
type WorkResult struct {
	InputHash        string  `json:"input_hash"`
	WordCount        int     `json:"word_count"`
	CharacterCount   int     `json:"character_count"`
	ProcessedText    string  `json:"processed_text"`
	Iterations       int     `json:"iterations"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Outcome is the result of running the work executor once: either a
// completed output or a failure message. Exactly one of Output or Err is set.
type Outcome struct {
	Status Status
	Output json.RawMessage
	Err    string
}

// Completed builds a successful outcome.
func Completed(output json.RawMessage) Outcome {
	return Outcome{Status: StatusCompleted, Output: output}
}

// Failed builds a failed outcome.
func Failed(msg string) Outcome {
	if msg == "" {
		msg = "unknown error"
	}
	return Outcome{Status: StatusFailed, Err: msg}
}
