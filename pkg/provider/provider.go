// Package provider dispatches quiz questions to LLM providers over an
// OpenRouter-compatible chat completions API, normalizing every outcome
// into an answer or a classified provider error.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/adamd9/thelastquiz/pkg/quiz"
)

// Settings are the per-call generation options.
type Settings struct {
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
}

// AskOptions carry the prompt context for one question.
type AskOptions struct {
	QuizTitle string
	Number    int
	Total     int
	Settings  Settings
}

// Answer is one model's normalized reply to one question.
type Answer struct {
	Choice           string
	Reason           string
	Thoughts         string
	Refused          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Dispatcher issues one bounded, retryable, cancellable request per
// (model, question) and normalizes the response or error. Every call
// returns either an answer or a *Error; the caller records exactly one
// result row per outcome.
type Dispatcher interface {
	Ask(
		ctx context.Context,
		modelID string,
		question *quiz.Question,
		opts AskOptions,
	) (*Answer, error)
}

// ErrorKind classifies a provider failure.
type ErrorKind string

// Provider error kinds.
const (
	KindTimeout     ErrorKind = "timeout"
	KindRateLimited ErrorKind = "rate_limited"
	KindAuth        ErrorKind = "auth"
	KindMalformed   ErrorKind = "malformed"
	KindUnavailable ErrorKind = "unavailable"
)

// Error is a classified provider failure scoped to one (model, question)
// call. It is recorded on the result row, never promoted to a run-level
// fault by itself.
type Error struct {
	Kind       ErrorKind
	ModelID    string
	StatusCode int
	Message    string
	transient  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %s", e.ModelID, e.Kind, e.Message)
}

// Transient reports whether the failure is worth retrying.
func (e *Error) Transient() bool {
	return e.transient
}
