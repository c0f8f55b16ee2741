// Package storage provides the persistence gateway for quizzes, runs,
// results and assets, with interchangeable backends: a network document
// store, a local append-only file store, and a read-only legacy embedded
// store used as a migration source.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a run. Transitions are monotonic
// along queued -> running -> {completed, failed}.
type RunStatus string

// Run status values.
const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunSettings are the recognized per-run configuration options.
type RunSettings struct {
	Group          string   `json:"group,omitempty" bson:"group,omitempty" mapstructure:"group"`
	Temperature    *float64 `json:"temperature,omitempty" bson:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens      int      `json:"max_tokens,omitempty" bson:"max_tokens,omitempty" mapstructure:"max_tokens"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" bson:"timeout_seconds,omitempty" mapstructure:"timeout_seconds"`
}

// Timeout returns the per-call provider timeout, or zero when unset.
func (s RunSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// QuizRecord is the persisted form of a quiz document.
type QuizRecord struct {
	QuizID    string            `json:"quiz_id" bson:"quiz_id"`
	Title     string            `json:"title" bson:"title"`
	Source    map[string]string `json:"source,omitempty" bson:"source,omitempty"`
	QuizJSON  string            `json:"quiz_json" bson:"quiz_json"`
	CreatedAt time.Time         `json:"created_at" bson:"created_at"`
}

// Run is one execution of a quiz against a chosen set of models. Runs are
// owned exclusively by the orchestrator; Error carries the terminal
// failure reason for failed runs.
type Run struct {
	RunID     string      `json:"run_id" bson:"run_id"`
	QuizID    string      `json:"quiz_id" bson:"quiz_id"`
	Models    []string    `json:"models" bson:"models"`
	Settings  RunSettings `json:"settings" bson:"settings"`
	Status    RunStatus   `json:"status" bson:"status"`
	Error     string      `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" bson:"updated_at"`
}

// ResultError describes a terminal provider failure for one question.
type ResultError struct {
	Kind    string `json:"kind" bson:"kind"`
	Message string `json:"message" bson:"message"`
}

// Result is one model's answer (or failure) to one question within one
// run. The (RunID, ModelID, QuestionID) triple is the primary key; writes
// are keyed upserts, never duplicates.
type Result struct {
	RunID            string       `json:"run_id" bson:"run_id"`
	QuizID           string       `json:"quiz_id" bson:"quiz_id"`
	ModelID          string       `json:"model_id" bson:"model_id"`
	QuestionID       string       `json:"question_id" bson:"question_id"`
	Answer           string       `json:"answer" bson:"answer"`
	Reasoning        string       `json:"reasoning,omitempty" bson:"reasoning,omitempty"`
	Thoughts         string       `json:"thoughts,omitempty" bson:"thoughts,omitempty"`
	Refused          bool         `json:"refused" bson:"refused"`
	LatencyMS        int64        `json:"latency_ms" bson:"latency_ms"`
	PromptTokens     int          `json:"prompt_tokens" bson:"prompt_tokens"`
	CompletionTokens int          `json:"completion_tokens" bson:"completion_tokens"`
	Cost             *float64     `json:"cost,omitempty" bson:"cost,omitempty"`
	Error            *ResultError `json:"error,omitempty" bson:"error,omitempty"`
	UpdatedAt        time.Time    `json:"updated_at" bson:"updated_at"`
}

// Key returns the primary key of the result row.
func (r *Result) Key() string {
	return r.RunID + "/" + r.ModelID + "/" + r.QuestionID
}

// Succeeded reports whether the row records a usable answer.
func (r *Result) Succeeded() bool {
	return r.Error == nil && !r.Refused
}

// Asset is a derived artifact (report, chart) produced for a run after it
// reaches a terminal state. Assets are written by the report collaborator,
// never by the orchestrator.
type Asset struct {
	RunID     string    `json:"run_id" bson:"run_id"`
	Type      string    `json:"asset_type" bson:"asset_type"`
	Variant   string    `json:"variant,omitempty" bson:"variant,omitempty"`
	Path      string    `json:"path" bson:"path"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// ErrNotFound is returned when a keyed lookup matches nothing.
var ErrNotFound = errors.New("not found")

// StorageError indicates the active backend failed to serve a request.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageErr wraps a backend failure, passing ErrNotFound through.
func storageErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}

	return &StorageError{Op: op, Err: err}
}

// MigrationError indicates the one-time legacy migration pass failed. The
// migration marker is never written on failure, so a restart retries the
// full pass.
type MigrationError struct {
	Stage string
	Err   error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration: %s: %v", e.Stage, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Gateway is the backend-agnostic persistence interface. Exactly one
// backend is active per process, selected at startup; callers never branch
// on which one. Implementations are safe for concurrent use.
type Gateway interface {
	PutQuiz(ctx context.Context, q *QuizRecord) error
	GetQuiz(ctx context.Context, quizID string) (*QuizRecord, error)
	ListQuizzes(ctx context.Context) ([]QuizRecord, error)

	PutRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)

	// PutResult upserts by (run_id, model_id, question_id).
	PutResult(ctx context.Context, res *Result) error
	ListResults(ctx context.Context, runID string) ([]Result, error)

	PutAsset(ctx context.Context, asset *Asset) error
	ListAssets(ctx context.Context, runID string) ([]Asset, error)
	DeleteAssets(ctx context.Context, runID string) error

	// Kind identifies the backend for logging only; no persisted shape
	// may depend on it.
	Kind() string

	Close(ctx context.Context) error
}
