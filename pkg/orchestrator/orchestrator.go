// Package orchestrator owns the run lifecycle: it creates runs, drives
// their execution against the configured models, and is the only writer
// of run state. Transitions are monotonic along queued -> running ->
// {completed, failed}; terminal states never change again.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adamd9/thelastquiz/pkg/costs"
	"github.com/adamd9/thelastquiz/pkg/provider"
	"github.com/adamd9/thelastquiz/pkg/quiz"
	"github.com/adamd9/thelastquiz/pkg/report"
	"github.com/adamd9/thelastquiz/pkg/runlog"
	"github.com/adamd9/thelastquiz/pkg/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Terminal failure reasons written to Run.Error.
const (
	reasonAborted     = "aborted"
	reasonAllFailed   = "all model calls failed"
	reasonInterrupted = "interrupted by restart"
)

// Orchestrator coordinates run execution. Safe for concurrent use; run
// state writes are serialized per run by the in-process handle registry.
type Orchestrator struct {
	log         logrus.FieldLogger
	gateway     storage.Gateway
	dispatcher  provider.Dispatcher
	pricing     PricingSource
	trigger     report.Trigger
	logs        *runlog.Sink
	workerLimit int

	mu      sync.Mutex
	running map[string]*runHandle
	wg      sync.WaitGroup
}

// PricingSource supplies the pricing table used for per-call cost
// estimation. A failed fetch means costs are unknown for the run.
type PricingSource interface {
	FetchPricing(ctx context.Context) (provider.PricingTable, error)
}

// runHandle tracks one executing run.
type runHandle struct {
	cancel  context.CancelCauseFunc
	done    chan struct{}
	aborted bool
}

// errAborted is the cancellation cause used by AbortRun.
var errAborted = errors.New("run aborted")

// New creates an orchestrator.
func New(
	log logrus.FieldLogger,
	gateway storage.Gateway,
	dispatcher provider.Dispatcher,
	pricing PricingSource,
	trigger report.Trigger,
	logs *runlog.Sink,
	workerLimit int,
) *Orchestrator {
	if workerLimit < 1 {
		workerLimit = 1
	}

	return &Orchestrator{
		log:         log.WithField("component", "orchestrator"),
		gateway:     gateway,
		dispatcher:  dispatcher,
		pricing:     pricing,
		trigger:     trigger,
		logs:        logs,
		workerLimit: workerLimit,
		running:     make(map[string]*runHandle),
	}
}

// CreateRun validates the request and persists a queued run. Nothing is
// dispatched until StartRun.
func (o *Orchestrator) CreateRun(
	ctx context.Context,
	quizID string,
	models []string,
	settings storage.RunSettings,
) (*storage.Run, error) {
	if len(models) == 0 {
		return nil, &ValidationError{Field: "models", Message: "at least one model is required"}
	}

	seen := make(map[string]struct{}, len(models))

	for _, model := range models {
		if model == "" {
			return nil, &ValidationError{Field: "models", Message: "model id must not be empty"}
		}

		if _, dup := seen[model]; dup {
			return nil, &ValidationError{Field: "models", Message: "duplicate model " + model}
		}

		seen[model] = struct{}{}
	}

	if _, err := o.gateway.GetQuiz(ctx, quizID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &ValidationError{Field: "quiz_id", Message: "unknown quiz " + quizID}
		}

		return nil, err
	}

	now := time.Now().UTC()

	run := &storage.Run{
		RunID:     uuid.NewString(),
		QuizID:    quizID,
		Models:    models,
		Settings:  settings,
		Status:    storage.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.gateway.PutRun(ctx, run); err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"run_id": run.RunID,
		"quiz":   quizID,
		"models": len(models),
	}).Info("Run created")

	return run, nil
}

// StartRun transitions a queued run to running and launches its workers.
// Starting a run that is already running is a no-op; starting a terminal
// run is an InvalidStateError.
func (o *Orchestrator) StartRun(ctx context.Context, runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, active := o.running[runID]; active {
		return nil
	}

	run, err := o.gateway.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	switch run.Status {
	case storage.StatusQueued:
	case storage.StatusRunning:
		// Marked running in storage with no live handle: a previous
		// process died mid-run. Recover() fails these at startup; until
		// then starting is a no-op, same as an actively running run.
		return nil
	default:
		return &InvalidStateError{RunID: runID, Status: run.Status, Op: "start"}
	}

	record, err := o.gateway.GetQuiz(ctx, run.QuizID)
	if err != nil {
		return err
	}

	q, err := quiz.ParseJSON([]byte(record.QuizJSON))
	if err != nil {
		return err
	}

	run.Status = storage.StatusRunning
	run.UpdatedAt = time.Now().UTC()

	if err := o.gateway.PutRun(ctx, run); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancelCause(context.Background())
	handle := &runHandle{cancel: cancel, done: make(chan struct{})}
	o.running[runID] = handle

	o.wg.Add(1)

	go o.execute(runCtx, handle, run, q)

	return nil
}

// AbortRun cancels a queued or running run. In-flight provider calls are
// cancelled; every result recorded so far is preserved and the run lands
// failed with reason "aborted".
func (o *Orchestrator) AbortRun(ctx context.Context, runID string) error {
	// Held across the whole queued-path check-and-write so a concurrent
	// StartRun cannot slip the run to running (or beyond) between the
	// status read and the terminal write.
	o.mu.Lock()
	defer o.mu.Unlock()

	if handle, active := o.running[runID]; active {
		handle.aborted = true
		handle.cancel(errAborted)

		return nil
	}

	run, err := o.gateway.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status != storage.StatusQueued {
		return &InvalidStateError{RunID: runID, Status: run.Status, Op: "abort"}
	}

	run.Status = storage.StatusFailed
	run.Error = reasonAborted
	run.UpdatedAt = time.Now().UTC()

	return o.gateway.PutRun(ctx, run)
}

// Recover marks runs left queued or running by a previous process as
// failed. Called once at startup, before any new run is accepted.
func (o *Orchestrator) Recover(ctx context.Context) error {
	runs, err := o.gateway.ListRuns(ctx)
	if err != nil {
		return err
	}

	for i := range runs {
		run := &runs[i]
		if run.Status.Terminal() {
			continue
		}

		run.Status = storage.StatusFailed
		run.Error = reasonInterrupted
		run.UpdatedAt = time.Now().UTC()

		if err := o.gateway.PutRun(ctx, run); err != nil {
			return err
		}

		o.log.WithField("run_id", run.RunID).
			Warn("Stale run marked failed on startup")
	}

	return nil
}

// Wait blocks until every executing run has reached a terminal state.
// Used during graceful shutdown and by tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// execute drives one run to a terminal state. It is the only goroutine
// that writes this run's row after the transition to running.
func (o *Orchestrator) execute(
	ctx context.Context,
	handle *runHandle,
	run *storage.Run,
	q *quiz.Quiz,
) {
	defer o.wg.Done()
	defer close(handle.done)

	rlog, err := o.logs.Writer(run.RunID)
	if err != nil {
		o.log.WithError(err).
			WithField("run_id", run.RunID).
			Warn("Opening run log")

		rlog = nil
	}

	logf := func(format string, args ...any) {
		if rlog != nil {
			rlog.Printf(format, args...)
		}
	}

	logf("run started: quiz=%s models=%d questions=%d",
		run.QuizID, len(run.Models), len(q.Questions))

	pricing := o.fetchPricing(ctx, logf)

	succeeded := o.dispatchAll(ctx, run, q, pricing, logf)

	o.finish(run, succeeded, handle, logf)
	o.logs.Release(run.RunID)
}

// fetchPricing loads the pricing table, tolerating failure. Without it
// every result of the run carries an unknown cost.
func (o *Orchestrator) fetchPricing(
	ctx context.Context, logf func(string, ...any),
) provider.PricingTable {
	if o.pricing == nil {
		return nil
	}

	table, err := o.pricing.FetchPricing(ctx)
	if err != nil {
		o.log.WithError(err).Warn("Fetching pricing table")
		logf("pricing unavailable: %v", err)

		return nil
	}

	return table
}

// dispatchAll fans out one worker per (model, question) pair under the
// concurrency limit and reports whether any call produced a usable
// answer. Every pair lands exactly one result row regardless of outcome.
func (o *Orchestrator) dispatchAll(
	ctx context.Context,
	run *storage.Run,
	q *quiz.Quiz,
	pricing provider.PricingTable,
	logf func(string, ...any),
) bool {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.workerLimit)

	var (
		mu        sync.Mutex
		succeeded bool
	)

	total := len(q.Questions)

	for _, model := range run.Models {
		for i := range q.Questions {
			model := model
			question := &q.Questions[i]
			number := i + 1

			group.Go(func() error {
				if groupCtx.Err() != nil {
					o.recordCancelled(run, model, question.ID, logf)

					return nil
				}

				res := o.askOne(groupCtx, run, q, model, question, number, total, pricing, logf)

				if res.Succeeded() {
					mu.Lock()
					succeeded = true
					mu.Unlock()
				}

				return nil
			})
		}
	}

	_ = group.Wait()

	return succeeded
}

// askOne issues a single provider call and persists its result row. The
// write uses a background context so an aborted run still records the
// rows for work already done.
func (o *Orchestrator) askOne(
	ctx context.Context,
	run *storage.Run,
	q *quiz.Quiz,
	model string,
	question *quiz.Question,
	number, total int,
	pricing provider.PricingTable,
	logf func(string, ...any),
) *storage.Result {
	res := &storage.Result{
		RunID:      run.RunID,
		QuizID:     run.QuizID,
		ModelID:    model,
		QuestionID: question.ID,
		UpdatedAt:  time.Now().UTC(),
	}

	logf("dispatch: model=%s question=%s", model, question.ID)

	answer, err := o.dispatcher.Ask(ctx, model, question, provider.AskOptions{
		QuizTitle: q.Title,
		Number:    number,
		Total:     total,
		Settings: provider.Settings{
			Temperature: run.Settings.Temperature,
			MaxTokens:   run.Settings.MaxTokens,
			Timeout:     run.Settings.Timeout(),
		},
	})

	switch {
	case err == nil:
		res.Answer = answer.Choice
		res.Reasoning = answer.Reason
		res.Thoughts = answer.Thoughts
		res.Refused = answer.Refused
		res.LatencyMS = answer.Latency.Milliseconds()
		res.PromptTokens = answer.PromptTokens
		res.CompletionTokens = answer.CompletionTokens

		if p, ok := pricing.Lookup(model); ok {
			res.Cost = p.Cost(answer.PromptTokens, answer.CompletionTokens)
		}

		logf("answer: model=%s question=%s choice=%q refused=%t",
			model, question.ID, res.Answer, res.Refused)
	default:
		res.Error = resultError(err)
		logf("error: model=%s question=%s kind=%s",
			model, question.ID, res.Error.Kind)
	}

	res.UpdatedAt = time.Now().UTC()

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.gateway.PutResult(writeCtx, res); err != nil {
		o.log.WithError(err).
			WithField("key", res.Key()).
			Error("Persisting result")
	}

	return res
}

// recordCancelled writes the result row for a pair whose dispatch never
// started because the run was cancelled first.
func (o *Orchestrator) recordCancelled(
	run *storage.Run, model, questionID string, logf func(string, ...any),
) {
	res := &storage.Result{
		RunID:      run.RunID,
		QuizID:     run.QuizID,
		ModelID:    model,
		QuestionID: questionID,
		Error:      &storage.ResultError{Kind: "cancelled", Message: "run cancelled before dispatch"},
		UpdatedAt:  time.Now().UTC(),
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.gateway.PutResult(writeCtx, res); err != nil {
		o.log.WithError(err).
			WithField("key", res.Key()).
			Error("Persisting cancelled result")
	}

	logf("cancelled: model=%s question=%s", model, questionID)
}

// resultError converts a dispatch failure into the persisted error shape.
func resultError(err error) *storage.ResultError {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return &storage.ResultError{Kind: string(perr.Kind), Message: perr.Message}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, errAborted) {
		return &storage.ResultError{Kind: "cancelled", Message: "call cancelled"}
	}

	return &storage.ResultError{Kind: "internal", Message: err.Error()}
}

// finish writes the single terminal transition and triggers reporting.
// The status write happens before the trigger fires, so a crashed report
// pass can never leave the run non-terminal.
func (o *Orchestrator) finish(
	run *storage.Run,
	succeeded bool,
	handle *runHandle,
	logf func(string, ...any),
) {
	o.mu.Lock()
	aborted := handle.aborted
	delete(o.running, run.RunID)
	o.mu.Unlock()

	switch {
	case aborted:
		run.Status = storage.StatusFailed
		run.Error = reasonAborted
	case succeeded:
		run.Status = storage.StatusCompleted
	default:
		run.Status = storage.StatusFailed
		run.Error = reasonAllFailed
	}

	run.UpdatedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.gateway.PutRun(ctx, run); err != nil {
		o.log.WithError(err).
			WithField("run_id", run.RunID).
			Error("Persisting terminal run state")
	}

	logf("run finished: status=%s", run.Status)

	o.log.WithFields(logrus.Fields{
		"run_id": run.RunID,
		"status": run.Status,
	}).Info("Run finished")

	if run.Status == storage.StatusCompleted || run.Status == storage.StatusFailed {
		o.triggerReport(run.RunID)
	}
}

// triggerReport fires report generation asynchronously. Failures are
// logged and never propagate to run state.
func (o *Orchestrator) triggerReport(runID string) {
	if o.trigger == nil {
		return
	}

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := o.trigger.Generate(ctx, runID); err != nil {
			o.log.WithError(err).
				WithField("run_id", runID).
				Warn("Generating report")
		}
	}()
}

// CostSummary aggregates the persisted costs of a run's results.
func (o *Orchestrator) CostSummary(
	ctx context.Context, runID string,
) (*costs.Summary, error) {
	if _, err := o.gateway.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	results, err := o.gateway.ListResults(ctx, runID)
	if err != nil {
		return nil, err
	}

	return costs.Summarize(results), nil
}
