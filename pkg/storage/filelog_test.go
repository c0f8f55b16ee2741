package storage

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileLog(t *testing.T) Gateway {
	t.Helper()

	gw, err := NewFileLog(logrus.New(), t.TempDir())
	require.NoError(t, err)

	return gw
}

func TestFileLog_QuizRoundTrip(t *testing.T) {
	ctx := context.Background()
	gw := newTestFileLog(t)

	record := &QuizRecord{
		QuizID:    "compass",
		Title:     "Compass",
		QuizJSON:  `{"id":"compass"}`,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, gw.PutQuiz(ctx, record))

	got, err := gw.GetQuiz(ctx, "compass")
	require.NoError(t, err)
	assert.Equal(t, record.Title, got.Title)

	_, err = gw.GetQuiz(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileLog_RunUpsertLastWins(t *testing.T) {
	ctx := context.Background()
	gw := newTestFileLog(t)

	run := &Run{
		RunID:     "run-1",
		QuizID:    "compass",
		Models:    []string{"model-a"},
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, gw.PutRun(ctx, run))

	run.Status = StatusRunning
	require.NoError(t, gw.PutRun(ctx, run))

	run.Status = StatusCompleted
	require.NoError(t, gw.PutRun(ctx, run))

	got, err := gw.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	runs, err := gw.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestFileLog_ResultKeyedUpsert(t *testing.T) {
	ctx := context.Background()
	gw := newTestFileLog(t)

	res := &Result{
		RunID:      "run-1",
		QuizID:     "compass",
		ModelID:    "model-a",
		QuestionID: "q1",
		Answer:     "agree",
	}
	require.NoError(t, gw.PutResult(ctx, res))

	res.Answer = "disagree"
	require.NoError(t, gw.PutResult(ctx, res))

	other := &Result{
		RunID:      "run-1",
		QuizID:     "compass",
		ModelID:    "model-a",
		QuestionID: "q2",
		Answer:     "agree",
	}
	require.NoError(t, gw.PutResult(ctx, other))

	results, err := gw.ListResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "disagree", results[0].Answer)

	none, err := gw.ListResults(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFileLog_NilCostSurvivesRoundTrip(t *testing.T) {
	ctx := context.Background()
	gw := newTestFileLog(t)

	cost := 0.0125

	require.NoError(t, gw.PutResult(ctx, &Result{
		RunID: "run-1", ModelID: "a", QuestionID: "q1", Cost: &cost,
	}))
	require.NoError(t, gw.PutResult(ctx, &Result{
		RunID: "run-1", ModelID: "b", QuestionID: "q1",
	}))

	results, err := gw.ListResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.NotNil(t, results[0].Cost)
	assert.InDelta(t, cost, *results[0].Cost, 1e-9)
	assert.Nil(t, results[1].Cost)
}

func TestFileLog_DeleteAssets(t *testing.T) {
	ctx := context.Background()
	gw := newTestFileLog(t)

	require.NoError(t, gw.PutAsset(ctx, &Asset{RunID: "run-1", Type: "report", Path: "a.md"}))
	require.NoError(t, gw.PutAsset(ctx, &Asset{RunID: "run-1", Type: "summary", Path: "a.csv"}))
	require.NoError(t, gw.PutAsset(ctx, &Asset{RunID: "run-2", Type: "report", Path: "b.md"}))

	require.NoError(t, gw.DeleteAssets(ctx, "run-1"))

	gone, err := gw.ListAssets(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := gw.ListAssets(ctx, "run-2")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
