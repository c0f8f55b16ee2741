package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adamd9/thelastquiz/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQuizJSON = `{
  "id": "compass",
  "title": "Compass",
  "questions": [
    {"id": "q1", "text": "One?", "options": [{"id": "agree", "text": "Agree"}]},
    {"id": "q2", "text": "Two?", "options": [{"id": "agree", "text": "Agree"}]}
  ]
}`

func seedRun(t *testing.T, gw storage.Gateway) *storage.Run {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, gw.PutQuiz(ctx, &storage.QuizRecord{
		QuizID:    "compass",
		Title:     "Compass",
		QuizJSON:  testQuizJSON,
		CreatedAt: now,
	}))

	run := &storage.Run{
		RunID:     "run-1",
		QuizID:    "compass",
		Models:    []string{"model-a", "model-b"},
		Status:    storage.StatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, gw.PutRun(ctx, run))

	cost := 0.002

	results := []storage.Result{
		{
			RunID: "run-1", QuizID: "compass", ModelID: "model-a",
			QuestionID: "q1", Answer: "agree", Reasoning: "sure",
			Cost: &cost, UpdatedAt: now,
		},
		{
			RunID: "run-1", QuizID: "compass", ModelID: "model-a",
			QuestionID: "q2", Refused: true, UpdatedAt: now, Cost: &cost,
		},
		{
			RunID: "run-1", QuizID: "compass", ModelID: "model-b",
			QuestionID: "q1",
			Error:      &storage.ResultError{Kind: "auth", Message: "bad key"},
			UpdatedAt:  now,
		},
	}

	for i := range results {
		require.NoError(t, gw.PutResult(ctx, &results[i]))
	}

	return run
}

func TestGenerator_Generate(t *testing.T) {
	ctx := context.Background()

	gw, err := storage.NewFileLog(logrus.New(), t.TempDir())
	require.NoError(t, err)

	seedRun(t, gw)

	assetsDir := t.TempDir()
	gen := NewGenerator(logrus.New(), gw, assetsDir, nil)

	require.NoError(t, gen.Generate(ctx, "run-1"))

	reportPath := filepath.Join(assetsDir, "run-1", "reports", "report.md")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)

	md := string(data)
	assert.Contains(t, md, "# Compass")
	assert.Contains(t, md, "agree")
	assert.Contains(t, md, "refused")
	assert.Contains(t, md, "error (auth)")
	assert.Contains(t, md, "Estimated total: $0.004000")
	assert.Contains(t, md, "model-b")

	csvData, err := os.ReadFile(
		filepath.Join(assetsDir, "run-1", "reports", "summary.csv"),
	)
	require.NoError(t, err)
	assert.Contains(t, string(csvData), "model_id,question_id")
	assert.Contains(t, string(csvData), "model-a,q1,agree")

	assets, err := gw.ListAssets(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, assets, 2)
}

func TestGenerator_RetriggerReplacesAssets(t *testing.T) {
	ctx := context.Background()

	gw, err := storage.NewFileLog(logrus.New(), t.TempDir())
	require.NoError(t, err)

	seedRun(t, gw)

	gen := NewGenerator(logrus.New(), gw, t.TempDir(), nil)

	require.NoError(t, gen.Generate(ctx, "run-1"))
	require.NoError(t, gen.Generate(ctx, "run-1"))

	assets, err := gw.ListAssets(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, assets, 2)
}

func TestGenerator_UnknownRun(t *testing.T) {
	gw, err := storage.NewFileLog(logrus.New(), t.TempDir())
	require.NoError(t, err)

	gen := NewGenerator(logrus.New(), gw, t.TempDir(), nil)

	assert.Error(t, gen.Generate(context.Background(), "missing"))
}

func TestNoopTrigger(t *testing.T) {
	assert.NoError(t, NewNoopTrigger().Generate(context.Background(), "anything"))
}
