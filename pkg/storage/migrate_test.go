package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// buildLegacyFixture creates a legacy store with one quiz, two runs (one
// terminal, one interrupted), results and an asset.
func buildLegacyFixture(t *testing.T, path string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE quizzes (
			quiz_id TEXT PRIMARY KEY, title TEXT, source TEXT,
			quiz_json TEXT, created_at TEXT
		)`,
		`CREATE TABLE runs (
			run_id TEXT PRIMARY KEY, quiz_id TEXT, status TEXT,
			models TEXT, settings TEXT, created_at TEXT
		)`,
		`CREATE TABLE results (
			run_id TEXT, quiz_id TEXT, model_id TEXT, question_id TEXT,
			choice TEXT, reason TEXT, additional_thoughts TEXT,
			refused INTEGER, latency_ms INTEGER,
			tokens_in INTEGER, tokens_out INTEGER
		)`,
		`CREATE TABLE assets (
			run_id TEXT, asset_type TEXT, path TEXT, created_at TEXT
		)`,
		`INSERT INTO quizzes VALUES
			('compass', 'Compass', '{"url":"https://example.com"}',
			 '{"id":"compass"}', '2024-01-01T00:00:00Z')`,
		`INSERT INTO runs VALUES
			('run-done', 'compass', 'completed', '["model-a"]',
			 '{"temperature": 0.7, "max_tokens": 512}', '2024-01-02T00:00:00Z')`,
		`INSERT INTO runs VALUES
			('run-stuck', 'compass', 'running', '["model-a"]',
			 'null', '2024-01-03T00:00:00Z')`,
		`INSERT INTO results VALUES
			('run-done', 'compass', 'model-a', 'q1',
			 'agree', 'seems right', '', 0, 1200, 100, 20)`,
		`INSERT INTO assets VALUES
			('run-done', 'report', '/old/report.md', '2024-01-02T01:00:00Z')`,
	}

	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestMigrator_Run(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "db", "quizbench.sqlite3")

	buildLegacyFixture(t, legacyPath)

	gw := newTestFileLog(t)
	m := NewMigrator(logrus.New(), gw, legacyPath)

	require.NoError(t, m.Run(ctx))

	// Rows copied through the gateway.
	q, err := gw.GetQuiz(ctx, "compass")
	require.NoError(t, err)
	assert.Equal(t, "Compass", q.Title)
	assert.Equal(t, "https://example.com", q.Source["url"])

	done, err := gw.GetRun(ctx, "run-done")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.Settings.Temperature)
	assert.InDelta(t, 0.7, *done.Settings.Temperature, 1e-9)
	assert.Equal(t, 512, done.Settings.MaxTokens)

	// A run interrupted before migration can never resume.
	stuck, err := gw.GetRun(ctx, "run-stuck")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stuck.Status)
	assert.Equal(t, "interrupted before migration", stuck.Error)

	results, err := gw.ListResults(ctx, "run-done")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "agree", results[0].Answer)
	assert.Equal(t, int64(1200), results[0].LatencyMS)
	assert.Equal(t, 100, results[0].PromptTokens)

	assets, err := gw.ListAssets(ctx, "run-done")
	require.NoError(t, err)
	assert.Len(t, assets, 1)

	// Legacy store renamed, marker written.
	_, err = os.Stat(legacyPath)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(legacyPath + BackupSuffix)
	assert.NoError(t, err)

	assert.True(t, Migrated(legacyPath))
}

func TestMigrator_RunIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "db", "quizbench.sqlite3")

	buildLegacyFixture(t, legacyPath)

	gw := newTestFileLog(t)
	m := NewMigrator(logrus.New(), gw, legacyPath)

	require.NoError(t, m.Run(ctx))

	// Second pass sees the marker and does nothing, even if a legacy
	// store file reappears.
	buildLegacyFixture(t, legacyPath)
	require.NoError(t, m.Run(ctx))

	runs, err := gw.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

// brokenGateway fails every run write.
type brokenGateway struct {
	Gateway
}

func (g *brokenGateway) PutRun(context.Context, *Run) error {
	return &StorageError{Op: "put run", Err: os.ErrClosed}
}

func TestMigrator_FailedWriteLeavesLegacyIntact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "db", "quizbench.sqlite3")

	buildLegacyFixture(t, legacyPath)

	m := NewMigrator(logrus.New(), &brokenGateway{Gateway: newTestFileLog(t)}, legacyPath)

	err := m.Run(ctx)

	var merr *MigrationError
	require.ErrorAs(t, err, &merr)

	// No marker, no backup rename: the next pass retries in full.
	assert.False(t, Migrated(legacyPath))

	_, err = os.Stat(legacyPath)
	assert.NoError(t, err)

	_, err = os.Stat(legacyPath + BackupSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestMigrator_NoLegacyStore(t *testing.T) {
	gw := newTestFileLog(t)
	legacyPath := filepath.Join(t.TempDir(), "db", "quizbench.sqlite3")

	m := NewMigrator(logrus.New(), gw, legacyPath)
	require.NoError(t, m.Run(context.Background()))

	assert.False(t, Migrated(legacyPath))
}

func TestNormalizeLegacyStatus(t *testing.T) {
	assert.Equal(t, StatusQueued, normalizeLegacyStatus("queued"))
	assert.Equal(t, StatusRunning, normalizeLegacyStatus("running"))
	assert.Equal(t, StatusRunning, normalizeLegacyStatus("reporting"))
	assert.Equal(t, StatusCompleted, normalizeLegacyStatus("completed"))
	assert.Equal(t, StatusFailed, normalizeLegacyStatus("failed"))
	assert.Equal(t, StatusFailed, normalizeLegacyStatus("bogus"))
}
