package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Legacy reads the embedded relational store left behind by earlier
// deployments. It is a migration source only: strictly read-only, opened
// once at startup and closed when the migration pass finishes.
type Legacy struct {
	log logrus.FieldLogger
	db  *gorm.DB
}

// Legacy row shapes. The models and settings columns hold loosely-typed
// JSON text; decoding into typed records goes through mapstructure.
type legacyQuiz struct {
	QuizID    string `gorm:"column:quiz_id;primaryKey"`
	Title     string `gorm:"column:title"`
	Source    string `gorm:"column:source"`
	QuizJSON  string `gorm:"column:quiz_json"`
	CreatedAt string `gorm:"column:created_at"`
}

func (legacyQuiz) TableName() string { return "quizzes" }

type legacyRun struct {
	RunID     string `gorm:"column:run_id;primaryKey"`
	QuizID    string `gorm:"column:quiz_id"`
	Status    string `gorm:"column:status"`
	Models    string `gorm:"column:models"`
	Settings  string `gorm:"column:settings"`
	CreatedAt string `gorm:"column:created_at"`
}

func (legacyRun) TableName() string { return "runs" }

type legacyResult struct {
	RunID      string `gorm:"column:run_id"`
	QuizID     string `gorm:"column:quiz_id"`
	ModelID    string `gorm:"column:model_id"`
	QuestionID string `gorm:"column:question_id"`
	Choice     string `gorm:"column:choice"`
	Reason     string `gorm:"column:reason"`
	Thoughts   string `gorm:"column:additional_thoughts"`
	Refused    int    `gorm:"column:refused"`
	LatencyMS  int64  `gorm:"column:latency_ms"`
	TokensIn   int    `gorm:"column:tokens_in"`
	TokensOut  int    `gorm:"column:tokens_out"`
}

func (legacyResult) TableName() string { return "results" }

type legacyAsset struct {
	RunID     string `gorm:"column:run_id"`
	AssetType string `gorm:"column:asset_type"`
	Path      string `gorm:"column:path"`
	CreatedAt string `gorm:"column:created_at"`
}

func (legacyAsset) TableName() string { return "assets" }

// OpenLegacy opens the legacy store file read-only.
func OpenLegacy(log logrus.FieldLogger, path string) (*Legacy, error) {
	db, err := gorm.Open(sqlite.Open(path+"?mode=ro"), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening legacy store: %w", err)
	}

	return &Legacy{
		log: log.WithField("component", "legacy"),
		db:  db,
	}, nil
}

// Close releases the underlying database handle.
func (l *Legacy) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// Quizzes returns every quiz row as a typed record.
func (l *Legacy) Quizzes(ctx context.Context) ([]QuizRecord, error) {
	var rows []legacyQuiz
	if err := l.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reading legacy quizzes: %w", err)
	}

	quizzes := make([]QuizRecord, 0, len(rows))

	for _, row := range rows {
		rec := QuizRecord{
			QuizID:    row.QuizID,
			Title:     row.Title,
			QuizJSON:  row.QuizJSON,
			CreatedAt: parseLegacyTime(row.CreatedAt),
		}

		if row.Source != "" {
			if err := json.Unmarshal([]byte(row.Source), &rec.Source); err != nil {
				l.log.WithError(err).
					WithField("quiz_id", row.QuizID).
					Warn("Skipping unreadable legacy quiz source")
			}
		}

		quizzes = append(quizzes, rec)
	}

	return quizzes, nil
}

// Runs returns every run row as a typed record.
func (l *Legacy) Runs(ctx context.Context) ([]Run, error) {
	var rows []legacyRun
	if err := l.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reading legacy runs: %w", err)
	}

	runs := make([]Run, 0, len(rows))

	for _, row := range rows {
		run := Run{
			RunID:     row.RunID,
			QuizID:    row.QuizID,
			Status:    normalizeLegacyStatus(row.Status),
			CreatedAt: parseLegacyTime(row.CreatedAt),
			UpdatedAt: parseLegacyTime(row.CreatedAt),
		}

		if row.Models != "" {
			if err := json.Unmarshal([]byte(row.Models), &run.Models); err != nil {
				return nil, fmt.Errorf("decoding legacy run %s models: %w", row.RunID, err)
			}
		}

		settings, err := decodeLegacySettings(row.Settings)
		if err != nil {
			return nil, fmt.Errorf("decoding legacy run %s settings: %w", row.RunID, err)
		}

		run.Settings = settings
		runs = append(runs, run)
	}

	return runs, nil
}

// Results returns every result row for the given run.
func (l *Legacy) Results(ctx context.Context, runID string) ([]Result, error) {
	var rows []legacyResult
	if err := l.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reading legacy results: %w", err)
	}

	results := make([]Result, 0, len(rows))

	for _, row := range rows {
		results = append(results, Result{
			RunID:            row.RunID,
			QuizID:           row.QuizID,
			ModelID:          row.ModelID,
			QuestionID:       row.QuestionID,
			Answer:           row.Choice,
			Reasoning:        row.Reason,
			Thoughts:         row.Thoughts,
			Refused:          row.Refused != 0,
			LatencyMS:        row.LatencyMS,
			PromptTokens:     row.TokensIn,
			CompletionTokens: row.TokensOut,
		})
	}

	return results, nil
}

// Assets returns every asset row for the given run.
func (l *Legacy) Assets(ctx context.Context, runID string) ([]Asset, error) {
	var rows []legacyAsset
	if err := l.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reading legacy assets: %w", err)
	}

	assets := make([]Asset, 0, len(rows))

	for _, row := range rows {
		assets = append(assets, Asset{
			RunID:     row.RunID,
			Type:      row.AssetType,
			Path:      row.Path,
			CreatedAt: parseLegacyTime(row.CreatedAt),
		})
	}

	return assets, nil
}

// decodeLegacySettings converts the loosely-typed settings JSON of a
// legacy run into the recognized options, tolerating unknown keys and
// numeric type drift.
func decodeLegacySettings(raw string) (RunSettings, error) {
	var settings RunSettings

	if raw == "" || raw == "null" {
		return settings, nil
	}

	var loose map[string]any
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		return settings, err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &settings,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return settings, err
	}

	if err := decoder.Decode(loose); err != nil {
		return settings, err
	}

	return settings, nil
}

// normalizeLegacyStatus folds statuses that no longer exist (the legacy
// "reporting" phase) into the closest current one.
func normalizeLegacyStatus(status string) RunStatus {
	switch status {
	case "queued":
		return StatusQueued
	case "running", "reporting":
		return StatusRunning
	case "completed":
		return StatusCompleted
	default:
		return StatusFailed
	}
}

// parseLegacyTime parses the ISO timestamps the legacy store wrote,
// returning the zero time for unreadable values.
func parseLegacyTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}

	return time.Time{}
}
