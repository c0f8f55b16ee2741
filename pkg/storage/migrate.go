package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// MarkerFile is the zero-byte sentinel recording a completed migration.
// It lives next to the legacy store and is written only after the backup
// rename, so an interrupted pass is retried in full on the next startup.
const MarkerFile = ".migrated"

// BackupSuffix is appended to the legacy store file after migration.
const BackupSuffix = ".backup"

// Migrator performs the one-time transfer of a legacy embedded store into
// the active backend. It must run to completion before any run traffic is
// served; every write is a keyed upsert, so a retried pass is idempotent.
type Migrator struct {
	log        logrus.FieldLogger
	gateway    Gateway
	legacyPath string
}

// NewMigrator creates a migrator targeting the active backend.
func NewMigrator(
	log logrus.FieldLogger,
	gateway Gateway,
	legacyPath string,
) *Migrator {
	return &Migrator{
		log:        log.WithField("component", "migrator"),
		gateway:    gateway,
		legacyPath: legacyPath,
	}
}

// markerPath returns the sentinel location beside the legacy store.
func (m *Migrator) markerPath() string {
	return filepath.Join(filepath.Dir(m.legacyPath), MarkerFile)
}

// Run executes the migration pass. It is a no-op when no legacy store
// exists or the completion marker is present. On any failure the marker
// is left unwritten and the legacy store untouched.
func (m *Migrator) Run(ctx context.Context) error {
	if _, err := os.Stat(m.legacyPath); os.IsNotExist(err) {
		return nil
	}

	if _, err := os.Stat(m.markerPath()); err == nil {
		m.log.Debug("Migration marker present, skipping")

		return nil
	}

	m.log.WithField("legacy", m.legacyPath).Info("Legacy store found, migrating")

	legacy, err := OpenLegacy(m.log, m.legacyPath)
	if err != nil {
		return &MigrationError{Stage: "open", Err: err}
	}
	defer legacy.Close()

	counts, err := m.copyAll(ctx, legacy)
	if err != nil {
		return err
	}

	// The store handle must be released before the rename.
	if err := legacy.Close(); err != nil {
		m.log.WithError(err).Warn("Closing legacy store after copy")
	}

	if err := os.Rename(m.legacyPath, m.legacyPath+BackupSuffix); err != nil {
		return &MigrationError{Stage: "backup", Err: err}
	}

	if err := os.WriteFile(m.markerPath(), nil, 0o644); err != nil {
		return &MigrationError{Stage: "marker", Err: err}
	}

	m.log.WithFields(logrus.Fields{
		"quizzes": counts.quizzes,
		"runs":    counts.runs,
		"results": counts.results,
		"assets":  counts.assets,
		"backend": m.gateway.Kind(),
	}).Info("Legacy migration complete")

	return nil
}

type migrationCounts struct {
	quizzes, runs, results, assets int
}

// copyAll streams every legacy row through the active backend's write
// path. Migration never writes backend-specific formats directly.
func (m *Migrator) copyAll(ctx context.Context, legacy *Legacy) (*migrationCounts, error) {
	var counts migrationCounts

	quizzes, err := legacy.Quizzes(ctx)
	if err != nil {
		return nil, &MigrationError{Stage: "read quizzes", Err: err}
	}

	for i := range quizzes {
		if err := m.gateway.PutQuiz(ctx, &quizzes[i]); err != nil {
			return nil, &MigrationError{Stage: "write quiz", Err: err}
		}

		counts.quizzes++
	}

	runs, err := legacy.Runs(ctx)
	if err != nil {
		return nil, &MigrationError{Stage: "read runs", Err: err}
	}

	for i := range runs {
		run := runs[i]

		// A run interrupted mid-flight in the old system can never
		// resume here; surface it as failed rather than wedged.
		if !run.Status.Terminal() {
			run.Status = StatusFailed
			run.Error = "interrupted before migration"
		}

		if err := m.gateway.PutRun(ctx, &run); err != nil {
			return nil, &MigrationError{Stage: "write run", Err: err}
		}

		counts.runs++

		results, err := legacy.Results(ctx, run.RunID)
		if err != nil {
			return nil, &MigrationError{Stage: "read results", Err: err}
		}

		for j := range results {
			if err := m.gateway.PutResult(ctx, &results[j]); err != nil {
				return nil, &MigrationError{Stage: "write result", Err: err}
			}

			counts.results++
		}

		assets, err := legacy.Assets(ctx, run.RunID)
		if err != nil {
			return nil, &MigrationError{Stage: "read assets", Err: err}
		}

		for j := range assets {
			if err := m.gateway.PutAsset(ctx, &assets[j]); err != nil {
				return nil, &MigrationError{Stage: "write asset", Err: err}
			}

			counts.assets++
		}
	}

	return &counts, nil
}

// Migrated reports whether the completion marker exists for the given
// legacy store path.
func Migrated(legacyPath string) bool {
	_, err := os.Stat(filepath.Join(filepath.Dir(legacyPath), MarkerFile))

	return err == nil
}
