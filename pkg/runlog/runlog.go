// Package runlog maintains per-run execution logs: append-only text files
// under the data directory, one per run, with size-based rotation and a
// bounded tail read for the API. Execution logs are observability output
// only; losing one never affects persisted results.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sink owns the execution log directory and hands out per-run writers.
type Sink struct {
	log        logrus.FieldLogger
	dir        string
	maxSize    int64
	maxAge     time.Duration
	maxBackups int

	mu      sync.Mutex
	writers map[string]*Writer
}

// NewSink creates the log directory and the sink over it.
func NewSink(
	log logrus.FieldLogger,
	dir string,
	maxSize int64,
	maxAge time.Duration,
	maxBackups int,
) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	return &Sink{
		log:        log.WithField("component", "runlog"),
		dir:        dir,
		maxSize:    maxSize,
		maxAge:     maxAge,
		maxBackups: maxBackups,
		writers:    make(map[string]*Writer),
	}, nil
}

// path returns the active log file for a run.
func (s *Sink) path(runID string) string {
	return filepath.Join(s.dir, runID+".log")
}

// Writer returns the per-run writer, opening the file on first use. The
// same writer is shared by every goroutine of the run.
func (s *Sink) Writer(runID string) (*Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.writers[runID]; ok {
		return w, nil
	}

	file, err := os.OpenFile(
		s.path(runID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644,
	)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()

		return nil, fmt.Errorf("stating run log: %w", err)
	}

	w := &Writer{sink: s, runID: runID, file: file, size: info.Size()}
	s.writers[runID] = w

	return w, nil
}

// Release closes and forgets the per-run writer. Called when the run
// reaches a terminal state.
func (s *Sink) Release(runID string) {
	s.mu.Lock()
	w, ok := s.writers[runID]
	delete(s.writers, runID)
	s.mu.Unlock()

	if ok {
		w.close()
	}
}

// Tail returns up to n trailing lines of a run's active log. The second
// return value reports whether the log exists at all.
func (s *Sink) Tail(runID string, n int) ([]string, bool, error) {
	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("reading run log: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return []string{}, true, nil
	}

	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return lines, true, nil
}

// Sweep removes log files older than the retention age. Called once at
// startup; a zero retention disables sweeping.
func (s *Sink) Sweep() {
	if s.maxAge <= 0 {
		return
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.WithError(err).Warn("Sweeping run logs")

		return
	}

	cutoff := time.Now().Add(-s.maxAge)

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.IsDir() {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
				s.log.WithError(err).
					WithField("file", entry.Name()).
					Warn("Removing expired run log")
			}
		}
	}
}

// Writer appends timestamped lines to one run's log, rotating when the
// active file exceeds the size limit.
type Writer struct {
	sink  *Sink
	runID string

	mu   sync.Mutex
	file *os.File
	size int64
}

// Printf appends one formatted, timestamped line. Write failures are
// logged and swallowed; run execution never stalls on its log.
func (w *Writer) Printf(format string, args ...any) {
	line := fmt.Sprintf(
		"%s %s\n",
		time.Now().UTC().Format(time.RFC3339),
		fmt.Sprintf(format, args...),
	)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return
	}

	if w.size+int64(len(line)) > w.sink.maxSize {
		if err := w.rotate(); err != nil {
			w.sink.log.WithError(err).
				WithField("run_id", w.runID).
				Warn("Rotating run log")
		}
	}

	n, err := w.file.WriteString(line)
	if err != nil {
		w.sink.log.WithError(err).
			WithField("run_id", w.runID).
			Warn("Writing run log")

		return
	}

	w.size += int64(n)
}

// rotate shifts numbered backups up, moves the active file to .1 and
// reopens a fresh active file. Backups beyond the limit are dropped.
func (w *Writer) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing active log: %w", err)
	}

	base := w.sink.path(w.runID)

	os.Remove(fmt.Sprintf("%s.%d", base, w.sink.maxBackups))

	for i := w.sink.maxBackups - 1; i >= 1; i-- {
		os.Rename(
			fmt.Sprintf("%s.%d", base, i),
			fmt.Sprintf("%s.%d", base, i+1),
		)
	}

	if err := os.Rename(base, base+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archiving active log: %w", err)
	}

	file, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopening active log: %w", err)
	}

	w.file = file
	w.size = 0

	return nil
}

func (w *Writer) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}
