package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Entity file names under the file store directory.
const (
	quizzesFile = "quizzes.jsonl"
	runsFile    = "runs.jsonl"
	resultsFile = "results.jsonl"
	assetsFile  = "assets.jsonl"
)

// fileLog is the append-only file backend: one JSONL file per entity
// kind, each line a self-describing record keyed by its primary key.
// Later lines for the same key supersede earlier ones on read.
type fileLog struct {
	log logrus.FieldLogger
	dir string
	mu  sync.Mutex
}

// Compile-time interface check.
var _ Gateway = (*fileLog)(nil)

// NewFileLog creates the append-only file backend rooted at dir.
func NewFileLog(log logrus.FieldLogger, dir string) (Gateway, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating file store directory: %w", err)
	}

	return &fileLog{
		log: log.WithField("component", "filelog"),
		dir: dir,
	}, nil
}

func (f *fileLog) Kind() string { return "filelog" }

func (f *fileLog) Close(_ context.Context) error { return nil }

// append writes one record as a JSON line to the named entity file.
func (f *fileLog) append(name string, record any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	path := filepath.Join(f.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending to %s: %w", name, err)
	}

	return nil
}

// scan reads every line of the named entity file, invoking fn with the
// raw JSON of each record in file order. A missing file is not an error.
func (f *fileLog) scan(name string, fn func(line []byte) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.scanLocked(name, fn)
}

func (f *fileLog) scanLocked(name string, fn func(line []byte) error) error {
	path := filepath.Join(f.dir, name)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if err := fn(line); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning %s: %w", name, err)
	}

	return nil
}

// rewrite atomically replaces the named entity file with the given records.
// Used only for asset deletion; all other writes are appends.
func (f *fileLog) rewrite(name string, records []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, name)
	tmp := path + ".tmp"

	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}

	w := bufio.NewWriter(file)

	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			file.Close()

			return fmt.Errorf("encoding record: %w", err)
		}

		if _, err := w.Write(append(data, '\n')); err != nil {
			file.Close()

			return fmt.Errorf("writing %s: %w", tmp, err)
		}
	}

	if err := w.Flush(); err != nil {
		file.Close()

		return fmt.Errorf("flushing %s: %w", tmp, err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", name, err)
	}

	return nil
}

// --- Quizzes ---

func (f *fileLog) PutQuiz(_ context.Context, q *QuizRecord) error {
	if err := f.append(quizzesFile, q); err != nil {
		return storageErr("put quiz", err)
	}

	return nil
}

func (f *fileLog) GetQuiz(_ context.Context, quizID string) (*QuizRecord, error) {
	var found *QuizRecord

	err := f.scan(quizzesFile, func(line []byte) error {
		var q QuizRecord
		if err := json.Unmarshal(line, &q); err != nil {
			return fmt.Errorf("decoding quiz record: %w", err)
		}

		if q.QuizID == quizID {
			found = &q
		}

		return nil
	})
	if err != nil {
		return nil, storageErr("get quiz", err)
	}

	if found == nil {
		return nil, ErrNotFound
	}

	return found, nil
}

func (f *fileLog) ListQuizzes(_ context.Context) ([]QuizRecord, error) {
	byID := make(map[string]QuizRecord)

	err := f.scan(quizzesFile, func(line []byte) error {
		var q QuizRecord
		if err := json.Unmarshal(line, &q); err != nil {
			return fmt.Errorf("decoding quiz record: %w", err)
		}

		byID[q.QuizID] = q

		return nil
	})
	if err != nil {
		return nil, storageErr("list quizzes", err)
	}

	quizzes := make([]QuizRecord, 0, len(byID))
	for _, q := range byID {
		quizzes = append(quizzes, q)
	}

	sort.Slice(quizzes, func(i, j int) bool {
		return quizzes[i].CreatedAt.After(quizzes[j].CreatedAt)
	})

	return quizzes, nil
}

// --- Runs ---

func (f *fileLog) PutRun(_ context.Context, run *Run) error {
	if err := f.append(runsFile, run); err != nil {
		return storageErr("put run", err)
	}

	return nil
}

func (f *fileLog) GetRun(_ context.Context, runID string) (*Run, error) {
	var found *Run

	err := f.scan(runsFile, func(line []byte) error {
		var run Run
		if err := json.Unmarshal(line, &run); err != nil {
			return fmt.Errorf("decoding run record: %w", err)
		}

		if run.RunID == runID {
			found = &run
		}

		return nil
	})
	if err != nil {
		return nil, storageErr("get run", err)
	}

	if found == nil {
		return nil, ErrNotFound
	}

	return found, nil
}

func (f *fileLog) ListRuns(_ context.Context) ([]Run, error) {
	byID := make(map[string]Run)

	err := f.scan(runsFile, func(line []byte) error {
		var run Run
		if err := json.Unmarshal(line, &run); err != nil {
			return fmt.Errorf("decoding run record: %w", err)
		}

		byID[run.RunID] = run

		return nil
	})
	if err != nil {
		return nil, storageErr("list runs", err)
	}

	runs := make([]Run, 0, len(byID))
	for _, run := range byID {
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	return runs, nil
}

// --- Results ---

func (f *fileLog) PutResult(_ context.Context, res *Result) error {
	if err := f.append(resultsFile, res); err != nil {
		return storageErr("put result", err)
	}

	return nil
}

func (f *fileLog) ListResults(_ context.Context, runID string) ([]Result, error) {
	byKey := make(map[string]Result)
	order := make([]string, 0, 64)

	err := f.scan(resultsFile, func(line []byte) error {
		var res Result
		if err := json.Unmarshal(line, &res); err != nil {
			return fmt.Errorf("decoding result record: %w", err)
		}

		if res.RunID != runID {
			return nil
		}

		if _, exists := byKey[res.Key()]; !exists {
			order = append(order, res.Key())
		}

		byKey[res.Key()] = res

		return nil
	})
	if err != nil {
		return nil, storageErr("list results", err)
	}

	results := make([]Result, 0, len(order))
	for _, key := range order {
		results = append(results, byKey[key])
	}

	return results, nil
}

// --- Assets ---

func (f *fileLog) PutAsset(_ context.Context, asset *Asset) error {
	if err := f.append(assetsFile, asset); err != nil {
		return storageErr("put asset", err)
	}

	return nil
}

func (f *fileLog) ListAssets(_ context.Context, runID string) ([]Asset, error) {
	var assets []Asset

	err := f.scan(assetsFile, func(line []byte) error {
		var asset Asset
		if err := json.Unmarshal(line, &asset); err != nil {
			return fmt.Errorf("decoding asset record: %w", err)
		}

		if asset.RunID == runID {
			assets = append(assets, asset)
		}

		return nil
	})
	if err != nil {
		return nil, storageErr("list assets", err)
	}

	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].CreatedAt.After(assets[j].CreatedAt)
	})

	return assets, nil
}

func (f *fileLog) DeleteAssets(_ context.Context, runID string) error {
	var kept []any

	err := f.scan(assetsFile, func(line []byte) error {
		var asset Asset
		if err := json.Unmarshal(line, &asset); err != nil {
			return fmt.Errorf("decoding asset record: %w", err)
		}

		if asset.RunID != runID {
			kept = append(kept, asset)
		}

		return nil
	})
	if err != nil {
		return storageErr("delete assets", err)
	}

	if err := f.rewrite(assetsFile, kept); err != nil {
		return storageErr("delete assets", err)
	}

	return nil
}
