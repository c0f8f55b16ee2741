package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T, maxSize int64) *Sink {
	t.Helper()

	sink, err := NewSink(logrus.New(), t.TempDir(), maxSize, 0, 2)
	require.NoError(t, err)

	return sink
}

func TestSink_WriteAndTail(t *testing.T) {
	sink := newTestSink(t, 1<<20)

	w, err := sink.Writer("run-1")
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		w.Printf("line %d", i)
	}

	sink.Release("run-1")

	lines, exists, err := sink.Tail("run-1", 3)
	require.NoError(t, err)
	assert.True(t, exists)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "line 3")
	assert.Contains(t, lines[2], "line 5")

	all, _, err := sink.Tail("run-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestSink_TailMissingLog(t *testing.T) {
	sink := newTestSink(t, 1<<20)

	lines, exists, err := sink.Tail("missing", 10)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Nil(t, lines)
}

func TestSink_SharedWriter(t *testing.T) {
	sink := newTestSink(t, 1<<20)

	w1, err := sink.Writer("run-1")
	require.NoError(t, err)

	w2, err := sink.Writer("run-1")
	require.NoError(t, err)

	assert.Same(t, w1, w2)
}

func TestWriter_Rotation(t *testing.T) {
	sink := newTestSink(t, 200)

	w, err := sink.Writer("run-1")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		w.Printf("a fairly long log line to force rotation %04d", i)
	}

	sink.Release("run-1")

	base := filepath.Join(sink.dir, "run-1.log")

	info, err := os.Stat(base)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(200))

	_, err = os.Stat(base + ".1")
	assert.NoError(t, err)

	// Backups beyond the limit are dropped.
	_, err = os.Stat(fmt.Sprintf("%s.%d", base, 3))
	assert.True(t, os.IsNotExist(err))
}

func TestSink_Sweep(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewSink(logrus.New(), dir, 1<<20, time.Hour, 2)
	require.NoError(t, err)

	oldPath := filepath.Join(dir, "old.log")
	require.NoError(t, os.WriteFile(oldPath, []byte("stale\n"), 0o644))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	freshPath := filepath.Join(dir, "fresh.log")
	require.NoError(t, os.WriteFile(freshPath, []byte("recent\n"), 0o644))

	sink.Sweep()

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(freshPath)
	assert.NoError(t, err)
}
