package storage

import (
	"context"
	"testing"

	"github.com/adamd9/thelastquiz/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.Global.DataDir = t.TempDir()

	return cfg
}

func TestOpen_NoURIUsesFileStore(t *testing.T) {
	ctx := context.Background()

	gw, err := Open(ctx, logrus.New(), openTestConfig(t))
	require.NoError(t, err)
	defer func() { _ = gw.Close(ctx) }()

	assert.Equal(t, "filelog", gw.Kind())
}

func TestOpen_UnreachableDocumentStoreFallsBack(t *testing.T) {
	ctx := context.Background()

	cfg := openTestConfig(t)
	cfg.Storage.Mongo.URI = "not-a-document-store-uri"
	cfg.Storage.Mongo.Database = "thelastquiz"

	gw, err := Open(ctx, logrus.New(), cfg)
	require.NoError(t, err)
	defer func() { _ = gw.Close(ctx) }()

	// A failed connection probe never surfaces as an error; the file
	// store takes over and the process keeps serving.
	assert.Equal(t, "filelog", gw.Kind())

	run := &Run{RunID: "r1", QuizID: "q", Status: StatusQueued}
	require.NoError(t, gw.PutRun(ctx, run))

	got, err := gw.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
}
