package storage

import (
	"context"

	"github.com/adamd9/thelastquiz/pkg/config"
	"github.com/sirupsen/logrus"
)

// Open selects and constructs the active backend for this process: the
// document store when a URI is configured and its connection probe
// succeeds, otherwise the append-only file store. A failed probe is
// logged and falls through — it never crashes the process.
func Open(
	ctx context.Context,
	log logrus.FieldLogger,
	cfg *config.Config,
) (Gateway, error) {
	if uri := cfg.Storage.Mongo.URI; uri != "" {
		gw, err := NewDocument(ctx, log, uri, cfg.Storage.Mongo.Database)
		if err == nil {
			return gw, nil
		}

		log.WithError(err).
			Warn("Document store unreachable, falling back to file store")
	}

	gw, err := NewFileLog(log, cfg.FileStoreDir())
	if err != nil {
		return nil, err
	}

	log.WithField("dir", cfg.FileStoreDir()).Info("File store active")

	return gw, nil
}
