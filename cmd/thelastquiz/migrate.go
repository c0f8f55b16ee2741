package main

import (
	"context"
	"fmt"

	"github.com/adamd9/thelastquiz/pkg/storage"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the legacy store migration and exit",
	Long: `Transfer the contents of a legacy embedded store into the active
backend. The pass is idempotent: once the completion marker is written the
command is a no-op.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	gateway, err := storage.Open(ctx, log, cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer gateway.Close(ctx)

	if storage.Migrated(cfg.LegacyStorePath()) {
		log.Info("Legacy store already migrated")

		return nil
	}

	migrator := storage.NewMigrator(log, gateway, cfg.LegacyStorePath())

	return migrator.Run(ctx)
}
