package main

import (
	"context"
	"fmt"

	"github.com/adamd9/thelastquiz/pkg/config"
	"github.com/adamd9/thelastquiz/pkg/orchestrator"
	"github.com/adamd9/thelastquiz/pkg/provider"
	"github.com/adamd9/thelastquiz/pkg/report"
	"github.com/adamd9/thelastquiz/pkg/runlog"
	"github.com/adamd9/thelastquiz/pkg/storage"
)

// components holds the wired application graph shared by the serve and
// run commands.
type components struct {
	cfg     *config.Config
	gateway storage.Gateway
	engine  *orchestrator.Orchestrator
	trigger report.Trigger
	logs    *runlog.Sink
}

// loadConfig reads and validates the configuration file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// buildComponents opens storage, runs the legacy migration, recovers
// stale runs and wires the engine. The migration completes before any
// run traffic can be served.
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	gateway, err := storage.Open(ctx, log, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	migrator := storage.NewMigrator(log, gateway, cfg.LegacyStorePath())
	if err := migrator.Run(ctx); err != nil {
		gateway.Close(ctx)

		return nil, fmt.Errorf("migrating legacy store: %w", err)
	}

	maxSize, err := cfg.RunLog.MaxSizeBytes()
	if err != nil {
		gateway.Close(ctx)

		return nil, err
	}

	logs, err := runlog.NewSink(
		log, cfg.LogsDir(), maxSize, cfg.RunLog.MaxAge, cfg.RunLog.MaxBackups,
	)
	if err != nil {
		gateway.Close(ctx)

		return nil, fmt.Errorf("opening run log sink: %w", err)
	}

	logs.Sweep()

	trigger, err := buildTrigger(ctx, cfg, gateway)
	if err != nil {
		gateway.Close(ctx)

		return nil, err
	}

	client := provider.NewClient(log, &cfg.Provider)

	engine := orchestrator.New(
		log, gateway, client, client, trigger, logs, cfg.Runs.WorkerLimit,
	)

	if err := engine.Recover(ctx); err != nil {
		gateway.Close(ctx)

		return nil, fmt.Errorf("recovering stale runs: %w", err)
	}

	return &components{
		cfg:     cfg,
		gateway: gateway,
		engine:  engine,
		trigger: trigger,
		logs:    logs,
	}, nil
}

// buildTrigger wires report generation, with the optional S3 mirror.
func buildTrigger(
	ctx context.Context,
	cfg *config.Config,
	gateway storage.Gateway,
) (report.Trigger, error) {
	if !cfg.Report.Enabled {
		return report.NewNoopTrigger(), nil
	}

	var uploader report.Uploader

	if cfg.Report.Upload != nil && cfg.Report.Upload.Enabled {
		up, err := report.NewS3Uploader(log, cfg.Report.Upload)
		if err != nil {
			return nil, fmt.Errorf("initializing s3 uploader: %w", err)
		}

		if err := up.Preflight(ctx); err != nil {
			return nil, fmt.Errorf("s3 preflight: %w", err)
		}

		uploader = up
	}

	return report.NewGenerator(log, gateway, cfg.AssetsDir(), uploader), nil
}

// shutdown drains in-flight runs and closes storage.
func (c *components) shutdown(ctx context.Context) {
	c.engine.Wait()

	if err := c.gateway.Close(ctx); err != nil {
		log.WithError(err).Warn("Closing storage")
	}
}
