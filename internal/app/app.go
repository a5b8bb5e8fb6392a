package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/xhad/danfe/internal/models"
	"github.com/xhad/danfe/internal/types"
	"github.com/xhad/danfe/pkg/artifact"
	"github.com/xhad/danfe/pkg/batch"
	"github.com/xhad/danfe/pkg/config"
	"github.com/xhad/danfe/pkg/gateway"
	"github.com/xhad/danfe/pkg/retrieval"
	"github.com/xhad/danfe/pkg/store"
	"golang.org/x/time/rate"
)

// App wires the registry client, the retrieval machine, the coordinator and
// the persistence collaborators from one configuration.
type App struct {
	config      *config.Config
	coordinator *batch.Coordinator
	dir         *store.Dir
	ledger      *store.Ledger
	log         *slog.Logger
}

type Option func(*options)

type options struct {
	sleeper retrieval.Sleeper
}

// WithSleeper replaces the retrieval waits.
func WithSleeper(sleep retrieval.Sleeper) Option {
	return func(o *options) { o.sleeper = sleep }
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	client, err := gateway.NewWithConfig(gateway.Config{
		BaseURL:   cfg.Registry.BaseURL,
		APIKey:    cfg.Registry.APIKey,
		Timeout:   cfg.Registry.Timeout,
		RateLimit: cfg.Registry.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registry client: %w", err)
	}

	machineOpts := []retrieval.Option{retrieval.WithLogger(log)}
	if cfg.Retrieval.Inspect {
		machineOpts = append(machineOpts, retrieval.WithInspector(artifact.NewInspector()))
	}
	if o.sleeper != nil {
		machineOpts = append(machineOpts, retrieval.WithSleeper(o.sleeper))
	}
	machine := retrieval.New(client, retrieval.Config{
		MaxAttempts: cfg.Retrieval.MaxAttempts,
		Backoff:     cfg.Retrieval.Backoff,
		Pacing:      cfg.Retrieval.Pacing,
		FailFast:    cfg.Retrieval.FailFast,
	}, machineOpts...)

	a := &App{
		config: cfg,
		dir:    store.NewDir(cfg.Output.Dir),
		log:    log,
	}

	batchOpts := []batch.Option{batch.WithLogger(log), batch.WithSink(a.dir)}
	if cfg.Retrieval.KeyRate > 0 {
		batchOpts = append(batchOpts, batch.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Retrieval.KeyRate), 1)))
	}
	if cfg.Database.URL != "" {
		ledger, err := store.NewLedger(ctx, store.LedgerConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ledger: %w", err)
		}
		a.ledger = ledger
		batchOpts = append(batchOpts, batch.WithSink(ledger))
	}
	a.coordinator = batch.New(machine, batchOpts...)

	return a, nil
}

// Request builds a batch request with the configured flags.
func (a *App) Request(keys []models.DocumentKey) models.BatchRequest {
	return models.BatchRequest{
		Keys:           keys,
		FetchSecondary: a.config.FetchSecondary(),
		Pacing:         a.config.Retrieval.Pacing,
	}
}

// Run clears the destination, downloads every key and optionally archives
// the result. The returned error is a persistence failure that halted the
// batch; per-key failures are only in the result.
func (a *App) Run(ctx context.Context, req models.BatchRequest, reporter types.Reporter) (models.BatchResult, string, error) {
	reporter.Report(fmt.Sprintf("download pdf: %t", req.FetchSecondary))
	reporter.Report(fmt.Sprintf("build zip: %t", a.config.ArchiveEnabled()))
	reporter.Report("cleaning output folder and starting...")

	if err := a.dir.Prepare(); err != nil {
		return models.BatchResult{}, "", err
	}

	result, err := a.coordinator.RunWithSink(ctx, req, reporter)
	if err != nil {
		return result, "", err
	}

	if !a.config.ArchiveEnabled() {
		reporter.Report("files saved individually (no zip)")
		return result, "", nil
	}

	reporter.Report("building zip archive...")
	path, err := a.dir.Archive(a.config.Output.ArchiveName)
	if err != nil {
		return result, "", err
	}
	reporter.Report(fmt.Sprintf("archive saved: %s", filepath.Base(path)))
	a.log.Info("archive written", slog.String("path", path))
	return result, path, nil
}

func (a *App) Close() {
	if a.ledger != nil {
		a.ledger.Close()
	}
}
