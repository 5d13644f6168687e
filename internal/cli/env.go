package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/wsgraph/internal/backfill"
	"github.com/roach88/wsgraph/internal/config"
	"github.com/roach88/wsgraph/internal/graphstore"
	"github.com/roach88/wsgraph/internal/httpretry"
	"github.com/roach88/wsgraph/internal/metrics"
	"github.com/roach88/wsgraph/internal/wsapi"
)

// env is the set of collaborators a command runs against.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	source   wsapi.Source
	store    graphstore.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// openEnv builds the workspace client and opens the graph store.
func (o *RootOptions) openEnv(ctx context.Context, cfg *config.Config) (*env, error) {
	logger := o.Logger()
	retry := httpretry.Policy{MaxRetries: cfg.Workspace.MaxRetries}

	source := o.Source
	if source == nil {
		source = wsapi.NewClient(wsapi.ClientOptions{
			URL:     cfg.Workspace.URL,
			Token:   cfg.Workspace.Token,
			Timeout: cfg.Workspace.Timeout,
			Retry:   retry,
			Logger:  logger,
		})
	}

	store, err := graphstore.Open(ctx, cfg.Store.DSN, graphstore.Options{
		Token:  cfg.Store.Token,
		Retry:  retry,
		Logger: logger,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open graph store", err)
	}

	registry := prometheus.NewRegistry()
	return &env{
		cfg:      cfg,
		logger:   logger,
		source:   source,
		store:    store,
		registry: registry,
		metrics:  metrics.MustNew(registry),
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing graph store", "error", err)
	}
}

// pingers returns the services a readiness check probes.
func (e *env) pingers() map[string]graphstore.Pinger {
	out := map[string]graphstore.Pinger{"store": e.store}
	if p, ok := e.source.(graphstore.Pinger); ok {
		out["workspace"] = p
	}
	return out
}

// waitReady blocks until every service answers or timeout passes. A zero
// timeout skips the wait.
func (e *env) waitReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := graphstore.WaitReady(ctx, e.logger, time.Second, e.pingers()); err != nil {
		return WrapExitError(ExitCommandError, "services not ready", err)
	}
	return nil
}

// backfiller builds a backfill controller from the sync settings.
func (e *env) backfiller(runIDs backfill.RunIDGenerator) *backfill.Controller {
	return backfill.New(e.source, e.store, backfill.Options{
		PageSize:        e.cfg.Sync.PageSize,
		DetailBatchSize: e.cfg.Sync.DetailBatchSize,
		FlushThreshold:  e.cfg.Sync.FlushThreshold,
		BulkImport:      e.cfg.Sync.BulkImport,
		RunIDs:          runIDs,
		Logger:          e.logger,
		Metrics:         e.metrics,
	})
}
