package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/wsgraph/internal/api"
	"github.com/roach88/wsgraph/internal/backfill"
	"github.com/roach88/wsgraph/internal/bus"
	"github.com/roach88/wsgraph/internal/config"
	"github.com/roach88/wsgraph/internal/dispatch"
	"github.com/roach88/wsgraph/internal/supervisor"
)

// ConsumeOptions holds flags for the consume command.
type ConsumeOptions struct {
	*RootOptions
	Wait time.Duration

	// Subscribe overrides how each worker subscribes (for testing). If nil,
	// workers join the configured Kafka consumer group.
	Subscribe func(cfg *config.Config, worker int) (bus.Subscriber, error)
}

// NewConsumeCommand creates the consume command.
func NewConsumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConsumeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Apply workspace change events until stopped",
		Long: `Run the event consumer: a pool of workers, each with its own
subscription to the workspace and admin topics and its own dispatcher,
plus the status server. Workers that fail are restarted with backoff.

Every event is committed once handled, whether or not it applied cleanly.

Example:
  wsgraph consume
  wsgraph consume --config /etc/wsgraph.yaml --log-format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsume(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Wait, "wait", time.Minute, "wait up to this long for the workspace and store to answer (0 skips)")

	return cmd
}

func runConsume(opts *ConsumeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.Logger()
	subscribe := opts.Subscribe
	if subscribe == nil {
		if err := cfg.ValidateBus(); err != nil {
			return WrapExitError(ExitCommandError, "invalid bus config", err)
		}
		subscribe = kafkaSubscriber(logger)
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	e, err := opts.openEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.waitReady(ctx, opts.Wait); err != nil {
		return err
	}

	schema, err := bus.NewSchema()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load event schema", err)
	}

	sup := supervisor.New(supervisor.Options{
		Workers: cfg.Sync.Workers,
		Logger:  logger,
		Metrics: e.metrics,
	})

	worker := func(ctx context.Context, id int) error {
		sub, err := subscribe(cfg, id)
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		defer sub.Close()

		wlog := logger.With("worker", id)
		d, err := dispatch.New(e.source, e.store, schema, dispatch.Options{
			FlushThreshold: cfg.Sync.FlushThreshold,
			BulkImport:     cfg.Sync.BulkImport,
			Backfill:       e.backfiller(backfill.UUIDv7Generator{}),
			Logger:         wlog,
			Metrics:        e.metrics,
		})
		if err != nil {
			return err
		}
		return d.Consume(ctx, sub)
	}

	router := api.NewRouter(api.Deps{
		Ready:    e.pingers(),
		Status:   func() any { return consumerStatus(cfg, sup) },
		Gatherer: e.registry,
	})
	server := func(ctx context.Context) error {
		return api.Serve(ctx, cfg.HTTP.Addr, router, logger)
	}

	logger.Info("consumer starting",
		"workers", cfg.Sync.Workers,
		"topics", cfg.Bus.Topics(),
		"group", cfg.Bus.Group,
		"status_addr", cfg.HTTP.Addr,
	)
	if err := sup.Run(ctx, worker, server); err != nil && ctx.Err() == nil {
		return WrapExitError(ExitCommandError, "consumer stopped", err)
	}
	logger.Info("consumer stopped gracefully")
	return nil
}

func kafkaSubscriber(logger *slog.Logger) func(*config.Config, int) (bus.Subscriber, error) {
	return func(cfg *config.Config, worker int) (bus.Subscriber, error) {
		return bus.NewKafkaSubscriber(bus.KafkaOptions{
			Brokers: cfg.Bus.Brokers,
			Group:   cfg.Bus.Group,
			Topics:  cfg.Bus.Topics(),
			Logger:  logger.With("worker", worker),
		})
	}
}

type statusResponse struct {
	Workers []supervisor.WorkerStatus `json:"workers"`
	Topics  []string                  `json:"topics"`
	Group   string                    `json:"group"`
	Store   string                    `json:"store"`
}

func consumerStatus(cfg *config.Config, sup *supervisor.Supervisor) statusResponse {
	return statusResponse{
		Workers: sup.Status(),
		Topics:  cfg.Bus.Topics(),
		Group:   cfg.Bus.Group,
		Store:   storeScheme(cfg.Store.DSN),
	}
}
