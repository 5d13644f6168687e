package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger is anything that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// WaitReady polls every target until all answer Ping or ctx ends. Targets
// are polled in parallel; the returned error names the first target that
// never became ready.
func WaitReady(ctx context.Context, logger *slog.Logger, interval time.Duration, targets map[string]Pinger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	g, ctx := errgroup.WithContext(ctx)
	for name, target := range targets {
		g.Go(func() error {
			for {
				err := target.Ping(ctx)
				if err == nil {
					logger.Info("service ready", "service", name)
					return nil
				}
				logger.Info("waiting for service", "service", name, "error", err)
				select {
				case <-ctx.Done():
					return fmt.Errorf("wait for %s: %w (last error: %v)", name, ctx.Err(), err)
				case <-time.After(interval):
				}
			}
		})
	}
	return g.Wait()
}
