// Package supervisor runs a fixed pool of consumer workers and restarts
// any that fail.
//
// Workers share nothing; each builds its own subscription and dispatcher.
// A worker that returns an error or panics is restarted after an
// exponential backoff. A worker that returns nil has drained its
// subscription and is not restarted. Run returns when ctx is cancelled and
// every worker has stopped.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/wsgraph/internal/metrics"
	"github.com/roach88/wsgraph/internal/report"
)

// Worker is one consumer loop. id is stable across restarts.
type Worker func(ctx context.Context, id int) error

// State is a worker's lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateStopped  State = "stopped"
)

// WorkerStatus is a snapshot of one worker.
type WorkerStatus struct {
	ID        int       `json:"id"`
	State     State     `json:"state"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// Options configures a Supervisor.
type Options struct {
	Workers int

	// MinBackoff and MaxBackoff bound the restart delay. Defaults are
	// 1s and 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// StableAfter resets the backoff once a worker has run this long.
	// Defaults to one minute.
	StableAfter time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Supervisor owns the worker pool.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	status map[int]*WorkerStatus
}

// New creates a Supervisor. Workers defaults to 1.
func New(opts Options) *Supervisor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(30*time.Second, opts.MinBackoff)
	}
	if opts.StableAfter <= 0 {
		opts.StableAfter = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		opts:   opts,
		logger: logger.With("component", "supervisor"),
		status: make(map[int]*WorkerStatus),
	}
}

// Run starts the workers and any sidecars (such as the status server),
// all under one errgroup. Worker failures are absorbed by restarts; a
// sidecar error cancels everything and is returned.
func (s *Supervisor) Run(ctx context.Context, w Worker, sidecars ...func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for id := 1; id <= s.opts.Workers; id++ {
		s.set(id, StateStarting, "")
		g.Go(func() error {
			s.supervise(ctx, id, w)
			return nil
		})
	}
	for _, sc := range sidecars {
		g.Go(func() error { return sc(ctx) })
	}
	s.logger.Info("workers started", "workers", s.opts.Workers)
	err := g.Wait()
	s.logger.Info("workers stopped")
	return err
}

func (s *Supervisor) supervise(ctx context.Context, id int, w Worker) {
	logger := s.logger.With("worker", id)
	backoff := s.opts.MinBackoff
	for {
		s.set(id, StateRunning, "")
		s.opts.Metrics.WorkerStarted()
		started := time.Now()
		err := runProtected(ctx, id, w)
		s.opts.Metrics.WorkerStopped()

		if ctx.Err() != nil {
			s.set(id, StateStopped, "")
			return
		}
		if err == nil {
			logger.Info("worker finished")
			s.set(id, StateStopped, "")
			return
		}

		if time.Since(started) >= s.opts.StableAfter {
			backoff = s.opts.MinBackoff
		}
		msg := report.Truncate(err.Error(), report.MaxMessageLen)
		logger.Error("worker failed, restarting", "error", msg, "backoff", backoff)
		s.set(id, StateBackoff, msg)
		s.opts.Metrics.WorkerRestarted()

		select {
		case <-ctx.Done():
			s.set(id, StateStopped, msg)
			return
		case <-time.After(backoff):
		}
		s.bumpRestarts(id)
		backoff = min(backoff*2, s.opts.MaxBackoff)
	}
}

// runProtected turns a worker panic into an error.
func runProtected(ctx context.Context, id int, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d panicked: %v\n%s", id, r, debug.Stack())
		}
	}()
	return w(ctx, id)
}

func (s *Supervisor) set(id int, state State, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status[id]
	if st == nil {
		st = &WorkerStatus{ID: id}
		s.status[id] = st
	}
	st.State = state
	st.Since = time.Now()
	if lastErr != "" {
		st.LastError = lastErr
	}
}

func (s *Supervisor) bumpRestarts(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id].Restarts++
}

// Status returns a snapshot of every worker, ordered by id.
func (s *Supervisor) Status() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
