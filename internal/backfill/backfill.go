package backfill

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/roach88/wsgraph/internal/fetch"
	"github.com/roach88/wsgraph/internal/graph"
	"github.com/roach88/wsgraph/internal/graphstore"
	"github.com/roach88/wsgraph/internal/metrics"
	"github.com/roach88/wsgraph/internal/report"
	"github.com/roach88/wsgraph/internal/sink"
	"github.com/roach88/wsgraph/internal/tracing"
	"github.com/roach88/wsgraph/internal/wsapi"
)

// ErrEmptyRequest is returned when a request names no containers.
var ErrEmptyRequest = errors.New("backfill request names no containers, owners or range")

// ErrInvalidRange is returned when a range without owners is missing a
// bound or has its bounds reversed.
var ErrInvalidRange = errors.New("backfill range needs start and stop with start <= stop")

// RunIDGenerator creates run ids.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run ids, so runs list in
// start order.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Request selects the containers a run covers.
//
// With Owners set, the owners' workspaces are listed and, if StartID or
// StopID is set, filtered to that inclusive range. Otherwise the run covers
// ContainerIDs plus every id in [StartID, StopID]. Ids from the range that
// do not exist are skipped quietly; explicit ids that do not exist are
// errors.
type Request struct {
	ContainerIDs []int64  `json:"container_ids,omitempty"`
	Owners       []string `json:"owners,omitempty"`
	StartID      int64    `json:"start_id,omitempty"`
	StopID       int64    `json:"stop_id,omitempty"`
}

func (r Request) empty() bool {
	return len(r.ContainerIDs) == 0 && len(r.Owners) == 0 && r.StartID <= 0 && r.StopID <= 0
}

// validRange reports whether the id range can be walked. With owners the
// range is only a filter, so either bound may be open.
func (r Request) validRange() bool {
	if len(r.Owners) > 0 || (r.StartID <= 0 && r.StopID <= 0) {
		return true
	}
	return r.StartID > 0 && r.StopID > 0 && r.StartID <= r.StopID
}

func (r Request) inRange(id int64) bool {
	if r.StartID > 0 && id < r.StartID {
		return false
	}
	if r.StopID > 0 && id > r.StopID {
		return false
	}
	return true
}

// Options configures a Controller.
type Options struct {
	PageSize        int
	DetailBatchSize int
	FlushThreshold  int
	BulkImport      bool

	RunIDs  RunIDGenerator
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Controller runs backfills.
type Controller struct {
	src     wsapi.Source
	store   graphstore.Store
	fetcher *fetch.Fetcher
	opts    Options
	logger  *slog.Logger
}

// New creates a Controller reading from src and writing to store.
func New(src wsapi.Source, store graphstore.Store, opts Options) *Controller {
	if opts.RunIDs == nil {
		opts.RunIDs = UUIDv7Generator{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		src:   src,
		store: store,
		fetcher: fetch.New(src, fetch.Options{
			PageSize:  opts.PageSize,
			BatchSize: opts.DetailBatchSize,
			Logger:    logger,
		}),
		opts:   opts,
		logger: logger,
	}
}

// ContainerResult is one container's share of a run.
type ContainerResult struct {
	ID      int64          `json:"id"`
	Objects int            `json:"objects"`
	Deleted int            `json:"deleted"`
	Errors  int            `json:"errors"`
	Outcome report.Outcome `json:"outcome"`
}

// Summary is the result of a run.
type Summary struct {
	RunID      string              `json:"run_id"`
	Containers []ContainerResult   `json:"containers"`
	Skipped    int                 `json:"skipped,omitempty"`
	Objects    int                 `json:"objects"`
	Deleted    int                 `json:"deleted"`
	Written    graphstore.Result   `json:"written"`
	Discarded  int                 `json:"discarded,omitempty"`
	Errors     []*report.SyncError `json:"errors,omitempty"`
	Outcome    report.Outcome      `json:"outcome"`
}

// Run backfills every container the request resolves to. The returned
// error is non-nil only for an unusable request or a cancelled context;
// everything else is recorded in the summary.
func (c *Controller) Run(ctx context.Context, req Request) (Summary, error) {
	sum := Summary{RunID: c.opts.RunIDs.Generate()}
	if req.empty() {
		return sum, ErrEmptyRequest
	}
	if !req.validRange() {
		return sum, fmt.Errorf("%w: got [%d, %d]", ErrInvalidRange, req.StartID, req.StopID)
	}

	ctx, span := tracing.Start(ctx, tracing.SpanBackfill, tracing.RunID(sum.RunID))
	logger := c.logger.With("run_id", sum.RunID)
	logger.Info("backfill started",
		"containers", len(req.ContainerIDs),
		"owners", req.Owners,
		"start_id", req.StartID,
		"stop_id", req.StopID,
	)

	s := sink.New(c.store, sink.Options{
		Threshold:  c.opts.FlushThreshold,
		BulkImport: c.opts.BulkImport,
		Logger:     logger,
		Metrics:    c.opts.Metrics,
	})

	for t := range c.resolve(ctx, req, &sum) {
		if err := ctx.Err(); err != nil {
			sum.Outcome = report.Fatal
			tracing.End(span, err)
			return sum, fmt.Errorf("backfill cancelled: %w", err)
		}
		if t.err != nil && t.info.ID == 0 {
			c.record(logger, &sum, t.err)
			continue
		}
		cr := c.syncContainer(ctx, logger, s, t, &sum)
		sum.Containers = append(sum.Containers, cr)
		c.opts.Metrics.ContainerSynced(cr.Outcome.String())
	}

	// Anything enqueued outside a container (there should be nothing) still
	// gets written.
	rest := s.FlushAll(ctx)
	c.fold(&sum, rest, 0)

	sum.Outcome = report.OutcomeOf(sum.Errors, nil)
	if len(sum.Containers) == 0 && len(sum.Errors) > 0 {
		sum.Outcome = report.Fatal
	}
	logger.Info("backfill finished",
		"outcome", sum.Outcome.String(),
		"containers", len(sum.Containers),
		"objects", sum.Objects,
		"deleted", sum.Deleted,
		"created", sum.Written.Created,
		"updated", sum.Written.Updated,
		"errors", len(sum.Errors),
	)
	var spanErr error
	if sum.Outcome != report.Success {
		spanErr = fmt.Errorf("backfill %s with %d errors", sum.Outcome, len(sum.Errors))
	}
	tracing.End(span, spanErr)
	return sum, nil
}

// target is a resolved container, or the error that stopped it resolving.
type target struct {
	info wsapi.ContainerInfo
	err  *report.SyncError
}

// resolve yields the run's containers in order. Owner listings are fetched
// up front; ids are looked up one at a time as the run reaches them.
func (c *Controller) resolve(ctx context.Context, req Request, sum *Summary) iter.Seq[target] {
	return func(yield func(target) bool) {
		if len(req.Owners) > 0 {
			infos, err := c.src.ListContainers(ctx, req.Owners)
			if err != nil {
				yield(target{err: report.Transport(report.StageResolve, 0, fmt.Errorf("list workspaces for owners %v: %w", req.Owners, err))})
				return
			}
			slices.SortFunc(infos, func(a, b wsapi.ContainerInfo) int { return cmp.Compare(a.ID, b.ID) })
			for _, info := range infos {
				if !req.inRange(info.ID) {
					continue
				}
				if !yield(target{info: info}) {
					return
				}
			}
			return
		}

		seen := make(map[int64]bool)
		lookup := func(id int64, explicit bool) bool {
			if id <= 0 || seen[id] {
				return true
			}
			seen[id] = true
			info, err := c.src.GetContainerInfo(ctx, id)
			switch {
			case err == nil:
				return yield(target{info: info})
			case errors.Is(err, wsapi.ErrNotFound) && !explicit:
				sum.Skipped++
				c.logger.Debug("skipping missing workspace", "container_id", id)
				return true
			default:
				return yield(target{info: wsapi.ContainerInfo{ID: id}, err: report.Transport(report.StageContainer, id, err)})
			}
		}
		for _, id := range req.ContainerIDs {
			if !lookup(id, true) {
				return
			}
		}
		if req.StartID > 0 && req.StopID >= req.StartID {
			for id := req.StartID; id <= req.StopID; id++ {
				if ctx.Err() != nil {
					return
				}
				if !lookup(id, false) {
					return
				}
			}
		}
	}
}

func (c *Controller) syncContainer(ctx context.Context, logger *slog.Logger, s *sink.Sink, t target, sum *Summary) ContainerResult {
	info := t.info
	cr := ContainerResult{ID: info.ID}
	before := len(sum.Errors)
	record := func(err *report.SyncError) { c.record(logger, sum, err) }
	finish := func() ContainerResult {
		cr.Errors = len(sum.Errors) - before
		cr.Outcome = report.OutcomeOf(sum.Errors[before:], nil)
		return cr
	}

	if t.err != nil {
		record(t.err)
		cr.Errors = 1
		cr.Outcome = report.Fatal
		return cr
	}

	ctx, span := tracing.Start(ctx, tracing.SpanContainer, tracing.Container(info.ID))

	s.EnqueueAll(ctx, graph.BuildContainer(info))

	if perms, err := c.src.ListPermissions(ctx, info.ID); err != nil {
		record(report.Transport(report.StagePermissions, info.ID, err))
	} else {
		s.EnqueueAll(ctx, graph.BuildPermissions(info.ID, perms))
	}

	listed := true
	for chunk, err := range fetch.Chunk(c.fetcher.Objects(ctx, info, fetch.Filter{}), c.fetcher.BatchSize()) {
		if err != nil {
			record(report.Pagination(report.StageList, info.ID, err))
			listed = false
			break
		}
		for batch := range c.fetcher.Details(ctx, chunk) {
			if batch.Err != nil {
				record(report.PartialBatch(report.StageDetails, info.ID, "", batch.Err))
				continue
			}
			res := graph.BuildObjects(info, batch.Details)
			for _, d := range batch.Details {
				if d.HasIdentity() {
					cr.Objects++
				}
			}
			for _, issue := range res.Issues {
				record(issue)
			}
			s.EnqueueAll(ctx, res.Documents)
		}
	}

	if listed {
		for chunk, err := range fetch.Chunk(c.fetcher.Objects(ctx, info, fetch.Filter{OnlyDeleted: true}), c.fetcher.BatchSize()) {
			if err != nil {
				record(report.Pagination(report.StageListDeleted, info.ID, err))
				break
			}
			res := graph.BuildDeleted(info, chunk)
			cr.Deleted += len(chunk) - len(res.Issues)
			for _, issue := range res.Issues {
				record(issue)
			}
			s.EnqueueAll(ctx, res.Documents)
		}
	}

	flushed := s.FlushAll(ctx)
	for _, e := range flushed.Errors {
		if e.ContainerID == 0 {
			e.ContainerID = info.ID
		}
	}
	c.fold(sum, flushed, info.ID)
	sum.Objects += cr.Objects
	sum.Deleted += cr.Deleted

	out := finish()
	logger.Info("container synced",
		"container_id", info.ID,
		"outcome", out.Outcome.String(),
		"objects", out.Objects,
		"deleted", out.Deleted,
		"created", flushed.Written.Created,
		"updated", flushed.Written.Updated,
		"errors", out.Errors,
	)
	var spanErr error
	if out.Errors > 0 {
		spanErr = fmt.Errorf("container %d: %d errors", info.ID, out.Errors)
	}
	tracing.End(span, spanErr)
	return out
}

func (c *Controller) record(logger *slog.Logger, sum *Summary, err *report.SyncError) {
	sum.Errors = append(sum.Errors, err)
	logger.Warn("backfill error",
		"container_id", err.ContainerID,
		"stage", string(err.Stage),
		"kind", string(err.Kind),
		"error", err.Message,
	)
	c.opts.Metrics.SyncError(string(err.Kind), string(err.Stage))
}

// fold adds a sink summary to the run. Flush errors were already counted
// in metrics by the sink.
func (c *Controller) fold(sum *Summary, flushed sink.Summary, containerID int64) {
	sum.Written.Add(flushed.Written)
	sum.Discarded += flushed.Discarded
	sum.Errors = append(sum.Errors, flushed.Errors...)
	if len(flushed.Errors) > 0 {
		c.logger.Warn("flush errors",
			"container_id", containerID,
			"errors", len(flushed.Errors),
			"discarded", flushed.Discarded,
		)
	}
}
