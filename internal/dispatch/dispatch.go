// Package dispatch applies workspace change events to the graph store.
//
// Each event is handled on its own: the handler re-reads the current state
// of whatever the event names from the workspace, rebuilds the documents
// and upserts them. Nothing depends on event order or on having seen an
// earlier event, so redelivered or reordered events converge to the same
// store contents.
//
// Handling outcomes:
//   - malformed events (bad JSON, missing wsid or evtype) are rejected
//     before any workspace or store call
//   - unknown event types are rejected
//   - extension points without a handler report NOT_IMPLEMENTED
//   - fetch and flush failures are recorded on the Result
//
// None of these are retried. The consume loop commits every message once
// it has been handled, whatever the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/wsgraph/internal/backfill"
	"github.com/roach88/wsgraph/internal/bus"
	"github.com/roach88/wsgraph/internal/graph"
	"github.com/roach88/wsgraph/internal/graphstore"
	"github.com/roach88/wsgraph/internal/keys"
	"github.com/roach88/wsgraph/internal/metrics"
	"github.com/roach88/wsgraph/internal/report"
	"github.com/roach88/wsgraph/internal/sink"
	"github.com/roach88/wsgraph/internal/tracing"
	"github.com/roach88/wsgraph/internal/wsapi"
)

// DefaultCacheSize bounds the import-if-absent existence cache.
const DefaultCacheSize = 50000

// ErrNotImplemented marks event types that have no handler.
var ErrNotImplemented = errors.New("event type not implemented")

// Backfiller runs container-scoped backfills for clone and import events.
type Backfiller interface {
	Run(ctx context.Context, req backfill.Request) (backfill.Summary, error)
}

// Options configures a Dispatcher.
type Options struct {
	FlushThreshold int
	BulkImport     bool

	// CacheSize bounds the cache of keys known to exist. Defaults to
	// DefaultCacheSize.
	CacheSize int

	// Backfill handles container import, clone and reindex events. Without
	// it those events report NOT_IMPLEMENTED.
	Backfill Backfiller

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Dispatcher routes events to handlers.
type Dispatcher struct {
	src      wsapi.Source
	store    graphstore.Store
	schema   *bus.Schema
	backfill Backfiller
	exists   *lru.Cache[string, struct{}]
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a Dispatcher.
func New(src wsapi.Source, store graphstore.Store, schema *bus.Schema, opts Options) (*Dispatcher, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("existence cache: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		src:      src,
		store:    store,
		schema:   schema,
		backfill: opts.Backfill,
		exists:   cache,
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// Result is the outcome of one event.
type Result struct {
	Type        bus.EventType       `json:"type"`
	WorkspaceID int64               `json:"workspace_id"`
	ObjectID    int64               `json:"object_id,omitempty"`
	Skipped     bool                `json:"skipped,omitempty"`
	Written     graphstore.Result   `json:"written"`
	Errors      []*report.SyncError `json:"errors,omitempty"`
	Outcome     report.Outcome      `json:"outcome"`
}

// HandleMessage decodes and handles one bus message.
func (d *Dispatcher) HandleMessage(ctx context.Context, raw []byte) (Result, error) {
	evt, err := d.schema.Decode(raw)
	if err != nil {
		serr := report.Malformed(report.StageDispatch, 0, "%v", err)
		serr.Err = err
		d.finish(Result{Outcome: report.Fatal}, serr)
		return Result{Outcome: report.Fatal}, serr
	}
	return d.Handle(ctx, evt)
}

// Handle applies one decoded event. The returned error is non-nil when the
// event as a whole could not be applied; it is always a *report.SyncError.
// Isolated failures during an applied event are listed on the Result.
func (d *Dispatcher) Handle(ctx context.Context, evt bus.Event) (Result, error) {
	res := Result{Type: evt.Type, WorkspaceID: evt.WorkspaceID, ObjectID: evt.ObjectID}
	if evt.WorkspaceID <= 0 || evt.Type == "" {
		serr := report.Malformed(report.StageDispatch, evt.WorkspaceID,
			"event missing workspace id or type (wsid=%d evtype=%q)", evt.WorkspaceID, evt.Type)
		res.Outcome = report.Fatal
		d.finish(res, serr)
		return res, serr
	}

	ctx, span := tracing.Start(ctx, tracing.SpanHandleEvent,
		tracing.EventType(string(evt.Type)),
		tracing.Container(evt.WorkspaceID),
		tracing.Object(evt.ObjectID),
	)

	var serr *report.SyncError
	switch evt.Type {
	case bus.EventImport, bus.EventNewVersion, bus.EventCopyObject, bus.EventRenameObject:
		serr = d.syncObject(ctx, evt, &res)
	case bus.EventImportNonexistent:
		serr = d.importIfAbsent(ctx, evt, &res)
	case bus.EventObjectDeleteState:
		serr = d.markDeleted(ctx, evt, &res)
	case bus.EventWorkspaceDelete:
		serr = notImplemented(evt)
	case bus.EventCloneWorkspace, bus.EventImportWorkspace, bus.EventReindexWorkspace:
		serr = d.syncContainer(ctx, evt, &res)
	case bus.EventSetPermission, bus.EventSetGlobalPermission, bus.EventSetWorkspaceOwner:
		serr = d.syncPermissions(ctx, evt, &res)
	default:
		serr = report.Malformed(report.StageDispatch, evt.WorkspaceID, "unknown event type %q", evt.Type)
	}

	if serr != nil {
		res.Outcome = report.Fatal
	} else {
		res.Outcome = report.OutcomeOf(res.Errors, nil)
	}
	var spanErr error
	if serr != nil {
		spanErr = serr
	}
	tracing.End(span, spanErr)
	d.finish(res, serr)
	if serr != nil {
		return res, serr
	}
	return res, nil
}

func notImplemented(evt bus.Event) *report.SyncError {
	serr := report.NotImplemented(string(evt.Type))
	serr.ContainerID = evt.WorkspaceID
	serr.Err = fmt.Errorf("%w: %s", ErrNotImplemented, evt.Type)
	return serr
}

// finish logs and counts a handled event.
func (d *Dispatcher) finish(res Result, serr *report.SyncError) {
	status := eventStatus(res, serr)
	d.metrics.EventHandled(string(res.Type), status)
	attrs := []any{
		"event_type", string(res.Type),
		"container_id", res.WorkspaceID,
		"object_id", res.ObjectID,
		"status", status,
		"created", res.Written.Created,
		"updated", res.Written.Updated,
		"ignored", res.Written.Ignored,
	}
	switch {
	case serr != nil && serr.Kind == report.KindNotImplemented:
		d.logger.Info("event type not implemented", attrs...)
	case serr != nil:
		d.metrics.SyncError(string(serr.Kind), string(serr.Stage))
		d.logger.Warn("event rejected", append(attrs, "error", serr.Error())...)
	case len(res.Errors) > 0:
		d.logger.Warn("event partially applied", append(attrs, "errors", len(res.Errors))...)
	default:
		d.logger.Debug("event handled", attrs...)
	}
}

func eventStatus(res Result, serr *report.SyncError) string {
	switch {
	case serr != nil && serr.Kind == report.KindNotImplemented:
		return "not_implemented"
	case serr != nil && serr.Kind == report.KindMalformed:
		return "malformed"
	case serr != nil:
		return "error"
	case res.Skipped:
		return "skipped"
	case len(res.Errors) > 0:
		return "partial"
	default:
		return "ok"
	}
}

// objectRef is the ref an object event names. Without a version the
// workspace resolves the latest one.
func objectRef(evt bus.Event) string {
	if evt.Version > 0 {
		return keys.Ref{WorkspaceID: evt.WorkspaceID, ObjectID: evt.ObjectID, Version: evt.Version}.UPA()
	}
	return fmt.Sprintf("%d/%d", evt.WorkspaceID, evt.ObjectID)
}

func requireObject(evt bus.Event) *report.SyncError {
	if evt.ObjectID <= 0 {
		return report.Malformed(report.StageDispatch, evt.WorkspaceID, "%s event missing object id", evt.Type)
	}
	return nil
}

func (d *Dispatcher) newSink() *sink.Sink {
	return sink.New(d.store, sink.Options{
		Threshold:  d.opts.FlushThreshold,
		BulkImport: d.opts.BulkImport,
		Logger:     d.logger,
		Metrics:    d.metrics,
	})
}

// flush writes everything pending and folds the outcome into res. It
// returns the collections whose write failed.
func (d *Dispatcher) flush(ctx context.Context, s *sink.Sink, res *Result) map[string]bool {
	sum := s.FlushAll(ctx)
	failed := make(map[string]bool)
	for _, e := range sum.Errors {
		if e.ContainerID == 0 {
			e.ContainerID = res.WorkspaceID
		}
		if e.Collection != "" {
			failed[e.Collection] = true
		}
	}
	res.Written.Add(sum.Written)
	res.Errors = append(res.Errors, sum.Errors...)
	return failed
}

func (d *Dispatcher) containerInfo(ctx context.Context, wsid int64) (wsapi.ContainerInfo, *report.SyncError) {
	info, err := d.src.GetContainerInfo(ctx, wsid)
	if err != nil {
		return info, report.Transport(report.StageContainer, wsid, err)
	}
	return info, nil
}

// syncObject rebuilds one object version and its edges.
func (d *Dispatcher) syncObject(ctx context.Context, evt bus.Event, res *Result) *report.SyncError {
	if serr := requireObject(evt); serr != nil {
		return serr
	}
	info, serr := d.containerInfo(ctx, evt.WorkspaceID)
	if serr != nil {
		return serr
	}
	ref := objectRef(evt)
	details, err := d.src.GetObjectDetails(ctx, []string{ref})
	if err != nil {
		return report.Transport(report.StageDetails, evt.WorkspaceID, fmt.Errorf("get %s: %w", ref, err))
	}

	built := graph.BuildObjects(info, details)
	if len(details) > 0 && len(built.Issues) > 0 && built.Len() == 0 {
		return built.Issues[0]
	}
	res.Errors = append(res.Errors, built.Issues...)

	s := d.newSink()
	s.EnqueueAll(ctx, graph.BuildContainer(info))
	s.EnqueueAll(ctx, built.Documents)
	failed := d.flush(ctx, s, res)

	// Only keys the store accepted are known to exist.
	for _, det := range details {
		if !det.HasIdentity() {
			continue
		}
		if !failed[graph.CollObjectVersion] {
			d.exists.Add(keys.ObjectVersion(det.Info.WorkspaceID, det.Info.ObjectID, det.Info.Version), struct{}{})
		}
		if !failed[graph.CollObject] {
			d.exists.Add(keys.Object(det.Info.WorkspaceID, det.Info.ObjectID), struct{}{})
		}
	}
	return nil
}

// importIfAbsent syncs the object only when the store does not already
// hold it. With a version the version document is checked, otherwise the
// object document.
func (d *Dispatcher) importIfAbsent(ctx context.Context, evt bus.Event, res *Result) *report.SyncError {
	if serr := requireObject(evt); serr != nil {
		return serr
	}
	coll, key := graph.CollObject, keys.Object(evt.WorkspaceID, evt.ObjectID)
	if evt.Version > 0 {
		coll, key = graph.CollObjectVersion, keys.ObjectVersion(evt.WorkspaceID, evt.ObjectID, evt.Version)
	}
	if d.exists.Contains(key) {
		res.Skipped = true
		return nil
	}
	ok, err := d.store.Exists(ctx, coll, key)
	if err != nil {
		return report.Transport(report.StageDispatch, evt.WorkspaceID, fmt.Errorf("check %s/%s: %w", coll, key, err))
	}
	if ok {
		d.exists.Add(key, struct{}{})
		res.Skipped = true
		return nil
	}
	return d.syncObject(ctx, evt, res)
}

// markDeleted flags every deleted version of the object. An object that
// is no longer deleted is left alone: the flag never flips back.
func (d *Dispatcher) markDeleted(ctx context.Context, evt bus.Event, res *Result) *report.SyncError {
	if serr := requireObject(evt); serr != nil {
		return serr
	}
	info, serr := d.containerInfo(ctx, evt.WorkspaceID)
	if serr != nil {
		return serr
	}
	infos, err := d.src.ListObjects(ctx, wsapi.ListObjectsParams{
		WorkspaceID:     evt.WorkspaceID,
		MinObjectID:     evt.ObjectID,
		MaxObjectID:     evt.ObjectID,
		ShowOnlyDeleted: true,
		ShowHidden:      true,
		ShowAllVersions: true,
	})
	if err != nil {
		return report.Transport(report.StageListDeleted, evt.WorkspaceID, err)
	}
	if len(infos) == 0 {
		res.Skipped = true
		return nil
	}

	built := graph.BuildDeleted(info, infos)
	res.Errors = append(res.Errors, built.Issues...)
	s := d.newSink()
	s.EnqueueAll(ctx, built.Documents)
	d.flush(ctx, s, res)
	return nil
}

// syncPermissions rewrites the container vertex and its permission edges.
func (d *Dispatcher) syncPermissions(ctx context.Context, evt bus.Event, res *Result) *report.SyncError {
	info, serr := d.containerInfo(ctx, evt.WorkspaceID)
	if serr != nil {
		return serr
	}
	perms, err := d.src.ListPermissions(ctx, evt.WorkspaceID)
	if err != nil {
		return report.Transport(report.StagePermissions, evt.WorkspaceID, err)
	}
	s := d.newSink()
	s.EnqueueAll(ctx, graph.BuildContainer(info))
	s.EnqueueAll(ctx, graph.BuildPermissions(evt.WorkspaceID, perms))
	d.flush(ctx, s, res)
	return nil
}

// syncContainer backfills the one container the event names.
func (d *Dispatcher) syncContainer(ctx context.Context, evt bus.Event, res *Result) *report.SyncError {
	if d.backfill == nil {
		return notImplemented(evt)
	}
	sum, err := d.backfill.Run(ctx, backfill.Request{ContainerIDs: []int64{evt.WorkspaceID}})
	if err != nil {
		return report.Transport(report.StageDispatch, evt.WorkspaceID, err)
	}
	res.Written.Add(sum.Written)
	res.Errors = append(res.Errors, sum.Errors...)
	return nil
}

// describe renders an event for logs and errors.
func describe(evt bus.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wsid=%d", evt.Type, evt.WorkspaceID)
	if evt.ObjectID > 0 {
		fmt.Fprintf(&b, " objid=%d", evt.ObjectID)
	}
	if evt.Version > 0 {
		fmt.Fprintf(&b, " ver=%d", evt.Version)
	}
	return b.String()
}
