// Package sink buffers graph documents per collection and writes them to
// the graph store in bounded batches.
//
// A Sink is private to one bounded operation (one event, one backfill run)
// and is not safe for concurrent use. A failed flush is recorded and its
// pending documents are discarded: writes are idempotent, so redelivery or
// the next backfill regenerates them from the workspace.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/wsgraph/internal/graph"
	"github.com/roach88/wsgraph/internal/graphstore"
	"github.com/roach88/wsgraph/internal/metrics"
	"github.com/roach88/wsgraph/internal/report"
	"github.com/roach88/wsgraph/internal/tracing"
)

// DefaultThreshold is the pending size that triggers a collection flush.
const DefaultThreshold = 10000

// Options configures a Sink.
type Options struct {
	// Threshold is the per-collection pending size that triggers an
	// automatic flush of that collection.
	Threshold int

	// BulkImport streams each flush as NDJSON through ImportStream instead
	// of calling Upsert.
	BulkImport bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Summary is what a sink wrote since the last FlushAll.
type Summary struct {
	Written   graphstore.Result            `json:"written"`
	PerColl   map[string]graphstore.Result `json:"per_collection,omitempty"`
	Flushes   int                          `json:"flushes"`
	Discarded int                          `json:"discarded"`
	Errors    []*report.SyncError          `json:"errors,omitempty"`
}

// Merge folds other into s.
func (s *Summary) Merge(other Summary) {
	s.Written.Add(other.Written)
	for c, r := range other.PerColl {
		if s.PerColl == nil {
			s.PerColl = make(map[string]graphstore.Result)
		}
		cur := s.PerColl[c]
		cur.Add(r)
		s.PerColl[c] = cur
	}
	s.Flushes += other.Flushes
	s.Discarded += other.Discarded
	s.Errors = append(s.Errors, other.Errors...)
}

type pendingList struct {
	docs  []graphstore.Document
	index map[string]int
}

// Sink accumulates documents per collection.
type Sink struct {
	store      graphstore.Store
	threshold  int
	bulkImport bool
	logger     *slog.Logger
	metrics    *metrics.Metrics

	pending map[string]*pendingList
	summary Summary
}

// New creates a Sink writing to store.
func New(store graphstore.Store, opts Options) *Sink {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		store:      store,
		threshold:  threshold,
		bulkImport: opts.BulkImport,
		logger:     logger,
		metrics:    opts.Metrics,
		pending:    make(map[string]*pendingList),
	}
}

// Enqueue adds one document. A later document with the same key in the
// same collection replaces the pending one. Reaching the threshold flushes
// that collection.
func (s *Sink) Enqueue(ctx context.Context, doc graph.Document) {
	data, err := json.Marshal(doc.Body)
	if err != nil {
		s.record(report.Malformed(report.StageBuild, 0, "encode %s/%s: %v", doc.Collection, doc.Key, err))
		return
	}

	pl := s.pending[doc.Collection]
	if pl == nil {
		pl = &pendingList{index: make(map[string]int)}
		s.pending[doc.Collection] = pl
	}
	stored := graphstore.Document{Key: doc.Key, From: doc.From, To: doc.To, Data: data}
	if i, ok := pl.index[doc.Key]; ok {
		pl.docs[i] = stored
		return
	}
	pl.index[doc.Key] = len(pl.docs)
	pl.docs = append(pl.docs, stored)

	if len(pl.docs) >= s.threshold {
		s.flush(ctx, doc.Collection)
	}
}

// EnqueueAll enqueues every document in order.
func (s *Sink) EnqueueAll(ctx context.Context, docs []graph.Document) {
	for _, d := range docs {
		s.Enqueue(ctx, d)
	}
}

// Pending returns the number of buffered documents in collection.
func (s *Sink) Pending(collection string) int {
	if pl := s.pending[collection]; pl != nil {
		return len(pl.docs)
	}
	return 0
}

// FlushAll writes every pending collection, in name order, and returns
// the summary accumulated since the previous FlushAll.
func (s *Sink) FlushAll(ctx context.Context) Summary {
	colls := make([]string, 0, len(s.pending))
	for c, pl := range s.pending {
		if len(pl.docs) > 0 {
			colls = append(colls, c)
		}
	}
	sort.Strings(colls)
	for _, c := range colls {
		s.flush(ctx, c)
	}

	out := s.summary
	s.summary = Summary{}
	return out
}

// flush writes one collection and clears its pending list whatever the
// outcome.
func (s *Sink) flush(ctx context.Context, collection string) {
	pl := s.pending[collection]
	if pl == nil || len(pl.docs) == 0 {
		return
	}
	docs := pl.docs
	delete(s.pending, collection)

	ctx, span := tracing.Start(ctx, tracing.SpanFlush, tracing.Collection(collection), tracing.Documents(len(docs)))
	start := time.Now()
	res, err := s.write(ctx, collection, docs)
	s.metrics.ObserveFlush(collection, err, time.Since(start))
	tracing.End(span, err)

	s.summary.Flushes++
	if err != nil {
		s.summary.Discarded += len(docs)
		s.record(report.PartialBatch(report.StageFlush, 0, collection, err))
		s.logger.Warn("flush failed",
			"collection", collection,
			"documents", len(docs),
			"error", report.Truncate(err.Error(), report.MaxMessageLen),
		)
		return
	}

	s.summary.Written.Add(res)
	if s.summary.PerColl == nil {
		s.summary.PerColl = make(map[string]graphstore.Result)
	}
	cur := s.summary.PerColl[collection]
	cur.Add(res)
	s.summary.PerColl[collection] = cur
	s.metrics.DocumentsWritten(collection, res.Created, res.Updated, res.Ignored)
	s.logger.Debug("flushed collection",
		"collection", collection,
		"created", res.Created,
		"updated", res.Updated,
		"ignored", res.Ignored,
	)
}

func (s *Sink) write(ctx context.Context, collection string, docs []graphstore.Document) (graphstore.Result, error) {
	if !s.bulkImport {
		return s.store.Upsert(ctx, collection, docs)
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(graphstore.EncodeNDJSON(pw, docs))
	}()
	res, err := s.store.ImportStream(ctx, collection, pr)
	pr.Close()
	if err != nil {
		return res, fmt.Errorf("bulk import: %w", err)
	}
	return res, nil
}

func (s *Sink) record(err *report.SyncError) {
	s.summary.Errors = append(s.summary.Errors, err)
	s.metrics.SyncError(string(err.Kind), string(err.Stage))
}
