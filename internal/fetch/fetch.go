// Package fetch pages through workspace listings and batches detail
// requests to stay inside the workspace's per-call limits.
package fetch

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/roach88/wsgraph/internal/wsapi"
)

const (
	// MaxPageSize is the workspace's hard cap on listObjects results.
	MaxPageSize = 10000

	// MaxDetailBatch is the workspace's cap on refs per getObjects call.
	MaxDetailBatch = 1000
)

// Options configures a Fetcher. Zero values take the workspace limits.
type Options struct {
	PageSize  int
	BatchSize int
	Logger    *slog.Logger
}

// Fetcher lists objects and fetches their details.
type Fetcher struct {
	src       wsapi.Source
	pageSize  int
	batchSize int
	logger    *slog.Logger
}

// New creates a Fetcher over src.
func New(src wsapi.Source, opts Options) *Fetcher {
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 || batchSize > MaxDetailBatch {
		batchSize = MaxDetailBatch
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{src: src, pageSize: pageSize, batchSize: batchSize, logger: logger}
}

// PageSize returns the effective page cap.
func (f *Fetcher) PageSize() int { return f.pageSize }

// BatchSize returns the effective detail batch size.
func (f *Fetcher) BatchSize() int { return f.batchSize }

// Filter selects which versions a listing returns.
type Filter struct {
	OnlyDeleted bool
}

// PageError is a failed listing request. The cursor it failed at is kept
// so an operator can resume by hand.
type PageError struct {
	WorkspaceID int64
	MinObjectID int64
	Err         error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("list objects in workspace %d from object %d: %v", e.WorkspaceID, e.MinObjectID, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Objects yields every version in a workspace, one page at a time.
//
// The cursor starts at object id 1. A page shorter than the cap ends the
// listing; a full page moves the cursor past its last object id. The cursor
// never passes the workspace's max object id, so an empty workspace costs
// no requests and an exact multiple of the cap costs no trailing empty
// request. A failed page yields one *PageError and ends the listing.
func (f *Fetcher) Objects(ctx context.Context, ws wsapi.ContainerInfo, filter Filter) iter.Seq2[wsapi.ObjectInfo, error] {
	return func(yield func(wsapi.ObjectInfo, error) bool) {
		cursor := int64(1)
		for cursor <= ws.MaxObjectID {
			if err := ctx.Err(); err != nil {
				yield(wsapi.ObjectInfo{}, &PageError{WorkspaceID: ws.ID, MinObjectID: cursor, Err: err})
				return
			}
			page, err := f.src.ListObjects(ctx, wsapi.ListObjectsParams{
				WorkspaceID:     ws.ID,
				MinObjectID:     cursor,
				ShowOnlyDeleted: filter.OnlyDeleted,
				ShowHidden:      true,
				ShowAllVersions: true,
				Limit:           f.pageSize,
			})
			if err != nil {
				yield(wsapi.ObjectInfo{}, &PageError{WorkspaceID: ws.ID, MinObjectID: cursor, Err: err})
				return
			}
			f.logger.Debug("listed page",
				"workspace_id", ws.ID,
				"min_object_id", cursor,
				"count", len(page),
				"only_deleted", filter.OnlyDeleted,
			)
			for _, info := range page {
				if !yield(info, nil) {
					return
				}
			}
			if len(page) < f.pageSize {
				return
			}
			cursor = page[len(page)-1].ObjectID + 1
		}
	}
}

// Chunk groups a listing into slices of at most n. A listing error is
// yielded after the partial chunk that preceded it.
func Chunk(seq iter.Seq2[wsapi.ObjectInfo, error], n int) iter.Seq2[[]wsapi.ObjectInfo, error] {
	return func(yield func([]wsapi.ObjectInfo, error) bool) {
		var buf []wsapi.ObjectInfo
		for info, err := range seq {
			if err != nil {
				if len(buf) > 0 && !yield(buf, nil) {
					return
				}
				yield(nil, err)
				return
			}
			buf = append(buf, info)
			if len(buf) >= n {
				if !yield(buf, nil) {
					return
				}
				buf = nil
			}
		}
		if len(buf) > 0 {
			yield(buf, nil)
		}
	}
}

// DetailBatch is the outcome of one getObjects call.
type DetailBatch struct {
	Refs    []string
	Details []wsapi.ObjectDetail
	Err     error
}

// Details fetches object details for infos in batches of the configured
// size. A failed batch is yielded with Err set and the next batch is still
// attempted.
func (f *Fetcher) Details(ctx context.Context, infos []wsapi.ObjectInfo) iter.Seq[DetailBatch] {
	return func(yield func(DetailBatch) bool) {
		for start := 0; start < len(infos); start += f.batchSize {
			end := min(start+f.batchSize, len(infos))
			refs := make([]string, 0, end-start)
			for _, info := range infos[start:end] {
				refs = append(refs, info.UPA())
			}
			details, err := f.src.GetObjectDetails(ctx, refs)
			if err != nil {
				err = fmt.Errorf("get details for %s..%s: %w", refs[0], refs[len(refs)-1], err)
			}
			if !yield(DetailBatch{Refs: refs, Details: details, Err: err}) {
				return
			}
		}
	}
}
