package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wsgraph/internal/backfill"
	"github.com/roach88/wsgraph/internal/bus"
	"github.com/roach88/wsgraph/internal/graph"
	"github.com/roach88/wsgraph/internal/graphstore"
	"github.com/roach88/wsgraph/internal/report"
	"github.com/roach88/wsgraph/internal/testutil"
	"github.com/roach88/wsgraph/internal/wsapi"
)

var schema = bus.MustSchema()

func readsInfo(ver int64) wsapi.ObjectInfo {
	return wsapi.ObjectInfo{
		ObjectID:    5,
		Name:        "my_reads",
		Type:        "KBaseFile.PairedEndLibrary-2.0",
		SaveDate:    "2019-04-04T20:16:39+0000",
		Version:     ver,
		SavedBy:     "someuser",
		WorkspaceID: 41347,
		Checksum:    "0e8d1a5090be7c4e9ccf6d37c09d0eab",
		Size:        26938,
	}
}

func newSource() *testutil.FakeSource {
	src := testutil.NewFakeSource()
	src.AddContainer(wsapi.ContainerInfo{ID: 41347, Owner: "someuser", MaxObjectID: 5, LockStatus: "unlocked"})
	src.AddDetail(wsapi.ObjectDetail{
		Info:       readsInfo(1),
		Copied:     "1/2/3",
		Refs:       []string{"1/1/1", "2/2/2"},
		Provenance: []wsapi.ProvenanceAction{{Service: "narrative", ServiceVer: "3.10.0"}},
	})
	return src
}

func newDispatcher(t *testing.T, src wsapi.Source, store graphstore.Store, opts Options) *Dispatcher {
	t.Helper()
	d, err := New(src, store, schema, opts)
	require.NoError(t, err)
	return d
}

func TestHandle_MalformedEventMakesNoCalls(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing wsid", raw: `{"objid": 5, "ver": 1, "evtype": "NEW_VERSION"}`},
		{name: "missing evtype", raw: `{"wsid": 41347, "objid": 5}`},
		{name: "garbage", raw: `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newSource()
			store := graphstore.NewMemoryStore()
			d := newDispatcher(t, src, store, Options{})

			res, err := d.HandleMessage(context.Background(), []byte(tt.raw))
			require.Error(t, err)
			assert.True(t, report.IsMalformed(err))
			assert.Equal(t, report.Fatal, res.Outcome)
			assert.Equal(t, 0, src.TotalCalls())
			assert.Empty(t, store.Collections())
		})
	}
}

func TestHandle_DecodedEventMissingWorkspace(t *testing.T) {
	src := newSource()
	store := graphstore.NewMemoryStore()
	d := newDispatcher(t, src, store, Options{})

	_, err := d.Handle(context.Background(), bus.Event{Type: bus.EventNewVersion, ObjectID: 5})
	assert.True(t, report.IsMalformed(err))
	assert.Equal(t, 0, src.TotalCalls())
	assert.Empty(t, store.Collections())
}

func TestHandle_ObjectEventMissingObjectID(t *testing.T) {
	src := newSource()
	d := newDispatcher(t, src, graphstore.NewMemoryStore(), Options{})

	_, err := d.HandleMessage(context.Background(), []byte(`{"wsid": 41347, "evtype": "NEW_VERSION"}`))
	assert.True(t, report.IsMalformed(err))
	assert.Equal(t, 0, src.TotalCalls())
}

func TestHandle_UnknownType(t *testing.T) {
	src := newSource()
	d := newDispatcher(t, src, graphstore.NewMemoryStore(), Options{})

	_, err := d.HandleMessage(context.Background(), []byte(`{"wsid": 41347, "evtype": "FROBNICATE"}`))
	require.Error(t, err)
	assert.True(t, report.IsMalformed(err))
	assert.Equal(t, 0, src.TotalCalls())
}

func TestHandle_NewVersion(t *testing.T) {
	store := graphstore.NewMemoryStore()
	d := newDispatcher(t, newSource(), store, Options{})

	res, err := d.HandleMessage(context.Background(), []byte(`{"wsid": 41347, "objid": 5, "ver": 1, "evtype": "NEW_VERSION"}`))
	require.NoError(t, err)
	assert.Equal(t, report.Success, res.Outcome)
	assert.Equal(t, []string{"41347:5:1"}, store.Keys(graph.CollObjectVersion))
	assert.Equal(t, []string{"41347"}, store.Keys(graph.CollWorkspace))
	assert.Len(t, store.Keys(graph.CollRefersTo), 2)
	assert.Len(t, store.Keys(graph.CollCopiedFrom), 1)
	assert.Equal(t, []string{"narrative:3.10.0:UNKNOWN"}, store.Keys(graph.CollMethodVersion))
}

func TestHandle_MissingVersionFetchesLatest(t *testing.T) {
	src := newSource()
	src.AddObject(readsInfo(2))
	store := graphstore.NewMemoryStore()
	d := newDispatcher(t, src, store, Options{})

	_, err := d.Handle(context.Background(), bus.Event{WorkspaceID: 41347, ObjectID: 5, Type: bus.EventRenameObject})
	require.NoError(t, err)
	assert.Equal(t, []string{"41347:5:2"}, store.Keys(graph.CollObjectVersion))
}

func TestHandle_IdempotentOnSQLite(t *testing.T) {
	store, err := graphstore.OpenSQLite(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	d := newDispatcher(t, newSource(), store, Options{})
	evt := bus.Event{WorkspaceID: 41347, ObjectID: 5, Version: 1, Type: bus.EventNewVersion}
	ctx := context.Background()

	first, err := d.Handle(ctx, evt)
	require.NoError(t, err)
	require.Positive(t, first.Written.Created)

	second, err := d.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Written.Created)
	assert.Equal(t, 0, second.Written.Updated)
	assert.Equal(t, first.Written.Created, second.Written.Ignored)
}

func TestHandle_SourceFailureIsTransport(t *testing.T) {
	src := newSource()
	src.FailDetails("41347/5/1", errors.New("status=502"))
	store := graphstore.NewMemoryStore()
	d := newDispatcher(t, src, store, Options{})

	_, err := d.Handle(context.Background(), bus.Event{WorkspaceID: 41347, ObjectID: 5, Version: 1, Type: bus.EventImport})
	require.Error(t, err)
	assert.True(t, report.IsKind(err, report.KindTransport))
	assert.Empty(t, store.Collections())
}

// countingStore counts Exists calls.
type countingStore struct {
	*graphstore.MemoryStore
	exists int
}

func (c *countingStore) Exists(ctx context.Context, collection, key string) (bool, error) {
	c.exists++
	return c.MemoryStore.Exists(ctx, collection, key)
}

func TestHandle_ImportNonexistent(t *testing.T) {
	src := newSource()
	store := &countingStore{MemoryStore: graphstore.NewMemoryStore()}
	d := newDispatcher(t, src, store, Options{})
	ctx := context.Background()
	evt := bus.Event{WorkspaceID: 41347, ObjectID: 5, Version: 1, Type: bus.EventImportNonexistent}

	res, err := d.Handle(ctx, evt)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, store.exists)
	assert.Equal(t, 1, src.DetailCalls())

	res, err = d.Handle(ctx, evt)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, store.exists, "cached keys skip the store lookup")
	assert.Equal(t, 1, src.DetailCalls())
}

func TestHandle_ImportNonexistentAlreadyStored(t *testing.T) {
	src := newSource()
	store := graphstore.NewMemoryStore()
	ctx := context.Background()

	seed := newDispatcher(t, src, store, Options{})
	_, err := seed.Handle(ctx, bus.Event{WorkspaceID: 41347, ObjectID: 5, Version: 1, Type: bus.EventNewVersion})
	require.NoError(t, err)
	calls := src.TotalCalls()

	d := newDispatcher(t, src, store, Options{})
	res, err := d.Handle(ctx, bus.Event{WorkspaceID: 41347, ObjectID: 5, Type: bus.EventImportNonexistent})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, calls, src.TotalCalls())
}

func TestHandle_ObjectDeleteStateChange(t *testing.T) {
	src := newSource()
	store := graphstore.NewMemoryStore()
	d := newDispatcher(t, src, store, Options{})
	ctx := context.Background()

	_, err := d.Handle(ctx, bus.Event{WorkspaceID: 41347, ObjectID: 5, Version: 1, Type: bus.EventNewVersion})
	require.NoError(t, err)

	src.MarkDeleted(41347, 5)
	res, err := d.Handle(ctx, bus.Event{WorkspaceID: 41347, ObjectID: 5, Type: bus.EventObjectDeleteState})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	doc, err := store.Get(ctx, graph.CollObjectVersion, "41347:5:1")
	require.NoError(t, err)
	assert.Contains(t, string(doc.Data), `"deleted":true`)

	// A later full rebuild of the version does not clear the flag.
	_, err = d.Handle(ctx, bus.Event{WorkspaceID: 41347, ObjectID: 5, Version: 1, Type: bus.EventNewVersion})
	require.NoError(t, err)
	doc, err = store.Get(ctx, graph.CollObjectVersion, "41347:5:1")
	require.NoError(t, err)
	assert.Contains(t, string(doc.Data), `"deleted":true`)
}

func TestHandle_UndeleteIsIgnored(t *testing.T) {
	src := newSource()
	store := graphstore.NewMemoryStore()
	d := newDispatcher(t, src, store, Options{})

	res, err := d.Handle(context.Background(), bus.Event{WorkspaceID: 41347, ObjectID: 5, Type: bus.EventObjectDeleteState})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, store.Collections())
}

func TestHandle_WorkspaceDeleteNotImplemented(t *testing.T) {
	src := newSource()
	d := newDispatcher(t, src, graphstore.NewMemoryStore(), Options{})

	_, err := d.Handle(context.Background(), bus.Event{WorkspaceID: 41347, Type: bus.EventWorkspaceDelete})
	require.Error(t, err)
	assert.True(t, report.IsNotImplemented(err))
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.Equal(t, 0, src.TotalCalls())
}

func TestHandle_CloneWorkspace(t *testing.T) {
	src := newSource()
	store := graphstore.NewMemoryStore()
	bf := backfill.New(src, store, backfill.Options{RunIDs: testutil.NewFixedRunID("clone")})
	d := newDispatcher(t, src, store, Options{Backfill: bf})

	res, err := d.Handle(context.Background(), bus.Event{WorkspaceID: 41347, Type: bus.EventCloneWorkspace})
	require.NoError(t, err)
	assert.Equal(t, report.Success, res.Outcome)
	assert.Equal(t, []string{"41347:5:1"}, store.Keys(graph.CollObjectVersion))
}

func TestHandle_CloneWithoutBackfillNotImplemented(t *testing.T) {
	d := newDispatcher(t, newSource(), graphstore.NewMemoryStore(), Options{})
	_, err := d.Handle(context.Background(), bus.Event{WorkspaceID: 41347, Type: bus.EventImportWorkspace})
	assert.True(t, report.IsNotImplemented(err))
}

func TestHandle_SetPermission(t *testing.T) {
	src := newSource()
	src.SetPermissions(41347, map[string]string{"someuser": "a", "friend": "w"})
	store := graphstore.NewMemoryStore()
	d := newDispatcher(t, src, store, Options{})

	_, err := d.HandleMessage(context.Background(), []byte(`{"wsid": 41347, "evtype": "SET_PERMISSION", "perm": "w", "permusers": ["friend"]}`))
	require.NoError(t, err)
	assert.Len(t, store.Keys(graph.CollWsPerm), 2)
	assert.Equal(t, []string{"friend", "someuser"}, store.Keys(graph.CollUser))
}

// brokenStore fails every write.
type brokenStore struct {
	*graphstore.MemoryStore
}

func (brokenStore) Upsert(ctx context.Context, collection string, docs []graphstore.Document) (graphstore.Result, error) {
	return graphstore.Result{}, errors.New("status=500")
}

func TestHandle_FlushFailureIsPartial(t *testing.T) {
	d := newDispatcher(t, newSource(), brokenStore{graphstore.NewMemoryStore()}, Options{})

	res, err := d.Handle(context.Background(), bus.Event{WorkspaceID: 41347, ObjectID: 5, Version: 1, Type: bus.EventNewVersion})
	require.NoError(t, err)
	assert.Equal(t, report.Partial, res.Outcome)
	require.NotEmpty(t, res.Errors)
	for _, e := range res.Errors {
		assert.Equal(t, report.KindPartialBatch, e.Kind)
		assert.Equal(t, int64(41347), e.ContainerID)
	}
}

// flakyStore fails writes while down is set.
type flakyStore struct {
	*graphstore.MemoryStore
	down bool
}

func (f *flakyStore) Upsert(ctx context.Context, collection string, docs []graphstore.Document) (graphstore.Result, error) {
	if f.down {
		return graphstore.Result{}, errors.New("status=503")
	}
	return f.MemoryStore.Upsert(ctx, collection, docs)
}

func TestHandle_FailedFlushDoesNotMarkObjectStored(t *testing.T) {
	src := newSource()
	store := &flakyStore{MemoryStore: graphstore.NewMemoryStore(), down: true}
	d := newDispatcher(t, src, store, Options{})
	ctx := context.Background()

	res, err := d.Handle(ctx, bus.Event{WorkspaceID: 41347, ObjectID: 5, Version: 1, Type: bus.EventNewVersion})
	require.NoError(t, err)
	assert.Equal(t, report.Partial, res.Outcome)

	store.down = false
	res, err = d.Handle(ctx, bus.Event{WorkspaceID: 41347, ObjectID: 5, Version: 1, Type: bus.EventImportNonexistent})
	require.NoError(t, err)
	assert.False(t, res.Skipped, "a version the store never accepted must be imported")

	ok, err := store.Exists(ctx, graph.CollObjectVersion, "41347:5:1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Exists(ctx, graph.CollObject, "41347:5")
	require.NoError(t, err)
	assert.True(t, ok)
}
