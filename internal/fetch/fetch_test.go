package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wsgraph/internal/testutil"
	"github.com/roach88/wsgraph/internal/wsapi"
)

func container(t *testing.T, src *testutil.FakeSource, wsid int64) wsapi.ContainerInfo {
	t.Helper()
	info, err := src.GetContainerInfo(context.Background(), wsid)
	if errors.Is(err, wsapi.ErrNotFound) {
		return wsapi.ContainerInfo{ID: wsid}
	}
	require.NoError(t, err)
	return info
}

func TestObjects_RequestCountIsCeilOfNOverP(t *testing.T) {
	const pageSize = 4
	cases := []struct {
		n        int
		requests int
	}{
		{n: 0, requests: 0},
		{n: 1, requests: 1},
		{n: pageSize - 1, requests: 1},
		{n: pageSize, requests: 1},
		{n: pageSize + 1, requests: 2},
		{n: 2 * pageSize, requests: 2},
		{n: 2*pageSize + 3, requests: 3},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("n=%d", tc.n), func(t *testing.T) {
			src := testutil.NewFakeSource()
			src.AddObjects(10, tc.n)
			f := New(src, Options{PageSize: pageSize})

			var got []int64
			for info, err := range f.Objects(context.Background(), container(t, src, 10), Filter{}) {
				require.NoError(t, err)
				got = append(got, info.ObjectID)
			}

			assert.Len(t, got, tc.n)
			assert.Equal(t, tc.requests, src.ListCalls(10))
			for i, id := range got {
				assert.Equal(t, int64(i+1), id, "objects arrive in id order without repeats")
			}
		})
	}
}

func TestObjects_OnlyDeleted(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddObjects(3, 6)
	src.MarkDeleted(3, 2)
	src.MarkDeleted(3, 5)
	f := New(src, Options{PageSize: 10})

	var got []int64
	for info, err := range f.Objects(context.Background(), container(t, src, 3), Filter{OnlyDeleted: true}) {
		require.NoError(t, err)
		got = append(got, info.ObjectID)
	}
	assert.Equal(t, []int64{2, 5}, got)
}

func TestObjects_FailedPageYieldsOneError(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddObjects(8, 3)
	boom := errors.New("connection reset")
	src.FailList(8, boom)
	f := New(src, Options{PageSize: 2})

	var errs []error
	for _, err := range f.Objects(context.Background(), container(t, src, 8), Filter{}) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	require.Len(t, errs, 1)
	var pe *PageError
	require.ErrorAs(t, errs[0], &pe)
	assert.Equal(t, int64(8), pe.WorkspaceID)
	assert.Equal(t, int64(1), pe.MinObjectID)
	assert.ErrorIs(t, errs[0], boom)
	assert.Equal(t, 1, src.ListCalls(8))
}

func TestObjects_CancelledContext(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddObjects(8, 3)
	f := New(src, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range f.Objects(ctx, container(t, src, 8), Filter{}) {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, 0, src.ListCalls(8))
}

func TestObjects_StopsWhenConsumerBreaks(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddObjects(8, 10)
	f := New(src, Options{PageSize: 2})

	seen := 0
	for range f.Objects(context.Background(), container(t, src, 8), Filter{}) {
		seen++
		if seen == 3 {
			break
		}
	}
	assert.Equal(t, 2, src.ListCalls(8))
}

func TestNew_ClampsToWorkspaceLimits(t *testing.T) {
	f := New(testutil.NewFakeSource(), Options{PageSize: 50000, BatchSize: -1})
	assert.Equal(t, MaxPageSize, f.PageSize())
	assert.Equal(t, MaxDetailBatch, f.BatchSize())
}

func TestChunk(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddObjects(2, 7)
	f := New(src, Options{PageSize: 3})

	var sizes []int
	for chunk, err := range Chunk(f.Objects(context.Background(), container(t, src, 2), Filter{}), 3) {
		require.NoError(t, err)
		sizes = append(sizes, len(chunk))
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
}

func TestChunk_ErrorAfterPartialChunk(t *testing.T) {
	boom := errors.New("boom")
	seq := func(yield func(wsapi.ObjectInfo, error) bool) {
		if !yield(wsapi.ObjectInfo{ObjectID: 1}, nil) {
			return
		}
		yield(wsapi.ObjectInfo{}, boom)
	}

	var chunks [][]wsapi.ObjectInfo
	var errs []error
	for chunk, err := range Chunk(seq, 5) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 1)
	assert.Equal(t, []error{boom}, errs)
}

func TestDetails_BatchesAndIsolatesFailures(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddObjects(5, 5)
	src.FailDetails(testutil.Ref(5, 3, 1), errors.New("boom"))
	f := New(src, Options{BatchSize: 2})

	infos, err := src.ListObjects(context.Background(), wsapi.ListObjectsParams{WorkspaceID: 5})
	require.NoError(t, err)

	var ok, failed int
	for batch := range f.Details(context.Background(), infos) {
		if batch.Err != nil {
			failed++
			assert.Equal(t, []string{"5/3/1", "5/4/1"}, batch.Refs)
			continue
		}
		ok += len(batch.Details)
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 3, ok)
	assert.Equal(t, 3, src.DetailCalls())
}
