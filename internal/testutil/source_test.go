package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wsgraph/internal/wsapi"
)

func TestFakeSource_ListHonorsCursorAndLimit(t *testing.T) {
	src := NewFakeSource()
	src.AddObjects(7, 5)

	page, err := src.ListObjects(context.Background(), wsapi.ListObjectsParams{WorkspaceID: 7, MinObjectID: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].ObjectID)
	assert.Equal(t, int64(3), page[1].ObjectID)
	assert.Equal(t, 1, src.ListCalls(7))
}

func TestFakeSource_DeletedFiltering(t *testing.T) {
	src := NewFakeSource()
	src.AddObjects(7, 3)
	src.MarkDeleted(7, 2)
	ctx := context.Background()

	live, err := src.ListObjects(ctx, wsapi.ListObjectsParams{WorkspaceID: 7, MinObjectID: 1})
	require.NoError(t, err)
	assert.Len(t, live, 2)

	dead, err := src.ListObjects(ctx, wsapi.ListObjectsParams{WorkspaceID: 7, MinObjectID: 1, ShowOnlyDeleted: true})
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, int64(2), dead[0].ObjectID)
}

func TestFakeSource_LatestVersionRef(t *testing.T) {
	src := NewFakeSource()
	src.AddObject(wsapi.ObjectInfo{WorkspaceID: 1, ObjectID: 4, Version: 1})
	src.AddObject(wsapi.ObjectInfo{WorkspaceID: 1, ObjectID: 4, Version: 3})

	got, err := src.GetObjectDetails(context.Background(), []string{"1/4"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].Info.Version)
}

func TestFakeSource_MissingObjectIsNotFound(t *testing.T) {
	src := NewFakeSource()
	_, err := src.GetObjectDetails(context.Background(), []string{"1/1/1"})
	assert.ErrorIs(t, err, wsapi.ErrNotFound)

	_, err = src.GetContainerInfo(context.Background(), 9)
	assert.ErrorIs(t, err, wsapi.ErrNotFound)
}

func TestFakeSource_InjectedFailures(t *testing.T) {
	src := NewFakeSource()
	src.AddObjects(3, 2)
	boom := errors.New("boom")
	src.FailList(3, boom)
	src.FailDetails(Ref(3, 2, 1), boom)

	_, err := src.ListObjects(context.Background(), wsapi.ListObjectsParams{WorkspaceID: 3})
	assert.ErrorIs(t, err, boom)
	_, err = src.GetObjectDetails(context.Background(), []string{Ref(3, 1, 1), Ref(3, 2, 1)})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, src.TotalCalls())
}
