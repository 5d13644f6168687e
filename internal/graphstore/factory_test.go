package graphstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory://", Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	path := filepath.Join(t.TempDir(), "g.db")
	s, err = Open(ctx, "sqlite://"+path, Options{})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, "http://re_api:5000", Options{Token: "t"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPStore{}, s)
}

func TestOpenRejectsUnknownSchemes(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, "", Options{})
	assert.Error(t, err)

	_, err = Open(ctx, "arangodb://localhost:8529", Options{})
	assert.True(t, errors.Is(err, ErrNotImplemented))

	_, err = Open(ctx, "redis://localhost", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestWaitReady(t *testing.T) {
	attempts := 0
	flaky := PingFunc(func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	err := WaitReady(context.Background(), nil, time.Millisecond, map[string]Pinger{
		"store":     NewMemoryStore(),
		"workspace": flaky,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWaitReadyTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	down := PingFunc(func(ctx context.Context) error { return errors.New("down") })
	err := WaitReady(ctx, nil, time.Millisecond, map[string]Pinger{"workspace": down})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait for workspace")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
