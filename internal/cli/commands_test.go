package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wsgraph/internal/bus"
	"github.com/roach88/wsgraph/internal/config"
	"github.com/roach88/wsgraph/internal/graph"
	"github.com/roach88/wsgraph/internal/graphstore"
	"github.com/roach88/wsgraph/internal/testutil"
)

// testCommand returns a bare command writing to buf, for calling run
// functions directly.
func testCommand(ctx context.Context, buf *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(ctx)
	return cmd
}

// sqliteDSN points the store config at a fresh database.
func sqliteDSN(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.db")
	t.Setenv("WSGRAPH_STORE_DSN", "sqlite://"+path)
	return path
}

func decodeResponse(t *testing.T, buf *bytes.Buffer) (CLIResponse, map[string]any) {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), buf.String())
	data, _ := resp.Data.(map[string]any)
	return resp, data
}

func TestBackfill_ContainersIntoSQLite(t *testing.T) {
	path := sqliteDSN(t)
	src := testutil.NewFakeSource()
	src.AddObjects(10, 3)
	src.AddObjects(11, 2)
	src.MarkDeleted(11, 2)

	opts := &BackfillOptions{
		RootOptions: &RootOptions{Format: "json", Source: src},
		Containers:  []int64{10, 11},
		RunIDs:      testutil.NewFixedRunID("run-1"),
	}

	buf := &bytes.Buffer{}
	require.NoError(t, runBackfill(opts, testCommand(context.Background(), buf)))

	resp, data := decodeResponse(t, buf)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "success", data["outcome"])
	assert.EqualValues(t, 4, data["objects"])
	assert.EqualValues(t, 1, data["deleted"])

	store, err := graphstore.OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()
	n, err := store.Count(context.Background(), graph.CollObjectVersion)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// A second run writes nothing new.
	buf.Reset()
	require.NoError(t, runBackfill(opts, testCommand(context.Background(), buf)))
	_, data = decodeResponse(t, buf)
	written := data["written"].(map[string]any)
	assert.EqualValues(t, 0, written["created"])
	assert.EqualValues(t, 0, written["updated"])
}

func TestBackfill_PartialFailureExitsOne(t *testing.T) {
	sqliteDSN(t)
	src := testutil.NewFakeSource()
	src.AddObjects(10, 2)
	src.AddObjects(11, 2)
	src.FailList(11, errors.New("connection reset"))

	opts := &BackfillOptions{
		RootOptions: &RootOptions{Format: "text", Source: src},
		Start:       10,
		Stop:        11,
	}

	buf := &bytes.Buffer{}
	err := runBackfill(opts, testCommand(context.Background(), buf))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "partial")
	assert.Contains(t, buf.String(), "PAGINATION")
	assert.Contains(t, buf.String(), "container 11: partial")
}

func TestBackfill_FlagErrors(t *testing.T) {
	tests := []struct {
		name        string
		start, stop int64
		want        string
	}{
		{"start without stop", 5, 0, "given together"},
		{"inverted range", 9, 3, "is after"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &BackfillOptions{
				RootOptions: &RootOptions{Format: "text", Source: testutil.NewFakeSource()},
				Start:       tt.start,
				Stop:        tt.stop,
			}
			err := runBackfill(opts, testCommand(context.Background(), &bytes.Buffer{}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestBackfill_EmptyRequestIsCommandError(t *testing.T) {
	t.Setenv("WSGRAPH_STORE_DSN", "memory://")
	opts := &BackfillOptions{RootOptions: &RootOptions{Format: "text", Source: testutil.NewFakeSource()}}

	err := runBackfill(opts, testCommand(context.Background(), &bytes.Buffer{}))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSyncObject_LatestVersion(t *testing.T) {
	path := sqliteDSN(t)
	src := testutil.NewFakeSource()
	src.AddObjects(10, 2)

	opts := &SyncObjectOptions{
		RootOptions: &RootOptions{Format: "json", Source: src},
		EventType:   string(bus.EventNewVersion),
	}
	buf := &bytes.Buffer{}
	require.NoError(t, runSyncObject(opts, "10/2", testCommand(context.Background(), buf)))

	_, data := decodeResponse(t, buf)
	assert.Equal(t, "success", data["outcome"])
	assert.EqualValues(t, 2, data["object_id"])

	store, err := graphstore.OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.Get(context.Background(), graph.CollObjectVersion, "10:2:1")
	assert.NoError(t, err)
}

func TestSyncObject_BadReference(t *testing.T) {
	for _, ref := range []string{"10", "10/x", "10/2/1/4", "0/1", "10/-2"} {
		t.Run(ref, func(t *testing.T) {
			opts := &SyncObjectOptions{
				RootOptions: &RootOptions{Format: "text", Source: testutil.NewFakeSource()},
				EventType:   string(bus.EventNewVersion),
			}
			buf := &bytes.Buffer{}
			err := runSyncObject(opts, ref, testCommand(context.Background(), buf))
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, buf.String(), "Error [E004]")
		})
	}
}

func TestParseObjectRef(t *testing.T) {
	evt, err := parseObjectRef("41347/5/3")
	require.NoError(t, err)
	assert.Equal(t, bus.Event{WorkspaceID: 41347, ObjectID: 5, Version: 3}, evt)

	evt, err = parseObjectRef("41347/5")
	require.NoError(t, err)
	assert.Zero(t, evt.Version)
}

func TestStatus(t *testing.T) {
	t.Setenv("WSGRAPH_STORE_DSN", "memory://")

	t.Run("all reachable", func(t *testing.T) {
		opts := &StatusOptions{
			RootOptions: &RootOptions{Format: "json", Source: testutil.NewFakeSource()},
			Timeout:     time.Second,
		}
		buf := &bytes.Buffer{}
		require.NoError(t, runStatus(opts, testCommand(context.Background(), buf)))

		_, data := decodeResponse(t, buf)
		assert.Equal(t, "memory", data["store"])
		assert.Len(t, data["checks"], 2)
	})

	t.Run("workspace down", func(t *testing.T) {
		src := testutil.NewFakeSource()
		src.FailPing(errors.New("connection refused"))
		opts := &StatusOptions{
			RootOptions: &RootOptions{Format: "text", Verbose: true, Source: src},
			Timeout:     time.Second,
		}
		buf := &bytes.Buffer{}
		err := runStatus(opts, testCommand(context.Background(), buf))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, buf.String(), "1 of 2 services unreachable")
		assert.Contains(t, buf.String(), "FAIL connection refused")
	})
}

func TestConfigShow_RedactsTokens(t *testing.T) {
	t.Setenv("WSGRAPH_WORKSPACE_TOKEN", "very-secret")
	t.Setenv("WSGRAPH_SYNC_WORKERS", "3")

	for _, format := range []string{"text", "json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			root := NewRootCommand()
			buf := &bytes.Buffer{}
			root.SetOut(buf)
			root.SetErr(&bytes.Buffer{})
			root.SetArgs([]string{"--format", format, "config", "show"})

			require.NoError(t, root.Execute())
			assert.NotContains(t, buf.String(), "very-secret")
			assert.Contains(t, buf.String(), "REDACTED")
			assert.Contains(t, buf.String(), "3")
		})
	}
}

func TestConfigShow_InvalidConfig(t *testing.T) {
	t.Setenv("WSGRAPH_SYNC_PAGE_SIZE", "20000")

	root := NewRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"config", "show"})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "sync.page_size")
}

func TestConsume_CommitsEveryEvent(t *testing.T) {
	sqliteDSN(t)
	t.Setenv("WSGRAPH_SYNC_WORKERS", "1")
	t.Setenv("WSGRAPH_HTTP_ADDR", "127.0.0.1:0")

	src := testutil.NewFakeSource()
	src.AddObjects(10, 1)

	queue := bus.NewMemoryQueue("workspaceevents")
	queue.Publish(nil, []byte(`{"wsid":10,"objid":1,"ver":1,"evtype":"NEW_VERSION"}`))
	queue.Publish(nil, []byte(`not json`))
	queue.Publish(nil, []byte(`{"wsid":10,"evtype":"WORKSPACE_DELETE_STATE_CHANGE"}`))

	subscribed := 0
	opts := &ConsumeOptions{
		RootOptions: &RootOptions{Format: "text", Source: src},
		Subscribe: func(cfg *config.Config, worker int) (bus.Subscriber, error) {
			subscribed++
			return queue, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runConsume(opts, testCommand(ctx, &bytes.Buffer{})) }()

	require.Eventually(t, func() bool { return len(queue.Committed()) == 3 },
		5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not stop")
	}
	assert.Equal(t, 1, subscribed)
}

func TestConsume_RequiresBusConfig(t *testing.T) {
	t.Setenv("WSGRAPH_STORE_DSN", "memory://")
	cfgPath := filepath.Join(t.TempDir(), "wsgraph.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("bus:\n  workspace_topic: \"\"\n  admin_topic: \"\"\n"), 0o644))

	opts := &ConsumeOptions{RootOptions: &RootOptions{
		ConfigPath: cfgPath,
		Format:     "text",
		Source:     testutil.NewFakeSource(),
	}}
	err := runConsume(opts, testCommand(context.Background(), &bytes.Buffer{}))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid bus config")
}
