package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://workspace:5000", cfg.Workspace.URL)
	assert.Equal(t, 2*time.Minute, cfg.Workspace.Timeout)
	assert.Equal(t, 3, cfg.Workspace.MaxRetries)
	assert.Equal(t, "sqlite://wsgraph.db", cfg.Store.DSN)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Bus.Brokers)
	assert.Equal(t, "re_sync", cfg.Bus.Group)
	assert.Equal(t, []string{"workspaceevents", "re_admin_events"}, cfg.Bus.Topics())
	assert.Equal(t, 10000, cfg.Sync.PageSize)
	assert.Equal(t, 1000, cfg.Sync.DetailBatchSize)
	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.NoError(t, cfg.Validate())
	assert.NoError(t, cfg.ValidateBus())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workspace:
  url: https://ci.kbase.us/services/ws/
  timeout: 30s
store:
  dsn: postgres://localhost/graph
sync:
  page_size: 500
  workers: 2
bus:
  brokers: [a:9092, b:9092]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://ci.kbase.us/services/ws", cfg.Workspace.URL)
	assert.Equal(t, 30*time.Second, cfg.Workspace.Timeout)
	assert.Equal(t, "postgres://localhost/graph", cfg.Store.DSN)
	assert.Equal(t, 500, cfg.Sync.PageSize)
	assert.Equal(t, 2, cfg.Sync.Workers)
	assert.Equal(t, 1000, cfg.Sync.DetailBatchSize)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Bus.Brokers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WSGRAPH_WORKSPACE_URL", "http://ws.example")
	t.Setenv("WSGRAPH_SYNC_WORKERS", "3")
	t.Setenv("WSGRAPH_SYNC_BULK_IMPORT", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://ws.example", cfg.Workspace.URL)
	assert.Equal(t, 3, cfg.Sync.Workers)
	assert.True(t, cfg.Sync.BulkImport)
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	t.Setenv("WS_URL", "http://legacy-ws")
	t.Setenv("RE_URL", "http://re_api:5000")
	t.Setenv("WS_TOKEN", "secret")
	t.Setenv("KAFKA_SERVER", "k1:9092,k2:9092")
	t.Setenv("KAFKA_CLIENTGROUP", "other_group")
	t.Setenv("NUM_CONSUMERS", "4")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://legacy-ws", cfg.Workspace.URL)
	assert.Equal(t, "http://re_api:5000", cfg.Store.DSN)
	assert.Equal(t, "secret", cfg.Workspace.Token)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Bus.Brokers)
	assert.Equal(t, "other_group", cfg.Bus.Group)
	assert.Equal(t, 4, cfg.Sync.Workers)
}

func TestLoad_PrefixedNameWinsOverLegacy(t *testing.T) {
	t.Setenv("WS_URL", "http://legacy")
	t.Setenv("WSGRAPH_WORKSPACE_URL", "http://current")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://current", cfg.Workspace.URL)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Workspace.URL = ""
	cfg.Sync.PageSize = 20000
	cfg.Sync.DetailBatchSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace.url")
	assert.Contains(t, err.Error(), "sync.page_size")
	assert.Contains(t, err.Error(), "sync.detail_batch_size")
}

func TestValidateBus(t *testing.T) {
	cfg := Default()
	cfg.Bus.Brokers = nil
	cfg.Bus.WorkspaceTopic = ""
	cfg.Bus.AdminTopic = ""
	err := cfg.ValidateBus()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus.brokers")
	assert.Contains(t, err.Error(), "topic")
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Workspace.Token = "ws-secret"
	cfg.Store.Token = "re-secret"

	r := cfg.Redacted()
	assert.Equal(t, "REDACTED", r.Workspace.Token)
	assert.Equal(t, "REDACTED", r.Store.Token)
	assert.Equal(t, "ws-secret", cfg.Workspace.Token)
}
