package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Valid(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/partial_range_backfill.yaml")
	require.NoError(t, err)

	assert.Equal(t, "partial_range_backfill", scenario.Name)
	assert.Equal(t, 2, scenario.Sync.PageSize)
	require.Len(t, scenario.Workspace.Containers, 3)
	assert.Equal(t, 4, scenario.Workspace.Containers[0].Generate)
	require.Len(t, scenario.Workspace.Failures, 1)
	assert.Equal(t, FailList, scenario.Workspace.Failures[0].Op)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, "backfill", scenario.Steps[0].Kind())
	assert.Equal(t, "event", scenario.Steps[1].Kind())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_FromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: one_raw
description: "raw step"
steps:
  - raw: "{}"
    expect: { outcome: fatal }
`), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "raw", scenario.Steps[0].Kind())
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nsteps: [{raw: x}]\nassertion: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "description: d\nsteps: [{raw: x}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\nsteps: [{raw: x}]\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: x\ndescription: d\n",
			want: "steps list is required",
		},
		{
			name: "two kinds in one step",
			yaml: "name: x\ndescription: d\nsteps: [{raw: x, backfill: {containers: [1]}}]\n",
			want: "exactly one of backfill, event and raw",
		},
		{
			name: "bad outcome",
			yaml: "name: x\ndescription: d\nsteps: [{raw: x, expect: {outcome: ok}}]\n",
			want: "outcome must be one of",
		},
		{
			name: "bad container id",
			yaml: "name: x\ndescription: d\nworkspace: {containers: [{id: 0}]}\nsteps: [{raw: x}]\n",
			want: "id must be positive",
		},
		{
			name: "unknown failure op",
			yaml: "name: x\ndescription: d\nworkspace: {failures: [{op: explode}]}\nsteps: [{raw: x}]\n",
			want: `unknown op "explode"`,
		},
		{
			name: "details failure without ref",
			yaml: "name: x\ndescription: d\nworkspace: {failures: [{op: details}]}\nsteps: [{raw: x}]\n",
			want: "ref is required",
		},
		{
			name: "list failure without wsid",
			yaml: "name: x\ndescription: d\nworkspace: {failures: [{op: list}]}\nsteps: [{raw: x}]\n",
			want: "wsid is required",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: d\nsteps: [{raw: x}]\nassertions: [{type: trace_order, collection: c}]\n",
			want: `unknown assertion type "trace_order"`,
		},
		{
			name: "edge without endpoints",
			yaml: "name: x\ndescription: d\nsteps: [{raw: x}]\nassertions: [{type: edge, collection: c, from: a}]\n",
			want: "from and to are required",
		},
		{
			name: "count without count",
			yaml: "name: x\ndescription: d\nsteps: [{raw: x}]\nassertions: [{type: collection_count, collection: c}]\n",
			want: "non-negative count",
		},
		{
			name: "document without key",
			yaml: "name: x\ndescription: d\nsteps: [{raw: x}]\nassertions: [{type: document, collection: c}]\n",
			want: "key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
