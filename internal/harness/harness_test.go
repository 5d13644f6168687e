package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wsgraph/internal/graphstore"
	"github.com/roach88/wsgraph/internal/report"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "file name should match scenario name")

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario should pass: errors=%v", result.Errors)
			assert.Len(t, result.Trace, len(scenario.Steps))
		})
	}
}

func TestReadsNarrativeGolden(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/reads_narrative_backfill.yaml")
	require.NoError(t, err)

	_, err = RunWithGolden(t, scenario)
	require.NoError(t, err)
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/delete_is_sticky.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, string(first.Dump), string(second.Dump))
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectations
description: "Every expectation here is wrong"
workspace:
  containers:
    - { id: 7, owner: someuser, generate: 2 }
steps:
  - backfill: { containers: [7] }
    expect: { outcome: partial, objects: 5, errors: [PAGINATION] }
assertions:
  - type: document
    collection: wsfull_object
    key: "7:1"
    expect: { deleted: true }
  - type: no_document
    collection: wsfull_object
    key: "7:2"
  - type: document
    collection: wsfull_object
    key: "7:9"
  - type: collection_count
    collection: wsfull_object
    count: 3
  - type: edge
    collection: wsfull_ws_contains_obj
    from: wsfull_workspace/7
    to: wsfull_object/7:3
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, "outcome: expected partial, got success")
	assert.Contains(t, joined, "objects: expected 5, got 2")
	assert.Contains(t, joined, "error kinds: expected [PAGINATION], got []")
	assert.Contains(t, joined, `field "deleted" = true`)
	assert.Contains(t, joined, "document exists")
	assert.Contains(t, joined, "wsfull_object/7:9")
	assert.Contains(t, joined, "3 documents")
	assert.Contains(t, joined, "edge wsfull_ws_contains_obj/")
	assert.Len(t, result.Errors, 8)
}

func TestRun_FailureInjection(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: failures
description: "Injected source failures surface as classified errors"
sync:
  detail_batch_size: 1
workspace:
  containers:
    - { id: 1, owner: someuser, generate: 3 }
    - { id: 2, owner: someuser, generate: 1 }
  failures:
    - { op: details, ref: 1/2/1 }
    - { op: permissions, wsid: 2 }
    - { op: container_info, wsid: 3 }
steps:
  - backfill: { containers: [1] }
    expect: { outcome: partial, errors: [PARTIAL_BATCH], objects: 2 }
  - event: { wsid: 2, evtype: SET_PERMISSION }
    expect: { outcome: fatal, errors: [TRANSPORT] }
  - event: { wsid: 3, objid: 1, evtype: NEW_VERSION }
    expect: { outcome: fatal, errors: [TRANSPORT] }
assertions:
  - type: no_document
    collection: wsfull_object_version
    key: "1:2:1"
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors=%v", result.Errors)
	assert.Equal(t, []report.Kind{report.KindTransport}, result.Trace[1].Kinds)
}

func TestCheckStep(t *testing.T) {
	yes, three := true, 3
	trace := StepTrace{
		Outcome: report.Partial,
		Skipped: false,
		Objects: 3,
		Written: graphstore.Result{Created: 1},
		Kinds:   []report.Kind{report.KindPartialBatch},
	}

	assert.Empty(t, checkStep(trace, StepExpect{
		Outcome: "partial",
		Objects: &three,
		Errors:  []report.Kind{report.KindPartialBatch},
	}))

	errs := checkStep(trace, StepExpect{Outcome: "success", Skipped: &yes})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "outcome")
	assert.Contains(t, errs[1], "skipped")
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"int vs float", float64(5), 5, true},
		{"string", "a", "a", true},
		{"bool mismatch", true, false, false},
		{"list", []any{"x", float64(1)}, []any{"x", 1}, true},
		{"map", map[string]any{"k": float64(2)}, map[string]any{"k": 2}, true},
		{"type mismatch", "5", 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.actual, tt.expected))
		})
	}
}
