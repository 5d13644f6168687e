package harness

import (
	"github.com/roach88/wsgraph/internal/graphstore"
	"github.com/roach88/wsgraph/internal/report"
)

// StepTrace records what one step did.
type StepTrace struct {
	Index   int               `json:"index"`
	Kind    string            `json:"kind"`
	Outcome report.Outcome    `json:"outcome"`
	Skipped bool              `json:"skipped,omitempty"`
	Objects int               `json:"objects,omitempty"`
	Deleted int               `json:"deleted,omitempty"`
	Written graphstore.Result `json:"written"`
	Errors  []string          `json:"errors,omitempty"`
	Kinds   []report.Kind     `json:"-"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per step, in order.
	Trace []StepTrace `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Dump is the final store contents, one sorted line per document.
	Dump []byte `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (t *StepTrace) addErrors(errs []*report.SyncError) {
	for _, e := range errs {
		t.Errors = append(t.Errors, e.Error())
		t.Kinds = append(t.Kinds, e.Kind)
	}
}
