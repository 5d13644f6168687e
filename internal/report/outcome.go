package report

import "fmt"

// Outcome is the overall result of a bounded operation.
type Outcome int

const (
	// Success means every stage completed without a recorded error.
	Success Outcome = iota
	// Partial means the run finished but some batches or records failed.
	Partial
	// Fatal means the run could not do any useful work.
	Fatal
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Partial:
		return "partial"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText renders the outcome name in JSON and YAML output.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// OutcomeOf classifies a run from its recorded errors. A non-nil fatal error
// always wins.
func OutcomeOf(errs []*SyncError, fatal error) Outcome {
	if fatal != nil {
		return Fatal
	}
	if len(errs) > 0 {
		return Partial
	}
	return Success
}

// CountByKind tallies recorded errors per kind.
func CountByKind(errs []*SyncError) map[Kind]int {
	out := make(map[Kind]int, len(errs))
	for _, e := range errs {
		out[e.Kind]++
	}
	return out
}
