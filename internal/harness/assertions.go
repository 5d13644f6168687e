package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/wsgraph/internal/graphstore"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Target   string // collection/key the assertion looked at
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Target)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// Store is the part of a store assertions read.
type Store interface {
	graphstore.Reader
	Exists(ctx context.Context, collection, key string) (bool, error)
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(ctx context.Context, st Store, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertDocument:
			err = assertDocument(ctx, st, a.Type, a.Collection, a.Key, a.Expect)
		case AssertNoDocument:
			err = assertNoDocument(ctx, st, a)
		case AssertEdge:
			err = assertDocument(ctx, st, a.Type, a.Collection, edgeKey(a.Collection, a.From, a.To), a.Expect)
		case AssertCollectionCount:
			err = assertCount(ctx, st, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertDocument checks that the document exists and that its body
// contains every expected field.
func assertDocument(ctx context.Context, st Store, typ, collection, key string, expect map[string]any) error {
	target := collection + "/" + key
	doc, err := st.Get(ctx, collection, key)
	if errors.Is(err, graphstore.ErrNotFound) {
		return &AssertionError{Type: typ, Target: target, Expected: "document to exist", Actual: "not found"}
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", target, err)
	}
	if len(expect) == 0 {
		return nil
	}

	var body map[string]any
	if err := json.Unmarshal(doc.Data, &body); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}

	// Check each expected field (subset semantics - only check fields in Expect)
	for _, field := range sortedKeys(expect) {
		actual, exists := body[field]
		if !exists {
			return &AssertionError{
				Type:     typ,
				Target:   target,
				Expected: fmt.Sprintf("field %q to exist", field),
				Actual:   fmt.Sprintf("fields present: %v", sortedKeys(body)),
			}
		}
		if !valuesEqual(actual, expect[field]) {
			return &AssertionError{
				Type:     typ,
				Target:   target,
				Expected: fmt.Sprintf("field %q = %v (type %T)", field, expect[field], expect[field]),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", field, actual, actual),
			}
		}
	}
	return nil
}

func assertNoDocument(ctx context.Context, st Store, a Assertion) error {
	ok, err := st.Exists(ctx, a.Collection, a.Key)
	if err != nil {
		return fmt.Errorf("exists %s/%s: %w", a.Collection, a.Key, err)
	}
	if ok {
		return &AssertionError{
			Type:     a.Type,
			Target:   a.Collection + "/" + a.Key,
			Expected: "no document",
			Actual:   "document exists",
		}
	}
	return nil
}

func assertCount(ctx context.Context, st Store, a Assertion) error {
	n, err := st.Count(ctx, a.Collection)
	if err != nil {
		return fmt.Errorf("count %s: %w", a.Collection, err)
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Target:   a.Collection,
			Expected: fmt.Sprintf("%d documents", *a.Count),
			Actual:   fmt.Sprintf("%d documents", n),
		}
	}
	return nil
}

// valuesEqual compares a decoded JSON value with a YAML-decoded expected
// value. The expected value goes through JSON first so numbers, maps and
// lists have the same Go types on both sides.
func valuesEqual(actual, expected any) bool {
	raw, err := json.Marshal(expected)
	if err != nil {
		return false
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return false
	}
	return reflect.DeepEqual(actual, normalized)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
