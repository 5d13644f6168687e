package bus

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// ErrMalformed marks an event that fails schema validation. Redelivering it
// would fail the same way.
var ErrMalformed = errors.New("malformed event")

// SchemaError describes why an event was rejected.
type SchemaError struct {
	Path    string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%v: %s: %s", ErrMalformed, e.Path, e.Message)
	}
	return fmt.Sprintf("%v: %s", ErrMalformed, e.Message)
}

// Is reports ErrMalformed as the error's category.
func (e *SchemaError) Is(target error) bool {
	return target == ErrMalformed
}

// Schema validates raw events against the #ChangeEvent definition.
//
// Thread-safety: Decode serializes access to the underlying CUE context.
type Schema struct {
	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

// NewSchema compiles the embedded event schema.
func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#ChangeEvent"))
	if !def.Exists() {
		return nil, errors.New("compile event schema: #ChangeEvent not defined")
	}
	return &Schema{ctx: ctx, def: def}, nil
}

// MustSchema is NewSchema for package-level initialization.
func MustSchema() *Schema {
	s, err := NewSchema()
	if err != nil {
		panic(err)
	}
	return s
}

// Decode validates raw and decodes it into an Event. Validation failures
// are *SchemaError values matching ErrMalformed.
func (s *Schema) Decode(raw []byte) (Event, error) {
	if err := s.validate(raw); err != nil {
		return Event{}, err
	}
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, &SchemaError{Message: err.Error()}
	}
	return evt, nil
}

func (s *Schema) validate(raw []byte) error {
	if !json.Valid(raw) {
		return &SchemaError{Message: "not valid JSON"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.ctx.CompileBytes(raw, cue.Filename("event.json"))
	if err := v.Err(); err != nil {
		return schemaError(err)
	}
	if err := s.def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return schemaError(err)
	}
	return nil
}

// schemaError keeps the first CUE error and the path it points at.
func schemaError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &SchemaError{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	return &SchemaError{
		Path:    strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
	}
}
