package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/wsgraph/internal/report"
)

// Scenario defines a sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is the fixed backfill run id. Defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Sync overrides batch sizes. Zero values take the component defaults.
	Sync SyncSettings `yaml:"sync,omitempty"`

	// Workspace is the source state the steps read.
	Workspace Workspace `yaml:"workspace"`

	// Steps run in order against one store.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final store contents.
	Assertions []Assertion `yaml:"assertions"`
}

// SyncSettings mirrors the sizing part of the sync configuration.
type SyncSettings struct {
	PageSize        int  `yaml:"page_size,omitempty"`
	DetailBatchSize int  `yaml:"detail_batch_size,omitempty"`
	FlushThreshold  int  `yaml:"flush_threshold,omitempty"`
	BulkImport      bool `yaml:"bulk_import,omitempty"`
}

// Workspace describes the fake source.
type Workspace struct {
	Containers []ContainerFixture `yaml:"containers"`
	Failures   []Failure          `yaml:"failures,omitempty"`
}

// ContainerFixture is one workspace and its objects.
type ContainerFixture struct {
	ID            int64             `yaml:"id"`
	Name          string            `yaml:"name,omitempty"`
	Owner         string            `yaml:"owner,omitempty"`
	ModDate       string            `yaml:"mod_date,omitempty"`
	MaxObjectID   int64             `yaml:"max_object_id,omitempty"`
	LockStatus    string            `yaml:"lock_status,omitempty"`
	NarrativeName string            `yaml:"narrative_name,omitempty"`
	Public        bool              `yaml:"public,omitempty"`
	Permissions   map[string]string `yaml:"permissions,omitempty"`

	// Generate adds objects 1..n with one version each before Objects.
	Generate int `yaml:"generate,omitempty"`

	Objects []ObjectFixture `yaml:"objects,omitempty"`
}

// ObjectFixture is one object version with its provenance.
type ObjectFixture struct {
	ID         int64               `yaml:"id"`
	Version    int64               `yaml:"version,omitempty"`
	Name       string              `yaml:"name,omitempty"`
	Type       string              `yaml:"type,omitempty"`
	SaveDate   string              `yaml:"save_date,omitempty"`
	SavedBy    string              `yaml:"saved_by,omitempty"`
	Checksum   string              `yaml:"checksum,omitempty"`
	Size       int64               `yaml:"size,omitempty"`
	Copied     string              `yaml:"copied,omitempty"`
	Refs       []string            `yaml:"refs,omitempty"`
	Provenance []ProvenanceFixture `yaml:"provenance,omitempty"`
	Deleted    bool                `yaml:"deleted,omitempty"`
}

// ProvenanceFixture is one provenance action.
type ProvenanceFixture struct {
	Service    string         `yaml:"service,omitempty"`
	ServiceVer string         `yaml:"service_ver,omitempty"`
	Method     string         `yaml:"method,omitempty"`
	Commit     string         `yaml:"commit,omitempty"`
	Params     map[string]any `yaml:"params,omitempty"`
	Inputs     []string       `yaml:"input_ws_objects,omitempty"`
}

// Failure injects a source error.
type Failure struct {
	// Op is one of container_info, list, permissions, details, ping.
	Op string `yaml:"op"`

	// WorkspaceID selects the container for container_info, list and
	// permissions.
	WorkspaceID int64 `yaml:"wsid,omitempty"`

	// Ref selects the object reference for details.
	Ref string `yaml:"ref,omitempty"`

	Message string `yaml:"message,omitempty"`
}

// Failure operations.
const (
	FailContainerInfo = "container_info"
	FailList          = "list"
	FailPermissions   = "permissions"
	FailDetails       = "details"
	FailPing          = "ping"
)

// Step is one backfill, decoded event or raw message. Exactly one of
// Backfill, Event and Raw is set.
type Step struct {
	Backfill *BackfillStep `yaml:"backfill,omitempty"`

	// Event is encoded to JSON and handled as a bus message.
	Event map[string]any `yaml:"event,omitempty"`

	// Raw is handled as a bus message verbatim.
	Raw string `yaml:"raw,omitempty"`

	// Expect validates the step's outcome. If nil, nothing is checked.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// Kind names which field of the step is set.
func (s Step) Kind() string {
	switch {
	case s.Backfill != nil:
		return "backfill"
	case s.Event != nil:
		return "event"
	default:
		return "raw"
	}
}

// BackfillStep selects containers to backfill.
type BackfillStep struct {
	Containers []int64  `yaml:"containers,omitempty"`
	Owners     []string `yaml:"owners,omitempty"`
	Start      int64    `yaml:"start,omitempty"`
	Stop       int64    `yaml:"stop,omitempty"`
}

// StepExpect is checked against a step's result. Nil fields are not
// checked.
type StepExpect struct {
	// Outcome is success, partial or fatal.
	Outcome string `yaml:"outcome"`

	// Errors lists the expected error kinds in order.
	Errors []report.Kind `yaml:"errors,omitempty"`

	Skipped *bool `yaml:"skipped,omitempty"`
	Objects *int  `yaml:"objects,omitempty"`
	Deleted *int  `yaml:"deleted,omitempty"`
	Created *int  `yaml:"created,omitempty"`
	Updated *int  `yaml:"updated,omitempty"`
	Ignored *int  `yaml:"ignored,omitempty"`
}

// Assertion validates final store state.
type Assertion struct {
	// Type is one of document, no_document, edge, collection_count.
	Type string `yaml:"type"`

	Collection string `yaml:"collection"`

	// Key selects the document (document, no_document).
	Key string `yaml:"key,omitempty"`

	// From and To select an edge by its endpoints (edge).
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`

	// Expect contains expected body fields (document, edge).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of documents (collection_count).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertDocument        = "document"
	AssertNoDocument      = "no_document"
	AssertEdge            = "edge"
	AssertCollectionCount = "collection_count"
)

var outcomes = []string{"success", "partial", "fatal"}

var failureOps = []string{FailContainerInfo, FailList, FailPermissions, FailDetails, FailPing}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields so a typo like "assertion:" fails loudly.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, c := range s.Workspace.Containers {
		if c.ID <= 0 {
			return fmt.Errorf("workspace.containers[%d]: id must be positive", i)
		}
		for j, o := range c.Objects {
			if o.ID <= 0 {
				return fmt.Errorf("workspace.containers[%d].objects[%d]: id must be positive", i, j)
			}
		}
	}
	for i, f := range s.Workspace.Failures {
		if !slices.Contains(failureOps, f.Op) {
			return fmt.Errorf("workspace.failures[%d]: unknown op %q", i, f.Op)
		}
		if f.Op == FailDetails && f.Ref == "" {
			return fmt.Errorf("workspace.failures[%d]: ref is required for details", i)
		}
		if f.Op != FailDetails && f.Op != FailPing && f.WorkspaceID <= 0 {
			return fmt.Errorf("workspace.failures[%d]: wsid is required for %s", i, f.Op)
		}
	}

	for i, step := range s.Steps {
		set := 0
		if step.Backfill != nil {
			set++
		}
		if step.Event != nil {
			set++
		}
		if step.Raw != "" {
			set++
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of backfill, event and raw is required", i)
		}
		if step.Expect != nil && !slices.Contains(outcomes, step.Expect.Outcome) {
			return fmt.Errorf("steps[%d].expect: outcome must be one of %v", i, outcomes)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Collection == "" {
		return fmt.Errorf("assertions[%d]: collection is required", index)
	}

	switch a.Type {
	case AssertDocument, AssertNoDocument:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for %s", index, a.Type)
		}
	case AssertEdge:
		if a.From == "" || a.To == "" {
			return fmt.Errorf("assertions[%d]: from and to are required for edge", index)
		}
	case AssertCollectionCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for collection_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
