package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/wsgraph/internal/backfill"
	"github.com/roach88/wsgraph/internal/bus"
	"github.com/roach88/wsgraph/internal/dispatch"
	"github.com/roach88/wsgraph/internal/graphstore"
	"github.com/roach88/wsgraph/internal/keys"
	"github.com/roach88/wsgraph/internal/report"
	"github.com/roach88/wsgraph/internal/testutil"
	"github.com/roach88/wsgraph/internal/wsapi"
)

// Harness executes one scenario against a fake workspace and an
// in-memory store.
type Harness struct {
	src        *testutil.FakeSource
	store      *graphstore.MemoryStore
	backfill   *backfill.Controller
	dispatcher *dispatch.Dispatcher
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh store. Steps run in order; a step
// that does not meet its expectation is recorded and the run continues,
// so one result lists every mismatch.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		trace, err := h.runStep(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		result.Trace = append(result.Trace, trace)
		if step.Expect != nil {
			for _, msg := range checkStep(trace, *step.Expect) {
				result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, trace.Kind, msg))
			}
		}
	}

	for _, msg := range EvaluateAssertions(ctx, h.store, scenario.Assertions) {
		result.AddError(msg)
	}
	result.Dump = h.store.Dump()
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	src, err := buildSource(scenario.Workspace)
	if err != nil {
		return nil, err
	}
	store := graphstore.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctrl := backfill.New(src, store, backfill.Options{
		PageSize:        scenario.Sync.PageSize,
		DetailBatchSize: scenario.Sync.DetailBatchSize,
		FlushThreshold:  scenario.Sync.FlushThreshold,
		BulkImport:      scenario.Sync.BulkImport,
		RunIDs:          testutil.NewFixedRunID(scenario.RunID),
		Logger:          logger,
	})
	schema, err := bus.NewSchema()
	if err != nil {
		return nil, err
	}
	d, err := dispatch.New(src, store, schema, dispatch.Options{
		FlushThreshold: scenario.Sync.FlushThreshold,
		BulkImport:     scenario.Sync.BulkImport,
		Backfill:       ctrl,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return &Harness{src: src, store: store, backfill: ctrl, dispatcher: d}, nil
}

// buildSource populates a fake workspace from the fixture.
func buildSource(ws Workspace) (*testutil.FakeSource, error) {
	src := testutil.NewFakeSource()
	for _, c := range ws.Containers {
		lock := c.LockStatus
		if lock == "" {
			lock = "unlocked"
		}
		src.AddContainer(wsapi.ContainerInfo{
			ID:            c.ID,
			Name:          c.Name,
			Owner:         c.Owner,
			ModDate:       c.ModDate,
			MaxObjectID:   c.MaxObjectID,
			IsPublic:      c.Public,
			LockStatus:    lock,
			NarrativeName: c.NarrativeName,
		})
		if c.Permissions != nil {
			src.SetPermissions(c.ID, c.Permissions)
		}
		if c.Generate > 0 {
			src.AddObjects(c.ID, c.Generate)
		}
		for _, o := range c.Objects {
			detail, err := o.detail(c)
			if err != nil {
				return nil, fmt.Errorf("container %d object %d: %w", c.ID, o.ID, err)
			}
			src.AddDetail(detail)
			if o.Deleted {
				src.MarkDeleted(c.ID, o.ID)
			}
		}
	}

	for _, f := range ws.Failures {
		msg := f.Message
		if msg == "" {
			msg = f.Op + " failed"
		}
		err := errors.New(msg)
		switch f.Op {
		case FailContainerInfo:
			src.FailContainerInfo(f.WorkspaceID, err)
		case FailList:
			src.FailList(f.WorkspaceID, err)
		case FailPermissions:
			src.FailPermissions(f.WorkspaceID, err)
		case FailDetails:
			src.FailDetails(f.Ref, err)
		case FailPing:
			src.FailPing(err)
		}
	}
	return src, nil
}

func (o ObjectFixture) detail(c ContainerFixture) (wsapi.ObjectDetail, error) {
	ver := o.Version
	if ver == 0 {
		ver = 1
	}
	savedBy := o.SavedBy
	if savedBy == "" {
		savedBy = c.Owner
	}
	d := wsapi.ObjectDetail{
		Info: wsapi.ObjectInfo{
			ObjectID:      o.ID,
			Name:          o.Name,
			Type:          o.Type,
			SaveDate:      o.SaveDate,
			Version:       ver,
			SavedBy:       savedBy,
			WorkspaceID:   c.ID,
			WorkspaceName: c.Name,
			Checksum:      o.Checksum,
			Size:          o.Size,
		},
		Copied: o.Copied,
		Refs:   o.Refs,
	}
	for _, p := range o.Provenance {
		action := wsapi.ProvenanceAction{
			Service:        p.Service,
			ServiceVer:     p.ServiceVer,
			Method:         p.Method,
			InputWSObjects: p.Inputs,
		}
		if p.Params != nil {
			raw, err := json.Marshal(p.Params)
			if err != nil {
				return wsapi.ObjectDetail{}, fmt.Errorf("method params: %w", err)
			}
			action.MethodParams = raw
		}
		if p.Commit != "" {
			action.Subactions = []wsapi.Subaction{{Name: p.Service, Commit: p.Commit}}
		}
		d.Provenance = append(d.Provenance, action)
	}
	return d, nil
}

// runStep executes one step. Sync failures are recorded on the trace; only
// harness problems are returned.
func (h *Harness) runStep(ctx context.Context, index int, step Step) (StepTrace, error) {
	trace := StepTrace{Index: index, Kind: step.Kind()}

	if step.Backfill != nil {
		sum, err := h.backfill.Run(ctx, backfill.Request{
			ContainerIDs: step.Backfill.Containers,
			Owners:       step.Backfill.Owners,
			StartID:      step.Backfill.Start,
			StopID:       step.Backfill.Stop,
		})
		if err != nil {
			return trace, err
		}
		trace.Outcome = sum.Outcome
		trace.Objects = sum.Objects
		trace.Deleted = sum.Deleted
		trace.Written = sum.Written
		trace.addErrors(sum.Errors)
		return trace, nil
	}

	raw := []byte(step.Raw)
	if step.Event != nil {
		var err error
		raw, err = json.Marshal(step.Event)
		if err != nil {
			return trace, fmt.Errorf("encode event: %w", err)
		}
	}
	res, err := h.dispatcher.HandleMessage(ctx, raw)
	trace.Outcome = res.Outcome
	trace.Skipped = res.Skipped
	trace.Written = res.Written
	trace.addErrors(res.Errors)
	var serr *report.SyncError
	if errors.As(err, &serr) {
		trace.addErrors([]*report.SyncError{serr})
	}
	return trace, nil
}

// checkStep compares a step's trace with its expectation.
func checkStep(trace StepTrace, want StepExpect) []string {
	var errs []string
	if got := trace.Outcome.String(); got != want.Outcome {
		errs = append(errs, fmt.Sprintf("outcome: expected %s, got %s (errors: %v)", want.Outcome, got, trace.Errors))
	}
	if want.Errors != nil && !slices.Equal(want.Errors, trace.Kinds) {
		errs = append(errs, fmt.Sprintf("error kinds: expected %v, got %v", want.Errors, trace.Kinds))
	}
	checkBool := func(name string, want *bool, got bool) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Sprintf("%s: expected %v, got %v", name, *want, got))
		}
	}
	checkInt := func(name string, want *int, got int) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Sprintf("%s: expected %d, got %d", name, *want, got))
		}
	}
	checkBool("skipped", want.Skipped, trace.Skipped)
	checkInt("objects", want.Objects, trace.Objects)
	checkInt("deleted", want.Deleted, trace.Deleted)
	checkInt("created", want.Created, trace.Written.Created)
	checkInt("updated", want.Updated, trace.Written.Updated)
	checkInt("ignored", want.Ignored, trace.Written.Ignored)
	return errs
}

// edgeKey returns the store key of the edge between from and to.
func edgeKey(collection, from, to string) string {
	return keys.Edge(collection, from, to)
}
