package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/wsgraph/internal/backfill"
	"github.com/roach88/wsgraph/internal/report"
)

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	Containers []int64
	Owners     []string
	Start      int64
	Stop       int64
	Wait       time.Duration

	// RunIDs overrides the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs backfill.RunIDGenerator
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Import containers from the workspace into the graph",
		Long: `Import every live and deleted object of the selected containers.

Containers are chosen by explicit id, by owner, or by an inclusive id
range. Owners combine with the range: only their containers inside it are
imported. Failures are isolated per container, page and batch; the run
continues and reports them at the end.

Example:
  wsgraph backfill --start 1 --stop 5000
  wsgraph backfill --container 41347 --container 41348
  wsgraph backfill --owner someuser --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(opts, cmd)
		},
	}

	cmd.Flags().Int64SliceVar(&opts.Containers, "container", nil, "container id to import (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Owners, "owner", nil, "import containers owned by this user (repeatable)")
	cmd.Flags().Int64Var(&opts.Start, "start", 0, "first container id of the range (inclusive)")
	cmd.Flags().Int64Var(&opts.Stop, "stop", 0, "last container id of the range (inclusive)")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "wait up to this long for the workspace and store to answer")

	return cmd
}

func runBackfill(opts *BackfillOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	req := backfill.Request{
		ContainerIDs: opts.Containers,
		Owners:       opts.Owners,
		StartID:      opts.Start,
		StopID:       opts.Stop,
	}
	if (req.StartID == 0) != (req.StopID == 0) {
		return NewExitError(ExitCommandError, "--start and --stop must be given together")
	}
	if req.StartID > req.StopID {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("--start %d is after --stop %d", req.StartID, req.StopID))
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd, opts.Logger())
	defer cancel()

	e, err := opts.openEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.waitReady(ctx, opts.Wait); err != nil {
		return err
	}

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = backfill.UUIDv7Generator{}
	}
	sum, err := e.backfiller(runIDs).Run(ctx, req)
	if err != nil {
		return WrapExitError(ExitCommandError, "backfill failed", err)
	}

	if err := f.SuccessWithRun(sum.RunID, backfillView{sum}); err != nil {
		return err
	}
	if code := ExitCodeFor(sum.Outcome); code != ExitSuccess {
		return NewExitError(code, fmt.Sprintf("backfill %s finished %s with %d errors",
			sum.RunID, sum.Outcome, len(sum.Errors)))
	}
	return nil
}

// backfillView renders a Summary for text output and marshals as the
// Summary itself.
type backfillView struct {
	backfill.Summary
}

func (v backfillView) String() string {
	var b strings.Builder
	s := v.Summary
	fmt.Fprintf(&b, "Run %s: %s\n", s.RunID, s.Outcome)
	fmt.Fprintf(&b, "  containers: %d", len(s.Containers))
	if s.Skipped > 0 {
		fmt.Fprintf(&b, " (%d not found)", s.Skipped)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  objects:    %d live, %d deleted\n", s.Objects, s.Deleted)
	fmt.Fprintf(&b, "  documents:  %d created, %d updated, %d unchanged\n",
		s.Written.Created, s.Written.Updated, s.Written.Ignored)
	if s.Discarded > 0 {
		fmt.Fprintf(&b, "  discarded:  %d\n", s.Discarded)
	}
	if len(s.Errors) > 0 {
		fmt.Fprintf(&b, "  errors:     %d\n", len(s.Errors))
		for _, serr := range s.Errors {
			fmt.Fprintf(&b, "    - %s\n", serr)
		}
	}
	for _, c := range s.Containers {
		if c.Outcome != report.Success {
			fmt.Fprintf(&b, "  container %d: %s (%d errors)\n", c.ID, c.Outcome, c.Errors)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
