package cli

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/wsgraph/internal/api"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Timeout time.Duration
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check that the workspace and graph store are reachable",
		Long: `Ping the workspace service and the graph store once each and
report which answered. Exits 2 if any did not.

Example:
  wsgraph status
  wsgraph status --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", api.ReadyTimeout, "timeout for each check")

	return cmd
}

// ServiceCheck is the result of one reachability probe.
type ServiceCheck struct {
	Service string `json:"service"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// StatusReport lists every probe.
type StatusReport struct {
	Store  string         `json:"store"`
	Checks []ServiceCheck `json:"checks"`
}

func (r StatusReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "store backend: %s", r.Store)
	for _, c := range r.Checks {
		if c.OK {
			fmt.Fprintf(&b, "\n  %-10s ok", c.Service)
		} else {
			fmt.Fprintf(&b, "\n  %-10s FAIL %s", c.Service, c.Error)
		}
	}
	return b.String()
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		_ = f.Error(CodeConfig, err.Error(), nil)
		return err
	}

	ctx, cancel := signalContext(cmd, opts.Logger())
	defer cancel()

	e, err := opts.openEnv(ctx, cfg)
	if err != nil {
		_ = f.Error(CodeUnavailable, err.Error(), nil)
		return err
	}
	defer e.Close()

	pingers := e.pingers()
	names := make([]string, 0, len(pingers))
	for name := range pingers {
		names = append(names, name)
	}
	slices.Sort(names)

	report := StatusReport{Store: storeScheme(cfg.Store.DSN)}
	failed := 0
	for _, name := range names {
		pctx, pcancel := context.WithTimeout(ctx, opts.Timeout)
		err := pingers[name].Ping(pctx)
		pcancel()

		check := ServiceCheck{Service: name, OK: err == nil}
		if err != nil {
			check.Error = err.Error()
			failed++
		}
		report.Checks = append(report.Checks, check)
	}

	if failed > 0 {
		_ = f.Error(CodeUnavailable, fmt.Sprintf("%d of %d services unreachable", failed, len(names)), report)
		return NewExitError(ExitCommandError, "services unreachable")
	}
	return f.Success(report)
}

// storeScheme names the store backend without exposing credentials.
func storeScheme(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "unknown"
	}
	return u.Scheme
}
