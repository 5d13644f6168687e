package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with tokens redacted",
		Long: `Print the configuration after defaults, the --config file and
environment overrides are applied. Tokens are redacted. The configuration
is validated; an invalid value is reported and exits 2.

Text output is the YAML file form, usable as a --config file.

Example:
  wsgraph config show > wsgraph.yaml
  wsgraph config show --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			cfg, err := opts.loadConfig()
			if err != nil {
				_ = f.Error(CodeConfig, err.Error(), nil)
				return err
			}
			if f.Format != "text" {
				return f.Success(cfg.Redacted())
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg.Redacted()); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
