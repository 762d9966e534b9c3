package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/lanekeeper/pkg/config"
	"github.com/openfroyo/lanekeeper/pkg/engine"
	"github.com/openfroyo/lanekeeper/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var printConfig bool

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate the lanekeeper configuration",
		Long: `Validate a configuration file and the custom policies it references.

This command checks:
  - CUE schema conformance or YAML structure
  - Lane ids, concurrency, toggles and remotes
  - Profile and serial tag expressions
  - Schedule cron strings
  - Custom policy compilation (OPA/rego)`,
		Example: `  # Validate the configuration in the current directory
  lanekeeper validate

  # Validate a specific file and print the effective configuration
  lanekeeper validate --print ci/lanekeeper.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				configPath = args[0]
			}

			cfg, path, err := loadConfig()
			if err != nil {
				var verrs config.ValidationErrors
				if !errors.As(err, &verrs) {
					return configError(err)
				}
				if jsonOutput {
					_ = writeJSON(os.Stdout, verrs)
				} else {
					for _, e := range verrs {
						fmt.Fprintf(os.Stdout, "✗ %s\n", e.String())
					}
				}
				return &ExitError{Code: engine.ExitConfigError}
			}

			if path == "" {
				path = "built-in defaults"
			}

			if cfg.Policy.Enabled {
				pe, err := policy.New(cmd.Context(), cfg.Policy, log.Logger)
				if err != nil {
					fmt.Fprintf(os.Stdout, "✗ policies: %v\n", err)
					return &ExitError{Code: engine.ExitConfigError}
				}
				fmt.Fprintf(os.Stdout, "✓ %d policies compiled\n", len(pe.ListPolicies()))
			}

			fmt.Fprintf(os.Stdout, "✓ %s is valid (%d lanes, %d schedules)\n", path, len(cfg.Lanes), len(cfg.Schedules))

			if printConfig {
				data, err := config.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "\n%s", data)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&printConfig, "print", false, "print the effective configuration with defaults applied")

	return cmd
}
