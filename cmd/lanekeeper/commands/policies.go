package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/lanekeeper/pkg/policy"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List the plan guardrails",
		Long: `List the built-in and custom policies evaluated against every lane plan,
with their severity. Error and critical policies reject the run; lower
severities only warn.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return configError(err)
			}

			pe, err := policy.New(cmd.Context(), cfg.Policy, log.Logger)
			if err != nil {
				return configError(err)
			}
			policies := pe.ListPolicies()

			if jsonOutput {
				return writeJSON(os.Stdout, policies)
			}

			if !cfg.Policy.Enabled {
				fmt.Fprintln(os.Stdout, "Policies are disabled in the configuration; listing what would apply.")
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tSOURCE\tDESCRIPTION")
			for _, p := range policies {
				source := p.Source
				if p.Builtin {
					source = "built-in"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Severity, source, p.Description)
			}
			return tw.Flush()
		},
	}

	return cmd
}
