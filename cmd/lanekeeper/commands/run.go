package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/lanekeeper/pkg/artifacts"
	"github.com/openfroyo/lanekeeper/pkg/config"
	"github.com/openfroyo/lanekeeper/pkg/engine"
	"github.com/openfroyo/lanekeeper/pkg/runner"
)

// EnvStepSummary is the CI file that receives the markdown run summary.
const EnvStepSummary = "GITHUB_STEP_SUMMARY"

func newRunCommand(version string) *cobra.Command {
	var (
		tf          triggerFlags
		summaryPath string
		eventsFile  string
		noHistory   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resolve the trigger and run every enabled lane",
		Long: `Resolve the trigger into a test profile, plan the lanes and run every enabled
lane in parallel. Each lane's report is uploaded whatever the lane outcome.

The process exits 0 when every enabled lane passed, 1 when any lane failed or
timed out, 2 on configuration errors and 130 when cancelled.`,
		Example: `  # Run from the CI environment (GITHUB_EVENT_NAME, GITHUB_EVENT_PATH)
  lanekeeper run

  # Run the weekly profile locally
  lanekeeper run --trigger schedule --cadence weekly

  # Keep a JSON-lines event log next to the reports
  lanekeeper run --events-file artifacts/events.jsonl

  # Manual run without the ffi lane
  lanekeeper run --trigger workflow_dispatch --input run_ffi_lane=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := newSession(version, func(cfg *config.Config) {
				if eventsFile != "" {
					cfg.Telemetry.Events.File = eventsFile
				}
			})
			if err != nil {
				return err
			}
			defer s.close()

			event := tf.event(s.cfg, s.component("trigger"))

			router, err := runner.FromConfig(s.cfg, os.Stderr, s.component("runner"))
			if err != nil {
				return configError(err)
			}
			s.closers = append(s.closers, router.Close)

			store, err := artifacts.New(s.cfg.Artifacts, s.component("artifacts"))
			if err != nil {
				return configError(err)
			}

			guard, err := s.policyEngine(ctx)
			if err != nil {
				return err
			}

			if noHistory {
				s.cfg.Store.Enabled = false
			}
			db, err := s.openStore(ctx)
			if err != nil {
				return err
			}

			report, runErr := s.scheduler(s.cfg, router, store, guard, db).Run(ctx, event)

			if jsonOutput {
				err = writeJSON(os.Stdout, report)
			} else {
				err = report.WriteText(os.Stdout)
			}
			if err != nil {
				s.logger.Warn().Err(err).Msg("Failed to write report")
			}

			if summaryPath != "" {
				if err := appendSummary(summaryPath, report); err != nil {
					s.logger.Warn().Err(err).Str("path", summaryPath).Msg("Failed to write step summary")
				}
			}

			if runErr != nil && report.Status != engine.RunStatusRejected {
				return runErr
			}
			if code := report.ExitCode(); code != engine.ExitPassed {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	tf.register(cmd)
	cmd.Flags().StringVar(&summaryPath, "summary", os.Getenv(EnvStepSummary), "append a markdown summary to this file")
	cmd.Flags().StringVar(&eventsFile, "events-file", "", "write run and lane events to this file as JSON lines")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the run in the history database")

	return cmd
}

// appendSummary appends the markdown report to path.
func appendSummary(path string, report *engine.RunReport) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open summary: %w", err)
	}
	if err := report.WriteMarkdown(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
