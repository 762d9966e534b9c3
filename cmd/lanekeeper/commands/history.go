package commands

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/lanekeeper/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		group  string
		events bool
		remove bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `List recent runs from the history database, or show the lanes, artifacts and
timeline of one run.`,
		Example: `  # List the last 20 runs
  lanekeeper history

  # List runs of one supersede group
  lanekeeper history --group "ci@refs/heads/main"

  # Show one run with its event timeline
  lanekeeper history 3f0c... --events

  # Delete a run
  lanekeeper history 3f0c... --delete`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, _, err := loadConfig()
			if err != nil {
				return configError(err)
			}
			if !cfg.Store.Enabled {
				return fmt.Errorf("run history is disabled in the configuration")
			}

			store, err := stores.Open(ctx, cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer store.Close()

			if len(args) == 0 {
				var runs []*stores.Run
				if group != "" {
					runs, err = store.ListRunsByGroup(ctx, group, limit)
				} else {
					runs, err = store.ListRuns(ctx, limit, 0)
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(os.Stdout, runs)
				}
				return writeRuns(os.Stdout, runs)
			}

			runID := args[0]
			if remove {
				if err := store.DeleteRun(ctx, runID); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "Deleted run %s\n", runID)
				return nil
			}

			run, err := store.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			lanes, err := store.ListLaneResults(ctx, runID)
			if err != nil {
				return err
			}
			artifacts, err := store.ListArtifacts(ctx, runID)
			if err != nil {
				return err
			}
			var timeline []*stores.Event
			if events {
				if timeline, err = store.ListEvents(ctx, runID, 0, 0); err != nil {
					return err
				}
			}

			if jsonOutput {
				return writeJSON(os.Stdout, struct {
					Run       *stores.Run          `json:"run"`
					Lanes     []*stores.LaneResult `json:"lanes"`
					Artifacts []*stores.Artifact   `json:"artifacts"`
					Events    []*stores.Event      `json:"events,omitempty"`
				}{run, lanes, artifacts, timeline})
			}
			return writeRunDetail(os.Stdout, run, lanes, artifacts, timeline)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().StringVar(&group, "group", "", "only list runs of this supersede group")
	cmd.Flags().BoolVar(&events, "events", false, "include the event timeline")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the run and everything recorded for it")

	return cmd
}

func writeRuns(w io.Writer, runs []*stores.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tTRIGGER\tGROUP\tSTATUS\tLANES\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d passed\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.TriggerKind, r.GroupKey, r.Status,
			r.Summary.Passed, r.Summary.Total, (time.Duration(r.DurationMs) * time.Millisecond).String())
	}
	return tw.Flush()
}

func writeRunDetail(w io.Writer, run *stores.Run, lanes []*stores.LaneResult, artifacts []*stores.Artifact, events []*stores.Event) error {
	fmt.Fprintf(w, "Run %s: %s\n", run.ID, run.Status)
	fmt.Fprintf(w, "Trigger: %s (%s), group %s\n", run.TriggerKind, run.TriggerClass, run.GroupKey)
	if run.TagExpression != "" {
		fmt.Fprintf(w, "Profile: %s\n", run.TagExpression)
	}
	if run.Error != nil {
		fmt.Fprintf(w, "Error: %s\n", *run.Error)
	}

	byLane := make(map[string]*stores.Artifact, len(artifacts))
	for _, a := range artifacts {
		byLane[a.LaneID] = a
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LANE\tOUTCOME\tEXIT\tDURATION\tARTIFACT")
	for _, l := range lanes {
		exit := "-"
		if l.ExitCode != nil {
			exit = fmt.Sprintf("%d", *l.ExitCode)
		}
		artifact := "-"
		if a, ok := byLane[l.LaneID]; ok {
			switch {
			case a.Uploaded:
				artifact = a.Location
			case a.Error != nil:
				artifact = "error: " + *a.Error
			default:
				artifact = "not uploaded"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			l.LaneID, l.Outcome, exit, (time.Duration(l.DurationMs) * time.Millisecond).String(), artifact)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	for _, e := range events {
		lane := ""
		if e.LaneID != nil {
			lane = " [" + *e.LaneID + "]"
		}
		fmt.Fprintf(w, "%s %-5s %s%s %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Level, e.Type, lane, e.Message)
	}
	return nil
}
