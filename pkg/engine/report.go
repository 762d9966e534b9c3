package engine

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Process exit codes derived from a run report.
const (
	ExitPassed      = 0
	ExitFailed      = 1
	ExitConfigError = 2
	ExitCancelled   = 130
)

// LaneReport is one lane's plan and what happened to it.
type LaneReport struct {
	Plan     LaneExecutionPlan `json:"plan"`
	Outcome  LaneOutcome       `json:"outcome"`
	Result   *ExecutionResult  `json:"result,omitempty"`
	Artifact *ArtifactRecord   `json:"artifact,omitempty"`
}

// RunReport is the aggregated outcome of one run.
type RunReport struct {
	RunID       string         `json:"run_id"`
	Trigger     TriggerContext `json:"trigger"`
	Profile     *TestProfile   `json:"profile,omitempty"`
	Lanes       []LaneReport   `json:"lanes"`
	Status      RunStatus      `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Duration    time.Duration  `json:"duration"`
	Error       *EngineError   `json:"error,omitempty"`
}

// ExitCode maps the run status to a process exit code.
func (r *RunReport) ExitCode() int {
	switch r.Status {
	case RunStatusPassed:
		return ExitPassed
	case RunStatusRejected:
		return ExitConfigError
	case RunStatusCancelled, RunStatusSuperseded:
		return ExitCancelled
	default:
		return ExitFailed
	}
}

// Results returns the execution results of lanes that ran, in lane order.
func (r *RunReport) Results() []ExecutionResult {
	out := make([]ExecutionResult, 0, len(r.Lanes))
	for _, l := range r.Lanes {
		if l.Result != nil {
			out = append(out, *l.Result)
		}
	}
	return out
}

// Artifacts returns the artifact records of lanes that ran, in lane order.
func (r *RunReport) Artifacts() []ArtifactRecord {
	out := make([]ArtifactRecord, 0, len(r.Lanes))
	for _, l := range r.Lanes {
		if l.Artifact != nil {
			out = append(out, *l.Artifact)
		}
	}
	return out
}

// Lane returns the report of the lane with the given id.
func (r *RunReport) Lane(id string) (LaneReport, bool) {
	for _, l := range r.Lanes {
		if l.Plan.LaneID == id {
			return l, true
		}
	}
	return LaneReport{}, false
}

// Summary counts lanes by outcome.
func (r *RunReport) Summary() RunSummary {
	s := RunSummary{Total: len(r.Lanes)}
	for _, l := range r.Lanes {
		switch l.Outcome {
		case LaneOutcomePassed:
			s.Passed++
		case LaneOutcomeFailed:
			s.Failed++
		case LaneOutcomeTimedOut:
			s.TimedOut++
		case LaneOutcomeSkipped:
			s.Skipped++
		case LaneOutcomeCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Record converts the report into a persisted run record.
func (r *RunReport) Record() *Run {
	run := &Run{
		ID:        r.RunID,
		GroupKey:  r.Trigger.GroupKey(),
		Trigger:   r.Trigger.Kind(),
		Class:     r.Trigger.Class(),
		Status:    r.Status,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
		Summary:   r.Summary(),
	}
	if r.Profile != nil {
		run.TagExpression = r.Profile.TagExpression
	}
	if !r.CompletedAt.IsZero() {
		completed := r.CompletedAt
		run.CompletedAt = &completed
	}
	if r.Error != nil {
		run.Error = r.Error.Error()
	}
	return run
}

// aggregateStatus derives the run status from lane outcomes: any failed or
// timed-out lane fails the run; disabled lanes never affect it.
func aggregateStatus(lanes []LaneReport) RunStatus {
	cancelled := false
	for _, l := range lanes {
		if l.Outcome.IsFailure() {
			return RunStatusFailed
		}
		if l.Outcome == LaneOutcomeCancelled {
			cancelled = true
		}
	}
	if cancelled {
		return RunStatusCancelled
	}
	return RunStatusPassed
}

// WriteText writes a per-lane breakdown for terminals.
func (r *RunReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Run %s: %s\n", r.RunID, strings.ToUpper(string(r.Status)))
	fmt.Fprintf(w, "Trigger: %s (%s), group %s\n", r.Trigger.Kind(), r.Trigger.Class(), r.Trigger.GroupKey())
	if r.Profile != nil {
		fmt.Fprintf(w, "Profile: %s\n", r.Profile.TagExpression)
	}
	if r.Error != nil {
		fmt.Fprintf(w, "Error: %s\n", r.Error.Error())
	}
	if len(r.Lanes) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LANE\tOUTCOME\tEXIT\tDURATION\tARTIFACT")
	for _, l := range r.Lanes {
		exit, dur := "-", "-"
		if l.Result != nil {
			exit = fmt.Sprintf("%d", l.Result.ExitCode)
			dur = l.Result.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", l.Plan.LaneID, l.Outcome, exit, dur, artifactStatus(l.Artifact))
	}
	return tw.Flush()
}

// WriteMarkdown writes a summary suitable for a CI step summary.
func (r *RunReport) WriteMarkdown(w io.Writer) error {
	icon := ":white_check_mark:"
	if r.Status != RunStatusPassed {
		icon = ":x:"
	}
	if _, err := fmt.Fprintf(w, "### %s Scenario run `%s`: %s\n\n", icon, r.RunID, r.Status); err != nil {
		return err
	}
	fmt.Fprintf(w, "- Trigger: `%s` (%s)\n", r.Trigger.Kind(), r.Trigger.Class())
	if r.Profile != nil {
		fmt.Fprintf(w, "- Profile: `%s`\n", r.Profile.TagExpression)
	}
	if r.Error != nil {
		fmt.Fprintf(w, "- Error: %s\n", r.Error.Error())
	}
	if len(r.Lanes) == 0 {
		_, err := fmt.Fprintln(w)
		return err
	}

	fmt.Fprintf(w, "\n| Lane | Outcome | Exit | Duration | Tags | Artifact |\n")
	fmt.Fprintf(w, "|---|---|---|---|---|---|\n")
	for _, l := range r.Lanes {
		exit, dur := "", ""
		if l.Result != nil {
			exit = fmt.Sprintf("%d", l.Result.ExitCode)
			dur = l.Result.Duration.Round(time.Second).String()
		}
		fmt.Fprintf(w, "| %s | %s | %s | %s | `%s` | %s |\n",
			l.Plan.LaneID, l.Outcome, exit, dur, l.Plan.TagExpression, artifactStatus(l.Artifact))
	}
	_, err := fmt.Fprintln(w)
	return err
}

func artifactStatus(a *ArtifactRecord) string {
	switch {
	case a == nil:
		return "-"
	case a.Uploaded:
		return "uploaded " + a.ArtifactName
	case a.Error != nil && a.Error.Code == ErrCodeMissingReport:
		return "missing report"
	case a.Error != nil:
		return "upload failed"
	default:
		return "not uploaded"
	}
}
