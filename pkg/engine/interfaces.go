package engine

import (
	"context"
	"time"
)

// Invocation is what the scenario test runner is asked to do for one lane.
type Invocation struct {
	// LaneID identifies the lane.
	LaneID string

	// TagExpression is the canonical lane expression.
	TagExpression string

	// Concurrency is the runner's scenario parallelism (positive).
	Concurrency uint

	// Retries is the runner's per-scenario retry count.
	Retries uint

	// Timeout is the lane bound; zero means unbounded.
	Timeout time.Duration

	// ReportPath is where the runner must write its report.
	ReportPath string

	// Remote names an SSH target; empty means local.
	Remote string
}

// Runner executes the external scenario test runner.
type Runner interface {
	// Run blocks until the runner exits and returns its exit code. A non-nil
	// error means no exit code could be obtained: the command did not start or
	// was killed because ctx ended.
	Run(ctx context.Context, inv Invocation) (int, error)
}

// ArtifactStore durably uploads named files.
type ArtifactStore interface {
	// Upload stores the file at path under name and returns its location.
	Upload(ctx context.Context, name, path string) (string, error)
}

// StateManager persists run history.
type StateManager interface {
	// SupersedeActiveRuns marks active runs of groupKey, other than exceptRunID,
	// as superseded and returns how many were changed.
	SupersedeActiveRuns(ctx context.Context, groupKey, exceptRunID string) (int, error)

	// CreateRun persists a new run.
	CreateRun(ctx context.Context, run *Run) error

	// CompleteRun persists the final status of a run.
	CompleteRun(ctx context.Context, run *Run) error

	// SaveLaneResult persists one lane's plan, result and artifact record atomically.
	SaveLaneResult(ctx context.Context, runID string, lane *LaneReport) error

	// AppendEvent appends an event to the run timeline.
	AppendEvent(ctx context.Context, event *Event) error
}

// PlanGuard vets lane plans before any lane runs.
type PlanGuard interface {
	// EvaluatePlan evaluates policies against the enabled lane plans.
	EvaluatePlan(ctx context.Context, trigger TriggerContext, plans []LaneExecutionPlan) (*PolicyResult, error)
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed indicates if the plan may run.
	Allowed bool `json:"allowed"`

	// Violations lists policy violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists policy warnings.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the policy name that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity (info, warning, error, critical).
	Severity string `json:"severity"`

	// LaneID is the lane that violated the policy, if applicable.
	LaneID string `json:"lane_id,omitempty"`
}

// Instrumentation receives run and lane lifecycle hooks for metrics, tracing
// and event fan-out. Start hooks return a context carrying any span they open;
// the matching finish hook closes it.
type Instrumentation interface {
	RunStarted(ctx context.Context, runID, trigger string) context.Context
	RunFinished(ctx context.Context, runID, status string, duration time.Duration, err error)
	ConfigurationRejected(ctx context.Context, runID, code, reason string)

	LaneStarted(ctx context.Context, runID, laneID string) context.Context
	LaneFinished(ctx context.Context, runID, laneID, outcome string, duration time.Duration, err error)
	LaneSkipped(ctx context.Context, runID, laneID, reason string)

	CollectStarted(ctx context.Context, runID, laneID string) context.Context
	ArtifactCollected(ctx context.Context, runID, laneID, name string, uploaded bool, err error)
}

// NopInstrumentation discards every hook.
type NopInstrumentation struct{}

func (NopInstrumentation) RunStarted(ctx context.Context, _, _ string) context.Context { return ctx }
func (NopInstrumentation) RunFinished(context.Context, string, string, time.Duration, error) {}
func (NopInstrumentation) ConfigurationRejected(context.Context, string, string, string) {}
func (NopInstrumentation) LaneStarted(ctx context.Context, _, _ string) context.Context { return ctx }
func (NopInstrumentation) LaneFinished(context.Context, string, string, string, time.Duration, error) {
}
func (NopInstrumentation) LaneSkipped(context.Context, string, string, string) {}
func (NopInstrumentation) CollectStarted(ctx context.Context, _, _ string) context.Context {
	return ctx
}
func (NopInstrumentation) ArtifactCollected(context.Context, string, string, string, bool, error) {}
