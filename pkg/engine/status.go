package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	// RunStatusPending indicates the run is planned but no lane has started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates lanes are executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusPassed indicates every enabled lane passed.
	RunStatusPassed RunStatus = "passed"

	// RunStatusFailed indicates at least one enabled lane failed or timed out.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was aborted between lane boundaries.
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusRejected indicates a configuration error stopped the run before any lane.
	RunStatusRejected RunStatus = "rejected"

	// RunStatusSuperseded indicates a newer run for the same group replaced this one.
	RunStatusSuperseded RunStatus = "superseded"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusPassed || s == RunStatusFailed ||
		s == RunStatusCancelled || s == RunStatusRejected || s == RunStatusSuperseded
}

// IsActive returns true if the run is currently active (pending or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusPassed, RunStatusFailed,
		RunStatusCancelled, RunStatusRejected, RunStatusSuperseded:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// LaneOutcome represents what happened to a single lane of a run.
type LaneOutcome string

const (
	// LaneOutcomePending indicates the lane is queued.
	LaneOutcomePending LaneOutcome = "pending"

	// LaneOutcomeRunning indicates the runner is executing the lane.
	LaneOutcomeRunning LaneOutcome = "running"

	// LaneOutcomePassed indicates the runner exited 0.
	LaneOutcomePassed LaneOutcome = "passed"

	// LaneOutcomeFailed indicates the runner exited non-zero or could not start.
	LaneOutcomeFailed LaneOutcome = "failed"

	// LaneOutcomeTimedOut indicates the lane was terminated after its timeout.
	LaneOutcomeTimedOut LaneOutcome = "timed_out"

	// LaneOutcomeSkipped indicates the lane was disabled by the profile.
	LaneOutcomeSkipped LaneOutcome = "skipped"

	// LaneOutcomeCancelled indicates the run was cancelled before the lane started.
	LaneOutcomeCancelled LaneOutcome = "cancelled"
)

// IsTerminal returns true if the outcome is final.
func (o LaneOutcome) IsTerminal() bool {
	return o != LaneOutcomePending && o != LaneOutcomeRunning
}

// IsFailure returns true if the outcome fails the run.
func (o LaneOutcome) IsFailure() bool {
	return o == LaneOutcomeFailed || o == LaneOutcomeTimedOut
}

// Validate checks if the lane outcome is valid.
func (o LaneOutcome) Validate() error {
	switch o {
	case LaneOutcomePending, LaneOutcomeRunning, LaneOutcomePassed, LaneOutcomeFailed,
		LaneOutcomeTimedOut, LaneOutcomeSkipped, LaneOutcomeCancelled:
		return nil
	default:
		return fmt.Errorf("invalid lane outcome: %s", o)
	}
}

// EventType represents the type of event in the run timeline.
type EventType string

const (
	// EventTypeRunStarted indicates a run has started.
	EventTypeRunStarted EventType = "run.started"

	// EventTypeRunCompleted indicates a run finished with every lane passing.
	EventTypeRunCompleted EventType = "run.completed"

	// EventTypeRunFailed indicates a run finished failed, cancelled or rejected.
	EventTypeRunFailed EventType = "run.failed"

	// EventTypeLaneStarted indicates a lane has been handed to the runner.
	EventTypeLaneStarted EventType = "lane.started"

	// EventTypeLaneCompleted indicates a lane passed.
	EventTypeLaneCompleted EventType = "lane.completed"

	// EventTypeLaneFailed indicates a lane failed or timed out.
	EventTypeLaneFailed EventType = "lane.failed"

	// EventTypeLaneSkipped indicates a lane was disabled or cancelled before starting.
	EventTypeLaneSkipped EventType = "lane.skipped"

	// EventTypeArtifactCollected indicates an artifact collection attempt finished.
	EventTypeArtifactCollected EventType = "artifact.collected"

	// EventTypeWarning indicates a warning was raised.
	EventTypeWarning EventType = "warning"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypeLaneFailed:
		return "error"
	case EventTypeWarning:
		return "warning"
	default:
		return "info"
	}
}
