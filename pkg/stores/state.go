package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openfroyo/lanekeeper/pkg/engine"
)

// StateManager adapts a SQLiteStore to engine.StateManager.
type StateManager struct {
	store *SQLiteStore
}

// NewStateManager wraps store.
func NewStateManager(store *SQLiteStore) *StateManager {
	return &StateManager{store: store}
}

// SupersedeActiveRuns implements engine.StateManager.
func (m *StateManager) SupersedeActiveRuns(ctx context.Context, groupKey, exceptRunID string) (int, error) {
	return m.store.SupersedeActiveRuns(ctx, groupKey, exceptRunID)
}

// CreateRun implements engine.StateManager.
func (m *StateManager) CreateRun(ctx context.Context, run *engine.Run) error {
	return m.store.CreateRun(ctx, RunFromEngine(run))
}

// CompleteRun implements engine.StateManager.
func (m *StateManager) CompleteRun(ctx context.Context, run *engine.Run) error {
	return m.store.CompleteRun(ctx, RunFromEngine(run))
}

// SaveLaneResult implements engine.StateManager. The lane and its artifact
// record are written in one transaction.
func (m *StateManager) SaveLaneResult(ctx context.Context, runID string, lane *engine.LaneReport) error {
	var artifact *Artifact
	if lane.Artifact != nil {
		artifact = ArtifactFromEngine(runID, lane.Artifact)
	}
	return m.store.SaveLaneResult(ctx, LaneResultFromEngine(runID, lane), artifact)
}

// AppendEvent implements engine.StateManager.
func (m *StateManager) AppendEvent(ctx context.Context, event *engine.Event) error {
	e, err := EventFromEngine(event)
	if err != nil {
		return err
	}
	return m.store.AppendEvent(ctx, e)
}

// RunFromEngine converts an engine run record.
func RunFromEngine(run *engine.Run) *Run {
	return &Run{
		ID:            run.ID,
		GroupKey:      run.GroupKey,
		TriggerKind:   string(run.Trigger),
		TriggerClass:  string(run.Class),
		TagExpression: run.TagExpression,
		Status:        string(run.Status),
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		DurationMs:    run.Duration.Milliseconds(),
		Summary: Summary{
			Total:     run.Summary.Total,
			Passed:    run.Summary.Passed,
			Failed:    run.Summary.Failed,
			TimedOut:  run.Summary.TimedOut,
			Skipped:   run.Summary.Skipped,
			Cancelled: run.Summary.Cancelled,
		},
		Error: nullString(run.Error),
	}
}

// LaneResultFromEngine converts a lane report.
func LaneResultFromEngine(runID string, lane *engine.LaneReport) *LaneResult {
	p := lane.Plan
	r := &LaneResult{
		RunID:          runID,
		LaneID:         p.LaneID,
		Outcome:        string(lane.Outcome),
		TagExpression:  p.TagExpression,
		Concurrency:    int(p.Concurrency),
		Retries:        int(p.Retries),
		TimeoutMinutes: int(p.TimeoutMinutes),
		Enabled:        p.Enabled,
		Remote:         p.Remote,
		ReportPath:     p.ReportPath,
	}

	if res := lane.Result; res != nil {
		code := res.ExitCode
		r.ExitCode = &code
		r.TimedOut = res.TimedOut
		r.DurationMs = res.Duration.Milliseconds()
		if !res.StartedAt.IsZero() {
			started := res.StartedAt
			r.StartedAt = &started
		}
		if res.Error != nil {
			r.Error = nullString(res.Error.Error())
		}
	}
	return r
}

// ArtifactFromEngine converts an artifact record.
func ArtifactFromEngine(runID string, a *engine.ArtifactRecord) *Artifact {
	out := &Artifact{
		RunID:      runID,
		LaneID:     a.LaneID,
		Name:       a.ArtifactName,
		SourcePath: a.SourcePath,
		Location:   a.Location,
		Uploaded:   a.Uploaded,
		Size:       a.Size,
	}
	if a.Error != nil {
		out.Error = nullString(a.Error.Error())
	}
	return out
}

// EventFromEngine converts a timeline event; details are stored as JSON.
func EventFromEngine(event *engine.Event) (*Event, error) {
	e := &Event{
		ID:        event.ID,
		RunID:     event.RunID,
		LaneID:    nullString(event.LaneID),
		Type:      string(event.Type),
		Level:     event.Level,
		Message:   event.Message,
		Timestamp: event.Timestamp,
	}
	if len(event.Details) > 0 {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event details: %w", err)
		}
		details := string(data)
		e.Details = &details
	}
	return e, nil
}
