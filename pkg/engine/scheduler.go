package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SchedulerOptions configures a LaneScheduler. Every field is optional.
type SchedulerOptions struct {
	// Profiles overrides the per-class tag expressions.
	Profiles ProfileTable

	// MaxParallelLanes caps concurrently running lanes; zero runs every enabled lane at once.
	MaxParallelLanes int

	// UploadTimeout bounds each artifact upload.
	UploadTimeout time.Duration

	// Guard vets lane plans before execution.
	Guard PlanGuard

	// State persists run history.
	State StateManager

	// Instrumentation receives lifecycle hooks.
	Instrumentation Instrumentation

	// Logger is the base logger.
	Logger zerolog.Logger
}

// LaneScheduler drives a run end to end: resolve, compile, plan, then execute
// and collect every enabled lane in parallel.
type LaneScheduler struct {
	resolver   *TriggerResolver
	compiler   *ProfileCompiler
	dispatcher *LaneDispatcher
	executor   *TestExecutor
	collector  *ArtifactCollector

	lanes       []LaneSpec
	maxParallel int
	guard       PlanGuard
	state       StateManager
	instr       Instrumentation
	logger      zerolog.Logger
}

// NewLaneScheduler creates a scheduler for lanes backed by runner and store.
func NewLaneScheduler(lanes []LaneSpec, runner Runner, store ArtifactStore, opts SchedulerOptions) *LaneScheduler {
	instr := opts.Instrumentation
	if instr == nil {
		instr = NopInstrumentation{}
	}

	return &LaneScheduler{
		resolver:    NewTriggerResolver(opts.Logger),
		compiler:    NewProfileCompiler(opts.Profiles),
		dispatcher:  NewLaneDispatcher(),
		executor:    NewTestExecutor(runner, opts.Logger),
		collector:   NewArtifactCollector(store, opts.UploadTimeout, opts.Logger),
		lanes:       append([]LaneSpec(nil), lanes...),
		maxParallel: opts.MaxParallelLanes,
		guard:       opts.Guard,
		state:       opts.State,
		instr:       instr,
		logger:      opts.Logger.With().Str("component", "scheduler").Logger(),
	}
}

// Plan resolves event into lane plans without running anything. The report
// lists every lane as pending or skipped. A configuration error is returned
// together with a rejected report.
func (s *LaneScheduler) Plan(ctx context.Context, event TriggerEvent) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.New().String(),
		Status:    RunStatusPending,
		StartedAt: time.Now(),
	}
	if err := s.prepare(ctx, event, report); err != nil {
		return report, err
	}
	return report, nil
}

// Run executes one run for event. Lane failures are reported through the
// returned report's status; the error is non-nil only for configuration
// errors (the report is then rejected and no lane ran) or when the run could
// not be recorded.
func (s *LaneScheduler) Run(ctx context.Context, event TriggerEvent) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.New().String(),
		Status:    RunStatusPending,
		StartedAt: time.Now(),
	}
	ctx = ContextWithRunID(ctx, report.RunID)
	logger := s.logger.With().Str("run_id", report.RunID).Logger()

	if err := s.prepare(ctx, event, report); err != nil {
		ctx = s.instr.RunStarted(ctx, report.RunID, string(report.Trigger.Kind()))
		s.instr.ConfigurationRejected(ctx, report.RunID, report.Error.Code, report.Error.Error())
		s.finish(ctx, report)
		s.persistRejected(ctx, report)
		logger.Error().Err(err).Msg("Run rejected")
		return report, err
	}

	ctx = s.instr.RunStarted(ctx, report.RunID, string(report.Trigger.Kind()))
	logger.Info().
		Str("trigger", string(report.Trigger.Kind())).
		Str("class", string(report.Trigger.Class())).
		Str("group", report.Trigger.GroupKey()).
		Str("profile", report.Profile.TagExpression).
		Msg("Run started")

	report.Status = RunStatusRunning
	if s.state != nil {
		if n, err := s.state.SupersedeActiveRuns(ctx, report.Trigger.GroupKey(), report.RunID); err != nil {
			logger.Warn().Err(err).Msg("Failed to supersede active runs")
		} else if n > 0 {
			logger.Info().Int("count", n).Msg("Superseded active runs in group")
		}

		if err := s.state.CreateRun(ctx, report.Record()); err != nil {
			report.Status = RunStatusFailed
			report.Error = NewInternalError("failed to save run", err)
			s.finish(ctx, report)
			return report, fmt.Errorf("failed to save run: %w", err)
		}
	}
	s.appendEvent(ctx, report.RunID, "", EventTypeRunStarted,
		fmt.Sprintf("Run started for %s trigger", report.Trigger.Kind()), nil)

	s.executeLanes(ctx, report)

	report.Status = aggregateStatus(report.Lanes)
	s.finish(ctx, report)

	if s.state != nil {
		if err := s.state.CompleteRun(context.WithoutCancel(ctx), report.Record()); err != nil {
			logger.Error().Err(err).Msg("Failed to save final run state")
		}
	}

	if report.Status == RunStatusPassed {
		s.appendEvent(ctx, report.RunID, "", EventTypeRunCompleted, "Run completed successfully", nil)
	} else {
		s.appendEvent(ctx, report.RunID, "", EventTypeRunFailed,
			fmt.Sprintf("Run completed with status: %s", report.Status), nil)
	}

	logger.Info().
		Str("status", string(report.Status)).
		Dur("duration", report.Duration).
		Msg("Run finished")

	return report, nil
}

// prepare fills the trigger, profile and lanes of report. Every failure is a
// configuration error.
func (s *LaneScheduler) prepare(ctx context.Context, event TriggerEvent, report *RunReport) error {
	report.Trigger = s.resolver.Resolve(event)

	reject := func(err error) error {
		report.Status = RunStatusRejected
		report.Error = AsEngineError(err)
		return err
	}

	profile, err := s.compiler.Compile(report.Trigger)
	if err != nil {
		return reject(err)
	}
	report.Profile = &profile

	plans, err := s.dispatcher.Plan(profile, s.lanes)
	if err != nil {
		return reject(err)
	}

	if s.guard != nil {
		enabled := make([]LaneExecutionPlan, 0, len(plans))
		for _, p := range plans {
			if p.Enabled {
				enabled = append(enabled, p)
			}
		}
		result, err := s.guard.EvaluatePlan(ctx, report.Trigger, enabled)
		if err != nil {
			return reject(NewConfigurationError("policy evaluation failed", err).WithCode(ErrCodePolicyDenied))
		}
		for _, w := range result.Warnings {
			s.logger.Warn().Str("warning", w).Msg("Policy warning")
		}
		if !result.Allowed {
			return reject(policyDenied(result))
		}
	}

	report.Lanes = make([]LaneReport, len(plans))
	for i, p := range plans {
		outcome := LaneOutcomePending
		if !p.Enabled {
			outcome = LaneOutcomeSkipped
		}
		report.Lanes[i] = LaneReport{Plan: p, Outcome: outcome}
	}
	return nil
}

func policyDenied(result *PolicyResult) *EngineError {
	msgs := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	e := NewConfigurationError("plan denied by policy", errors.New(strings.Join(msgs, "; "))).
		WithCode(ErrCodePolicyDenied)
	if len(result.Violations) > 0 {
		e = e.WithField("policy", result.Violations[0].Policy)
		if lane := result.Violations[0].LaneID; lane != "" {
			e = e.WithLane(lane)
		}
	}
	return e.WithDetail("violations", len(result.Violations))
}

// executeLanes runs enabled lanes on a bounded worker pool. Each worker
// executes then collects its lane and owns its slot in report.Lanes; lanes
// still queued when ctx ends are marked cancelled and neither executed nor
// collected.
func (s *LaneScheduler) executeLanes(ctx context.Context, report *RunReport) {
	queue := make(chan int, len(report.Lanes))
	for i := range report.Lanes {
		lane := &report.Lanes[i]
		if !lane.Plan.Enabled {
			s.instr.LaneSkipped(ctx, report.RunID, lane.Plan.LaneID, "disabled")
			s.appendEvent(ctx, report.RunID, lane.Plan.LaneID, EventTypeLaneSkipped, "Lane disabled by profile", nil)
			s.saveLane(ctx, report.RunID, lane)
			continue
		}
		queue <- i
	}
	close(queue)

	workerCount := len(queue)
	if s.maxParallel > 0 && s.maxParallel < workerCount {
		workerCount = s.maxParallel
	}

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				lane := report.Lanes[i]

				if ctx.Err() != nil {
					lane.Outcome = LaneOutcomeCancelled
					s.instr.LaneSkipped(ctx, report.RunID, lane.Plan.LaneID, "cancelled")
					s.appendEvent(ctx, report.RunID, lane.Plan.LaneID, EventTypeLaneSkipped, "Run cancelled before lane started", nil)
				} else {
					lane = s.runLane(ctx, report.RunID, lane)
				}

				report.Lanes[i] = lane
				s.saveLane(ctx, report.RunID, &lane)
			}
		}()
	}
	wg.Wait()
}

// runLane executes one lane, then collects its report. Collection always
// happens after execution returns, whatever the outcome.
func (s *LaneScheduler) runLane(ctx context.Context, runID string, lane LaneReport) LaneReport {
	laneID := lane.Plan.LaneID
	lane.Outcome = LaneOutcomeRunning

	laneCtx := s.instr.LaneStarted(ctx, runID, laneID)
	s.appendEvent(ctx, runID, laneID, EventTypeLaneStarted,
		fmt.Sprintf("Started lane %s", laneID), map[string]interface{}{"tags": lane.Plan.TagExpression})

	result, err := s.executor.Execute(laneCtx, lane.Plan)
	if err != nil {
		// Execute only fails for disabled plans, which never reach a worker.
		result = ExecutionResult{
			LaneID:       laneID,
			ExitCode:     ExitCodeNotStarted,
			ReportPath:   lane.Plan.ReportPath,
			ArtifactName: lane.Plan.ArtifactName,
			Error:        NewLaneFailure(laneID, ExitCodeNotStarted, err),
		}
	}
	lane.Result = &result

	switch {
	case result.TimedOut:
		lane.Outcome = LaneOutcomeTimedOut
	case result.ExitCode != 0:
		lane.Outcome = LaneOutcomeFailed
	default:
		lane.Outcome = LaneOutcomePassed
	}

	var laneErr error
	if result.Error != nil {
		laneErr = result.Error
	}
	s.instr.LaneFinished(laneCtx, runID, laneID, string(lane.Outcome), result.Duration, laneErr)

	if lane.Outcome == LaneOutcomePassed {
		s.appendEvent(ctx, runID, laneID, EventTypeLaneCompleted,
			fmt.Sprintf("Lane %s passed", laneID), map[string]interface{}{"duration_ms": result.DurationMs})
	} else {
		s.appendEvent(ctx, runID, laneID, EventTypeLaneFailed,
			fmt.Sprintf("Lane %s %s with exit code %d", laneID, lane.Outcome, result.ExitCode),
			map[string]interface{}{"exit_code": result.ExitCode, "timed_out": result.TimedOut})
	}

	collectCtx := s.instr.CollectStarted(ctx, runID, laneID)
	record := s.collector.Collect(collectCtx, result)
	lane.Artifact = &record

	var collectErr error
	if record.Error != nil {
		collectErr = record.Error
	}
	s.instr.ArtifactCollected(collectCtx, runID, laneID, record.ArtifactName, record.Uploaded, collectErr)
	s.appendEvent(ctx, runID, laneID, EventTypeArtifactCollected,
		fmt.Sprintf("Artifact %s collected (uploaded=%t)", record.ArtifactName, record.Uploaded),
		map[string]interface{}{"uploaded": record.Uploaded, "location": record.Location})

	return lane
}

func (s *LaneScheduler) finish(ctx context.Context, report *RunReport) {
	report.CompletedAt = time.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)

	var err error
	if report.Error != nil {
		err = report.Error
	}
	s.instr.RunFinished(ctx, report.RunID, string(report.Status), report.Duration, err)
}

func (s *LaneScheduler) persistRejected(ctx context.Context, report *RunReport) {
	if s.state == nil {
		return
	}
	if err := s.state.CreateRun(context.WithoutCancel(ctx), report.Record()); err != nil {
		s.logger.Warn().Err(err).Str("run_id", report.RunID).Msg("Failed to save rejected run")
		return
	}
	s.appendEvent(ctx, report.RunID, "", EventTypeRunFailed, "Run rejected: "+report.Error.Error(), nil)
}

func (s *LaneScheduler) saveLane(ctx context.Context, runID string, lane *LaneReport) {
	if s.state == nil {
		return
	}
	if err := s.state.SaveLaneResult(context.WithoutCancel(ctx), runID, lane); err != nil {
		s.logger.Warn().Err(err).
			Str("run_id", runID).
			Str("lane_id", lane.Plan.LaneID).
			Msg("Failed to save lane result")
	}
}

// appendEvent records a timeline event. Failures are logged, never returned.
func (s *LaneScheduler) appendEvent(
	ctx context.Context,
	runID, laneID string,
	eventType EventType,
	message string,
	details map[string]interface{},
) {
	if s.state == nil {
		return
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		LaneID:    laneID,
		Message:   message,
		Details:   details,
		Level:     eventType.Severity(),
	}

	if err := s.state.AppendEvent(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Failed to append event")
	}
}
