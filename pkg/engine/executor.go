package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Synthetic exit codes recorded when the runner produced none.
const (
	ExitCodeTimedOut    = 124
	ExitCodeNotStarted  = 127
	ExitCodeInterrupted = 130
)

// TestExecutor runs one lane plan through the scenario test runner.
type TestExecutor struct {
	runner  Runner
	logger  zerolog.Logger
	timeout func(LaneExecutionPlan) time.Duration
}

// NewTestExecutor creates an executor backed by runner.
func NewTestExecutor(runner Runner, logger zerolog.Logger) *TestExecutor {
	return &TestExecutor{
		runner:  runner,
		logger:  logger.With().Str("component", "test_executor").Logger(),
		timeout: LaneExecutionPlan.Timeout,
	}
}

// Execute invokes the runner once for plan and blocks until it exits or the
// lane timeout elapses. Scenario retries are the runner's job; a failing lane
// is never re-invoked. A non-zero exit is recorded on the result, not
// returned: the only error is an attempt to execute a disabled plan.
func (e *TestExecutor) Execute(ctx context.Context, plan LaneExecutionPlan) (ExecutionResult, error) {
	if !plan.Enabled {
		return ExecutionResult{}, fmt.Errorf("lane %s is disabled", plan.LaneID)
	}

	logger := e.logger.With().
		Str("run_id", RunIDFromContext(ctx)).
		Str("lane_id", plan.LaneID).
		Logger()

	timeout := e.timeout(plan)
	laneCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		laneCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	inv := Invocation{
		LaneID:        plan.LaneID,
		TagExpression: plan.TagExpression,
		Concurrency:   plan.Concurrency,
		Retries:       plan.Retries,
		Timeout:       timeout,
		ReportPath:    plan.ReportPath,
		Remote:        plan.Remote,
	}

	logger.Info().
		Str("tags", plan.TagExpression).
		Uint("concurrency", plan.Concurrency).
		Uint("retries", plan.Retries).
		Uint("timeout_minutes", plan.TimeoutMinutes).
		Msg("Starting lane")

	started := time.Now()
	code, runErr := e.runner.Run(laneCtx, inv)
	elapsed := time.Since(started)

	result := ExecutionResult{
		LaneID:       plan.LaneID,
		ExitCode:     code,
		ReportPath:   plan.ReportPath,
		ArtifactName: plan.ArtifactName,
		StartedAt:    started,
		Duration:     elapsed,
		DurationMs:   elapsed.Milliseconds(),
	}

	switch {
	// A runner that returns cleanly finished before it could be stopped, even
	// if the deadline has passed since.
	case runErr != nil && ctx.Err() == nil && errors.Is(laneCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		if result.ExitCode <= 0 {
			result.ExitCode = ExitCodeTimedOut
		}
		result.Error = NewLaneTimeout(plan.LaneID, timeout)
		logger.Warn().Dur("duration", elapsed).Msg("Lane timed out")

	case runErr != nil:
		switch {
		case ctx.Err() != nil:
			result.ExitCode = ExitCodeInterrupted
		case result.ExitCode <= 0:
			result.ExitCode = ExitCodeNotStarted
		}
		result.Error = NewLaneFailure(plan.LaneID, result.ExitCode, runErr)
		logger.Error().Err(runErr).Int("exit_code", result.ExitCode).Msg("Runner did not complete")

	case result.ExitCode != 0:
		result.Error = NewLaneFailure(plan.LaneID, result.ExitCode, nil)
		logger.Warn().Int("exit_code", result.ExitCode).Dur("duration", elapsed).Msg("Lane failed")

	default:
		logger.Info().Dur("duration", elapsed).Msg("Lane passed")
	}

	return result, nil
}
