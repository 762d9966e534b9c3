// Package engine turns CI trigger events into lane plans and runs them.
//
// # Overview
//
// A run moves through five stages, each owned by one component:
//
//  1. Resolve - classify the trigger event (TriggerResolver)
//  2. Compile - choose the tag expression and lane toggles (ProfileCompiler)
//  3. Dispatch - derive one plan per configured lane (LaneDispatcher)
//  4. Execute - invoke the scenario runner once per enabled lane (TestExecutor)
//  5. Collect - upload each lane's JUnit report (ArtifactCollector)
//
// LaneScheduler wires the stages together and runs enabled lanes in parallel.
// Lanes are independent: one lane failing, timing out or losing its report
// never stops a sibling.
//
// # Core Domain Types
//
//   - TriggerEvent: the raw event delivered by the CI system
//   - TriggerContext: the resolved, read-only classification of an event
//   - TestProfile: the tag expression and lane toggles for a run
//   - LaneSpec: static configuration of one lane
//   - LaneExecutionPlan: a lane spec bound to a profile
//   - ExecutionResult: what one runner invocation produced
//   - ArtifactRecord: what happened to one lane's report
//   - RunReport: the aggregated outcome of a run
//
// # Interfaces
//
// The engine depends on a few narrow interfaces supplied by other packages:
//
//   - Runner: invokes the scenario test runner for one lane
//   - ArtifactStore: uploads a report file under an artifact name
//   - StateManager: persists run history
//   - PlanGuard: vets plans against policy before anything runs
//   - Instrumentation: receives lifecycle hooks for logs, metrics and traces
//
// # Error Handling
//
// Errors are classified through EngineError. Configuration errors abort a run
// before any lane starts. Lane and artifact errors annotate individual results
// and are never returned from LaneScheduler.Run.
//
//	report, err := scheduler.Run(ctx, event)
//	if engine.IsConfigurationError(err) {
//	    os.Exit(engine.ExitConfigError)
//	}
//	os.Exit(report.ExitCode())
package engine
