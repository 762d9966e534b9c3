package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testPlan(dir, laneID string) LaneExecutionPlan {
	return LaneExecutionPlan{
		LaneID:         laneID,
		TagExpression:  "critical AND ffi",
		Concurrency:    1,
		Retries:        2,
		TimeoutMinutes: 1,
		Enabled:        true,
		ReportPath:     filepath.Join(dir, laneID+".xml"),
		ArtifactName:   "junit-" + laneID,
	}
}

func TestTestExecutor_Passes(t *testing.T) {
	runner := newMockRunner().on("ffi", laneBehavior{exitCode: 0})
	exec := NewTestExecutor(runner, zerolog.Nop())
	plan := testPlan(t.TempDir(), "ffi")

	result, err := exec.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Passed() || result.Error != nil {
		t.Errorf("Expected passing result, got %+v", result)
	}
	if result.ReportPath != plan.ReportPath || result.ArtifactName != "junit-ffi" {
		t.Errorf("Unexpected report fields: %+v", result)
	}

	inv, ok := runner.invocation("ffi")
	if !ok {
		t.Fatal("Expected runner invocation")
	}
	if inv.TagExpression != plan.TagExpression || inv.Concurrency != 1 || inv.Retries != 2 || inv.Timeout != time.Minute {
		t.Errorf("Unexpected invocation: %+v", inv)
	}
}

func TestTestExecutor_NonZeroExitIsRecorded(t *testing.T) {
	runner := newMockRunner().on("ffi", laneBehavior{exitCode: 2})
	exec := NewTestExecutor(runner, zerolog.Nop())

	result, err := exec.Execute(context.Background(), testPlan(t.TempDir(), "ffi"))
	if err != nil {
		t.Fatalf("Non-zero exit must not be an error, got %v", err)
	}
	if result.ExitCode != 2 || result.TimedOut {
		t.Errorf("Expected exit 2 without timeout, got %+v", result)
	}
	if !IsLaneFailure(result.Error) || IsLaneTimeout(result.Error) {
		t.Errorf("Expected lane failure annotation, got %v", result.Error)
	}
	if len(runner.invokedLanes()) != 1 {
		t.Errorf("Expected exactly one runner invocation, got %d", len(runner.invokedLanes()))
	}
}

func TestTestExecutor_Timeout(t *testing.T) {
	runner := newMockRunner().on("ffi", laneBehavior{delay: time.Second})
	exec := NewTestExecutor(runner, zerolog.Nop())
	exec.timeout = func(LaneExecutionPlan) time.Duration { return 20 * time.Millisecond }

	result, err := exec.Execute(context.Background(), testPlan(t.TempDir(), "ffi"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.TimedOut {
		t.Fatalf("Expected timed out result, got %+v", result)
	}
	if result.ExitCode != ExitCodeTimedOut {
		t.Errorf("Expected exit %d, got %d", ExitCodeTimedOut, result.ExitCode)
	}
	if !IsLaneTimeout(result.Error) || !IsLaneFailure(result.Error) {
		t.Errorf("Expected lane timeout annotation, got %v", result.Error)
	}
	if result.Duration >= time.Second {
		t.Errorf("Expected runner to be stopped at the timeout, took %s", result.Duration)
	}
}

func TestTestExecutor_TimeoutKeepsRunnerExitCode(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, inv Invocation) (int, error) {
		<-ctx.Done()
		return 137, ctx.Err()
	})
	exec := NewTestExecutor(runner, zerolog.Nop())
	exec.timeout = func(LaneExecutionPlan) time.Duration { return 10 * time.Millisecond }

	result, err := exec.Execute(context.Background(), testPlan(t.TempDir(), "bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !result.TimedOut || result.ExitCode != 137 {
		t.Errorf("Expected timed out with exit 137, got %+v", result)
	}
}

func TestTestExecutor_CleanExitAtDeadlineIsNotTimeout(t *testing.T) {
	for _, code := range []int{0, 1} {
		runner := runnerFunc(func(ctx context.Context, inv Invocation) (int, error) {
			<-ctx.Done()
			return code, nil
		})
		exec := NewTestExecutor(runner, zerolog.Nop())
		exec.timeout = func(LaneExecutionPlan) time.Duration { return 10 * time.Millisecond }

		result, err := exec.Execute(context.Background(), testPlan(t.TempDir(), "bin"))
		if err != nil {
			t.Fatal(err)
		}
		if result.TimedOut || result.ExitCode != code {
			t.Errorf("Expected exit %d without timeout, got %+v", code, result)
		}
		if result.Passed() != (code == 0) {
			t.Errorf("Exit %d: unexpected pass state %v", code, result.Passed())
		}
		if IsLaneTimeout(result.Error) {
			t.Errorf("Exit %d: unexpected timeout error %v", code, result.Error)
		}
	}
}

type runnerFunc func(ctx context.Context, inv Invocation) (int, error)

func (f runnerFunc) Run(ctx context.Context, inv Invocation) (int, error) { return f(ctx, inv) }

func TestTestExecutor_StartFailure(t *testing.T) {
	runner := newMockRunner().on("ffi", laneBehavior{err: errors.New("exec: \"cargo\": executable file not found")})
	exec := NewTestExecutor(runner, zerolog.Nop())

	result, err := exec.Execute(context.Background(), testPlan(t.TempDir(), "ffi"))
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != ExitCodeNotStarted {
		t.Errorf("Expected exit %d, got %d", ExitCodeNotStarted, result.ExitCode)
	}
	if !IsLaneFailure(result.Error) {
		t.Errorf("Expected lane failure, got %v", result.Error)
	}
}

func TestTestExecutor_ParentCancelled(t *testing.T) {
	runner := newMockRunner().on("ffi", laneBehavior{delay: time.Second})
	exec := NewTestExecutor(runner, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := exec.Execute(ctx, testPlan(t.TempDir(), "ffi"))
	if err != nil {
		t.Fatal(err)
	}
	if result.TimedOut {
		t.Error("Cancellation must not be reported as a timeout")
	}
	if result.ExitCode != ExitCodeInterrupted {
		t.Errorf("Expected exit %d, got %d", ExitCodeInterrupted, result.ExitCode)
	}
}

func TestTestExecutor_DisabledPlan(t *testing.T) {
	runner := newMockRunner()
	exec := NewTestExecutor(runner, zerolog.Nop())
	plan := testPlan(t.TempDir(), "ffi")
	plan.Enabled = false

	if _, err := exec.Execute(context.Background(), plan); err == nil {
		t.Fatal("Expected error for disabled plan")
	}
	if len(runner.invokedLanes()) != 0 {
		t.Error("Disabled plan must never reach the runner")
	}
}

func TestArtifactCollector_Uploads(t *testing.T) {
	dir := t.TempDir()
	report := filepath.Join(dir, "ffi.xml")
	if err := os.WriteFile(report, []byte("<testsuites/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := newMockArtifactStore()
	c := NewArtifactCollector(store, 0, zerolog.Nop())

	rec := c.Collect(context.Background(), ExecutionResult{LaneID: "ffi", ExitCode: 2, ReportPath: report, ArtifactName: "junit-ffi"})
	if !rec.Uploaded || rec.Error != nil {
		t.Fatalf("Expected upload regardless of exit code, got %+v", rec)
	}
	if rec.Location != "mock://junit-ffi" || rec.Size != int64(len("<testsuites/>")) {
		t.Errorf("Unexpected record: %+v", rec)
	}
}

func TestArtifactCollector_MissingReport(t *testing.T) {
	store := newMockArtifactStore()
	c := NewArtifactCollector(store, 0, zerolog.Nop())

	rec := c.Collect(context.Background(), ExecutionResult{
		LaneID: "ffi", ReportPath: filepath.Join(t.TempDir(), "absent.xml"), ArtifactName: "junit-ffi",
	})
	if rec.Uploaded {
		t.Error("Expected uploaded=false for missing report")
	}
	if !IsMissingReport(rec.Error) {
		t.Errorf("Expected missing report annotation, got %v", rec.Error)
	}
	if store.count() != 0 {
		t.Error("Expected no upload attempt")
	}
}

func TestArtifactCollector_UploadFailure(t *testing.T) {
	dir := t.TempDir()
	report := filepath.Join(dir, "bin.xml")
	if err := os.WriteFile(report, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := newMockArtifactStore()
	store.fail["junit-bin"] = true
	c := NewArtifactCollector(store, 0, zerolog.Nop())

	rec := c.Collect(context.Background(), ExecutionResult{LaneID: "bin", ReportPath: report, ArtifactName: "junit-bin"})
	if rec.Uploaded || !IsArtifactUploadError(rec.Error) {
		t.Errorf("Expected upload error annotation, got %+v", rec)
	}
}

func TestArtifactCollector_IgnoresCancellation(t *testing.T) {
	dir := t.TempDir()
	report := filepath.Join(dir, "bin.xml")
	if err := os.WriteFile(report, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewArtifactCollector(newMockArtifactStore(), 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := c.Collect(ctx, ExecutionResult{LaneID: "bin", ReportPath: report, ArtifactName: "junit-bin"})
	if !rec.Uploaded {
		t.Errorf("Expected upload to complete after cancellation, got %+v", rec)
	}
}
