package stores

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/lanekeeper/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRun(id, group string, started time.Time) *Run {
	return &Run{
		ID:           id,
		GroupKey:     group,
		TriggerKind:  "pull_request",
		TriggerClass: "change",
		Status:       "running",
		StartedAt:    started,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "lane_results", "artifacts", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations again is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to open file store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected database file: %v", err)
	}
}

// TestRunCRUD tests run creation, completion and lookup
func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	run := testRun("run-001", "ci@main", started)
	run.TagExpression = "critical"
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	retrieved, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if retrieved.GroupKey != "ci@main" || retrieved.TriggerKind != "pull_request" || retrieved.Status != "running" {
		t.Errorf("unexpected run %+v", retrieved)
	}
	if !retrieved.StartedAt.Equal(started) {
		t.Errorf("expected StartedAt %v, got %v", started, retrieved.StartedAt)
	}
	if retrieved.CompletedAt != nil || retrieved.Error != nil {
		t.Error("expected no completion time or error")
	}

	completed := started.Add(3 * time.Minute)
	errMsg := "lane ffi failed"
	run.Status = "failed"
	run.CompletedAt = &completed
	run.DurationMs = 180000
	run.Summary = Summary{Total: 2, Passed: 1, Failed: 1}
	run.Error = &errMsg
	if err := store.CompleteRun(ctx, run); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	updated, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get updated run: %v", err)
	}
	if updated.Status != "failed" || updated.DurationMs != 180000 || updated.Summary != run.Summary {
		t.Errorf("unexpected completed run %+v", updated)
	}
	if updated.CompletedAt == nil || !updated.CompletedAt.Equal(completed) {
		t.Errorf("expected CompletedAt %v, got %v", completed, updated.CompletedAt)
	}
	if updated.Error == nil || *updated.Error != errMsg {
		t.Errorf("expected Error %s, got %v", errMsg, updated.Error)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.CompleteRun(ctx, testRun("missing", "", started)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.CreateRun(ctx, testRun("run-001", "", started)); err == nil {
		t.Error("expected duplicate run ID to fail")
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		group := "ci@main"
		if id == "b" {
			group = "ci@feature"
		}
		if err := store.CreateRun(ctx, testRun(id, group, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "c" || runs[2].ID != "a" {
		t.Errorf("expected newest first, got %v", runIDs(runs))
	}

	page, err := store.ListRuns(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "b" {
		t.Errorf("unexpected page %v", runIDs(page))
	}

	group, err := store.ListRunsByGroup(ctx, "ci@main", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(group) != 2 || group[0].ID != "c" || group[1].ID != "a" {
		t.Errorf("unexpected group runs %v", runIDs(group))
	}
}

func runIDs(runs []*Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}

func TestSupersedeActiveRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	finished := testRun("done", "ci@main", now)
	finished.Status = "passed"
	for _, r := range []*Run{
		testRun("old", "ci@main", now),
		testRun("other-group", "ci@feature", now),
		testRun("current", "ci@main", now),
		finished,
	} {
		if err := store.CreateRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.SupersedeActiveRuns(ctx, "ci@main", "current")
	if err != nil {
		t.Fatalf("failed to supersede: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 superseded run, got %d", n)
	}

	old, _ := store.GetRun(ctx, "old")
	if old.Status != "superseded" || old.CompletedAt == nil {
		t.Errorf("expected old run superseded, got %+v", old)
	}
	for id, want := range map[string]string{"current": "running", "other-group": "running", "done": "passed"} {
		r, _ := store.GetRun(ctx, id)
		if r.Status != want {
			t.Errorf("%s: expected %s, got %s", id, want, r.Status)
		}
	}

	if n, _ := store.SupersedeActiveRuns(ctx, "", "current"); n != 0 {
		t.Errorf("empty group key must match nothing, got %d", n)
	}
}

func TestLaneResultsAndArtifacts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	if err := store.CreateRun(ctx, testRun("run-1", "g", time.Now())); err != nil {
		t.Fatal(err)
	}

	code := 2
	errMsg := "exit 2"
	result := &LaneResult{
		RunID: "run-1", LaneID: "ffi", Outcome: "failed", TagExpression: "critical AND ffi",
		Concurrency: 1, Retries: 2, TimeoutMinutes: 60, Enabled: true, ExitCode: &code, Error: &errMsg,
	}
	artifact := &Artifact{RunID: "run-1", LaneID: "ffi", Name: "junit-ffi-cucumber", SourcePath: "reports/ffi.xml", Uploaded: true, Size: 42}

	if err := store.SaveLaneResult(ctx, result, artifact); err != nil {
		t.Fatalf("failed to save lane result: %v", err)
	}
	skipped := &LaneResult{RunID: "run-1", LaneID: "binaries", Outcome: "skipped"}
	if err := store.SaveLaneResult(ctx, skipped, nil); err != nil {
		t.Fatal(err)
	}

	// Saving again updates in place.
	result.Outcome = "timed_out"
	result.TimedOut = true
	if err := store.SaveLaneResult(ctx, result, artifact); err != nil {
		t.Fatal(err)
	}

	lanes, err := store.ListLaneResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list lanes: %v", err)
	}
	if len(lanes) != 2 {
		t.Fatalf("expected 2 lanes, got %d", len(lanes))
	}
	ffi := lanes[0]
	if ffi.LaneID != "ffi" || ffi.Outcome != "timed_out" || !ffi.TimedOut || !ffi.Enabled || ffi.Concurrency != 1 {
		t.Errorf("unexpected ffi lane %+v", ffi)
	}
	if ffi.ExitCode == nil || *ffi.ExitCode != 2 {
		t.Errorf("expected exit code 2, got %v", ffi.ExitCode)
	}
	if lanes[1].ExitCode != nil || lanes[1].Enabled {
		t.Errorf("expected skipped lane without exit code, got %+v", lanes[1])
	}

	artifacts, err := store.ListArtifacts(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 1 || !artifacts[0].Uploaded || artifacts[0].Size != 42 || artifacts[0].Name != "junit-ffi-cucumber" {
		t.Errorf("unexpected artifacts %+v", artifacts)
	}
}

func TestSaveLaneResult_Atomic(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	if err := store.CreateRun(ctx, testRun("run-1", "g", time.Now())); err != nil {
		t.Fatal(err)
	}

	// The artifact references an unknown run, so the whole save fails.
	result := &LaneResult{RunID: "run-1", LaneID: "ffi", Outcome: "passed"}
	artifact := &Artifact{RunID: "missing", LaneID: "ffi", Name: "junit"}
	if err := store.SaveLaneResult(ctx, result, artifact); err == nil {
		t.Fatal("expected foreign key violation")
	}

	lanes, err := store.ListLaneResults(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(lanes) != 0 {
		t.Errorf("expected lane result to be rolled back, got %d", len(lanes))
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	if err := store.CreateRun(ctx, testRun("run-1", "g", time.Now())); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lane := "ffi"
	details := `{"exit_code":1}`
	for i, e := range []*Event{
		{RunID: "run-1", Type: "run.started", Level: "info", Message: "started", Timestamp: base},
		{RunID: "run-1", LaneID: &lane, Type: "lane.failed", Level: "error", Message: "ffi failed", Details: &details, Timestamp: base.Add(time.Second)},
	} {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if e.ID == "" {
			t.Error("expected generated event ID")
		}
	}

	events, err := store.ListEvents(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Type != "run.started" || events[1].LaneID == nil || *events[1].LaneID != "ffi" {
		t.Errorf("unexpected events %+v", events)
	}
	if events[1].Details == nil || *events[1].Details != details {
		t.Errorf("unexpected details %v", events[1].Details)
	}

	limited, err := store.ListEvents(ctx, "run-1", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].Type != "lane.failed" {
		t.Errorf("unexpected page %+v", limited)
	}

	if err := store.AppendEvent(ctx, &Event{RunID: "missing", Type: "x", Level: "info", Message: "m"}); err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

func TestDeleteRun_Cascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	if err := store.CreateRun(ctx, testRun("run-1", "g", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveLaneResult(ctx, &LaneResult{RunID: "run-1", LaneID: "ffi", Outcome: "passed"}, &Artifact{RunID: "run-1", LaneID: "ffi", Name: "junit"}); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendEvent(ctx, &Event{RunID: "run-1", Type: "run.started", Level: "info", Message: "m"}); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	if err := store.DeleteRun(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	for _, table := range []string{"lane_results", "artifacts", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Fatal(err)
		}
		if count != 0 {
			t.Errorf("expected %s to be empty after delete, got %d", table, count)
		}
	}
}

// stubRunner passes binaries and fails ffi, writing a report for both.
type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, inv engine.Invocation) (int, error) {
	if err := os.WriteFile(inv.ReportPath, []byte("<testsuites/>"), 0o644); err != nil {
		return -1, err
	}
	if inv.LaneID == "ffi" {
		return 1, nil
	}
	return 0, nil
}

type recordingStore struct{}

func (recordingStore) Upload(ctx context.Context, name, path string) (string, error) {
	return "mem://" + name, nil
}

func TestStateManager_WithScheduler(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	lanes := engine.DefaultLanes()
	for i := range lanes {
		lanes[i].ReportPath = filepath.Join(dir, lanes[i].ID+".xml")
	}

	scheduler := engine.NewLaneScheduler(lanes, stubRunner{}, recordingStore{}, engine.SchedulerOptions{
		State:  NewStateManager(store),
		Logger: zerolog.Nop(),
	})

	report, err := scheduler.Run(ctx, engine.TriggerEvent{Kind: engine.TriggerPullRequest, GroupKey: "ci@main"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	run, err := store.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
	if run.Status != "failed" || run.GroupKey != "ci@main" || run.Summary.Total != 2 || run.Summary.Failed != 1 || run.CompletedAt == nil {
		t.Errorf("unexpected persisted run %+v", run)
	}

	results, err := store.ListLaneResults(ctx, report.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 lane results, got %d", len(results))
	}

	artifacts, err := store.ListArtifacts(ctx, report.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(artifacts))
	}
	for _, a := range artifacts {
		if !a.Uploaded || a.Location != "mem://"+a.Name {
			t.Errorf("unexpected artifact %+v", a)
		}
	}

	events, err := store.ListEvents(ctx, report.RunID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 || events[0].Type != string(engine.EventTypeRunStarted) {
		t.Errorf("expected timeline starting with run.started, got %+v", events)
	}
}

func TestConversions(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lane := &engine.LaneReport{
		Plan:    engine.LaneExecutionPlan{LaneID: "ffi", Concurrency: 1, Retries: 2, TimeoutMinutes: 60, Enabled: true, Remote: "builder"},
		Outcome: engine.LaneOutcomeTimedOut,
		Result: &engine.ExecutionResult{
			LaneID: "ffi", ExitCode: 124, TimedOut: true, StartedAt: started, Duration: 90 * time.Second,
			Error: engine.NewLaneTimeout("ffi", time.Hour),
		},
	}

	r := LaneResultFromEngine("run-1", lane)
	if r.RunID != "run-1" || r.Remote != "builder" || r.DurationMs != 90000 || !r.TimedOut || r.Error == nil {
		t.Errorf("unexpected lane result %+v", r)
	}
	if r.ExitCode == nil || *r.ExitCode != 124 || r.StartedAt == nil || !r.StartedAt.Equal(started) {
		t.Errorf("unexpected result timing %+v", r)
	}

	e, err := EventFromEngine(&engine.Event{RunID: "run-1", Type: engine.EventTypeRunStarted, Details: map[string]interface{}{"n": 1}})
	if err != nil {
		t.Fatal(err)
	}
	if e.LaneID != nil || e.Details == nil || *e.Details != `{"n":1}` {
		t.Errorf("unexpected event %+v", e)
	}

	run := RunFromEngine(&engine.Run{ID: "r", Status: engine.RunStatusRejected, Error: "bad profile", Duration: time.Second})
	if run.Status != "rejected" || run.Error == nil || run.DurationMs != 1000 {
		t.Errorf("unexpected run %+v", run)
	}
	if RunFromEngine(&engine.Run{ID: "r"}).Error != nil {
		t.Error("expected nil error for empty message")
	}
}
