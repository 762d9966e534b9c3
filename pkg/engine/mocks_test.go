package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// laneBehavior scripts what the mock runner does for one lane.
type laneBehavior struct {
	exitCode    int
	err         error
	delay       time.Duration
	skipReport  bool
	ignoreCtx   bool
	reportBytes []byte
}

// Mock runner for testing
type mockRunner struct {
	mu          sync.Mutex
	behaviors   map[string]laneBehavior
	invocations []Invocation
	running     int
	maxRunning  int
}

func newMockRunner() *mockRunner {
	return &mockRunner{behaviors: make(map[string]laneBehavior)}
}

func (m *mockRunner) on(laneID string, b laneBehavior) *mockRunner {
	m.behaviors[laneID] = b
	return m
}

func (m *mockRunner) Run(ctx context.Context, inv Invocation) (int, error) {
	m.mu.Lock()
	m.invocations = append(m.invocations, inv)
	b := m.behaviors[inv.LaneID]
	m.running++
	if m.running > m.maxRunning {
		m.maxRunning = m.running
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
	}()

	if b.delay > 0 {
		if b.ignoreCtx {
			time.Sleep(b.delay)
		} else {
			select {
			case <-time.After(b.delay):
			case <-ctx.Done():
				return -1, ctx.Err()
			}
		}
	}

	if b.err != nil {
		return b.exitCode, b.err
	}

	if !b.skipReport && inv.ReportPath != "" {
		data := b.reportBytes
		if data == nil {
			data = []byte("<testsuites/>")
		}
		if err := os.MkdirAll(filepath.Dir(inv.ReportPath), 0o755); err != nil {
			return 1, err
		}
		if err := os.WriteFile(inv.ReportPath, data, 0o644); err != nil {
			return 1, err
		}
	}

	return b.exitCode, nil
}

func (m *mockRunner) invokedLanes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.invocations))
	for _, inv := range m.invocations {
		out = append(out, inv.LaneID)
	}
	return out
}

func (m *mockRunner) invocation(laneID string) (Invocation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invocations {
		if inv.LaneID == laneID {
			return inv, true
		}
	}
	return Invocation{}, false
}

// Mock artifact store for testing
type mockArtifactStore struct {
	mu      sync.Mutex
	uploads map[string]string
	fail    map[string]bool
}

func newMockArtifactStore() *mockArtifactStore {
	return &mockArtifactStore{
		uploads: make(map[string]string),
		fail:    make(map[string]bool),
	}
}

func (m *mockArtifactStore) Upload(ctx context.Context, name, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[name] {
		return "", errors.New("bucket unavailable")
	}
	m.uploads[name] = path
	return "mock://" + name, nil
}

func (m *mockArtifactStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

// Mock state manager for testing
type mockStateManager struct {
	mu         sync.Mutex
	runs       map[string]*Run
	lanes      map[string][]LaneReport
	events     []Event
	superseded map[string]int
	failCreate bool
}

func newMockStateManager() *mockStateManager {
	return &mockStateManager{
		runs:       make(map[string]*Run),
		lanes:      make(map[string][]LaneReport),
		superseded: make(map[string]int),
	}
}

func (m *mockStateManager) SupersedeActiveRuns(ctx context.Context, groupKey, exceptRunID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, run := range m.runs {
		if id != exceptRunID && run.GroupKey == groupKey && run.Status.IsActive() {
			run.Status = RunStatusSuperseded
			n++
		}
	}
	m.superseded[groupKey] += n
	return n, nil
}

func (m *mockStateManager) CreateRun(ctx context.Context, run *Run) error {
	if m.failCreate {
		return errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *mockStateManager) CompleteRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *mockStateManager) SaveLaneResult(ctx context.Context, runID string, lane *LaneReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lanes[runID] = append(m.lanes[runID], *lane)
	return nil
}

func (m *mockStateManager) AppendEvent(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *mockStateManager) eventTypes(runID string) map[EventType]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[EventType]int)
	for _, e := range m.events {
		if e.RunID == runID {
			out[e.Type]++
		}
	}
	return out
}

// Mock plan guard for testing
type mockGuard struct {
	result *PolicyResult
	err    error
	seen   []LaneExecutionPlan
}

func (m *mockGuard) EvaluatePlan(ctx context.Context, trigger TriggerContext, plans []LaneExecutionPlan) (*PolicyResult, error) {
	m.seen = plans
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// Mock instrumentation for testing
type mockInstrumentation struct {
	NopInstrumentation
	mu       sync.Mutex
	finished map[string]string
	skipped  []string
	rejected []string
	status   string
}

func newMockInstrumentation() *mockInstrumentation {
	return &mockInstrumentation{finished: make(map[string]string)}
}

func (m *mockInstrumentation) LaneFinished(ctx context.Context, runID, laneID, outcome string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[laneID] = outcome
}

func (m *mockInstrumentation) LaneSkipped(ctx context.Context, runID, laneID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped = append(m.skipped, laneID)
}

func (m *mockInstrumentation) ConfigurationRejected(ctx context.Context, runID, code, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, code)
}

func (m *mockInstrumentation) RunFinished(ctx context.Context, runID, status string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// testLanes returns the default lanes with report paths under dir.
func testLanes(dir string) []LaneSpec {
	lanes := DefaultLanes()
	for i := range lanes {
		lanes[i].ReportPath = filepath.Join(dir, lanes[i].ID+".xml")
	}
	return lanes
}
