package stores

import (
	"context"
	"database/sql"
	"time"
)

// Run is a persisted orchestrator run.
type Run struct {
	ID            string     `json:"id"`
	GroupKey      string     `json:"group_key"`
	TriggerKind   string     `json:"trigger_kind"`
	TriggerClass  string     `json:"trigger_class"`
	TagExpression string     `json:"tag_expression,omitempty"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    int64      `json:"duration_ms"`
	Summary       Summary    `json:"summary"`
	Error         *string    `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Summary holds per-outcome lane counts of a run.
type Summary struct {
	Total     int `json:"total"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}

// LaneResult is the persisted plan and outcome of one lane.
type LaneResult struct {
	ID             string     `json:"id"`
	RunID          string     `json:"run_id"`
	LaneID         string     `json:"lane_id"`
	Outcome        string     `json:"outcome"`
	TagExpression  string     `json:"tag_expression"`
	Concurrency    int        `json:"concurrency"`
	Retries        int        `json:"retries"`
	TimeoutMinutes int        `json:"timeout_minutes"`
	Enabled        bool       `json:"enabled"`
	Remote         string     `json:"remote,omitempty"`
	ReportPath     string     `json:"report_path,omitempty"`
	ExitCode       *int       `json:"exit_code,omitempty"`
	TimedOut       bool       `json:"timed_out"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	DurationMs     int64      `json:"duration_ms"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Artifact is the persisted upload attempt of one lane report.
type Artifact struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	LaneID     string    `json:"lane_id"`
	Name       string    `json:"name"`
	SourcePath string    `json:"source_path"`
	Location   string    `json:"location,omitempty"`
	Uploaded   bool      `json:"uploaded"`
	Size       int64     `json:"size"`
	Error      *string   `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is an append-only timeline entry.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	LaneID    *string   `json:"lane_id,omitempty"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the run history persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	ListRunsByGroup(ctx context.Context, groupKey string, limit int) ([]*Run, error)
	SupersedeActiveRuns(ctx context.Context, groupKey, exceptID string) (int, error)
	DeleteRun(ctx context.Context, id string) error

	// Lane operations
	SaveLaneResult(ctx context.Context, result *LaneResult, artifact *Artifact) error
	ListLaneResults(ctx context.Context, runID string) ([]*LaneResult, error)
	SaveArtifact(ctx context.Context, artifact *Artifact) error
	ListArtifacts(ctx context.Context, runID string) ([]*Artifact, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, runID string, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

