package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database with foreign keys enforced and WAL journaling.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

const runColumns = `id, group_key, trigger_kind, trigger_class, tag_expression, status, started_at, completed_at,
	duration_ms, lanes_total, lanes_passed, lanes_failed, lanes_timed_out, lanes_skipped, lanes_cancelled,
	error, created_at, updated_at`

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	query := `INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.GroupKey,
		run.TriggerKind,
		run.TriggerClass,
		run.TagExpression,
		run.Status,
		run.StartedAt.UTC(),
		utcPtr(run.CompletedAt),
		run.DurationMs,
		run.Summary.Total,
		run.Summary.Passed,
		run.Summary.Failed,
		run.Summary.TimedOut,
		run.Summary.Skipped,
		run.Summary.Cancelled,
		run.Error,
		run.CreatedAt.UTC(),
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// CompleteRun stores the final status, timing and summary of a run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *Run) error {
	run.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE runs
		SET status = ?, tag_expression = ?, completed_at = ?, duration_ms = ?,
			lanes_total = ?, lanes_passed = ?, lanes_failed = ?, lanes_timed_out = ?,
			lanes_skipped = ?, lanes_cancelled = ?, error = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.TagExpression,
		utcPtr(run.CompletedAt),
		run.DurationMs,
		run.Summary.Total,
		run.Summary.Passed,
		run.Summary.Failed,
		run.Summary.TimedOut,
		run.Summary.Skipped,
		run.Summary.Cancelled,
		run.Error,
		run.UpdatedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	return expectRow(result, "run", run.ID)
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`
	return s.queryRuns(ctx, query, limit, offset)
}

// ListRunsByGroup lists the runs of a trigger group, most recent first.
func (s *SQLiteStore) ListRunsByGroup(ctx context.Context, groupKey string, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE group_key = ? ORDER BY started_at DESC, id LIMIT ?`
	return s.queryRuns(ctx, query, groupKey, limit)
}

func (s *SQLiteStore) queryRuns(ctx context.Context, query string, args ...interface{}) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// SupersedeActiveRuns marks pending and running runs of groupKey, other than
// exceptID, as superseded. An empty group key matches nothing.
func (s *SQLiteStore) SupersedeActiveRuns(ctx context.Context, groupKey, exceptID string) (int, error) {
	if groupKey == "" {
		return 0, nil
	}

	now := time.Now().UTC()
	query := `
		UPDATE runs
		SET status = 'superseded', completed_at = ?, updated_at = ?
		WHERE group_key = ? AND id != ? AND status IN ('pending', 'running')
	`

	result, err := s.db.ExecContext(ctx, query, now, now, groupKey, exceptID)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede runs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteRun deletes a run together with its lanes, artifacts and events.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return expectRow(result, "run", id)
}

// SaveLaneResult upserts a lane result and, when non-nil, its artifact
// record in one transaction.
func (s *SQLiteStore) SaveLaneResult(ctx context.Context, result *LaneResult, artifact *Artifact) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertLaneResult(ctx, tx, result); err != nil {
		return err
	}
	if artifact != nil {
		if err := upsertArtifact(ctx, tx, artifact); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lane result: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertLaneResult(ctx context.Context, db execer, r *LaneResult) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO lane_results (id, run_id, lane_id, outcome, tag_expression, concurrency, retries,
			timeout_minutes, enabled, remote, report_path, exit_code, timed_out, started_at, duration_ms,
			error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, lane_id) DO UPDATE SET
			outcome = excluded.outcome,
			tag_expression = excluded.tag_expression,
			concurrency = excluded.concurrency,
			retries = excluded.retries,
			timeout_minutes = excluded.timeout_minutes,
			enabled = excluded.enabled,
			remote = excluded.remote,
			report_path = excluded.report_path,
			exit_code = excluded.exit_code,
			timed_out = excluded.timed_out,
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms,
			error = excluded.error
	`

	_, err := db.ExecContext(ctx, query,
		r.ID, r.RunID, r.LaneID, r.Outcome, r.TagExpression, r.Concurrency, r.Retries,
		r.TimeoutMinutes, r.Enabled, r.Remote, r.ReportPath, r.ExitCode, r.TimedOut, utcPtr(r.StartedAt), r.DurationMs,
		r.Error, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save lane result %s: %w", r.LaneID, err)
	}
	return nil
}

const laneResultColumns = `id, run_id, lane_id, outcome, tag_expression, concurrency, retries, timeout_minutes,
	enabled, remote, report_path, exit_code, timed_out, started_at, duration_ms, error, created_at`

// ListLaneResults lists the lanes of a run in insertion order.
func (s *SQLiteStore) ListLaneResults(ctx context.Context, runID string) ([]*LaneResult, error) {
	query := `SELECT ` + laneResultColumns + ` FROM lane_results WHERE run_id = ? ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lane results: %w", err)
	}
	defer rows.Close()

	results := []*LaneResult{}
	for rows.Next() {
		r := &LaneResult{}
		var exitCode sql.NullInt64
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.LaneID, &r.Outcome, &r.TagExpression, &r.Concurrency, &r.Retries,
			&r.TimeoutMinutes, &r.Enabled, &r.Remote, &r.ReportPath, &exitCode, &r.TimedOut,
			&r.StartedAt, &r.DurationMs, &r.Error, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lane result: %w", err)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			r.ExitCode = &code
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lane results: %w", err)
	}
	return results, nil
}

// SaveArtifact upserts an artifact record.
func (s *SQLiteStore) SaveArtifact(ctx context.Context, artifact *Artifact) error {
	return upsertArtifact(ctx, s.db, artifact)
}

func upsertArtifact(ctx context.Context, db execer, a *Artifact) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO artifacts (id, run_id, lane_id, name, source_path, location, uploaded, size, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, lane_id) DO UPDATE SET
			name = excluded.name,
			source_path = excluded.source_path,
			location = excluded.location,
			uploaded = excluded.uploaded,
			size = excluded.size,
			error = excluded.error
	`

	_, err := db.ExecContext(ctx, query,
		a.ID, a.RunID, a.LaneID, a.Name, a.SourcePath, a.Location, a.Uploaded, a.Size, a.Error, a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save artifact %s: %w", a.Name, err)
	}
	return nil
}

// ListArtifacts lists the artifact records of a run.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, runID string) ([]*Artifact, error) {
	query := `
		SELECT id, run_id, lane_id, name, source_path, location, uploaded, size, error, created_at
		FROM artifacts
		WHERE run_id = ?
		ORDER BY created_at, rowid
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []*Artifact{}
	for rows.Next() {
		a := &Artifact{}
		if err := rows.Scan(
			&a.ID, &a.RunID, &a.LaneID, &a.Name, &a.SourcePath, &a.Location, &a.Uploaded, &a.Size, &a.Error, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}
	return artifacts, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO events (id, run_id, lane_id, type, level, message, details, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.RunID,
		event.LaneID,
		event.Type,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListEvents lists the timeline of a run in order of occurrence. A
// non-positive limit returns every event.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, limit, offset int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, run_id, lane_id, type, level, message, details, occurred_at
		FROM events
		WHERE run_id = ?
		ORDER BY occurred_at, rowid
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.LaneID, &e.Type, &e.Level, &e.Message, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}

	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.GroupKey,
		&run.TriggerKind,
		&run.TriggerClass,
		&run.TagExpression,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DurationMs,
		&run.Summary.Total,
		&run.Summary.Passed,
		&run.Summary.Failed,
		&run.Summary.TimedOut,
		&run.Summary.Skipped,
		&run.Summary.Cancelled,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// nullString maps "" to NULL.
func nullString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
