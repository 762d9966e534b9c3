package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TriggerKind identifies the CI event that invoked a run.
type TriggerKind string

const (
	// TriggerPullRequest is a pull-request update.
	TriggerPullRequest TriggerKind = "pull_request"

	// TriggerMergeGroup is a merge-queue check.
	TriggerMergeGroup TriggerKind = "merge_group"

	// TriggerSchedule is a cron-driven run; the cadence tells the schedules apart.
	TriggerSchedule TriggerKind = "schedule"

	// TriggerManual is a manual dispatch with optional inputs.
	TriggerManual TriggerKind = "workflow_dispatch"
)

// ParseTriggerKind accepts the CI event names and their descriptive aliases.
func ParseTriggerKind(s string) (TriggerKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pull_request", "pull-request", "pull-request-updated", "pull_request_target":
		return TriggerPullRequest, true
	case "merge_group", "merge-group", "merge-group-check":
		return TriggerMergeGroup, true
	case "schedule", "scheduled":
		return TriggerSchedule, true
	case "workflow_dispatch", "manual":
		return TriggerManual, true
	default:
		return "", false
	}
}

// Cadence distinguishes the configured recurring schedules.
type Cadence string

const (
	// CadenceDaily excludes long-running scenarios.
	CadenceDaily Cadence = "daily"

	// CadenceWeekly selects only long-running scenarios.
	CadenceWeekly Cadence = "weekly"
)

// Validate checks if the cadence is known.
func (c Cadence) Validate() error {
	switch c {
	case CadenceDaily, CadenceWeekly:
		return nil
	default:
		return fmt.Errorf("invalid cadence: %q", string(c))
	}
}

// Toggle is a tri-state boolean: unset, on or off.
type Toggle int8

const (
	// ToggleUnset means the input was not provided.
	ToggleUnset Toggle = iota

	// ToggleOn is an explicit true.
	ToggleOn

	// ToggleOff is an explicit false.
	ToggleOff
)

// ToggleOf converts a bool to an explicit toggle.
func ToggleOf(b bool) Toggle {
	if b {
		return ToggleOn
	}
	return ToggleOff
}

// Resolve returns the toggle value, or def when unset.
func (t Toggle) Resolve(def bool) bool {
	switch t {
	case ToggleOn:
		return true
	case ToggleOff:
		return false
	default:
		return def
	}
}

// IsSet reports whether the toggle carries an explicit value.
func (t Toggle) IsSet() bool {
	return t == ToggleOn || t == ToggleOff
}

func (t Toggle) String() string {
	switch t {
	case ToggleOn:
		return "true"
	case ToggleOff:
		return "false"
	default:
		return "unset"
	}
}

// MarshalJSON encodes the toggle as true, false or null.
func (t Toggle) MarshalJSON() ([]byte, error) {
	if !t.IsSet() {
		return []byte("null"), nil
	}
	return json.Marshal(t == ToggleOn)
}

// UnmarshalJSON decodes true, false or null.
func (t *Toggle) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("toggle must be a boolean or null: %w", err)
	}
	if b == nil {
		*t = ToggleUnset
		return nil
	}
	*t = ToggleOf(*b)
	return nil
}

// ManualInputs are the inputs of a manual dispatch.
type ManualInputs struct {
	// RunBinaryLane gates the binaries lane.
	RunBinaryLane Toggle `json:"run_binary_lane"`

	// RunFfiLane gates the FFI lane.
	RunFfiLane Toggle `json:"run_ffi_lane"`

	// ProfileOverride replaces the tag expression when non-blank.
	ProfileOverride string `json:"profile_override,omitempty"`
}

// HasOverride reports whether a non-blank profile override was supplied.
func (m ManualInputs) HasOverride() bool {
	return strings.TrimSpace(m.ProfileOverride) != ""
}

// TriggerEvent is the raw description of what invoked a run.
type TriggerEvent struct {
	// Kind is the event kind. Unknown values resolve to the manual default.
	Kind TriggerKind `json:"kind"`

	// CadenceID is set when Kind is schedule.
	CadenceID Cadence `json:"cadence_id,omitempty"`

	// ManualInputs is set when Kind is workflow_dispatch.
	ManualInputs *ManualInputs `json:"manual_inputs,omitempty"`

	// GroupKey identifies the trigger group (workflow and ref) for supersession.
	GroupKey string `json:"group_key,omitempty"`
}

// TriggerClass is the closed set of resolved trigger shapes.
type TriggerClass string

const (
	// TriggerClassChange covers pull-request and merge-group runs.
	TriggerClassChange TriggerClass = "change"

	// TriggerClassDaily is the daily schedule.
	TriggerClassDaily TriggerClass = "daily"

	// TriggerClassWeekly is the weekly schedule.
	TriggerClassWeekly TriggerClass = "weekly"

	// TriggerClassManual covers manual dispatches and unrecognized events.
	TriggerClassManual TriggerClass = "manual"
)

// DefaultGroupKey is used when an event carries no group key.
const DefaultGroupKey = "default"

// TriggerContext holds the resolved, immutable facts about a run's trigger.
// Values are built by TriggerResolver; the zero value is the manual default.
type TriggerContext struct {
	class    TriggerClass
	kind     TriggerKind
	cadence  Cadence
	manual   *ManualInputs
	groupKey string
}

// Class returns the resolved trigger class.
func (c TriggerContext) Class() TriggerClass {
	if c.class == "" {
		return TriggerClassManual
	}
	return c.class
}

// Kind returns the event kind the context was resolved from.
func (c TriggerContext) Kind() TriggerKind {
	if c.kind == "" {
		return TriggerManual
	}
	return c.kind
}

// IsScheduled reports whether the run came from a schedule.
func (c TriggerContext) IsScheduled() bool {
	return c.class == TriggerClassDaily || c.class == TriggerClassWeekly
}

// Cadence returns the schedule cadence, if any.
func (c TriggerContext) Cadence() (Cadence, bool) {
	return c.cadence, c.IsScheduled()
}

// ManualInputs returns a copy of the manual inputs, if any.
func (c TriggerContext) ManualInputs() (ManualInputs, bool) {
	if c.manual == nil {
		return ManualInputs{}, false
	}
	return *c.manual, true
}

// GroupKey returns the trigger group key.
func (c TriggerContext) GroupKey() string {
	if c.groupKey == "" {
		return DefaultGroupKey
	}
	return c.groupKey
}

type triggerContextJSON struct {
	Class        TriggerClass  `json:"class"`
	Kind         TriggerKind   `json:"kind"`
	Scheduled    bool          `json:"scheduled"`
	Cadence      Cadence       `json:"cadence,omitempty"`
	ManualInputs *ManualInputs `json:"manual_inputs,omitempty"`
	GroupKey     string        `json:"group_key"`
}

// MarshalJSON exposes the context for reports.
func (c TriggerContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(triggerContextJSON{
		Class:        c.Class(),
		Kind:         c.Kind(),
		Scheduled:    c.IsScheduled(),
		Cadence:      c.cadence,
		ManualInputs: c.manual,
		GroupKey:     c.GroupKey(),
	})
}

// TestProfile is the tag expression and lane switches for a run.
type TestProfile struct {
	// TagExpression selects scenarios; never empty.
	TagExpression string `json:"tag_expression"`

	// FFIEnabled gates lanes switched by LaneToggleFFI.
	FFIEnabled bool `json:"ffi_enabled"`

	// BinariesEnabled gates lanes switched by LaneToggleBinaries.
	BinariesEnabled bool `json:"binaries_enabled"`
}

// Fingerprint returns the SHA-256 of the profile's JSON encoding.
func (p TestProfile) Fingerprint() string {
	data, _ := json.Marshal(p)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Enabled reports the switch value for a lane toggle.
func (p TestProfile) Enabled(toggle LaneToggle) bool {
	if toggle == LaneToggleBinaries {
		return p.BinariesEnabled
	}
	return p.FFIEnabled
}

// LaneToggle names the profile switch that gates a lane.
type LaneToggle string

const (
	// LaneToggleBinaries is the binaries switch.
	LaneToggleBinaries LaneToggle = "binaries"

	// LaneToggleFFI is the FFI switch.
	LaneToggleFFI LaneToggle = "ffi"
)

// BinariesLaneID is the lane implicitly gated by the binaries switch.
const BinariesLaneID = "binaries"

// LaneSpec is the static configuration of one lane.
type LaneSpec struct {
	// ID is the lane identifier.
	ID string `json:"id" yaml:"id"`

	// TagFilterSuffix is ANDed onto the profile expression.
	TagFilterSuffix string `json:"tag_filter_suffix,omitempty" yaml:"tag_filter_suffix,omitempty"`

	// Concurrency is the runner's scenario parallelism.
	Concurrency uint `json:"concurrency" yaml:"concurrency"`

	// Retries is the runner's per-scenario retry count.
	Retries uint `json:"retries" yaml:"retries"`

	// TimeoutMinutes bounds the lane; zero means unbounded.
	TimeoutMinutes uint `json:"timeout_minutes" yaml:"timeout_minutes"`

	// Toggle names the profile switch gating this lane. Empty derives it from ID.
	Toggle LaneToggle `json:"toggle,omitempty" yaml:"toggle,omitempty"`

	// ReportPath is where the runner writes its report.
	ReportPath string `json:"report_path,omitempty" yaml:"report_path,omitempty"`

	// ArtifactName is the name the report is uploaded under.
	ArtifactName string `json:"artifact_name,omitempty" yaml:"artifact_name,omitempty"`

	// Remote is an SSH target name; empty runs the lane locally.
	Remote string `json:"remote,omitempty" yaml:"remote,omitempty"`

	// Costly marks lanes excluded from scheduled runs by policy.
	Costly bool `json:"costly,omitempty" yaml:"costly,omitempty"`
}

// Switch returns the profile switch gating the lane.
func (s LaneSpec) Switch() LaneToggle {
	if s.Toggle != "" {
		return s.Toggle
	}
	if s.ID == BinariesLaneID {
		return LaneToggleBinaries
	}
	return LaneToggleFFI
}

// Timeout returns the lane time bound.
func (s LaneSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// Report returns the report path, defaulting to reports/<id>-junit.xml.
func (s LaneSpec) Report() string {
	if s.ReportPath != "" {
		return s.ReportPath
	}
	return filepath.Join("reports", s.ID+"-junit.xml")
}

// Artifact returns the artifact name, defaulting to junit-<id>.
func (s LaneSpec) Artifact() string {
	if s.ArtifactName != "" {
		return s.ArtifactName
	}
	return "junit-" + s.ID
}

// LaneExecutionPlan is one lane's fully resolved execution parameters.
type LaneExecutionPlan struct {
	LaneID         string   `json:"lane_id" yaml:"lane_id"`
	TagExpression  string   `json:"tag_expression" yaml:"tag_expression"`
	RequiredTags   []string `json:"required_tags,omitempty" yaml:"required_tags,omitempty"`
	Concurrency    uint     `json:"concurrency" yaml:"concurrency"`
	Retries        uint     `json:"retries" yaml:"retries"`
	TimeoutMinutes uint     `json:"timeout_minutes" yaml:"timeout_minutes"`
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	ReportPath     string   `json:"report_path" yaml:"report_path"`
	ArtifactName   string   `json:"artifact_name" yaml:"artifact_name"`
	Remote         string   `json:"remote,omitempty" yaml:"remote,omitempty"`
	Costly         bool     `json:"costly,omitempty" yaml:"costly,omitempty"`
}

// Timeout returns the lane time bound.
func (p LaneExecutionPlan) Timeout() time.Duration {
	return time.Duration(p.TimeoutMinutes) * time.Minute
}

// ExecutionResult is the outcome of running one enabled lane.
type ExecutionResult struct {
	// LaneID is the lane this result belongs to.
	LaneID string `json:"lane_id"`

	// ExitCode is the runner's terminal exit code, or a synthetic one.
	ExitCode int `json:"exit_code"`

	// ReportPath is where the runner was told to write its report.
	ReportPath string `json:"report_path"`

	// ArtifactName is the name the report is uploaded under.
	ArtifactName string `json:"artifact_name"`

	// TimedOut is set when the lane was terminated after its timeout.
	TimedOut bool `json:"timed_out"`

	// StartedAt is when the runner was invoked.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall-clock lane duration.
	Duration time.Duration `json:"duration"`

	// DurationMs is Duration in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// Error annotates failures; nil when the lane passed.
	Error *EngineError `json:"error,omitempty"`
}

// Passed reports whether the lane passed.
func (r ExecutionResult) Passed() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// ArtifactRecord is the outcome of collecting one lane's report.
type ArtifactRecord struct {
	LaneID       string       `json:"lane_id"`
	ArtifactName string       `json:"artifact_name"`
	SourcePath   string       `json:"source_path"`
	Location     string       `json:"location,omitempty"`
	Uploaded     bool         `json:"uploaded"`
	Size         int64        `json:"size,omitempty"`
	Error        *EngineError `json:"error,omitempty"`
}

// Event represents a timeline event during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id"`

	// LaneID is the ID of the lane, if applicable.
	LaneID string `json:"lane_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}

// Run is the persisted record of one orchestrator run.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// GroupKey identifies runs that supersede each other.
	GroupKey string `json:"group_key"`

	// Trigger is the event kind.
	Trigger TriggerKind `json:"trigger"`

	// Class is the resolved trigger class.
	Class TriggerClass `json:"class"`

	// TagExpression is the profile expression, empty when rejected before compile.
	TagExpression string `json:"tag_expression,omitempty"`

	// Status is the current status of the run.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Summary provides per-outcome lane counts.
	Summary RunSummary `json:"summary"`

	// Error is the configuration error message for rejected runs.
	Error string `json:"error,omitempty"`
}

// RunSummary provides statistics about a run.
type RunSummary struct {
	Total     int `json:"total"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}
