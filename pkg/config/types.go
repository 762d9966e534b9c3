package config

import (
	"fmt"
	"strings"

	"github.com/openfroyo/lanekeeper/pkg/engine"
)

// Config is the orchestrator configuration.
type Config struct {
	// Version is the configuration format version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Runner describes how the scenario test runner is invoked.
	Runner RunnerConfig `json:"runner" yaml:"runner"`

	// Lanes are the execution lanes, in dispatch order.
	Lanes []engine.LaneSpec `json:"lanes" yaml:"lanes" validate:"dive"`

	// Profiles overrides the tag expression per trigger class.
	Profiles engine.ProfileTable `json:"profiles" yaml:"profiles"`

	// Schedules maps scheduled-trigger cron strings to cadences.
	Schedules []Schedule `json:"schedules,omitempty" yaml:"schedules,omitempty" validate:"dive"`

	// MaxParallelLanes caps concurrently running lanes; zero means no cap.
	MaxParallelLanes int `json:"max_parallel_lanes,omitempty" yaml:"max_parallel_lanes,omitempty" validate:"gte=0"`

	// Remotes are SSH targets referenced by lanes.
	Remotes map[string]RemoteConfig `json:"remotes,omitempty" yaml:"remotes,omitempty" validate:"dive"`

	// Artifacts configures report uploads.
	Artifacts ArtifactsConfig `json:"artifacts" yaml:"artifacts"`

	// Store configures run history.
	Store StoreConfig `json:"store" yaml:"store"`

	// Policy configures plan guardrails.
	Policy PolicyConfig `json:"policy" yaml:"policy"`

	// Telemetry configures logs, metrics and traces.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// RunnerConfig describes the scenario test runner command.
type RunnerConfig struct {
	// Command is the argv template. Arguments may contain the placeholders
	// {tags}, {concurrency}, {retries}, {report}, {lane} and {timeout}.
	Command []string `json:"command" yaml:"command" validate:"required,min=1"`

	// Syntax selects how tag expressions are rendered for the runner.
	Syntax string `json:"syntax,omitempty" yaml:"syntax,omitempty" validate:"omitempty,oneof=canonical cucumber"`

	// WorkDir is the working directory of the runner.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`

	// Env adds environment variables to the runner process.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// LogDir receives one log file per lane; empty writes logs next to the report.
	LogDir string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
}

// Schedule binds a cron expression to a cadence.
type Schedule struct {
	Cron    string         `json:"cron" yaml:"cron" validate:"required"`
	Cadence engine.Cadence `json:"cadence" yaml:"cadence" validate:"required,oneof=daily weekly"`
}

// RemoteConfig is an SSH target for remote lanes.
type RemoteConfig struct {
	Host string `json:"host" yaml:"host" validate:"required,hostname|ip"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User string `json:"user" yaml:"user" validate:"required"`

	// Auth is password, key or agent.
	Auth string `json:"auth,omitempty" yaml:"auth,omitempty" validate:"omitempty,oneof=password key agent"`

	// KeyFile is the private key used for key auth.
	KeyFile string `json:"key_file,omitempty" yaml:"key_file,omitempty"`

	// PasswordEnv names the environment variable holding the password.
	PasswordEnv string `json:"password_env,omitempty" yaml:"password_env,omitempty"`

	// KnownHosts is the known_hosts file; empty disables host key checking.
	KnownHosts string `json:"known_hosts,omitempty" yaml:"known_hosts,omitempty"`

	// WorkDir is the remote directory the runner is started in.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`

	// ConnectTimeoutSeconds bounds the SSH handshake.
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds,omitempty" yaml:"connect_timeout_seconds,omitempty" validate:"gte=0"`
}

// Artifact backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendNone  = "none"
)

// ArtifactsConfig configures where lane reports are uploaded.
type ArtifactsConfig struct {
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty" validate:"omitempty,oneof=local s3 none"`

	// Dir is the destination of the local backend.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// UploadTimeoutSeconds bounds each upload.
	UploadTimeoutSeconds int `json:"upload_timeout_seconds,omitempty" yaml:"upload_timeout_seconds,omitempty" validate:"gte=0"`

	S3 S3Config `json:"s3,omitempty" yaml:"s3,omitempty"`
}

// S3Config configures the S3-compatible backend. Credentials come from the
// environment.
type S3Config struct {
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Bucket   string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Insecure bool   `json:"insecure,omitempty" yaml:"insecure,omitempty"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// PolicyConfig configures plan guardrails.
type PolicyConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Paths are extra .rego files or directories.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`

	// SerialTags mark scenarios that must run with concurrency 1.
	SerialTags []string `json:"serial_tags,omitempty" yaml:"serial_tags,omitempty"`

	MaxRetries        int `json:"max_retries,omitempty" yaml:"max_retries,omitempty" validate:"gte=0"`
	MaxTimeoutMinutes int `json:"max_timeout_minutes,omitempty" yaml:"max_timeout_minutes,omitempty" validate:"gte=0"`
}

// TelemetryConfig configures logs, metrics and traces.
type TelemetryConfig struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Events  EventsConfig  `json:"events,omitempty" yaml:"events,omitempty"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=console json"`
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`

	// PushURL is a Pushgateway the run pushes to when it ends.
	PushURL string `json:"push_url,omitempty" yaml:"push_url,omitempty" validate:"omitempty,url"`
	Job     string `json:"job,omitempty" yaml:"job,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Exporter     string  `json:"exporter,omitempty" yaml:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	SamplingRate float64 `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty" validate:"gte=0,lte=1"`
	Insecure     bool    `json:"insecure,omitempty" yaml:"insecure,omitempty"`
}

// EventsConfig configures where run lifecycle events are written.
type EventsConfig struct {
	// File receives one JSON event per line: a path, stdout or stderr.
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	// Log mirrors events into the log.
	Log bool `json:"log,omitempty" yaml:"log,omitempty"`

	// MinLevel drops events below this level.
	MinLevel string `json:"min_level,omitempty" yaml:"min_level,omitempty" validate:"omitempty,oneof=info warning error"`
}

// ValidationError is a configuration problem with its location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path, e.g. "lanes[1].concurrency".
	Path string `json:"path,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.File != "":
		loc = e.File + ": "
	}
	if e.Path != "" {
		return fmt.Sprintf("%s%s: %s", loc, e.Path, e.Message)
	}
	return loc + e.Message
}

// ValidationErrors collects every problem found in a configuration.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
