package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/lanekeeper/pkg/engine"
	"github.com/openfroyo/lanekeeper/pkg/tagexpr"
)

// CurrentVersion is the configuration format version written by Default.
const CurrentVersion = "1"

// Default file locations.
const (
	DefaultArtifactDir = "artifacts"
	DefaultStorePath   = ".lanekeeper/history.db"
)

// DefaultRunnerCommand invokes the cucumber integration tests through cargo.
var DefaultRunnerCommand = []string{
	"cargo", "test", "--release", "--test", "cucumber", "--",
	"--tags", "{tags}",
	"--concurrency", "{concurrency}",
	"--retry", "{retries}",
	"--junit", "{report}",
}

// Default returns the built-in configuration: the binaries and ffi lanes,
// daily and weekly schedules, local artifacts and run history.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Runner: RunnerConfig{
			Command: append([]string(nil), DefaultRunnerCommand...),
			Syntax:  "cucumber",
		},
		Lanes:    engine.DefaultLanes(),
		Profiles: engine.DefaultProfiles(),
		Schedules: []Schedule{
			{Cron: "0 2 * * *", Cadence: engine.CadenceDaily},
			{Cron: "0 3 * * 6", Cadence: engine.CadenceWeekly},
		},
		Artifacts: ArtifactsConfig{
			Backend:              BackendLocal,
			Dir:                  DefaultArtifactDir,
			UploadTimeoutSeconds: int(engine.DefaultUploadTimeout / time.Second),
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    DefaultStorePath,
		},
		Policy: PolicyConfig{
			Enabled:           true,
			SerialTags:        []string{"ffi"},
			MaxRetries:        10,
			MaxTimeoutMinutes: 360,
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{Level: "info", Format: "console", Output: "stderr"},
			Metrics: MetricsConfig{Namespace: "lanekeeper", Job: "lanekeeper"},
			Tracing: TracingConfig{Exporter: "none", SamplingRate: 1.0},
		},
	}
}

// applyDefaults fills fields left blank after decoding.
func (c *Config) applyDefaults() {
	def := Default()

	if c.Version == "" {
		c.Version = def.Version
	}
	if len(c.Runner.Command) == 0 {
		c.Runner.Command = def.Runner.Command
	}
	if c.Runner.Syntax == "" {
		c.Runner.Syntax = def.Runner.Syntax
	}
	if len(c.Lanes) == 0 {
		c.Lanes = def.Lanes
	}
	if strings.TrimSpace(c.Profiles.Change) == "" {
		c.Profiles.Change = def.Profiles.Change
	}
	if strings.TrimSpace(c.Profiles.Daily) == "" {
		c.Profiles.Daily = def.Profiles.Daily
	}
	if strings.TrimSpace(c.Profiles.Weekly) == "" {
		c.Profiles.Weekly = def.Profiles.Weekly
	}
	if len(c.Schedules) == 0 {
		c.Schedules = def.Schedules
	}
	for name, r := range c.Remotes {
		if r.Port == 0 {
			r.Port = 22
		}
		if r.Auth == "" {
			r.Auth = "key"
		}
		if r.ConnectTimeoutSeconds == 0 {
			r.ConnectTimeoutSeconds = 30
		}
		c.Remotes[name] = r
	}
	if c.Artifacts.Backend == "" {
		c.Artifacts.Backend = def.Artifacts.Backend
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = def.Artifacts.Dir
	}
	if c.Artifacts.UploadTimeoutSeconds == 0 {
		c.Artifacts.UploadTimeoutSeconds = def.Artifacts.UploadTimeoutSeconds
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Policy.SerialTags == nil {
		c.Policy.SerialTags = def.Policy.SerialTags
	}
	if c.Policy.MaxRetries == 0 {
		c.Policy.MaxRetries = def.Policy.MaxRetries
	}
	if c.Policy.MaxTimeoutMinutes == 0 {
		c.Policy.MaxTimeoutMinutes = def.Policy.MaxTimeoutMinutes
	}

	tel := &c.Telemetry
	if tel.Logging.Level == "" {
		tel.Logging.Level = def.Telemetry.Logging.Level
	}
	if tel.Logging.Format == "" {
		tel.Logging.Format = def.Telemetry.Logging.Format
	}
	if tel.Logging.Output == "" {
		tel.Logging.Output = def.Telemetry.Logging.Output
	}
	if tel.Metrics.Namespace == "" {
		tel.Metrics.Namespace = def.Telemetry.Metrics.Namespace
	}
	if tel.Metrics.Job == "" {
		tel.Metrics.Job = def.Telemetry.Metrics.Job
	}
	if tel.Tracing.Exporter == "" {
		tel.Tracing.Exporter = def.Telemetry.Tracing.Exporter
	}
	if tel.Tracing.SamplingRate == 0 {
		tel.Tracing.SamplingRate = def.Telemetry.Tracing.SamplingRate
	}
}

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct constraints and cross-field rules. All problems are
// reported together as ValidationErrors.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				Path:    fieldPath(fe.Namespace()),
				Message: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
			})
		}
	}

	if err := engine.ValidateLaneSpecs(c.Lanes); err != nil {
		errs = append(errs, fromEngineError(err))
	}
	if err := c.Profiles.Validate(); err != nil {
		errs = append(errs, fromEngineError(err))
	}

	crons := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		key := normalizeCron(s.Cron)
		if crons[key] {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("schedules[%d].cron", i),
				Message: fmt.Sprintf("duplicate cron %q", s.Cron),
			})
		}
		crons[key] = true
	}

	for i, lane := range c.Lanes {
		if lane.Remote == "" {
			continue
		}
		if _, ok := c.Remotes[lane.Remote]; !ok {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("lanes[%d].remote", i),
				Message: fmt.Sprintf("unknown remote %q", lane.Remote),
			})
		}
	}

	if c.Artifacts.Backend == BackendS3 && c.Artifacts.S3.Bucket == "" {
		errs = append(errs, ValidationError{Path: "artifacts.s3.bucket", Message: "bucket is required for the s3 backend"})
	}

	for i, tag := range c.Policy.SerialTags {
		if err := tagexpr.Validate(tag); err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("policy.serial_tags[%d]", i),
				Message: err.Error(),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ScheduleTable maps normalized cron strings to cadences.
func (c *Config) ScheduleTable() map[string]engine.Cadence {
	out := make(map[string]engine.Cadence, len(c.Schedules))
	for _, s := range c.Schedules {
		out[normalizeCron(s.Cron)] = s.Cadence
	}
	return out
}

// UploadTimeout returns the artifact upload bound.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Artifacts.UploadTimeoutSeconds) * time.Second
}

// Remote returns the remote with the given name.
func (c *Config) Remote(name string) (RemoteConfig, bool) {
	r, ok := c.Remotes[name]
	return r, ok
}

func normalizeCron(cron string) string {
	return strings.Join(strings.Fields(cron), " ")
}

// fieldPath turns a validator namespace such as "Config.runner.command" into
// the configuration path "runner.command".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fromEngineError(err error) ValidationError {
	e := engine.AsEngineError(err)
	msg := e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return ValidationError{Path: e.Field, Message: msg}
}
