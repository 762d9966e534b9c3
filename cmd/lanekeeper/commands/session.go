package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/lanekeeper/pkg/config"
	"github.com/openfroyo/lanekeeper/pkg/engine"
	"github.com/openfroyo/lanekeeper/pkg/policy"
	"github.com/openfroyo/lanekeeper/pkg/stores"
	"github.com/openfroyo/lanekeeper/pkg/telemetry"
	"github.com/openfroyo/lanekeeper/pkg/trigger"
)

// shutdownTimeout bounds metric pushes and trace flushes on exit.
const shutdownTimeout = 10 * time.Second

// session holds the configuration and telemetry shared by one command.
type session struct {
	cfg     *config.Config
	path    string
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	closers []func() error
}

// loadConfig loads --config, or the first default file in the working
// directory, or the built-in defaults.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		path = config.Find(".")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// newSession loads the configuration, applies overrides from command flags
// and starts telemetry.
func newSession(version string, overrides ...func(*config.Config)) (*session, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, configError(err)
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	for _, apply := range overrides {
		apply(cfg)
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(version, isCI()))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger := tel.Logger.Zerolog()
	log.Logger = logger

	logger.Debug().Str("config", path).Int("lanes", len(cfg.Lanes)).Msg("Configuration loaded")

	return &session{cfg: cfg, path: path, tel: tel, logger: logger}, nil
}

// component returns a child logger tagged with the component name.
func (s *session) component(name string) zerolog.Logger {
	return s.tel.Logger.NewComponentLogger(name).Zerolog()
}

// close releases resources in reverse order, then pushes metrics and flushes
// traces.
func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to release resource")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.tel.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// policyEngine returns nil when guardrails are disabled.
func (s *session) policyEngine(ctx context.Context) (*policy.Engine, error) {
	if !s.cfg.Policy.Enabled {
		return nil, nil
	}
	pe, err := policy.New(ctx, s.cfg.Policy, s.component("policy"))
	if err != nil {
		return nil, configError(fmt.Errorf("failed to load policies: %w", err))
	}
	return pe, nil
}

// openStore opens the run history database; nil when history is disabled.
func (s *session) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if !s.cfg.Store.Enabled {
		return nil, nil
	}
	store, err := stores.Open(ctx, s.cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	s.closers = append(s.closers, store.Close)
	return store, nil
}

// scheduler builds a lane scheduler over cfg. Nil arguments leave the
// corresponding stage out.
func (s *session) scheduler(
	cfg *config.Config,
	runner engine.Runner,
	artifacts engine.ArtifactStore,
	guard *policy.Engine,
	store *stores.SQLiteStore,
) *engine.LaneScheduler {
	opts := engine.SchedulerOptions{
		Profiles:         cfg.Profiles,
		MaxParallelLanes: cfg.MaxParallelLanes,
		UploadTimeout:    cfg.UploadTimeout(),
		Instrumentation:  s.tel,
		Logger:           s.component("engine"),
	}
	if guard != nil {
		opts.Guard = guard
	}
	if store != nil {
		opts.State = stores.NewStateManager(store)
	}
	return engine.NewLaneScheduler(cfg.Lanes, runner, artifacts, opts)
}

// triggerFlags selects the trigger event. Without --trigger the event is
// read from the CI environment.
type triggerFlags struct {
	kind    string
	cadence string
	inputs  map[string]string
	group   string
}

func (f *triggerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "trigger", "", "trigger kind: pull_request, merge_group, schedule or workflow_dispatch (default: $"+trigger.EnvEventName+")")
	cmd.Flags().StringVar(&f.cadence, "cadence", "", "cadence of a schedule trigger: daily or weekly")
	cmd.Flags().StringToStringVar(&f.inputs, "input", nil, "manual input name=value: run_binary_lane, run_ffi_lane, profile_override")
	cmd.Flags().StringVar(&f.group, "group", "", "supersede group key (default: $"+trigger.EnvWorkflow+"@$"+trigger.EnvRef+")")
}

func (f *triggerFlags) event(cfg *config.Config, logger zerolog.Logger) engine.TriggerEvent {
	if f.kind == "" {
		event := trigger.FromEnvironment(nil, nil, cfg.ScheduleTable(), logger)
		if f.group != "" {
			event.GroupKey = f.group
		}
		return event
	}

	group := f.group
	if group == "" {
		group = trigger.GroupKey(os.Getenv(trigger.EnvWorkflow), os.Getenv(trigger.EnvRef))
	}
	return trigger.FromInputs(f.kind, f.cadence, f.inputs, group)
}

// configError logs err and maps it to the configuration exit code.
func configError(err error) error {
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		for _, e := range verrs {
			log.Error().Str("path", e.Path).Str("file", e.File).Int("line", e.Line).Msg(e.Message)
		}
	} else {
		log.Error().Err(err).Msg("Configuration error")
	}
	return &ExitError{Code: engine.ExitConfigError}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
