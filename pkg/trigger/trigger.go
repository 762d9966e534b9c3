// Package trigger builds engine trigger events from the CI environment.
package trigger

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/lanekeeper/pkg/engine"
)

// Environment variables read from the CI runner.
const (
	EnvEventName = "GITHUB_EVENT_NAME"
	EnvEventPath = "GITHUB_EVENT_PATH"
	EnvRef       = "GITHUB_REF"
	EnvWorkflow  = "GITHUB_WORKFLOW"
)

// Manual input names accepted from a dispatch payload or flags.
const (
	InputRunBinaryLane   = "run_binary_lane"
	InputRunFfiLane      = "run_ffi_lane"
	InputProfileOverride = "profile_override"
)

// Getenv looks up an environment variable.
type Getenv func(key string) string

// ReadFile reads a file by path.
type ReadFile func(path string) ([]byte, error)

// payload is the subset of a CI event payload used to build an event.
type payload struct {
	Schedule string                     `json:"schedule"`
	Inputs   map[string]json.RawMessage `json:"inputs"`
}

// FromEnvironment builds a trigger event from CI environment variables. The
// schedules table maps cron strings from a schedule payload to cadences.
// Building an event never fails: a missing event name or an unknown kind is
// passed through for the resolver to map to the manual default, and an
// unreadable or malformed payload is logged and yields an event without
// cadence or inputs.
func FromEnvironment(getenv Getenv, readFile ReadFile, schedules map[string]engine.Cadence, logger zerolog.Logger) engine.TriggerEvent {
	if getenv == nil {
		getenv = os.Getenv
	}
	if readFile == nil {
		readFile = os.ReadFile
	}

	name := strings.TrimSpace(getenv(EnvEventName))
	if name == "" {
		logger.Warn().Str("env", EnvEventName).Msg("Trigger event name is not set")
	}

	kind, ok := engine.ParseTriggerKind(name)
	if !ok {
		kind = engine.TriggerKind(name)
	}

	event := engine.TriggerEvent{
		Kind:     kind,
		GroupKey: GroupKey(getenv(EnvWorkflow), getenv(EnvRef)),
	}

	p := readPayload(getenv(EnvEventPath), readFile, logger)

	switch kind {
	case engine.TriggerSchedule:
		event.CadenceID = CadenceFor(p.Schedule, schedules)
	case engine.TriggerManual:
		inputs := InputsFromPayload(p.Inputs)
		event.ManualInputs = &inputs
	}

	return event
}

func readPayload(path string, readFile ReadFile, logger zerolog.Logger) payload {
	var p payload
	if path == "" {
		return p
	}
	data, err := readFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to read event payload, ignoring inputs")
		return p
	}
	if err := json.Unmarshal(data, &p); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Malformed event payload, ignoring inputs")
		return payload{}
	}
	return p
}

// CadenceFor maps a cron expression to a cadence through schedules. A cron
// string that is itself a cadence name maps to that cadence. Unknown crons
// return the empty cadence.
func CadenceFor(cron string, schedules map[string]engine.Cadence) engine.Cadence {
	cron = strings.Join(strings.Fields(cron), " ")
	if c, ok := schedules[cron]; ok {
		return c
	}
	if c := engine.Cadence(strings.ToLower(cron)); c.Validate() == nil {
		return c
	}
	return ""
}

// InputsFromPayload reads manual inputs from a dispatch payload. Values may be
// JSON booleans or strings.
func InputsFromPayload(inputs map[string]json.RawMessage) engine.ManualInputs {
	var m engine.ManualInputs
	if len(inputs) == 0 {
		return m
	}
	m.RunBinaryLane = ParseToggle(rawString(inputs[InputRunBinaryLane]))
	m.RunFfiLane = ParseToggle(rawString(inputs[InputRunFfiLane]))
	m.ProfileOverride = rawString(inputs[InputProfileOverride])
	return m
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return "true"
		}
		return "false"
	}
	return ""
}

// ParseToggle parses a tri-state boolean. The empty string and unrecognized
// values are unset.
func ParseToggle(s string) engine.Toggle {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return engine.ToggleOn
	case "false", "0", "no", "off":
		return engine.ToggleOff
	default:
		return engine.ToggleUnset
	}
}

// GroupKey derives the supersede group of a run from its workflow and ref.
func GroupKey(workflow, ref string) string {
	workflow = strings.TrimSpace(workflow)
	ref = strings.TrimSpace(ref)
	if workflow == "" {
		workflow = engine.DefaultGroupKey
	}
	if ref == "" {
		ref = engine.DefaultGroupKey
	}
	return workflow + "@" + ref
}

// FromInputs builds a trigger event from explicit values such as CLI flags.
// inputs holds manual inputs by name; absent keys stay unset. Unknown kinds
// and cadences are kept as given so the resolver applies the manual default.
func FromInputs(kind, cadence string, inputs map[string]string, groupKey string) engine.TriggerEvent {
	k, ok := engine.ParseTriggerKind(kind)
	if !ok {
		k = engine.TriggerKind(strings.TrimSpace(kind))
	}

	event := engine.TriggerEvent{Kind: k, GroupKey: groupKey}
	switch k {
	case engine.TriggerSchedule:
		event.CadenceID = engine.Cadence(strings.ToLower(strings.TrimSpace(cadence)))
	case engine.TriggerManual:
		event.ManualInputs = &engine.ManualInputs{
			RunBinaryLane:   ParseToggle(inputs[InputRunBinaryLane]),
			RunFfiLane:      ParseToggle(inputs[InputRunFfiLane]),
			ProfileOverride: inputs[InputProfileOverride],
		}
	}
	return event
}
