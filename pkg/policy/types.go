package policy

import (
	"strings"
	"time"

	"github.com/openfroyo/lanekeeper/pkg/config"
	"github.com/openfroyo/lanekeeper/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are logged but allow the run.
	SeverityWarning Severity = "warning"

	// SeverityError denies the plan.
	SeverityError Severity = "error"

	// SeverityCritical denies the plan.
	SeverityCritical Severity = "critical"
)

// Denies reports whether a violation of this severity blocks the run.
func (s Severity) Denies() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module with a deny rule.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego is the module source, in Rego v1 syntax.
	Rego string `json:"rego"`

	// Severity applies to violations that do not set their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the binary.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Limits are the configurable bounds built-in policies check against.
type Limits struct {
	MaxRetries        int      `json:"max_retries"`
	MaxTimeoutMinutes int      `json:"max_timeout_minutes"`
	SerialTags        []string `json:"serial_tags"`
}

// DefaultLimits mirrors the default policy configuration.
func DefaultLimits() Limits {
	return LimitsFromConfig(config.Default().Policy)
}

// LimitsFromConfig extracts limits from the policy configuration. Serial
// tags are stored without a leading "@".
func LimitsFromConfig(cfg config.PolicyConfig) Limits {
	tags := make([]string, 0, len(cfg.SerialTags))
	for _, t := range cfg.SerialTags {
		if t = strings.TrimPrefix(strings.TrimSpace(t), "@"); t != "" {
			tags = append(tags, t)
		}
	}
	return Limits{
		MaxRetries:        cfg.MaxRetries,
		MaxTimeoutMinutes: cfg.MaxTimeoutMinutes,
		SerialTags:        tags,
	}
}

// PlanInput is the document policies see as input.
type PlanInput struct {
	Trigger TriggerInput `json:"trigger"`
	Lanes   []LaneInput  `json:"lanes"`
	Limits  Limits       `json:"limits"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// TriggerInput describes the resolved trigger.
type TriggerInput struct {
	Class     string `json:"class"`
	Kind      string `json:"kind"`
	Scheduled bool   `json:"scheduled"`
	Cadence   string `json:"cadence,omitempty"`
	GroupKey  string `json:"group_key,omitempty"`
}

// LaneInput describes one enabled lane plan.
type LaneInput struct {
	ID             string   `json:"id"`
	TagExpression  string   `json:"tag_expression"`
	RequiredTags   []string `json:"required_tags"`
	Concurrency    uint     `json:"concurrency"`
	Retries        uint     `json:"retries"`
	TimeoutMinutes uint     `json:"timeout_minutes"`
	Remote         string   `json:"remote,omitempty"`
	Costly         bool     `json:"costly"`
}

// NewPlanInput builds the policy input for a trigger and its enabled plans.
func NewPlanInput(trigger engine.TriggerContext, plans []engine.LaneExecutionPlan, limits Limits) *PlanInput {
	in := &PlanInput{
		Trigger: TriggerInput{
			Class:     string(trigger.Class()),
			Kind:      string(trigger.Kind()),
			Scheduled: trigger.IsScheduled(),
			GroupKey:  trigger.GroupKey(),
		},
		Lanes:     make([]LaneInput, 0, len(plans)),
		Limits:    limits,
		Timestamp: time.Now().UTC(),
	}
	if cadence, ok := trigger.Cadence(); ok {
		in.Trigger.Cadence = string(cadence)
	}
	if in.Limits.SerialTags == nil {
		in.Limits.SerialTags = []string{}
	}

	for _, p := range plans {
		required := p.RequiredTags
		if required == nil {
			required = []string{}
		}
		in.Lanes = append(in.Lanes, LaneInput{
			ID:             p.LaneID,
			TagExpression:  p.TagExpression,
			RequiredTags:   required,
			Concurrency:    p.Concurrency,
			Retries:        p.Retries,
			TimeoutMinutes: p.TimeoutMinutes,
			Remote:         p.Remote,
			Costly:         p.Costly,
		})
	}
	return in
}
