package engine

import (
	"strings"

	"github.com/openfroyo/lanekeeper/pkg/tagexpr"
)

// Default profile expressions.
const (
	ExprCritical = "critical AND NOT long-running"
	ExprDaily    = "NOT long-running"
	ExprWeekly   = "long-running"
)

// ProfileTable holds the tag expression used for each trigger class.
type ProfileTable struct {
	Change string `json:"change" yaml:"change"`
	Daily  string `json:"daily" yaml:"daily"`
	Weekly string `json:"weekly" yaml:"weekly"`
}

// DefaultProfiles returns the built-in expressions.
func DefaultProfiles() ProfileTable {
	return ProfileTable{
		Change: ExprCritical,
		Daily:  ExprDaily,
		Weekly: ExprWeekly,
	}
}

// Validate checks that every expression parses.
func (t ProfileTable) Validate() error {
	entries := []struct{ field, expr string }{
		{"profiles.change", t.Change},
		{"profiles.daily", t.Daily},
		{"profiles.weekly", t.Weekly},
	}
	for _, e := range entries {
		if err := tagexpr.Validate(e.expr); err != nil {
			return NewConfigurationError("invalid profile expression", err).
				WithCode(ErrCodeInvalidTagExpression).
				WithField(e.field, e.expr)
		}
	}
	return nil
}

// ProfileCompiler maps trigger contexts to test profiles.
type ProfileCompiler struct {
	profiles ProfileTable
}

// NewProfileCompiler creates a compiler. Blank entries of profiles fall back
// to the defaults.
func NewProfileCompiler(profiles ProfileTable) *ProfileCompiler {
	def := DefaultProfiles()
	if strings.TrimSpace(profiles.Change) == "" {
		profiles.Change = def.Change
	}
	if strings.TrimSpace(profiles.Daily) == "" {
		profiles.Daily = def.Daily
	}
	if strings.TrimSpace(profiles.Weekly) == "" {
		profiles.Weekly = def.Weekly
	}
	return &ProfileCompiler{profiles: profiles}
}

// Compile derives the profile for ctx. The only failure is a manual profile
// override that does not parse, reported as a configuration error.
func (c *ProfileCompiler) Compile(ctx TriggerContext) (TestProfile, error) {
	switch ctx.Class() {
	case TriggerClassChange:
		return TestProfile{TagExpression: c.profiles.Change, FFIEnabled: true, BinariesEnabled: true}, nil

	case TriggerClassDaily:
		return TestProfile{TagExpression: c.profiles.Daily, FFIEnabled: false, BinariesEnabled: true}, nil

	case TriggerClassWeekly:
		return TestProfile{TagExpression: c.profiles.Weekly, FFIEnabled: false, BinariesEnabled: true}, nil
	}

	profile := TestProfile{TagExpression: c.profiles.Change, FFIEnabled: true, BinariesEnabled: true}
	inputs, ok := ctx.ManualInputs()
	if !ok {
		return profile, nil
	}

	profile.BinariesEnabled = inputs.RunBinaryLane.Resolve(true)
	profile.FFIEnabled = inputs.RunFfiLane.Resolve(true)

	if inputs.HasOverride() {
		if err := tagexpr.Validate(inputs.ProfileOverride); err != nil {
			return TestProfile{}, NewConfigurationError("invalid profile override", err).
				WithCode(ErrCodeInvalidTagExpression).
				WithField("profile_override", inputs.ProfileOverride)
		}
		profile.TagExpression = inputs.ProfileOverride
	}

	return profile, nil
}
