package engine

import (
	"testing"

	"github.com/rs/zerolog"
)

func compileEvent(t *testing.T, event TriggerEvent) (TestProfile, error) {
	t.Helper()
	tc := NewTriggerResolver(zerolog.Nop()).Resolve(event)
	return NewProfileCompiler(ProfileTable{}).Compile(tc)
}

func TestProfileCompiler_Compile(t *testing.T) {
	tests := []struct {
		name     string
		event    TriggerEvent
		expr     string
		binaries bool
		ffi      bool
	}{
		{"pull request", TriggerEvent{Kind: TriggerPullRequest}, ExprCritical, true, true},
		{"merge group", TriggerEvent{Kind: TriggerMergeGroup}, ExprCritical, true, true},
		{"daily", TriggerEvent{Kind: TriggerSchedule, CadenceID: CadenceDaily}, ExprDaily, true, false},
		{"weekly", TriggerEvent{Kind: TriggerSchedule, CadenceID: CadenceWeekly}, ExprWeekly, true, false},
		{"manual without inputs", TriggerEvent{Kind: TriggerManual}, ExprCritical, true, true},
		{"manual with unset inputs", TriggerEvent{Kind: TriggerManual, ManualInputs: &ManualInputs{}}, ExprCritical, true, true},
		{
			"manual ffi off",
			TriggerEvent{Kind: TriggerManual, ManualInputs: &ManualInputs{RunBinaryLane: ToggleOn, RunFfiLane: ToggleOff}},
			ExprCritical, true, false,
		},
		{
			"manual override",
			TriggerEvent{Kind: TriggerManual, ManualInputs: &ManualInputs{ProfileOverride: "@smoke and not @flaky"}},
			"@smoke and not @flaky", true, true,
		},
		{
			"blank override is unset",
			TriggerEvent{Kind: TriggerManual, ManualInputs: &ManualInputs{ProfileOverride: "   "}},
			ExprCritical, true, true,
		},
		{"unknown kind", TriggerEvent{Kind: "nonsense"}, ExprCritical, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := compileEvent(t, tt.event)
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			if p.TagExpression != tt.expr {
				t.Errorf("Expected expression %q, got %q", tt.expr, p.TagExpression)
			}
			if p.BinariesEnabled != tt.binaries {
				t.Errorf("Expected binaries=%v, got %v", tt.binaries, p.BinariesEnabled)
			}
			if p.FFIEnabled != tt.ffi {
				t.Errorf("Expected ffi=%v, got %v", tt.ffi, p.FFIEnabled)
			}
			if p.TagExpression == "" {
				t.Error("Tag expression must never be empty")
			}
		})
	}
}

func TestProfileCompiler_InvalidOverride(t *testing.T) {
	_, err := compileEvent(t, TriggerEvent{
		Kind:         TriggerManual,
		ManualInputs: &ManualInputs{ProfileOverride: "critical AND (NOT"},
	})
	if err == nil {
		t.Fatal("Expected error for invalid override")
	}
	if !IsConfigurationError(err) {
		t.Fatalf("Expected configuration error, got %v", err)
	}

	e := AsEngineError(err)
	if e.Code != ErrCodeInvalidTagExpression {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidTagExpression, e.Code)
	}
	if e.Field != "profile_override" || e.Value != "critical AND (NOT" {
		t.Errorf("Unexpected field/value: %s=%q", e.Field, e.Value)
	}
}

func TestProfileCompiler_Idempotent(t *testing.T) {
	tc := NewTriggerResolver(zerolog.Nop()).Resolve(TriggerEvent{
		Kind:         TriggerManual,
		ManualInputs: &ManualInputs{RunFfiLane: ToggleOff},
	})
	c := NewProfileCompiler(DefaultProfiles())

	a, err := c.Compile(tc)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Compile(tc)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("Expected identical profiles, got %+v and %+v", a, b)
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("Expected identical fingerprints")
	}
}

func TestProfileCompiler_CustomProfiles(t *testing.T) {
	c := NewProfileCompiler(ProfileTable{Daily: "nightly"})
	tc := NewTriggerResolver(zerolog.Nop()).Resolve(TriggerEvent{Kind: TriggerSchedule, CadenceID: CadenceDaily})

	p, err := c.Compile(tc)
	if err != nil {
		t.Fatal(err)
	}
	if p.TagExpression != "nightly" {
		t.Errorf("Expected custom daily expression, got %q", p.TagExpression)
	}

	tc = NewTriggerResolver(zerolog.Nop()).Resolve(TriggerEvent{Kind: TriggerPullRequest})
	p, _ = c.Compile(tc)
	if p.TagExpression != ExprCritical {
		t.Errorf("Expected blank change profile to fall back to default, got %q", p.TagExpression)
	}
}

func TestProfileTable_Validate(t *testing.T) {
	if err := DefaultProfiles().Validate(); err != nil {
		t.Errorf("Default profiles must validate: %v", err)
	}

	bad := DefaultProfiles()
	bad.Weekly = "long-running AND"
	err := bad.Validate()
	if !IsConfigurationError(err) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
	if AsEngineError(err).Field != "profiles.weekly" {
		t.Errorf("Expected field profiles.weekly, got %s", AsEngineError(err).Field)
	}
}
