package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/lanekeeper/pkg/config"
	"github.com/openfroyo/lanekeeper/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop(), DefaultLimits())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func resolve(kind engine.TriggerKind, cadence engine.Cadence) engine.TriggerContext {
	return engine.NewTriggerResolver(zerolog.Nop()).Resolve(engine.TriggerEvent{Kind: kind, CadenceID: cadence, GroupKey: "ci@main"})
}

func binariesPlan() engine.LaneExecutionPlan {
	return engine.LaneExecutionPlan{
		LaneID:         "binaries",
		TagExpression:  "critical AND NOT ffi",
		RequiredTags:   []string{"critical"},
		Concurrency:    5,
		Retries:        2,
		TimeoutMinutes: 90,
		Enabled:        true,
	}
}

func ffiPlan() engine.LaneExecutionPlan {
	return engine.LaneExecutionPlan{
		LaneID:         "ffi",
		TagExpression:  "critical AND ffi",
		RequiredTags:   []string{"critical", "ffi"},
		Concurrency:    1,
		Retries:        2,
		TimeoutMinutes: 60,
		Enabled:        true,
		Costly:         true,
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	want := []string{"lane-bounds", "scheduled-cost-control", "serial-lanes"}
	if len(policies) != len(want) {
		t.Fatalf("Expected %d built-in policies, got %d", len(want), len(policies))
	}
	for i, p := range policies {
		if p.Name != want[i] {
			t.Errorf("Policy %d: expected %s, got %s", i, want[i], p.Name)
		}
		if !p.Builtin || !p.Enabled {
			t.Errorf("Policy %s should be an enabled built-in", p.Name)
		}
	}
}

func TestEvaluatePlan_DefaultLanesAllowed(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.EvaluatePlan(context.Background(), resolve(engine.TriggerPullRequest, ""), []engine.LaneExecutionPlan{binariesPlan(), ffiPlan()})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected default lanes to be allowed, got %+v", result.Violations)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", result.Warnings)
	}
	if result.EvaluatedAt.IsZero() {
		t.Error("Expected evaluation time")
	}
}

func TestEvaluatePlan_Violations(t *testing.T) {
	tests := []struct {
		name    string
		trigger engine.TriggerContext
		mutate  func(p *engine.LaneExecutionPlan)
		policy  string
		lane    string
		allowed bool
		warn    string
	}{
		{
			name:    "zero concurrency",
			trigger: resolve(engine.TriggerPullRequest, ""),
			mutate:  func(p *engine.LaneExecutionPlan) { p.Concurrency = 0 },
			policy:  "lane-bounds",
			lane:    "binaries",
		},
		{
			name:    "too many retries",
			trigger: resolve(engine.TriggerPullRequest, ""),
			mutate:  func(p *engine.LaneExecutionPlan) { p.Retries = 11 },
			policy:  "lane-bounds",
			lane:    "binaries",
		},
		{
			name:    "timeout over limit",
			trigger: resolve(engine.TriggerPullRequest, ""),
			mutate:  func(p *engine.LaneExecutionPlan) { p.TimeoutMinutes = 361 },
			policy:  "lane-bounds",
			lane:    "binaries",
		},
		{
			name:    "no timeout warns",
			trigger: resolve(engine.TriggerPullRequest, ""),
			mutate:  func(p *engine.LaneExecutionPlan) { p.TimeoutMinutes = 0 },
			allowed: true,
			warn:    "lane binaries has no timeout",
		},
		{
			name:    "serial tag with concurrency",
			trigger: resolve(engine.TriggerPullRequest, ""),
			mutate: func(p *engine.LaneExecutionPlan) {
				p.RequiredTags = []string{"critical", "ffi"}
				p.Concurrency = 4
			},
			policy: "serial-lanes",
			lane:   "binaries",
		},
		{
			name:    "costly lane on schedule",
			trigger: resolve(engine.TriggerSchedule, engine.CadenceDaily),
			mutate:  func(p *engine.LaneExecutionPlan) { p.Costly = true },
			policy:  "scheduled-cost-control",
			lane:    "binaries",
		},
		{
			name:    "costly lane on change",
			trigger: resolve(engine.TriggerMergeGroup, ""),
			mutate:  func(p *engine.LaneExecutionPlan) { p.Costly = true },
			allowed: true,
		},
	}

	eng := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := binariesPlan()
			tt.mutate(&plan)

			result, err := eng.EvaluatePlan(context.Background(), tt.trigger, []engine.LaneExecutionPlan{plan})
			if err != nil {
				t.Fatalf("EvaluatePlan failed: %v", err)
			}
			if result.Allowed != tt.allowed {
				t.Fatalf("Expected allowed=%v, got %v (violations %+v)", tt.allowed, result.Allowed, result.Violations)
			}

			if tt.policy != "" {
				if len(result.Violations) != 1 {
					t.Fatalf("Expected one violation, got %+v", result.Violations)
				}
				v := result.Violations[0]
				if v.Policy != tt.policy || v.LaneID != tt.lane || v.Severity != string(SeverityError) {
					t.Errorf("Unexpected violation %+v", v)
				}
				if !strings.Contains(v.Message, tt.lane) {
					t.Errorf("Expected message to name the lane, got %q", v.Message)
				}
			}

			if tt.warn != "" {
				if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], tt.warn) {
					t.Errorf("Expected warning %q, got %v", tt.warn, result.Warnings)
				}
			}
		})
	}
}

func TestEvaluatePlan_DisabledPolicy(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.DisablePolicy("scheduled-cost-control"); err != nil {
		t.Fatal(err)
	}

	result, err := eng.EvaluatePlan(context.Background(), resolve(engine.TriggerSchedule, engine.CadenceWeekly), []engine.LaneExecutionPlan{ffiPlan()})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Errorf("Expected disabled policy to be skipped, got %+v", result.Violations)
	}

	if err := eng.EnablePolicy("scheduled-cost-control"); err != nil {
		t.Fatal(err)
	}
	result, err = eng.EvaluatePlan(context.Background(), resolve(engine.TriggerSchedule, engine.CadenceWeekly), []engine.LaneExecutionPlan{ffiPlan()})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("Expected re-enabled policy to deny")
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestSetLimits(t *testing.T) {
	eng := newTestEngine(t)
	eng.SetLimits(Limits{MaxRetries: 1, MaxTimeoutMinutes: 30, SerialTags: []string{"critical"}})

	result, err := eng.EvaluatePlan(context.Background(), resolve(engine.TriggerPullRequest, ""), []engine.LaneExecutionPlan{binariesPlan()})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Fatal("Expected tighter limits to deny")
	}

	policies := map[string]int{}
	for _, v := range result.Violations {
		policies[v.Policy]++
	}
	if policies["lane-bounds"] != 2 || policies["serial-lanes"] != 1 {
		t.Errorf("Unexpected violations: %+v", result.Violations)
	}
}

func TestLimitsFromConfig(t *testing.T) {
	limits := LimitsFromConfig(config.PolicyConfig{SerialTags: []string{"@ffi", " wallet ", ""}, MaxRetries: 3})
	if strings.Join(limits.SerialTags, ",") != "ffi,wallet" {
		t.Errorf("Unexpected serial tags %v", limits.SerialTags)
	}
	if limits.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", limits.MaxRetries)
	}

	def := DefaultLimits()
	if def.MaxRetries != 10 || def.MaxTimeoutMinutes != 360 {
		t.Errorf("Unexpected default limits %+v", def)
	}
}

const customRego = `package lanekeeper.custom.no_wallet

import rego.v1

# Wallet scenarios never run on pull requests.
deny contains msg if {
	some lane in input.lanes
	"wallet" in lane.required_tags
	input.trigger.class == "change"
	msg := sprintf("lane %s: wallet scenarios are not run on pull requests", [lane.id])
}
`

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_CustomPolicies(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "no-wallet.rego", customRego)
	writePolicyFile(t, dir, "remote-note.json", `{
		"name": "remote-note",
		"severity": "warning",
		"rego": "package lanekeeper.custom.remote\n\nimport rego.v1\n\ndeny contains {\"message\": sprintf(\"lane %s runs remotely\", [lane.id]), \"lane\": lane.id} if {\n\tsome lane in input.lanes\n\tlane.remote != \"\"\n}\n"
	}`)
	writePolicyFile(t, dir, "README.md", "not a policy")

	cfg := config.Default().Policy
	cfg.Paths = []string{dir}

	eng, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(eng.ListPolicies()) != 5 {
		t.Fatalf("Expected 5 policies, got %d", len(eng.ListPolicies()))
	}

	wallet := binariesPlan()
	wallet.LaneID = "wallet"
	wallet.RequiredTags = []string{"wallet"}
	wallet.Remote = "builder"

	result, err := eng.EvaluatePlan(context.Background(), resolve(engine.TriggerPullRequest, ""), []engine.LaneExecutionPlan{wallet})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Fatal("Expected custom policy to deny")
	}
	if len(result.Violations) != 1 || result.Violations[0].Policy != "no-wallet" {
		t.Errorf("Unexpected violations %+v", result.Violations)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "lane wallet runs remotely") {
		t.Errorf("Expected remote warning, got %v", result.Warnings)
	}

	p, err := eng.GetPolicy("no-wallet")
	if err != nil {
		t.Fatal(err)
	}
	if p.Description != "Wallet scenarios never run on pull requests." || p.Builtin {
		t.Errorf("Unexpected policy %+v", p)
	}
}

func TestReplaceCustomPolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.ReplaceCustomPolicies(ctx, []Policy{{Name: "no-wallet", Rego: customRego, Severity: SeverityError, Enabled: true}}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.GetPolicy("no-wallet"); err != nil {
		t.Fatal("Expected custom policy to be loaded")
	}

	err := eng.ReplaceCustomPolicies(ctx, []Policy{{Name: "broken", Rego: "package x\n\ndeny[", Enabled: true}})
	if err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("no-wallet"); err != nil {
		t.Error("A failed replacement must keep the previous custom policies")
	}

	if err := eng.ReplaceCustomPolicies(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.GetPolicy("no-wallet"); err == nil {
		t.Error("Expected custom policy to be removed")
	}
	if len(eng.ListPolicies()) != 3 {
		t.Errorf("Built-in policies must survive, got %d", len(eng.ListPolicies()))
	}
}

func TestNewPlanInput(t *testing.T) {
	in := NewPlanInput(resolve(engine.TriggerSchedule, engine.CadenceWeekly), []engine.LaneExecutionPlan{{LaneID: "binaries"}}, Limits{})

	if in.Trigger.Class != "weekly" || !in.Trigger.Scheduled || in.Trigger.Cadence != "weekly" || in.Trigger.GroupKey != "ci@main" {
		t.Errorf("Unexpected trigger input %+v", in.Trigger)
	}
	if in.Lanes[0].RequiredTags == nil || in.Limits.SerialTags == nil {
		t.Error("Expected empty lists rather than nil so policies see arrays")
	}
}
