package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/lanekeeper/pkg/config"
	"github.com/openfroyo/lanekeeper/pkg/engine"
	"github.com/openfroyo/lanekeeper/pkg/policy"
)

// Plan output formats.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// planView is the printable form of a planned run.
type planView struct {
	Trigger     triggerView                `json:"trigger" yaml:"trigger"`
	Profile     string                     `json:"profile,omitempty" yaml:"profile,omitempty"`
	Fingerprint string                     `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Lanes       []engine.LaneExecutionPlan `json:"lanes" yaml:"lanes"`
	Error       string                     `json:"error,omitempty" yaml:"error,omitempty"`
}

type triggerView struct {
	Kind      string `json:"kind" yaml:"kind"`
	Class     string `json:"class" yaml:"class"`
	Cadence   string `json:"cadence,omitempty" yaml:"cadence,omitempty"`
	GroupKey  string `json:"group_key" yaml:"group_key"`
	Scheduled bool   `json:"scheduled" yaml:"scheduled"`
}

func newPlanView(report *engine.RunReport) planView {
	cadence, _ := report.Trigger.Cadence()
	v := planView{
		Trigger: triggerView{
			Kind:      string(report.Trigger.Kind()),
			Class:     string(report.Trigger.Class()),
			Cadence:   string(cadence),
			GroupKey:  report.Trigger.GroupKey(),
			Scheduled: report.Trigger.IsScheduled(),
		},
		Lanes: make([]engine.LaneExecutionPlan, 0, len(report.Lanes)),
	}
	if report.Profile != nil {
		v.Profile = report.Profile.TagExpression
		v.Fingerprint = report.Profile.Fingerprint()
	}
	for _, l := range report.Lanes {
		v.Lanes = append(v.Lanes, l.Plan)
	}
	if report.Error != nil {
		v.Error = report.Error.Error()
	}
	return v
}

func writePlan(w io.Writer, report *engine.RunReport, format string) error {
	v := newPlanView(report)

	switch format {
	case formatJSON:
		return writeJSON(w, v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(w, "Trigger: %s (%s), group %s\n", v.Trigger.Kind, v.Trigger.Class, v.Trigger.GroupKey)
	if v.Profile != "" {
		fmt.Fprintf(w, "Profile: %s\n", v.Profile)
	}
	if v.Error != "" {
		fmt.Fprintf(w, "Rejected: %s\n", v.Error)
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LANE\tENABLED\tCONCURRENCY\tRETRIES\tTIMEOUT\tREMOTE\tTAGS")
	for _, p := range v.Lanes {
		remote := p.Remote
		if remote == "" {
			remote = "-"
		}
		fmt.Fprintf(tw, "%s\t%t\t%d\t%d\t%dm\t%s\t%s\n",
			p.LaneID, p.Enabled, p.Concurrency, p.Retries, p.TimeoutMinutes, remote, p.TagExpression)
	}
	return tw.Flush()
}

func newPlanCommand(version string) *cobra.Command {
	var (
		tf     triggerFlags
		format string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the lane plans a trigger resolves to",
		Long: `Resolve the trigger into a test profile and print the lane plans without
running anything. Policies are evaluated, so a plan the guardrails deny is
reported as rejected.

With --watch the plan is printed again whenever the configuration file or a
custom policy changes.`,
		Example: `  # Plan a nightly run
  lanekeeper plan --trigger schedule --cadence daily

  # Plan a manual run as YAML
  lanekeeper plan --trigger workflow_dispatch --input profile_override='@smoke' -o yaml

  # Re-plan while editing the configuration
  lanekeeper plan --trigger pull_request --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if jsonOutput {
				format = formatJSON
			}
			switch format {
			case formatText, formatJSON, formatYAML:
			default:
				return fmt.Errorf("unknown output format %q", format)
			}

			s, err := newSession(version)
			if err != nil {
				return err
			}
			defer s.close()

			event := tf.event(s.cfg, s.component("trigger"))

			guard, err := s.policyEngine(ctx)
			if err != nil {
				return err
			}

			p := &planPrinter{session: s, event: event, guard: guard, format: format, out: os.Stdout}
			planErr := p.print(ctx, s.cfg)
			if !watch {
				if planErr != nil {
					return &ExitError{Code: engine.ExitConfigError}
				}
				return nil
			}

			if s.path == "" {
				return fmt.Errorf("--watch needs a configuration file")
			}
			return p.watch(ctx, s.path)
		},
	}

	tf.register(cmd)
	cmd.Flags().StringVarP(&format, "output", "o", formatText, "output format: text, json or yaml")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-plan when the configuration or policies change")

	return cmd
}

// planPrinter plans one trigger against the current configuration and
// re-plans on reloads.
type planPrinter struct {
	session *session
	event   engine.TriggerEvent
	guard   *policy.Engine
	format  string
	out     io.Writer

	mu  sync.Mutex
	cfg *config.Config
}

func (p *planPrinter) print(ctx context.Context, cfg *config.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cfg = cfg
	report, err := p.session.scheduler(cfg, nil, nil, p.guard, nil).Plan(ctx, p.event)
	if werr := writePlan(p.out, report, p.format); werr != nil {
		return werr
	}
	return err
}

func (p *planPrinter) current() *config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *planPrinter) watch(ctx context.Context, path string) error {
	logger := p.session.logger

	if p.guard != nil && len(p.session.cfg.Policy.Paths) > 0 {
		loader := policy.NewLoader(p.session.component("policy-loader"))
		err := loader.Watch(ctx, p.session.cfg.Policy.Paths, func(policies []policy.Policy) error {
			if err := p.guard.ReplaceCustomPolicies(ctx, policies); err != nil {
				return err
			}
			fmt.Fprintf(p.out, "\n--- policies reloaded ---\n")
			_ = p.print(ctx, p.current())
			return nil
		})
		if err != nil {
			return err
		}
	}

	return config.Watch(ctx, path, logger, func(cfg *config.Config, err error) {
		if err != nil {
			logger.Error().Err(err).Msg("Configuration reload failed, keeping previous plan")
			return
		}
		if p.guard != nil {
			p.guard.SetLimits(policy.LimitsFromConfig(cfg.Policy))
		}
		fmt.Fprintf(p.out, "\n--- %s reloaded ---\n", strings.TrimPrefix(path, "./"))
		_ = p.print(ctx, cfg)
	})
}
