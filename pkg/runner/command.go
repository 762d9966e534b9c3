package runner

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/openfroyo/lanekeeper/pkg/engine"
	"github.com/openfroyo/lanekeeper/pkg/tagexpr"
)

// Options describe how the runner command is built.
type Options struct {
	// Command is the argv template.
	Command []string

	// Syntax selects how tag expressions are rendered.
	Syntax tagexpr.Syntax

	// WorkDir is the working directory of the runner.
	WorkDir string

	// Env adds environment variables to the runner process.
	Env map[string]string

	// LogDir receives one <lane>.log per lane. Empty writes the log next
	// to the report.
	LogDir string
}

// Expand substitutes the placeholders of template for inv. The report
// argument is passed separately so remote runners can point it elsewhere.
func Expand(template []string, syntax tagexpr.Syntax, inv engine.Invocation, report string) ([]string, error) {
	if len(template) == 0 {
		return nil, fmt.Errorf("runner command is empty")
	}

	expr, err := tagexpr.Parse(inv.TagExpression)
	if err != nil {
		return nil, fmt.Errorf("lane %s: %w", inv.LaneID, err)
	}
	if syntax == "" {
		syntax = tagexpr.SyntaxCanonical
	}

	replacer := strings.NewReplacer(
		"{tags}", tagexpr.Render(expr, syntax),
		"{concurrency}", strconv.FormatUint(uint64(inv.Concurrency), 10),
		"{retries}", strconv.FormatUint(uint64(inv.Retries), 10),
		"{report}", report,
		"{lane}", inv.LaneID,
		"{timeout}", strconv.Itoa(int(inv.Timeout.Minutes())),
	)

	argv := make([]string, len(template))
	for i, arg := range template {
		argv[i] = replacer.Replace(arg)
	}
	return argv, nil
}

// laneEnv returns env plus the lane variables, sorted by key.
func laneEnv(env map[string]string, inv engine.Invocation, report string) map[string]string {
	out := make(map[string]string, len(env)+2)
	for k, v := range env {
		out[k] = v
	}
	out["LANEKEEPER_LANE"] = inv.LaneID
	out["LANEKEEPER_REPORT"] = report
	return out
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + env[k]
	}
	return out
}
