package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/lanekeeper/pkg/engine"
)

// killGrace bounds how long Wait may block on inherited pipes after the
// process group has been killed.
var killGrace = 5 * time.Second

// LocalRunner runs the scenario test runner as a child process.
type LocalRunner struct {
	opts   Options
	output io.Writer
	logger zerolog.Logger
}

// NewLocalRunner creates a local runner. Runner output is written to the
// lane log and, when output is non-nil, to output as well.
func NewLocalRunner(opts Options, output io.Writer, logger zerolog.Logger) *LocalRunner {
	return &LocalRunner{
		opts:   opts,
		output: output,
		logger: logger.With().Str("component", "local_runner").Logger(),
	}
}

// Run starts the command for inv and waits for it. The exit code of a
// finished process is returned with a nil error whatever its value. When ctx
// ends first the whole process group is killed and ctx.Err() is returned.
func (r *LocalRunner) Run(ctx context.Context, inv engine.Invocation) (int, error) {
	argv, err := Expand(r.opts.Command, r.opts.Syntax, inv, inv.ReportPath)
	if err != nil {
		return -1, err
	}

	logger := r.logger.With().Str("lane_id", inv.LaneID).Logger()

	if err := prepareReport(inv.ReportPath); err != nil {
		return -1, err
	}

	logFile, err := r.openLog(inv)
	if err != nil {
		return -1, err
	}
	defer logFile.Close()

	var out io.Writer = logFile
	if r.output != nil {
		out = io.MultiWriter(logFile, r.output)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.opts.WorkDir
	cmd.Env = append(os.Environ(), envList(laneEnv(r.opts.Env, inv, inv.ReportPath))...)
	cmd.Stdout = out
	cmd.Stderr = out
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = killGrace

	logger.Debug().Strs("argv", argv).Str("log", logFile.Name()).Msg("Starting runner")

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runErr != nil && ctx.Err() != nil {
		logger.Warn().Dur("duration", elapsed).Msg("Runner killed")
		return exitCodeOf(runErr), ctx.Err()
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			logger.Debug().Int("exit_code", exitErr.ExitCode()).Dur("duration", elapsed).Msg("Runner exited")
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("failed to run %s: %w", argv[0], runErr)
	}

	logger.Debug().Dur("duration", elapsed).Msg("Runner exited")
	return 0, nil
}

// openLog creates the lane log file.
func (r *LocalRunner) openLog(inv engine.Invocation) (*os.File, error) {
	dir := r.opts.LogDir
	if dir == "" {
		dir = filepath.Dir(inv.ReportPath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, inv.LaneID+".log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create lane log: %w", err)
	}
	return f, nil
}

// prepareReport removes a report left by an earlier run so a runner that
// crashes before writing one is reported as missing.
func prepareReport(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale report: %w", err)
	}
	return nil
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
