package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/lanekeeper/pkg/engine"
	"github.com/openfroyo/lanekeeper/pkg/transports/ssh"
)

// fetchTimeout bounds the report download after the command ends.
var fetchTimeout = 2 * time.Minute

// RemoteHost is the part of an SSH connection the remote runner uses.
type RemoteHost interface {
	Connect(ctx context.Context) error
	Run(ctx context.Context, cmd string, stdout, stderr io.Writer) (int, error)
	Download(ctx context.Context, remotePath, localPath string) (int64, error)
	Remove(ctx context.Context, remotePath string) error
	Close() error
}

// SSHRunner runs the scenario test runner on a remote host. The report is
// written on the remote side and copied to the invocation's report path once
// the command ends, whatever its outcome.
type SSHRunner struct {
	name   string
	host   RemoteHost
	opts   Options
	output io.Writer
	logger zerolog.Logger

	connectMu sync.Mutex
}

// NewSSHRunner creates a runner for the remote called name. opts.WorkDir is
// the remote working directory; opts.LogDir is local.
func NewSSHRunner(name string, host RemoteHost, opts Options, output io.Writer, logger zerolog.Logger) *SSHRunner {
	return &SSHRunner{
		name:   name,
		host:   host,
		opts:   opts,
		output: output,
		logger: logger.With().Str("component", "ssh_runner").Str("remote", name).Logger(),
	}
}

// Run executes inv on the remote host.
func (r *SSHRunner) Run(ctx context.Context, inv engine.Invocation) (int, error) {
	remoteReport := r.remoteReportPath(inv.ReportPath)

	argv, err := Expand(r.opts.Command, r.opts.Syntax, inv, remoteReport)
	if err != nil {
		return -1, err
	}

	logger := r.logger.With().Str("lane_id", inv.LaneID).Logger()

	r.connectMu.Lock()
	err = r.host.Connect(ctx)
	r.connectMu.Unlock()
	if err != nil {
		return -1, err
	}

	if err := prepareReport(inv.ReportPath); err != nil {
		return -1, err
	}
	if err := r.host.Remove(ctx, remoteReport); err != nil {
		logger.Warn().Err(err).Str("report", remoteReport).Msg("Failed to remove stale remote report")
	}

	local := LocalRunner{opts: r.opts}
	logFile, err := local.openLog(inv)
	if err != nil {
		return -1, err
	}
	defer logFile.Close()

	var out io.Writer = logFile
	if r.output != nil {
		out = io.MultiWriter(logFile, r.output)
	}

	cmdLine := ssh.CommandLine(r.opts.WorkDir, laneEnv(r.opts.Env, inv, remoteReport), argv)
	logger.Debug().Str("command", cmdLine).Msg("Starting remote runner")

	code, runErr := r.host.Run(ctx, cmdLine, out, out)

	// Fetch the report even when the lane failed or was cut short.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
	defer cancel()
	if _, err := r.host.Download(fetchCtx, remoteReport, inv.ReportPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("report", remoteReport).Msg("Remote runner wrote no report")
		} else {
			logger.Error().Err(err).Str("report", remoteReport).Msg("Failed to download report")
		}
	}

	return code, runErr
}

// Close closes the SSH connection.
func (r *SSHRunner) Close() error {
	return r.host.Close()
}

// remoteReportPath resolves a relative report path against the remote
// working directory, since SFTP paths are relative to the login directory.
func (r *SSHRunner) remoteReportPath(report string) string {
	p := path.Clean(filepath.ToSlash(report))
	if path.IsAbs(p) || r.opts.WorkDir == "" {
		return p
	}
	return path.Join(r.opts.WorkDir, p)
}
