package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/lanekeeper/pkg/config"
	"github.com/openfroyo/lanekeeper/pkg/engine"
	"github.com/openfroyo/lanekeeper/pkg/tagexpr"
	"github.com/openfroyo/lanekeeper/pkg/transports/ssh"
)

// Router dispatches invocations to the local runner or to the SSH runner of
// the lane's remote.
type Router struct {
	local   engine.Runner
	remotes map[string]engine.Runner
}

// NewRouter creates a router over explicit runners.
func NewRouter(local engine.Runner, remotes map[string]engine.Runner) *Router {
	if remotes == nil {
		remotes = map[string]engine.Runner{}
	}
	return &Router{local: local, remotes: remotes}
}

// FromConfig builds the local runner and one SSH runner per configured
// remote. Connections are opened on first use.
func FromConfig(cfg *config.Config, output io.Writer, logger zerolog.Logger) (*Router, error) {
	opts := Options{
		Command: cfg.Runner.Command,
		Syntax:  tagexpr.Syntax(cfg.Runner.Syntax),
		WorkDir: cfg.Runner.WorkDir,
		Env:     cfg.Runner.Env,
		LogDir:  cfg.Runner.LogDir,
	}

	remotes := make(map[string]engine.Runner, len(cfg.Remotes))
	for name, rc := range cfg.Remotes {
		client, err := ssh.NewClient(SSHConfig(rc), logger)
		if err != nil {
			return nil, fmt.Errorf("remote %s: %w", name, err)
		}

		remoteOpts := opts
		remoteOpts.WorkDir = rc.WorkDir
		remotes[name] = NewSSHRunner(name, client, remoteOpts, output, logger)
	}

	return NewRouter(NewLocalRunner(opts, output, logger), remotes), nil
}

// SSHConfig maps a configured remote onto a transport configuration. The
// password is read from the environment variable the remote names.
func SSHConfig(rc config.RemoteConfig) *ssh.Config {
	cfg := ssh.DefaultConfig(rc.Host, rc.User)
	if rc.Port != 0 {
		cfg.Port = rc.Port
	}
	if rc.Auth != "" {
		cfg.AuthMethod = ssh.AuthMethod(rc.Auth)
	}
	cfg.PrivateKeyPath = rc.KeyFile
	cfg.KnownHostsPath = rc.KnownHosts
	if rc.PasswordEnv != "" {
		cfg.Password = os.Getenv(rc.PasswordEnv)
	}
	if rc.ConnectTimeoutSeconds > 0 {
		cfg.ConnectionTimeout = time.Duration(rc.ConnectTimeoutSeconds) * time.Second
	}
	return cfg
}

// ForLane returns the runner serving lanes on remote; an empty remote
// selects the local runner.
func (r *Router) ForLane(remote string) (engine.Runner, error) {
	if remote == "" {
		return r.local, nil
	}
	runner, ok := r.remotes[remote]
	if !ok {
		return nil, fmt.Errorf("unknown remote %q", remote)
	}
	return runner, nil
}

// Run implements engine.Runner.
func (r *Router) Run(ctx context.Context, inv engine.Invocation) (int, error) {
	runner, err := r.ForLane(inv.Remote)
	if err != nil {
		return -1, fmt.Errorf("lane %s: %w", inv.LaneID, err)
	}
	return runner.Run(ctx, inv)
}

// Close closes every remote connection.
func (r *Router) Close() error {
	var errs []error
	for _, runner := range r.remotes {
		if c, ok := runner.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
