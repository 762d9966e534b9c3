package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// signalGrace is how long a cancelled command gets between SIGTERM and SIGKILL.
var signalGrace = 2 * time.Second

// Run executes cmd in a new session, streaming its output to stdout and
// stderr (either may be nil). It returns the remote exit status. When ctx
// ends first the command is signalled, the session closed and ctx.Err()
// returned.
func (c *Client) Run(ctx context.Context, cmd string, stdout, stderr io.Writer) (int, error) {
	client, err := c.sshClient()
	if err != nil {
		return -1, err
	}

	session, err := client.NewSession()
	if err != nil {
		return -1, &TransportError{Op: "exec", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	defer session.Close()

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	session.Stdout = stdout
	session.Stderr = stderr

	c.logger.Debug().Str("command", cmd).Msg("Executing command")
	start := time.Now()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(signalGrace):
			_ = session.Signal(ssh.SIGKILL)
		}
		_ = session.Close()
		c.logger.Warn().Str("command", cmd).Dur("duration", time.Since(start)).Msg("Command interrupted")
		return -1, ctx.Err()
	case runErr = <-done:
	}

	code, err := exitCode(runErr)
	c.logger.Debug().
		Str("command", cmd).
		Int("exit_code", code).
		Dur("duration", time.Since(start)).
		Msg("Command finished")
	return code, err
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}

	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return -1, &TransportError{Op: "exec", Err: err, IsTemporary: true}
	}

	return -1, &TransportError{Op: "exec", Err: err}
}

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// CommandLine builds a shell command running argv in workDir with the
// extra environment variables env.
func CommandLine(workDir string, env map[string]string, argv []string) string {
	var b strings.Builder

	if workDir != "" {
		b.WriteString("cd ")
		b.WriteString(ShellQuote(workDir))
		b.WriteString(" && ")
	}

	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("env")
		for _, k := range keys {
			b.WriteString(" ")
			b.WriteString(ShellQuote(k + "=" + env[k]))
		}
		b.WriteString(" ")
	}

	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = ShellQuote(a)
	}
	b.WriteString(strings.Join(quoted, " "))

	return b.String()
}
