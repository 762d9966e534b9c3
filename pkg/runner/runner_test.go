package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/lanekeeper/pkg/config"
	"github.com/openfroyo/lanekeeper/pkg/engine"
	"github.com/openfroyo/lanekeeper/pkg/tagexpr"
	"github.com/openfroyo/lanekeeper/pkg/transports/ssh"
)

func testInvocation(dir string) engine.Invocation {
	return engine.Invocation{
		LaneID:        "ffi",
		TagExpression: "critical AND NOT long-running AND ffi",
		Concurrency:   1,
		Retries:       2,
		Timeout:       90 * time.Minute,
		ReportPath:    filepath.Join(dir, "reports", "cucumber_ffi.xml"),
	}
}

func TestExpand(t *testing.T) {
	inv := testInvocation("/tmp")
	template := []string{"cargo", "test", "--tags", "{tags}", "-c", "{concurrency}", "--retry={retries}", "--junit", "{report}", "{lane}", "{timeout}"}

	argv, err := Expand(template, tagexpr.SyntaxCucumber, inv, "out.xml")
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}

	want := []string{"cargo", "test", "--tags", "@critical and not @long-running and @ffi", "-c", "1", "--retry=2", "--junit", "out.xml", "ffi", "90"}
	if strings.Join(argv, "|") != strings.Join(want, "|") {
		t.Errorf("Unexpected argv:\n got: %q\nwant: %q", argv, want)
	}

	argv, err = Expand([]string{"{tags}"}, "", inv, "")
	if err != nil {
		t.Fatal(err)
	}
	if argv[0] != "critical AND NOT long-running AND ffi" {
		t.Errorf("Expected canonical syntax by default, got %q", argv[0])
	}
}

func TestExpand_Errors(t *testing.T) {
	inv := testInvocation("/tmp")

	if _, err := Expand(nil, tagexpr.SyntaxCanonical, inv, ""); err == nil {
		t.Error("Expected error for empty command")
	}

	inv.TagExpression = "critical AND"
	if _, err := Expand([]string{"run"}, tagexpr.SyntaxCanonical, inv, ""); err == nil {
		t.Error("Expected error for unparsable tag expression")
	}
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestLocalRunner_ExitCodeAndLog(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	inv := testInvocation(dir)

	// A stale report from an earlier run must not survive.
	if err := os.MkdirAll(filepath.Dir(inv.ReportPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inv.ReportPath, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	var output bytes.Buffer
	r := NewLocalRunner(Options{
		Command: []string{"/bin/sh", "-c", `echo "lane=$LANEKEEPER_LANE extra=$EXTRA tags={tags}"; test -f {report} && echo stale-present; exit 3`},
		Env:     map[string]string{"EXTRA": "yes"},
	}, &output, zerolog.Nop())

	code, err := r.Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 3 {
		t.Errorf("Expected exit 3, got %d", code)
	}

	logData, err := os.ReadFile(filepath.Join(filepath.Dir(inv.ReportPath), "ffi.log"))
	if err != nil {
		t.Fatalf("Expected lane log: %v", err)
	}
	want := "lane=ffi extra=yes tags=critical AND NOT long-running AND ffi\n"
	if string(logData) != want {
		t.Errorf("Unexpected log %q", logData)
	}
	if output.String() != want {
		t.Errorf("Expected output to be tee'd, got %q", output.String())
	}
}

func TestLocalRunner_WritesReport(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	inv := testInvocation(dir)

	r := NewLocalRunner(Options{
		Command: []string{"/bin/sh", "-c", `echo '<testsuites/>' > {report}`},
		LogDir:  filepath.Join(dir, "logs"),
	}, nil, zerolog.Nop())

	code, err := r.Run(context.Background(), inv)
	if err != nil || code != 0 {
		t.Fatalf("Expected clean exit, got %d (%v)", code, err)
	}
	if _, err := os.Stat(inv.ReportPath); err != nil {
		t.Errorf("Expected report: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "logs", "ffi.log")); err != nil {
		t.Errorf("Expected log in LogDir: %v", err)
	}
}

func TestLocalRunner_KillsProcessGroupOnTimeout(t *testing.T) {
	skipWithoutShell(t)
	inv := testInvocation(t.TempDir())

	r := NewLocalRunner(Options{
		Command: []string{"/bin/sh", "-c", "sleep 30 & sleep 30; wait"},
	}, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, inv)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > killGrace {
		t.Errorf("Expected the group to be killed promptly, took %v", elapsed)
	}
}

func TestLocalRunner_StartFailure(t *testing.T) {
	inv := testInvocation(t.TempDir())
	r := NewLocalRunner(Options{Command: []string{filepath.Join(t.TempDir(), "missing-runner")}}, nil, zerolog.Nop())

	code, err := r.Run(context.Background(), inv)
	if err == nil {
		t.Fatal("Expected start error")
	}
	if code != -1 {
		t.Errorf("Expected -1, got %d", code)
	}
}

// fakeHost records remote calls.
type fakeHost struct {
	mu         sync.Mutex
	connects   int
	commands   []string
	removed    []string
	downloads  []string
	runCode    int
	runErr     error
	connectErr error
	report     string
	closed     bool
}

func (h *fakeHost) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connects++
	return h.connectErr
}

func (h *fakeHost) Run(ctx context.Context, cmd string, stdout, stderr io.Writer) (int, error) {
	h.mu.Lock()
	h.commands = append(h.commands, cmd)
	h.mu.Unlock()
	fmt.Fprintln(stdout, "remote output")
	return h.runCode, h.runErr
}

func (h *fakeHost) Download(ctx context.Context, remotePath, localPath string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.downloads = append(h.downloads, remotePath+"->"+localPath)
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if h.report == "" {
		return 0, &ssh.TransportError{Op: "download", Err: os.ErrNotExist}
	}
	return int64(len(h.report)), os.WriteFile(localPath, []byte(h.report), 0o644)
}

func (h *fakeHost) Remove(ctx context.Context, remotePath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, remotePath)
	return nil
}

func (h *fakeHost) Close() error {
	h.closed = true
	return nil
}

func TestSSHRunner_Run(t *testing.T) {
	dir := t.TempDir()
	inv := testInvocation(dir)
	inv.ReportPath = filepath.Join(dir, "cucumber_ffi.xml")

	host := &fakeHost{runCode: 2, report: "<testsuites/>"}
	var output bytes.Buffer
	r := NewSSHRunner("builder", host, Options{
		Command: []string{"cargo", "test", "--tags", "{tags}", "--junit", "{report}"},
		Syntax:  tagexpr.SyntaxCucumber,
		WorkDir: "/srv/tari",
	}, &output, zerolog.Nop())

	code, err := r.Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 2 {
		t.Errorf("Expected remote exit code 2, got %d", code)
	}

	// Absolute report paths are used as-is on the remote side.
	remoteReport := inv.ReportPath
	wantCmd := "cd /srv/tari && env LANEKEEPER_LANE=ffi LANEKEEPER_REPORT=" + remoteReport +
		" cargo test --tags '@critical and not @long-running and @ffi' --junit " + remoteReport
	if len(host.commands) != 1 || host.commands[0] != wantCmd {
		t.Errorf("Unexpected command:\n got: %v\nwant: %s", host.commands, wantCmd)
	}
	if len(host.removed) != 1 || host.removed[0] != remoteReport {
		t.Errorf("Expected stale remote report removal, got %v", host.removed)
	}
	data, err := os.ReadFile(inv.ReportPath)
	if err != nil || string(data) != "<testsuites/>" {
		t.Errorf("Expected downloaded report, got %q (%v)", data, err)
	}
	if output.String() != "remote output\n" {
		t.Errorf("Unexpected output %q", output.String())
	}

	if err := r.Close(); err != nil || !host.closed {
		t.Error("Expected Close to close the host")
	}
}

func TestSSHRunner_FetchesReportAfterCancel(t *testing.T) {
	dir := t.TempDir()
	inv := testInvocation(dir)

	host := &fakeHost{runCode: -1, runErr: context.DeadlineExceeded, report: "<partial/>"}
	r := NewSSHRunner("builder", host, Options{Command: []string{"run"}}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, inv)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected runner error to pass through, got %v", err)
	}
	if len(host.downloads) != 1 {
		t.Fatalf("Expected one download attempt, got %v", host.downloads)
	}
	if _, err := os.Stat(inv.ReportPath); err != nil {
		t.Errorf("Expected report despite cancellation: %v", err)
	}
}

func TestSSHRunner_MissingReportAndConnectError(t *testing.T) {
	dir := t.TempDir()
	inv := testInvocation(dir)

	host := &fakeHost{}
	r := NewSSHRunner("builder", host, Options{Command: []string{"run"}}, nil, zerolog.Nop())
	code, err := r.Run(context.Background(), inv)
	if err != nil || code != 0 {
		t.Fatalf("Expected a missing report to be left to the collector, got %d (%v)", code, err)
	}
	if _, err := os.Stat(inv.ReportPath); !os.IsNotExist(err) {
		t.Errorf("Expected no local report, got %v", err)
	}

	host.connectErr = errors.New("connection refused")
	if _, err := r.Run(context.Background(), inv); err == nil {
		t.Error("Expected connect error")
	}
}

func TestSSHRunner_RemoteReportPath(t *testing.T) {
	r := &SSHRunner{opts: Options{WorkDir: "/srv/tari"}}
	tests := map[string]string{
		"reports/ffi.xml":      "/srv/tari/reports/ffi.xml",
		"./reports/../ffi.xml": "/srv/tari/ffi.xml",
		"/var/reports/ffi.xml": "/var/reports/ffi.xml",
	}
	for in, want := range tests {
		if got := r.remoteReportPath(in); got != want {
			t.Errorf("remoteReportPath(%q) = %q, want %q", in, got, want)
		}
	}

	r.opts.WorkDir = ""
	if got := r.remoteReportPath("reports/ffi.xml"); got != "reports/ffi.xml" {
		t.Errorf("Expected relative path without work dir, got %q", got)
	}
}

type recordingRunner struct {
	lanes []string
	code  int
}

func (r *recordingRunner) Run(ctx context.Context, inv engine.Invocation) (int, error) {
	r.lanes = append(r.lanes, inv.LaneID)
	return r.code, nil
}

func TestRouter(t *testing.T) {
	local := &recordingRunner{code: 0}
	remote := &recordingRunner{code: 1}
	router := NewRouter(local, map[string]engine.Runner{"builder": remote})

	if code, err := router.Run(context.Background(), engine.Invocation{LaneID: "binaries"}); err != nil || code != 0 {
		t.Errorf("Unexpected local result %d (%v)", code, err)
	}
	if code, err := router.Run(context.Background(), engine.Invocation{LaneID: "ffi", Remote: "builder"}); err != nil || code != 1 {
		t.Errorf("Unexpected remote result %d (%v)", code, err)
	}
	if len(local.lanes) != 1 || len(remote.lanes) != 1 || remote.lanes[0] != "ffi" {
		t.Errorf("Unexpected dispatch: local=%v remote=%v", local.lanes, remote.lanes)
	}

	if _, err := router.Run(context.Background(), engine.Invocation{LaneID: "x", Remote: "nowhere"}); err == nil {
		t.Error("Expected error for unknown remote")
	}
	if err := router.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	t.Setenv("BUILDER_PASSWORD", "hunter2")

	cfg := config.Default()
	cfg.Remotes = map[string]config.RemoteConfig{
		"builder": {Host: "10.0.0.5", Port: 2222, User: "ci", Auth: "password", PasswordEnv: "BUILDER_PASSWORD", WorkDir: "/srv/tari", ConnectTimeoutSeconds: 10},
	}

	router, err := FromConfig(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	if r, err := router.ForLane(""); err != nil {
		t.Errorf("Expected local runner: %v", err)
	} else if _, ok := r.(*LocalRunner); !ok {
		t.Errorf("Expected *LocalRunner, got %T", r)
	}

	r, err := router.ForLane("builder")
	if err != nil {
		t.Fatalf("Expected builder runner: %v", err)
	}
	sr, ok := r.(*SSHRunner)
	if !ok {
		t.Fatalf("Expected *SSHRunner, got %T", r)
	}
	if sr.opts.WorkDir != "/srv/tari" {
		t.Errorf("Expected remote work dir, got %q", sr.opts.WorkDir)
	}

	sc := SSHConfig(cfg.Remotes["builder"])
	if sc.Address() != "10.0.0.5:2222" || sc.Password != "hunter2" || sc.AuthMethod != ssh.AuthMethodPassword || sc.ConnectionTimeout != 10*time.Second {
		t.Errorf("Unexpected ssh config: %+v", sc)
	}
}
