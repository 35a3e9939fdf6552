package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ifnotnil/daemonize"
	"github.com/ifnotnil/daemonize/config"
	"github.com/ifnotnil/daemonize/internal/logging"
	"github.com/ifnotnil/daemonize/pidfile"
)

const (
	helperEnv     = "DAEMONIZE_CLI_TEST_HELPER"
	helperLockEnv = "DAEMONIZE_CLI_TEST_LOCK"
)

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "hold" {
		holdLock()
		return
	}

	goleak.VerifyTestMain(m)
}

// holdLock keeps the lock until SIGTERM, the way a running daemon does.
func holdLock() {
	ctx, cnl := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cnl()

	l, err := pidfile.Acquire(os.Getenv(helperLockEnv))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Println("locked")

	<-ctx.Done()
	_ = l.Release()
	os.Exit(0)
}

func startHolder(t *testing.T, lock string) *exec.Cmd {
	t.Helper()

	cmd := exec.Command(os.Args[0])
	cmd.Env = append(os.Environ(), helperEnv+"=hold", helperLockEnv+"="+lock)
	out, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	line, err := bufio.NewReader(out).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "locked\n", line)

	return cmd
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())

	return stdout.String(), err
}

func requireExitCode(t *testing.T, err error, code int) {
	t.Helper()

	var ee exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, code, ee.code)
}

func TestStatus(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "pid_file.pid")

	out, err := runCLI(t, "status", "--lock-path", lock)
	requireExitCode(t, err, exitNotRunning)
	assert.Equal(t, "not running\n", out)
	assert.NoFileExists(t, lock)

	l, err := pidfile.Acquire(lock)
	require.NoError(t, err)
	defer l.Release() //nolint:errcheck

	out, err = runCLI(t, "status", "--lock-path", lock)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("running (pid %d)\n", os.Getpid()), out)
}

func TestStatusStalePidFile(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "pid_file.pid")
	require.NoError(t, os.WriteFile(lock, []byte("4242"), 0o644))

	out, err := runCLI(t, "status", "--lock-path", lock)
	requireExitCode(t, err, exitNotRunning)
	assert.Equal(t, "not running\n", out)
	assert.FileExists(t, lock)
}

func TestStatusNeedsTarget(t *testing.T) {
	_, err := runCLI(t, "status")
	require.ErrorIs(t, err, errNoTarget)
}

func TestStop(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "pid_file.pid")

	out, err := runCLI(t, "stop", "--lock-path", lock)
	require.NoError(t, err)
	assert.Equal(t, "not running\n", out)

	holder := startHolder(t, lock)

	out, err = runCLI(t, "stop", "--lock-path", lock, "--wait", "10s")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("stopping (pid %d)\nstopped\n", holder.Process.Pid), out)

	require.NoError(t, holder.Wait())
	assert.NoFileExists(t, lock)
}

func TestStopStalePidFileSendsNothing(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "pid_file.pid")
	// a pid that is certainly alive, it must not be signalled
	require.NoError(t, os.WriteFile(lock, []byte(fmt.Sprint(os.Getpid())), 0o644))

	out, err := runCLI(t, "stop", "--lock-path", lock)
	require.NoError(t, err)
	assert.Equal(t, "not running\n", out)
}

func TestStartValidation(t *testing.T) {
	dir := t.TempDir()

	tests := map[string][]string{
		"no command":     {"start", "--name", "a"},
		"no name":        {"start", "--", "true"},
		"missing config": {"start", "--config", filepath.Join(dir, "missing.toml"), "--", "true"},
		"negative fd":    {"start", "--name", "a", "--keep-fd=-1", "--", "true"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := runCLI(t, args...)
			require.Error(t, err)
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.toml")
	require.NoError(t, os.WriteFile(path, []byte("[daemon]\nname = \"file\"\nlock_path = \"/run/file.pid\"\n"), 0o644))

	c := &commandContext{configFlag: path}
	lock, err := c.lockPath()
	require.NoError(t, err)
	assert.Equal(t, "/run/file.pid", lock)

	c = &commandContext{configFlag: path, nameFlag: "flag", lockPathFlag: filepath.Join(dir, "flag.pid")}
	f, err := c.load()
	require.NoError(t, err)
	assert.Equal(t, "flag", f.Daemon.Name)
	assert.Equal(t, filepath.Join(dir, "flag.pid"), f.Daemon.LockPath)

	c = &commandContext{nameFlag: "app"}
	lock, err = c.lockPath()
	require.NoError(t, err)
	assert.Equal(t, daemonize.DefaultLockPath("app"), lock)
}

func TestLoggingOptions(t *testing.T) {
	f, err := config.Load(filepath.Join("..", "..", "config", "testdata", "daemon.toml"))
	require.NoError(t, err)

	assert.Equal(t, logging.Options{
		Level:      "debug",
		Format:     "json",
		Output:     "/var/log/backup-agent/daemon.log",
		Tag:        "backup-agent",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 14,
		Compress:   false,
	}, loggingOptions(f))
}

func TestCommandActionExit(t *testing.T) {
	sh := lookPath(t, "sh")

	tests := map[string]struct {
		argv    []string
		errorFn require.ErrorAssertionFunc
	}{
		"success":   {argv: []string{sh, "-c", "exit 0"}, errorFn: require.NoError},
		"failure":   {argv: []string{sh, "-c", "exit 3"}, errorFn: require.Error},
		"not found": {argv: []string{filepath.Join(t.TempDir(), "missing")}, errorFn: require.Error},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			a := newCommandAction(tc.argv, time.Second, slog.New(slog.DiscardHandler))
			tc.errorFn(t, a.run(t.Context()))

			select {
			case <-a.done:
			default:
				t.Fatal("done is closed once the action returns")
			}
		})
	}
}

func TestCommandActionCancel(t *testing.T) {
	sleep := lookPath(t, "sleep")

	ctx, cnl := context.WithCancel(t.Context())
	a := newCommandAction([]string{sleep, "30"}, 5*time.Second, slog.New(slog.DiscardHandler))

	errCh := make(chan error, 1)
	go func() { errCh <- a.run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cnl()

	waitCTX, waitCNL := context.WithTimeout(t.Context(), 10*time.Second)
	defer waitCNL()
	a.wait(waitCTX)
	require.NoError(t, waitCTX.Err(), "the command exits on SIGTERM")
	require.NoError(t, <-errCh)
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "daemonize dev")
}

func lookPath(t *testing.T, name string) string {
	t.Helper()
	p, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}

	return p
}
