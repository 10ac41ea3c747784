package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestSupervisor(t *testing.T, cfg Config, opts ...Option) *Supervisor {
	t.Helper()
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 10 * time.Millisecond
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 500 * time.Millisecond
	}
	s, err := New(cfg, testLogger(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.killTimeout = 500 * time.Millisecond
	t.Cleanup(s.Stop)
	return s
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

const loopForever = `sh -c "trap 'exit 0' INT TERM; while :; do sleep 0.05; done"`

func TestGracefulStop(t *testing.T) {
	s := newTestSupervisor(t, Config{Command: loopForever})
	s.Start(context.Background())

	waitFor(t, time.Second, "running", func() bool { return s.Info().State == StateRunning })
	if s.Info().PID == 0 {
		t.Error("running process has no pid")
	}

	s.Stop()
	info := s.Info()
	if info.State != StateStopped {
		t.Errorf("state = %s, want stopped", info.State)
	}
	if info.LastExitCode != 0 {
		t.Errorf("exit code = %d, want 0", info.LastExitCode)
	}
	if info.PID != 0 {
		t.Errorf("pid = %d after stop", info.PID)
	}
}

func TestForceKillOnTimeout(t *testing.T) {
	s := newTestSupervisor(t, Config{
		Command:         `sh -c "trap '' INT; while :; do sleep 0.05; done"`,
		GracefulTimeout: 50 * time.Millisecond,
	})
	s.Start(context.Background())
	waitFor(t, time.Second, "running", func() bool { return s.Info().State == StateRunning })

	s.Stop()
	if code := s.Info().LastExitCode; code != killedExitCode {
		t.Errorf("exit code = %d, want %d", code, killedExitCode)
	}
}

func TestRestartLimit(t *testing.T) {
	var mu sync.Mutex
	var states []State
	s := newTestSupervisor(t, Config{Command: `sh -c "exit 3"`, MaxRestarts: 2},
		WithStateHook(func(i Info) {
			mu.Lock()
			states = append(states, i.State)
			mu.Unlock()
		}))
	s.Start(context.Background())

	waitFor(t, 2*time.Second, "failed", func() bool { return s.Info().State == StateFailed })
	info := s.Info()
	if info.Restarts != 2 {
		t.Errorf("restarts = %d, want 2", info.Restarts)
	}
	if info.LastExitCode != 3 {
		t.Errorf("exit code = %d, want 3", info.LastExitCode)
	}
	if info.LastError == "" {
		t.Error("expected last error for non-zero exit")
	}

	mu.Lock()
	defer mu.Unlock()
	if n := len(slices.DeleteFunc(slices.Clone(states), func(s State) bool { return s != StateStarting })); n != 3 {
		t.Errorf("started %d times, want 3 (states %v)", n, states)
	}
	if states[len(states)-1] != StateFailed {
		t.Errorf("last state = %s, want failed", states[len(states)-1])
	}
}

func TestUnlimitedRestarts(t *testing.T) {
	s := newTestSupervisor(t, Config{Command: `sh -c "exit 0"`})
	s.Start(context.Background())
	waitFor(t, 2*time.Second, "several restarts", func() bool { return s.Info().Restarts >= 3 })
}

func TestManualRestart(t *testing.T) {
	s := newTestSupervisor(t, Config{Command: loopForever})
	if err := s.Restart(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Restart before Start = %v, want ErrNotRunning", err)
	}

	s.Start(context.Background())
	waitFor(t, time.Second, "running", func() bool { return s.Info().State == StateRunning })
	first := s.Info().PID

	if err := s.Restart(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "new process", func() bool {
		i := s.Info()
		return i.State == StateRunning && i.PID != 0 && i.PID != first
	})
	if got := s.Info().Restarts; got != 1 {
		t.Errorf("restarts = %d, want 1", got)
	}
}

func TestContextCancelStops(t *testing.T) {
	s := newTestSupervisor(t, Config{Command: loopForever})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	waitFor(t, time.Second, "running", func() bool { return s.Info().State == StateRunning })

	cancel()
	waitFor(t, time.Second, "stopped", func() bool { return s.Info().State == StateStopped })
}

func TestOutputForwarded(t *testing.T) {
	var buf syncBuffer
	output := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := newTestSupervisor(t, Config{Command: `sh -c "echo hello-from-producer; echo 'warning: slow' >&2; sleep 10"`},
		WithOutputLogger(output))
	s.Start(context.Background())

	waitFor(t, time.Second, "output", func() bool {
		out := buf.String()
		return strings.Contains(out, "hello-from-producer") && strings.Contains(out, "slow")
	})
	out := buf.String()
	if !strings.Contains(out, "source=stderr") || !strings.Contains(out, "level=WARN") {
		t.Errorf("stderr line not tagged as warning:\n%s", out)
	}
}

func TestStartFailure(t *testing.T) {
	s := newTestSupervisor(t, Config{Command: "/nonexistent/producer --fps 30", MaxRestarts: 1})
	s.Start(context.Background())
	waitFor(t, time.Second, "failed", func() bool { return s.Info().State == StateFailed })
	if s.Info().LastError == "" {
		t.Error("expected start error to be recorded")
	}
}

func TestNewRejectsBadCommand(t *testing.T) {
	for _, command := range []string{"", "   ", `produce "unterminated`} {
		if _, err := New(Config{Command: command}, testLogger()); err == nil {
			t.Errorf("New(%q) succeeded", command)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"shmview produce frames", []string{"shmview", "produce", "frames"}},
		{"  a   b  ", []string{"a", "b"}},
		{`sh -c "echo hi; sleep 1"`, []string{"sh", "-c", "echo hi; sleep 1"}},
		{`a 'b "c"' d`, []string{"a", `b "c"`, "d"}},
		{`a\ b c`, []string{"a b", "c"}},
		{`a ""`, []string{"a", ""}},
		{"a\tb", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := splitCommand(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("splitCommand(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLineLevel(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"time=... level=ERROR msg=boom", "error"},
		{"Fatal: camera missing", "error"},
		{"WARNING: dropped frame", "warn"},
		{"time=... level=DEBUG msg=tick", "debug"},
		{"frame 42 written", "info"},
	}
	for _, tt := range tests {
		if got := lineLevel(tt.line); got != tt.want {
			t.Errorf("lineLevel(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}
