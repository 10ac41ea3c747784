package supervisor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Defaults applied to zero Config fields.
const (
	DefaultRestartDelay    = time.Second
	DefaultGracefulTimeout = 5 * time.Second
	killTimeout            = 5 * time.Second
	killedExitCode         = 137
)

// ErrNotRunning is returned by Restart before Start or after Stop.
var ErrNotRunning = errors.New("producer is not supervised")

// Config describes the supervised command.
type Config struct {
	Command         string
	RestartDelay    time.Duration
	MaxRestarts     int // 0 means unlimited
	GracefulTimeout time.Duration
}

type exitReason int

const (
	exitReasonExited exitReason = iota
	exitReasonShutdown
	exitReasonRestart
)

// Supervisor keeps one producer process running.
type Supervisor struct {
	cfg         Config
	args        []string
	logger      *slog.Logger
	output      *slog.Logger
	hooks       []func(Info)
	killTimeout time.Duration

	mu      sync.RWMutex
	info    Info
	cancel  context.CancelFunc
	done    chan struct{}
	restart chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithOutputLogger sends process output to logger instead of the
// supervisor's own logger.
func WithOutputLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.output = logger
	}
}

// WithStateHook registers fn to be called after every state change.
func WithStateHook(fn func(Info)) Option {
	return func(s *Supervisor) {
		s.hooks = append(s.hooks, fn)
	}
}

// New validates cfg and creates an idle supervisor.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Supervisor, error) {
	args, err := splitCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	s := &Supervisor{
		cfg:         cfg,
		args:        args,
		logger:      logger,
		output:      logger,
		killTimeout: killTimeout,
		info:        Info{Command: cfg.Command, State: StateIdle},
		restart:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Info returns a snapshot of the process state.
func (s *Supervisor) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Start launches the process and keeps it running until ctx is cancelled
// or Stop is called. Calling Start twice is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(ctx)
	}()
}

// Stop terminates the process and waits for the supervisor to exit.
func (s *Supervisor) Stop() {
	s.mu.RLock()
	cancel, done := s.cancel, s.done
	s.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Restart stops the running process and starts it again immediately.
// A restart already pending is not queued twice.
func (s *Supervisor) Restart() error {
	switch s.Info().State {
	case StateIdle, StateStopped, StateFailed:
		return ErrNotRunning
	}
	select {
	case s.restart <- struct{}{}:
		s.logger.Info("Producer restart requested")
	default:
	}
	return nil
}

func (s *Supervisor) run(ctx context.Context) {
	for {
		reason := s.runOnce(ctx)
		switch reason {
		case exitReasonShutdown:
			s.setState(StateStopped)
			return
		case exitReasonRestart:
			s.update(func(i *Info) { i.Restarts++ })
			continue
		}

		if ctx.Err() != nil {
			s.setState(StateStopped)
			return
		}
		if limit := s.cfg.MaxRestarts; limit > 0 && s.Info().Restarts >= limit {
			s.logger.Error("Producer restart limit reached", "restarts", limit)
			s.setState(StateFailed)
			return
		}

		s.update(func(i *Info) { i.Restarts++ })
		s.setState(StateWaiting)
		timer := time.NewTimer(s.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateStopped)
			return
		case <-s.restart:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// runOnce starts the process and blocks until it exits, ctx is cancelled
// or a restart is requested.
func (s *Supervisor) runOnce(ctx context.Context) exitReason {
	s.setState(StateStarting)

	cmd := exec.Command(s.args[0], s.args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.recordExit(1, err)
		return exitReasonExited
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.recordExit(1, err)
		return exitReasonExited
	}
	if err := cmd.Start(); err != nil {
		s.logger.Error("Failed to start producer", "command", s.cfg.Command, "error", err)
		s.recordExit(1, err)
		return exitReasonExited
	}

	pid := cmd.Process.Pid
	s.update(func(i *Info) {
		i.PID = pid
		i.StartedAt = time.Now()
	})
	s.setState(StateRunning)
	s.logger.Info("Producer started", "pid", pid, "command", s.cfg.Command)

	var output sync.WaitGroup
	output.Add(2)
	go s.streamOutput(&output, stdout, "stdout")
	go s.streamOutput(&output, stderr, "stderr")

	processDone := make(chan error, 1)
	go func() {
		output.Wait()
		processDone <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		s.setState(StateStopping)
		s.recordExit(s.stopProcess(pid, processDone), nil)
		return exitReasonShutdown
	case <-s.restart:
		s.setState(StateStopping)
		s.recordExit(s.stopProcess(pid, processDone), nil)
		return exitReasonRestart
	case err := <-processDone:
		code := exitCode(err)
		s.logger.Warn("Producer exited", "pid", pid, "exit_code", code)
		if code == 0 {
			err = nil
		}
		s.recordExit(code, err)
		return exitReasonExited
	}
}

// stopProcess sends SIGINT to the process group and escalates to SIGKILL
// after the graceful timeout.
func (s *Supervisor) stopProcess(pid int, processDone <-chan error) int {
	s.logger.Info("Stopping producer", "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGINT); err != nil {
		s.logger.Warn("Failed to send SIGINT", "pid", pid, "error", err)
	}

	timer := time.NewTimer(s.cfg.GracefulTimeout)
	defer timer.Stop()
	select {
	case err := <-processDone:
		return exitCode(err)
	case <-timer.C:
	}

	s.logger.Warn("Graceful shutdown timeout, forcing kill", "pid", pid, "timeout", s.cfg.GracefulTimeout)
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Error("Failed to kill producer", "pid", pid, "error", err)
	}
	select {
	case <-processDone:
	case <-time.After(s.killTimeout):
		s.logger.Error("Producer did not exit after kill signal", "pid", pid)
	}
	return killedExitCode
}

func (s *Supervisor) streamOutput(wg *sync.WaitGroup, r io.Reader, source string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch lineLevel(line) {
		case "error":
			s.output.Error(line, "source", source)
		case "warn":
			s.output.Warn(line, "source", source)
		case "debug":
			s.output.Debug(line, "source", source)
		default:
			s.output.Info(line, "source", source)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Warn("Error reading producer output", "source", source, "error", err)
	}
}

// exitCode extracts the exit status: 0 for nil, the status for ExitError
// and 1 for anything else.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
	}
	return 1
}

func (s *Supervisor) recordExit(code int, err error) {
	s.update(func(i *Info) {
		i.PID = 0
		i.LastExitCode = code
		i.LastError = ""
		if err != nil {
			i.LastError = err.Error()
		}
	})
}

func (s *Supervisor) update(fn func(*Info)) {
	s.mu.Lock()
	fn(&s.info)
	s.mu.Unlock()
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.info.State = state
	info := s.info
	s.mu.Unlock()

	for _, hook := range s.hooks {
		hook(info)
	}
}
