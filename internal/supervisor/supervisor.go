// Package supervisor owns the server lifecycle: start, graceful stop with a
// kill fallback, restart and console commands.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/craftvisor/internal/console"
	"github.com/loykin/craftvisor/internal/errs"
	"github.com/loykin/craftvisor/internal/event"
	"github.com/loykin/craftvisor/internal/metrics"
	"github.com/loykin/craftvisor/internal/process"
	"github.com/loykin/craftvisor/internal/state"
	"github.com/loykin/craftvisor/internal/status"
)

const (
	DefaultStopCommand   = "stop"
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultRestartMargin = 5 * time.Second
	DefaultKillWait      = 5 * time.Second
	DefaultWriteTimeout  = process.DefaultWriteTimeout
)

// Stop outcomes, also used as the stops_total label.
const (
	OutcomeGraceful = "graceful"
	OutcomeKilled   = "killed"
	OutcomeNoHandle = "no_handle"
	OutcomeForced   = "forced"
)

type Config struct {
	StopCommand   string        `mapstructure:"stop_command"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RestartMargin time.Duration `mapstructure:"restart_margin"`
	KillWait      time.Duration `mapstructure:"kill_wait"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

func (c Config) withDefaults() Config {
	if c.StopCommand == "" {
		c.StopCommand = DefaultStopCommand
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RestartMargin <= 0 {
		c.RestartMargin = DefaultRestartMargin
	}
	if c.KillWait <= 0 {
		c.KillWait = DefaultKillWait
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Supervisor drives the lifecycle of a single server process.
type Supervisor struct {
	cfg     Config
	st      *state.Shared
	console *console.Monitor
	bus     event.Sender
	logger  *slog.Logger

	// waitExit waits for a stopping process; replaced in tests.
	waitExit func(h *process.Handle, timeout time.Duration) string
}

func New(cfg Config, st *state.Shared, mon *console.Monitor, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if mon == nil {
		mon = console.NewMonitor(st, st.Bus(), nil, console.WithLogger(logger))
	}
	s := &Supervisor{cfg: cfg.withDefaults(), st: st, console: mon, bus: st.Bus(), logger: logger}
	s.waitExit = s.awaitExit
	return s
}

func (s *Supervisor) Status() status.Status { return s.st.Status() }

func (s *Supervisor) Metrics() metrics.Snapshot { return s.st.Metrics() }

// State exposes the shared state the supervisor mutates.
func (s *Supervisor) State() *state.Shared { return s.st }

// Start spawns the server. It returns once the process is running, not once
// the server has finished loading.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run, ok := s.st.StartRun()
	if !ok {
		return errs.InvalidState("server is not stopped")
	}
	s.st.ResetPlayers()

	launch := s.st.Launch()
	if _, err := os.Stat(launch.JarPath); err != nil {
		s.st.SetStatusCause(status.Stopped, event.CauseStartFailed)
		return s.report(errs.MissingArtifact(launch.JarPath))
	}

	spec := launch.Spec()
	s.logger.Info("Starting server", "jar", spec.JarPath, "dir", spec.Dir(), "args", spec.Argv(), "run", run)
	h, err := process.Spawn(spec)
	if err != nil {
		s.st.SetStatusCause(status.Stopped, event.CauseStartFailed)
		return s.report(errs.IO("failed to spawn server process", err))
	}

	stdout := h.TakeStdout()
	stderr := h.TakeStderr()
	if stdout == nil || stderr == nil {
		for _, r := range []interface{ Close() error }{stdout, stderr} {
			if r != nil {
				_ = r.Close()
			}
		}
		// keep the handle so a later stop can terminate the process
		s.st.Handle.Put(h)
		msg := "could not capture server output"
		s.st.SetStatus(status.Error(msg))
		return s.report(errs.IO(msg, nil))
	}

	if prev := s.st.Handle.Put(h); prev != nil {
		s.logger.Warn("Replacing a stale process handle", "pid", prev.PID())
		_ = prev.Kill()
	}
	metrics.IncStart()
	go func() {
		defer func() { _ = stdout.Close() }()
		s.console.RunStdout(stdout, run, h.PID())
	}()
	go func() {
		defer func() { _ = stderr.Close() }()
		s.console.RunStderr(stderr)
	}()
	s.emit(event.Log(event.LevelInfo, event.SourceSupervisor, fmt.Sprintf("Server process started (pid %d)", h.PID())))
	s.logger.Info("Server process started", "pid", h.PID(), "run", run)
	return nil
}

// Stop asks the server to shut down and returns immediately. The returned task
// finishes once the process is gone and the status is Stopped. Stopping an
// already stopped or stopping server is a no-op.
//
// The stop command is written in the background, so the stop timeout also
// covers a child that no longer drains its input.
func (s *Supervisor) Stop(ctx context.Context) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	notIdle := func(st status.Status) bool { return !st.Is(status.PhaseStopped) && !st.Is(status.PhaseStopping) }
	if _, ok := s.st.Transition(notIdle, status.Stopping); !ok {
		return Completed(nil), nil
	}
	// runs only begin from Stopped, so this is the run being stopped
	run := s.st.Run()

	h := s.st.Handle.Take()
	if h == nil {
		s.finishStop(run, OutcomeNoHandle)
		return Completed(nil), nil
	}

	timeout := s.st.Launch().StopTimeout
	if timeout <= 0 {
		timeout = state.DefaultStopTimeout
	}

	task := newStopTask(run, h.Kill)
	go func() {
		if err := h.WriteLineTimeout(s.cfg.StopCommand, timeout); err != nil {
			s.logger.Warn("Failed to send stop command", "pid", h.PID(), "error", err)
		}
	}()
	go func() {
		outcome := s.waitExit(h, timeout)
		s.st.Handle.ClearIf(h)
		s.finishStop(run, outcome)
		task.finish(nil)
	}()
	return task, nil
}

// finishStop moves run from Stopping to Stopped. It reports false, and leaves
// the status alone, when run was already finalized or a newer run exists.
func (s *Supervisor) finishStop(run uint64, outcome string) bool {
	if _, ok := s.st.Transition(s.st.OfRun(run, status.PhaseStopping), status.Stopped); !ok {
		s.logger.Debug("Stop already finalized", "run", run, "outcome", outcome)
		return false
	}
	s.st.ResetPlayers()
	metrics.IncStop(outcome)
	s.emit(event.Log(event.LevelInfo, event.SourceSupervisor, "Server stopped"))
	s.logger.Info("Server stopped", "run", run, "outcome", outcome)
	return true
}

// awaitExit waits for h to exit, escalating to a kill after timeout.
func (s *Supervisor) awaitExit(h *process.Handle, timeout time.Duration) string {
	exited, err := h.WaitTimeout(timeout)
	if exited {
		if err != nil && !process.IsExitError(err) {
			s.logger.Error("Waiting for server process failed", "pid", h.PID(), "error", err)
			_ = h.Kill()
			return OutcomeKilled
		}
		return OutcomeGraceful
	}

	s.logger.Warn("Server did not stop in time, killing", "pid", h.PID(), "timeout", timeout)
	s.emit(event.Log(event.LevelWarn, event.SourceSupervisor, fmt.Sprintf("Server did not stop within %s, killing process", timeout)))
	if err := h.Kill(); err != nil {
		s.logger.Error("Failed to kill server process", "pid", h.PID(), "error", err)
	}
	if ok, _ := h.WaitTimeout(s.cfg.KillWait); !ok {
		s.logger.Error("Server process still present after kill", "pid", h.PID())
	}
	return OutcomeKilled
}

// Restart stops the server, waits for it to reach Stopped and starts it again.
func (s *Supervisor) Restart(ctx context.Context) error {
	task, err := s.Stop(ctx)
	if err != nil {
		return err
	}
	timeout := s.st.Launch().StopTimeout
	if timeout <= 0 {
		timeout = state.DefaultStopTimeout
	}
	deadline := time.Now().Add(timeout + s.cfg.RestartMargin)

	tick := time.NewTicker(s.cfg.PollInterval)
	defer tick.Stop()
	for !s.st.Status().Is(status.PhaseStopped) {
		if time.Now().After(deadline) {
			s.forceStopped(task)
			return s.report(errs.Timeout("server did not stop in time"))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return s.Start(ctx)
}

// RestartAsync runs Restart in the background.
func (s *Supervisor) RestartAsync(ctx context.Context) *Task {
	task := newTask()
	go func() {
		err := s.Restart(ctx)
		if err != nil {
			s.logger.Error("Restart failed", "error", err)
		}
		task.finish(err)
	}()
	return task
}

// forceStopped kills the process owned by a stop task that overran and marks
// its run stopped.
func (s *Supervisor) forceStopped(task *Task) {
	if err := task.kill(); err != nil {
		s.logger.Error("Failed to kill server process", "run", task.run, "error", err)
	}
	if s.finishStop(task.run, OutcomeForced) {
		s.logger.Warn("Forced server status to stopped", "run", task.run)
	}
}

// SendCommand writes text to the server console. The server must be running.
func (s *Supervisor) SendCommand(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.st.Status().Is(status.PhaseRunning) {
		return errs.InvalidState("server is not running")
	}
	var werr error
	h := s.st.Handle.Get()
	if h == nil {
		werr = errs.Process("no server process", nil)
	} else if err := h.WriteLineTimeout(text, s.cfg.WriteTimeout); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			werr = errs.Timeout("server did not read the command in time")
		} else {
			werr = errs.Process("failed to write command", err)
		}
	}

	output := ""
	if werr != nil {
		output = werr.Error()
	}
	s.emit(event.CommandExecuted(text, werr == nil, output))
	if werr != nil {
		s.logger.Error("Command failed", "command", text, "error", werr)
		return werr
	}
	s.logger.Info("Command sent", "command", text)
	return nil
}

// report logs err and publishes it as an Error event before returning it.
func (s *Supervisor) report(err *errs.Error) error {
	s.logger.Error(err.Message, "kind", err.Kind, "error", err.Cause)
	s.emit(event.Error(string(err.Kind), err.Error()))
	s.emit(event.Log(event.LevelError, event.SourceSupervisor, err.Error()))
	return err
}

func (s *Supervisor) emit(e event.Event) {
	if s.bus != nil {
		s.bus.Send(e)
	}
}
