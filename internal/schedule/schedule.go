// Package schedule runs cron-driven lifecycle actions against the supervisor.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/craftvisor/internal/supervisor"
	"github.com/robfig/cron/v3"
)

// Action is what a job does when it fires.
type Action string

const (
	ActionRestart Action = "restart"
	ActionStop    Action = "stop"
	ActionStart   Action = "start"
	ActionCommand Action = "command"
)

// Runner is the part of the supervisor the scheduler drives.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*supervisor.Task, error)
	Restart(ctx context.Context) error
	SendCommand(ctx context.Context, text string) error
}

// Job is one scheduled action. Cron accepts five-field expressions and the
// @hourly/@daily/@every descriptors.
type Job struct {
	Name    string
	Cron    string
	Action  Action
	Command string
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the job without scheduling it.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("schedule requires a name")
	}
	if _, err := parser.Parse(j.Cron); err != nil {
		return fmt.Errorf("schedule %s: invalid cron %q: %w", j.Name, j.Cron, err)
	}
	switch j.Action {
	case ActionRestart, ActionStop, ActionStart:
	case ActionCommand:
		if strings.TrimSpace(j.Command) == "" {
			return fmt.Errorf("schedule %s: command action requires a command", j.Name)
		}
	default:
		return fmt.Errorf("schedule %s: unknown action %q", j.Name, j.Action)
	}
	return nil
}

// Entry describes a scheduled job.
type Entry struct {
	Name   string    `json:"name"`
	Cron   string    `json:"cron"`
	Action Action    `json:"action"`
	Next   time.Time `json:"next"`
	Prev   time.Time `json:"prev,omitempty"`
}

// Scheduler owns a cron instance. Runs of the same job never overlap.
type Scheduler struct {
	runner Runner
	logger *slog.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	jobs    map[string]Job
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(runner Runner, logger *slog.Logger, loc *time.Location) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner: runner,
		logger: logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add validates and schedules j. Names must be unique.
func (s *Scheduler) Add(j Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.Name]; ok {
		return fmt.Errorf("schedule %q already exists", j.Name)
	}
	id, err := s.cron.AddFunc(j.Cron, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", j.Name, err)
	}
	s.jobs[j.Name] = j
	s.entries[j.Name] = id
	s.logger.Info("Scheduled job added", "name", j.Name, "cron", j.Cron, "action", j.Action)
	return nil
}

// Remove unschedules the job called name.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	delete(s.jobs, name)
	return true
}

// Entries lists the scheduled jobs sorted by next run.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[cron.EntryID]string, len(s.entries))
	for name, id := range s.entries {
		byID[id] = name
	}
	var out []Entry
	for _, e := range s.cron.Entries() {
		name, ok := byID[e.ID]
		if !ok {
			continue
		}
		j := s.jobs[name]
		out = append(out, Entry{Name: name, Cron: j.Cron, Action: j.Action, Next: e.Next, Prev: e.Prev})
	}
	return out
}

// RunNow executes the named job immediately on the calling goroutine.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %q not found", name)
	}
	return s.run(s.ctx, j)
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for in-flight ones until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	defer s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) execute(j Job) {
	if err := s.run(s.ctx, j); err != nil {
		s.logger.Error("Scheduled job failed", "name", j.Name, "action", j.Action, "error", err)
		return
	}
	s.logger.Info("Scheduled job ran", "name", j.Name, "action", j.Action)
}

func (s *Scheduler) run(ctx context.Context, j Job) error {
	switch j.Action {
	case ActionStart:
		return s.runner.Start(ctx)
	case ActionStop:
		task, err := s.runner.Stop(ctx)
		if err != nil {
			return err
		}
		return task.Wait(ctx)
	case ActionRestart:
		return s.runner.Restart(ctx)
	case ActionCommand:
		return s.runner.SendCommand(ctx, j.Command)
	}
	return fmt.Errorf("unknown action %q", j.Action)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}
