// Package monitor polls the server process once per interval and turns the
// readings into metrics snapshots, history entries and alerts.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/craftvisor/internal/alert"
	"github.com/loykin/craftvisor/internal/detector"
	"github.com/loykin/craftvisor/internal/event"
	"github.com/loykin/craftvisor/internal/metrics"
	"github.com/loykin/craftvisor/internal/state"
)

// DefaultInterval is the polling period.
const DefaultInterval = time.Second

// Finder locates the server process for a launch configuration.
type Finder interface {
	Find(l state.Launch) (int32, bool)
	Alive(pid int32) bool
}

// Sampler reads resource usage of a pid.
type Sampler interface {
	Sample(pid int32) (metrics.Usage, error)
	Reset()
}

// ProcessTable is the Finder backed by the OS process table.
type ProcessTable struct{}

func (ProcessTable) Find(l state.Launch) (int32, bool) {
	exe := "java"
	if l.JavaPath != "" {
		exe = strings.TrimSuffix(filepath.Base(l.JavaPath), ".exe")
	}
	dir := l.WorkDir
	if dir == "" && l.JarPath != "" {
		dir = filepath.Dir(l.JarPath)
	}
	return detector.JavaFinder{Executable: exe, Artifact: l.JarPath, WorkDir: dir}.Find()
}

func (ProcessTable) Alive(pid int32) bool { return detector.Alive(pid) }

type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	// EventInterval rate-limits MetricsUpdated events; defaults to Interval.
	EventInterval time.Duration `mapstructure:"event_interval"`
}

// Monitor is the resource monitor. Tick is driven by Run, but may be called
// directly.
type Monitor struct {
	cfg     Config
	st      *state.Shared
	finder  Finder
	sampler Sampler
	history *metrics.History
	alerts  *alert.Evaluator
	bus     event.Sender
	logger  *slog.Logger
	tps     func() *float64

	mu        sync.Mutex
	pid       int32
	run       uint64
	startedAt time.Time
	lastEvent time.Time
}

type Option func(*Monitor)

func WithFinder(f Finder) Option { return func(m *Monitor) { m.finder = f } }

func WithSampler(s Sampler) Option { return func(m *Monitor) { m.sampler = s } }

func WithAlerts(e *alert.Evaluator) Option { return func(m *Monitor) { m.alerts = e } }

func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.logger = l } }

// WithTPS installs a ticks-per-second source; nil results are left out.
func WithTPS(fn func() *float64) Option { return func(m *Monitor) { m.tps = fn } }

func New(cfg Config, st *state.Shared, history *metrics.History, bus event.Sender, opts ...Option) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.EventInterval <= 0 {
		cfg.EventInterval = cfg.Interval
	}
	if history == nil {
		history = metrics.NewHistory(0)
	}
	m := &Monitor{
		cfg:     cfg,
		st:      st,
		history: history,
		bus:     bus,
		finder:  ProcessTable{},
		sampler: metrics.NewProcessSampler(),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Monitor) History() *metrics.History { return m.history }

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.Tick(now)
		}
	}
}

// Tick performs one polling step at now.
func (m *Monitor) Tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.st.Status().Active() {
		if m.pid != 0 {
			m.logger.Debug("Server no longer active, dropping tracked pid", "pid", m.pid)
		}
		m.untrack()
		zero := metrics.Zero(now)
		m.st.SetMetrics(zero)
		metrics.ObserveSnapshot(zero)
		return
	}

	run := m.st.Run()
	if m.pid != 0 && m.run != run {
		m.untrack()
	}
	if m.pid == 0 {
		pid, ok := m.locate()
		if !ok {
			return
		}
		m.pid, m.run, m.startedAt = pid, run, now
		m.sampler.Reset()
		m.logger.Info("Tracking server process", "pid", pid, "run", run)
	}

	if !m.finder.Alive(m.pid) {
		pid := m.pid
		m.untrack()
		handlePID := 0
		if m.st.Handle.PID() == int(pid) {
			handlePID = int(pid)
		}
		m.st.MarkCrashed(run, handlePID, event.SourceMonitor, fmt.Sprintf("process %d no longer exists", pid))
		return
	}

	usage, err := m.sampler.Sample(m.pid)
	if err != nil {
		m.logger.Debug("Failed to sample server process", "pid", m.pid, "error", err)
		return
	}
	snap := metrics.Snapshot{
		Timestamp:   uint64(now.Unix()),
		CPUUsage:    usage.CPUPercent,
		MemoryUsage: usage.MemoryRSS,
		MemoryTotal: usage.MemoryTotal,
		PlayerCount: m.st.Players(),
		MaxPlayers:  m.st.MaxPlayers(),
		Uptime:      uint64(now.Sub(m.startedAt) / time.Second),
	}
	if m.tps != nil {
		snap.TPS = m.tps()
	}

	m.st.SetMetrics(snap)
	m.history.Append(snap)
	metrics.ObserveSnapshot(snap)
	if m.alerts != nil {
		m.alerts.Evaluate(snap)
	}
	if m.bus != nil && (m.lastEvent.IsZero() || now.Sub(m.lastEvent) >= m.cfg.EventInterval) {
		m.bus.Send(event.MetricsUpdated(snap))
		m.lastEvent = now
	}
}

// locate searches the process table, falling back to the spawned child.
func (m *Monitor) locate() (int32, bool) {
	if pid, ok := m.finder.Find(m.st.Launch()); ok {
		return pid, true
	}
	if pid := int32(m.st.Handle.PID()); pid > 0 && m.finder.Alive(pid) {
		return pid, true
	}
	return 0, false
}

func (m *Monitor) untrack() {
	m.pid = 0
	m.run = 0
	m.startedAt = time.Time{}
}
