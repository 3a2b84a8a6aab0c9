// Package state holds the process-wide supervisor state. Each field group has
// its own lock; status and handle slot are not updated atomically together, so
// readers must treat an empty slot as "nothing to act on" whatever the status.
package state

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/craftvisor/internal/event"
	"github.com/loykin/craftvisor/internal/metrics"
	"github.com/loykin/craftvisor/internal/process"
	"github.com/loykin/craftvisor/internal/status"
)

// DefaultStopTimeout bounds the graceful shutdown wait.
const DefaultStopTimeout = 30 * time.Second

// Launch is the runtime configuration used for the next start.
type Launch struct {
	JavaPath    string        `json:"java_path" mapstructure:"java_path"`
	JarPath     string        `json:"jar_path" mapstructure:"jar"`
	WorkDir     string        `json:"work_dir" mapstructure:"work_dir"`
	Args        []string      `json:"args" mapstructure:"args"`
	Env         []string      `json:"env,omitempty" mapstructure:"env"`
	StopTimeout time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
}

// Spec converts the launch configuration to a process spec.
func (l Launch) Spec() process.Spec {
	return process.Spec{
		JavaPath: l.JavaPath,
		JarPath:  l.JarPath,
		WorkDir:  l.WorkDir,
		Args:     append([]string(nil), l.Args...),
		Env:      append([]string(nil), l.Env...),
	}
}

// Shared is the supervisor's shared state.
type Shared struct {
	statusMu sync.Mutex
	status   status.Status

	Handle HandleSlot

	players atomic.Uint32
	run     atomic.Uint64

	metricsMu sync.RWMutex
	current   metrics.Snapshot

	launchMu sync.RWMutex
	launch   Launch

	propsMu    sync.RWMutex
	maxPlayers uint32

	bus    event.Sender
	logger *slog.Logger
}

// New creates shared state that emits status changes on bus.
func New(bus event.Sender, launch Launch, logger *slog.Logger) *Shared {
	if logger == nil {
		logger = slog.Default()
	}
	if launch.StopTimeout <= 0 {
		launch.StopTimeout = DefaultStopTimeout
	}
	return &Shared{
		status:  status.Stopped,
		current: metrics.Zero(time.Now()),
		launch:  launch,
		bus:     bus,
		logger:  logger,
	}
}

// Bus returns the event sender the state emits on.
func (s *Shared) Bus() event.Sender { return s.bus }

func (s *Shared) Status() status.Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// SetStatus stores st and emits the change. The event is queued before the
// lock is released so status events are ordered like the mutations; bus
// handlers therefore must not read the status themselves.
func (s *Shared) SetStatus(st status.Status) { s.SetStatusCause(st, "") }

// SetStatusCause is SetStatus with a cause recorded on the emitted event.
func (s *Shared) SetStatusCause(st status.Status, cause string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	prev := s.status
	s.status = st
	s.emitStatus(prev, st, cause)
}

// Transition stores next only if the current status satisfies allowed. It
// returns the status that was in place and whether the transition happened.
// Nothing is emitted when it is rejected. allowed runs under the status lock.
func (s *Shared) Transition(allowed func(status.Status) bool, next status.Status) (status.Status, bool) {
	return s.transition(allowed, next, "")
}

func (s *Shared) transition(allowed func(status.Status) bool, next status.Status, cause string) (status.Status, bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	prev := s.status
	if !allowed(prev) {
		return prev, false
	}
	s.status = next
	s.emitStatus(prev, next, cause)
	return prev, true
}

// StartRun moves a stopped server to Starting and begins a new run in one
// step. The Starting event carries the new run id. ok is false when the
// server was not stopped.
func (s *Shared) StartRun() (run uint64, ok bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	prev := s.status
	if !prev.Is(status.PhaseStopped) {
		return 0, false
	}
	run = s.run.Add(1)
	s.status = status.Starting
	s.emitStatus(prev, status.Starting, "")
	return run, true
}

// OfRun returns a predicate matching any of phases while run is still the
// current run. Use it with Transition so both are checked under one lock.
func (s *Shared) OfRun(run uint64, phases ...status.Phase) func(status.Status) bool {
	in := Is(phases...)
	return func(st status.Status) bool { return s.run.Load() == run && in(st) }
}

// Is returns a predicate matching any of phases.
func Is(phases ...status.Phase) func(status.Status) bool {
	return func(st status.Status) bool {
		for _, p := range phases {
			if st.Phase == p {
				return true
			}
		}
		return false
	}
}

func (s *Shared) emitStatus(prev, next status.Status, cause string) {
	metrics.RecordStateTransition(prev.Phase.String(), next.Phase.String())
	if s.bus != nil {
		s.bus.Send(event.StatusChangedBy(next, s.run.Load(), cause))
	}
}

// BeginRun starts a new run and returns its id.
func (s *Shared) BeginRun() uint64 { return s.run.Add(1) }

// Run returns the id of the latest run.
func (s *Shared) Run() uint64 { return s.run.Load() }

// Players returns the current player count.
func (s *Shared) Players() uint32 { return s.players.Load() }

func (s *Shared) IncPlayers() uint32 { return s.players.Add(1) }

// DecPlayers decrements without going below zero.
func (s *Shared) DecPlayers() uint32 {
	for {
		cur := s.players.Load()
		if cur == 0 {
			return 0
		}
		if s.players.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

func (s *Shared) ResetPlayers() { s.players.Store(0) }

// Metrics returns the latest snapshot.
func (s *Shared) Metrics() metrics.Snapshot {
	s.metricsMu.RLock()
	defer s.metricsMu.RUnlock()
	return s.current
}

func (s *Shared) SetMetrics(m metrics.Snapshot) {
	s.metricsMu.Lock()
	s.current = m
	s.metricsMu.Unlock()
}

// Launch returns a copy of the launch configuration.
func (s *Shared) Launch() Launch {
	s.launchMu.RLock()
	defer s.launchMu.RUnlock()
	l := s.launch
	l.Args = append([]string(nil), s.launch.Args...)
	l.Env = append([]string(nil), s.launch.Env...)
	return l
}

// UpdateLaunch replaces the launch configuration. It applies to the next start.
func (s *Shared) UpdateLaunch(l Launch) {
	if l.StopTimeout <= 0 {
		l.StopTimeout = DefaultStopTimeout
	}
	l.Args = append([]string(nil), l.Args...)
	l.Env = append([]string(nil), l.Env...)
	s.launchMu.Lock()
	s.launch = l
	s.launchMu.Unlock()
}

// MaxPlayers is the cached max-players value from server.properties.
func (s *Shared) MaxPlayers() uint32 {
	s.propsMu.RLock()
	defer s.propsMu.RUnlock()
	return s.maxPlayers
}

func (s *Shared) SetMaxPlayers(n uint32) {
	s.propsMu.Lock()
	s.maxPlayers = n
	s.propsMu.Unlock()
}

// MarkCrashed handles an unexpected termination of the given run, detected
// by source. It only acts while that run is still current and starting or
// running: players are reset, status is forced to stopped, a warning is
// emitted and the handle with pid (or any handle when pid is 0) is cleared.
func (s *Shared) MarkCrashed(run uint64, pid int, source, reason string) bool {
	active := s.OfRun(run, status.PhaseStarting, status.PhaseRunning)
	if _, ok := s.transition(active, status.Stopped, event.CauseCrash); !ok {
		return false
	}
	s.ResetPlayers()
	metrics.IncCrash()
	msg := "Server process terminated unexpectedly: " + reason
	s.logger.Warn(msg, "run", run, "pid", pid, "source", source)
	if s.bus != nil {
		s.bus.Send(event.Log(event.LevelWarn, source, msg))
	}
	var h *process.Handle
	if pid == 0 {
		h = s.Handle.Take()
	} else {
		h = s.Handle.TakeIf(pid)
	}
	if h != nil {
		// the output stream is gone; make sure nothing is left running unmonitored
		_ = h.Kill()
	}
	return true
}
