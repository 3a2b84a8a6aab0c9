// Package console consumes the server's stdout and stderr, turning lines into
// log events, player counter updates and the starting -> running transition.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/craftvisor/internal/event"
	"github.com/loykin/craftvisor/internal/state"
	"github.com/loykin/craftvisor/internal/status"
)

// Monitor runs the per-stream reader loops for each server run. One Monitor
// serves every run; the loops themselves keep no shared state.
type Monitor struct {
	st         *state.Shared
	bus        event.Sender
	classifier *Classifier
	backlog    *Backlog
	logger     *slog.Logger

	teeMu sync.Mutex
	tee   io.Writer
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithTee copies every console line to w (e.g. a rotating console log).
func WithTee(w io.Writer) Option { return func(m *Monitor) { m.tee = w } }

func WithBacklog(b *Backlog) Option { return func(m *Monitor) { m.backlog = b } }

func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.logger = l } }

func NewMonitor(st *state.Shared, bus event.Sender, classifier *Classifier, opts ...Option) *Monitor {
	m := &Monitor{
		st:         st,
		bus:        bus,
		classifier: classifier,
		backlog:    NewBacklog(DefaultBacklog),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.classifier == nil {
		m.classifier = MustClassifier(nil)
	}
	return m
}

// Backlog exposes the recent console lines.
func (m *Monitor) Backlog() *Backlog { return m.backlog }

// RunStdout reads r until EOF or error, classifying each line. When the stream
// ends while run is still starting or running, the run is marked crashed.
func (m *Monitor) RunStdout(r io.Reader, run uint64, pid int) {
	detected := false
	err := m.readLines(r, event.SourceStdout, func(line string) {
		m.emit(event.Log(event.LevelInfo, event.SourceStdout, line))
		match, ok := m.classifier.Classify(line)
		if !ok {
			return
		}
		switch match.Action {
		case ActionPlayerJoined:
			n := m.st.IncPlayers()
			m.emit(event.PlayerJoined(match.Player))
			m.emit(event.Log(event.LevelInfo, event.SourceStdout, "Player joined: "+match.Player))
			m.logger.Info("Player joined", "player", match.Player, "players", n)
		case ActionPlayerLeft:
			n := m.st.DecPlayers()
			m.emit(event.PlayerLeft(match.Player))
			m.emit(event.Log(event.LevelInfo, event.SourceStdout, "Player left: "+match.Player))
			m.logger.Info("Player left", "player", match.Player, "players", n)
		case ActionStartupComplete:
			if detected {
				return
			}
			// a stop may have superseded the start; only starting -> running is valid
			if _, ok := m.st.Transition(state.Is(status.PhaseStarting), status.Running); ok {
				detected = true
				m.logger.Info("Server detected as running", "run", run, "pid", pid)
			}
		}
	})
	if err != nil {
		m.logger.Error("Error reading server stdout", "error", err)
	}
	m.logger.Debug("Stdout reader finished", "run", run, "pid", pid)

	reason := "stdout closed"
	if err != nil {
		reason = fmt.Sprintf("stdout read failed: %v", err)
	}
	m.st.MarkCrashed(run, pid, event.SourceStdout, reason)
}

// RunStderr reads r until EOF or error, emitting every line at error level.
func (m *Monitor) RunStderr(r io.Reader) {
	err := m.readLines(r, event.SourceStderr, func(line string) {
		m.emit(event.Log(event.LevelError, event.SourceStderr, line))
	})
	if err != nil {
		m.logger.Error("Error reading server stderr", "error", err)
	}
	m.logger.Debug("Stderr reader finished")
}

func (m *Monitor) readLines(r io.Reader, source string, fn func(string)) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			m.record(source, line)
			fn(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (m *Monitor) record(source, line string) {
	now := time.Now()
	m.backlog.Add(Line{Time: now, Source: source, Text: line})
	if m.tee == nil {
		return
	}
	m.teeMu.Lock()
	_, _ = fmt.Fprintf(m.tee, "%s [%s] %s\n", now.Format("2006-01-02 15:04:05"), source, line)
	m.teeMu.Unlock()
}

func (m *Monitor) emit(e event.Event) {
	if m.bus != nil {
		m.bus.Send(e)
	}
}
