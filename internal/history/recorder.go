package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/craftvisor/internal/event"
	"github.com/loykin/craftvisor/internal/status"
)

// DefaultSendTimeout bounds one export to the sinks.
const DefaultSendTimeout = 5 * time.Second

// Recorder subscribes to the event bus and turns status changes into
// lifecycle events. Bus handlers must not block, so events are queued and
// exported by Run.
type Recorder struct {
	server  string
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	prev    status.Phase
	players uint32

	queue chan Event
}

func NewRecorder(server string, sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		server:  server,
		sink:    sink,
		logger:  logger,
		timeout: DefaultSendTimeout,
		prev:    status.PhaseStopped,
		queue:   make(chan Event, 256),
	}
}

// Handle implements event.Handler.
func (r *Recorder) Handle(e event.Event) {
	switch e.Type {
	case event.TypePlayerJoined:
		r.mu.Lock()
		r.players++
		r.mu.Unlock()
		return
	case event.TypePlayerLeft:
		r.mu.Lock()
		if r.players > 0 {
			r.players--
		}
		r.mu.Unlock()
		return
	case event.TypeStatusChanged:
	default:
		return
	}

	p := e.Payload.(event.StatusPayload)
	r.mu.Lock()
	prev := r.prev
	r.prev = p.Status.Phase
	players := r.players
	if !p.Status.Active() {
		r.players = 0
	}
	r.mu.Unlock()

	typ, ok := classify(prev, p)
	if !ok {
		return
	}
	msg := p.Status.Message
	if msg == "" {
		msg = p.Cause
	}
	he := Event{
		Type:       typ,
		OccurredAt: e.Timestamp,
		Record: Record{
			Server:  r.server,
			Run:     p.Run,
			Status:  p.Status.Phase.String(),
			Players: players,
			Message: msg,
		},
	}
	select {
	case r.queue <- he:
	default:
		r.logger.Warn("History queue full, dropping event", "type", typ, "run", p.Run)
	}
}

// classify maps a status transition to a lifecycle event. Only a change
// caused by a crash counts as one; a start that failed is an error.
func classify(prev status.Phase, p event.StatusPayload) (EventType, bool) {
	switch p.Status.Phase {
	case status.PhaseStarting:
		return EventStart, true
	case status.PhaseRunning:
		return EventReady, true
	case status.PhaseError:
		return EventError, true
	case status.PhaseStopped:
		switch {
		case p.Cause == event.CauseCrash:
			return EventCrash, true
		case p.Cause == event.CauseStartFailed:
			return EventError, true
		case prev != status.PhaseStopped:
			return EventStop, true
		}
	}
	return "", false
}

// Run exports queued events until ctx is cancelled, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			r.send(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					r.send(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) send(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.sink.Send(ctx, e); err != nil {
		r.logger.Error("Failed to export history event", "type", e.Type, "run", e.Record.Run, "error", err)
	}
}
