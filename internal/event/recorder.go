package event

import (
	"sync"
	"time"
)

// Recorder is a Sender that keeps every event in memory. It is handy as a
// synchronous stand-in for the bus.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func NewRecorder() *Recorder { return &Recorder{notify: make(chan struct{}, 1)} }

func (r *Recorder) Send(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Handle lets a Recorder subscribe to a Bus.
func (r *Recorder) Handle(e Event) { r.Send(e) }

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Statuses returns the payloads of recorded status changes in order.
func (r *Recorder) Statuses() []StatusPayload {
	var out []StatusPayload
	for _, e := range r.OfType(TypeStatusChanged) {
		out = append(out, e.Payload.(StatusPayload))
	}
	return out
}

// Logs returns recorded log payloads at level.
func (r *Recorder) Logs(level Level) []LogPayload {
	var out []LogPayload
	for _, e := range r.OfType(TypeLog) {
		if p := e.Payload.(LogPayload); p.Level == level {
			out = append(out, p)
		}
	}
	return out
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// WaitFor polls until cond holds over the recorded events or timeout passes.
func (r *Recorder) WaitFor(timeout time.Duration, cond func([]Event) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if cond(r.Events()) {
			return true
		}
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline.C:
			return cond(r.Events())
		}
	}
}
