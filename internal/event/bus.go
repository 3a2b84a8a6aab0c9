package event

import (
	"context"
	"log/slog"
	"sync"
)

// Sender is the producer side of the bus. It is shared freely between goroutines.
type Sender interface {
	Send(e Event)
}

// Handler consumes dispatched events. Handlers run on the dispatcher goroutine
// and must not block for long.
type Handler interface {
	Handle(e Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) Handle(e Event) { f(e) }

// DefaultBuffer is the queue length between producers and the dispatcher.
const DefaultBuffer = 1024

// Bus is a multi-producer, single-consumer event queue. Exactly one Run loop
// drains it; each producer's events are delivered in emission order.
type Bus struct {
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	subs   []Handler
	logger *slog.Logger
}

func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		ch:     make(chan Event, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Subscribe registers h for all subsequently dispatched events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.subs = append(b.subs, h)
	b.mu.Unlock()
}

// Send enqueues e. It blocks while the queue is full and drops e once the
// dispatcher has exited.
func (b *Bus) Send(e Event) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.ch <- e:
	case <-b.done:
	}
}

// Run dispatches until ctx is cancelled, then drains what is already queued.
// It must be called from exactly one goroutine.
func (b *Bus) Run(ctx context.Context) {
	defer b.once.Do(func() { close(b.done) })
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (b *Bus) Done() <-chan struct{} { return b.done }

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, h := range subs {
		b.safeHandle(h, e)
	}
}

func (b *Bus) safeHandle(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked", "type", e.Type, "panic", r)
		}
	}()
	h.Handle(e)
}
