// Package history exports server lifecycle records (start, ready, stop,
// crash, error) to external stores.
package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventReady EventType = "ready"
	EventStop  EventType = "stop"
	EventCrash EventType = "crash"
	EventError EventType = "error"
)

// Record is the server state captured with a lifecycle event.
type Record struct {
	Server  string `json:"server"`
	Run     uint64 `json:"run"`
	Status  string `json:"status"`
	Players uint32 `json:"players"`
	Message string `json:"message,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink. All sinks are attempted; the
// returned error joins the individual failures.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Lister is implemented by sinks that can read their events back, newest first.
type Lister interface {
	List(ctx context.Context, limit int) ([]Event, error)
}
