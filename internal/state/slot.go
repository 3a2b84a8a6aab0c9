package state

import (
	"sync"

	"github.com/loykin/craftvisor/internal/process"
)

// HandleSlot holds the current process handle, or nothing. Take transfers
// ownership; Get only borrows it, so the lock is never held across process I/O.
type HandleSlot struct {
	mu sync.Mutex
	h  *process.Handle
}

// Put stores h, returning whatever was there before.
func (s *HandleSlot) Put(h *process.Handle) *process.Handle {
	s.mu.Lock()
	prev := s.h
	s.h = h
	s.mu.Unlock()
	return prev
}

// Take atomically removes and returns the handle.
func (s *HandleSlot) Take() *process.Handle {
	s.mu.Lock()
	h := s.h
	s.h = nil
	s.mu.Unlock()
	return h
}

// TakeIf removes the handle only if it has the given pid.
func (s *HandleSlot) TakeIf(pid int) *process.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h == nil || s.h.PID() != pid {
		return nil
	}
	h := s.h
	s.h = nil
	return h
}

// ClearIf empties the slot if it still holds h. It is a no-op otherwise.
func (s *HandleSlot) ClearIf(h *process.Handle) {
	s.mu.Lock()
	if s.h == h {
		s.h = nil
	}
	s.mu.Unlock()
}

// Get returns the stored handle without removing it, or nil. The handle may
// be taken by someone else right after; writes to it then fail or reach a
// process that is already being stopped.
func (s *HandleSlot) Get() *process.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h
}

// PID returns the stored handle's pid, or 0.
func (s *HandleSlot) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h == nil {
		return 0
	}
	return s.h.PID()
}

func (s *HandleSlot) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h == nil
}
