package console

import (
	"sync"
	"time"
)

// DefaultBacklog is the number of console lines kept for late subscribers.
const DefaultBacklog = 500

// Line is one console line as captured.
type Line struct {
	Time   time.Time `json:"time"`
	Source string    `json:"source"`
	Text   string    `json:"text"`
}

// Backlog is a fixed-size ring of the most recent lines.
type Backlog struct {
	mu    sync.Mutex
	lines []Line
	next  int
	full  bool
}

func NewBacklog(size int) *Backlog {
	if size <= 0 {
		size = DefaultBacklog
	}
	return &Backlog{lines: make([]Line, size)}
}

func (b *Backlog) Add(l Line) {
	b.mu.Lock()
	b.lines[b.next] = l
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()
}

// Last returns up to n lines, oldest first. n <= 0 returns everything kept.
func (b *Backlog) Last(n int) []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	size := b.next
	start := 0
	if b.full {
		size = len(b.lines)
		start = b.next
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Line, n)
	for i := 0; i < n; i++ {
		out[i] = b.lines[(start+size-n+i)%len(b.lines)]
	}
	return out
}
