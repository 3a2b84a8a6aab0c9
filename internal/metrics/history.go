package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultHistorySize keeps one hour of one-second samples.
const DefaultHistorySize = 3600

// History is a bounded, oldest-evicted-first buffer of snapshots.
// It is written by the resource monitor and read by anyone.
type History struct {
	mu       sync.RWMutex
	buf      []Snapshot
	startIdx int
	count    int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]Snapshot, size)}
}

// Append adds s, overwriting the oldest entry once full.
func (h *History) Append(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count < len(h.buf) {
		h.buf[(h.startIdx+h.count)%len(h.buf)] = s
		h.count++
		return
	}
	h.buf[h.startIdx] = s
	h.startIdx = (h.startIdx + 1) % len(h.buf)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *History) Cap() int { return len(h.buf) }

// Snapshots returns a copy ordered oldest to newest. When limit > 0 only the
// newest limit entries are returned.
func (h *History) Snapshots(limit int) []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := h.count
	skip := 0
	if limit > 0 && limit < n {
		skip = n - limit
		n = limit
	}
	out := make([]Snapshot, n)
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.startIdx+skip+i)%len(h.buf)]
	}
	return out
}

func (h *History) Latest() (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return Snapshot{}, false
	}
	return h.buf[(h.startIdx+h.count-1)%len(h.buf)], true
}

// Average averages CPU, memory and TPS over the samples whose timestamp lies in
// [latest-d, latest]. Other fields are copied from the latest sample.
func (h *History) Average(d time.Duration) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return Snapshot{}, false
	}
	latest := h.buf[(h.startIdx+h.count-1)%len(h.buf)]
	secs := uint64(d / time.Second)
	var cutoff uint64
	if latest.Timestamp > secs {
		cutoff = latest.Timestamp - secs
	}

	var (
		n, tpsN int
		cpuSum  float64
		memSum  uint64
		tpsSum  float64
	)
	for i := 0; i < h.count; i++ {
		s := h.buf[(h.startIdx+i)%len(h.buf)]
		if s.Timestamp < cutoff || s.Timestamp > latest.Timestamp {
			continue
		}
		n++
		cpuSum += s.CPUUsage
		memSum += s.MemoryUsage
		if s.TPS != nil {
			tpsSum += *s.TPS
			tpsN++
		}
	}
	if n == 0 {
		return Snapshot{}, false
	}
	avg := latest
	avg.CPUUsage = cpuSum / float64(n)
	avg.MemoryUsage = memSum / uint64(n)
	avg.TPS = nil
	if tpsN > 0 {
		t := tpsSum / float64(tpsN)
		avg.TPS = &t
	}
	return avg, true
}

// FileName returns the dated file name a history dump for day t is written to.
func FileName(t time.Time) string {
	return fmt.Sprintf("metrics_%s.json", t.Format("20060102"))
}

// Persist writes the whole history as indented JSON to dir/metrics_YYYYMMDD.json.
// An empty history writes nothing and returns an empty path.
func (h *History) Persist(dir string, now time.Time) (string, error) {
	snaps := h.Snapshots(0)
	if len(snaps) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create metrics dir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metrics history: %w", err)
	}
	path := filepath.Join(dir, FileName(now))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write metrics file %s: %w", path, err)
	}
	return path, nil
}
