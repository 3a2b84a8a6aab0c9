package metrics

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is one CPU/memory reading of a process.
type Usage struct {
	CPUPercent  float64
	MemoryRSS   uint64
	MemoryTotal uint64
}

// ProcessSampler reads process usage through gopsutil. CPU percent is computed
// between consecutive calls for the same PID, so the handle is cached.
type ProcessSampler struct {
	mu   sync.Mutex
	pid  int32
	proc *process.Process
}

func NewProcessSampler() *ProcessSampler { return &ProcessSampler{} }

// Sample returns usage for pid. A failed CPU read degrades to 0; a failed
// memory read is an error.
func (s *ProcessSampler) Sample(pid int32) (Usage, error) {
	s.mu.Lock()
	if s.proc == nil || s.pid != pid {
		p, err := process.NewProcess(pid)
		if err != nil {
			s.mu.Unlock()
			return Usage{}, fmt.Errorf("failed to create process handle: %w", err)
		}
		s.proc = p
		s.pid = pid
		// prime the CPU delta
		_, _ = p.Percent(0)
	}
	p := s.proc
	s.mu.Unlock()

	cpu, err := p.Percent(0)
	if err != nil {
		slog.Debug("Failed to get CPU percent", "pid", pid, "error", err)
		cpu = 0
	}
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	u := Usage{CPUPercent: cpu, MemoryRSS: memInfo.RSS}
	if vm, err := mem.VirtualMemory(); err == nil {
		u.MemoryTotal = vm.Total
	} else {
		slog.Debug("Failed to get system memory", "error", err)
	}
	return u, nil
}

// Reset drops the cached handle so the next Sample starts a fresh CPU delta.
func (s *ProcessSampler) Reset() {
	s.mu.Lock()
	s.proc = nil
	s.pid = 0
	s.mu.Unlock()
}
