// Package alert evaluates metrics snapshots against thresholds and fires
// cooldown-limited alerts.
package alert

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/craftvisor/internal/event"
	"github.com/loykin/craftvisor/internal/metrics"
)

// Kind identifies which check fired.
type Kind string

const (
	KindCPU     Kind = "cpu"
	KindMemory  Kind = "memory"
	KindPlayers Kind = "players"
)

// Thresholds configure the evaluator.
type Thresholds struct {
	CPUPercent    float64       `json:"cpu_percent" mapstructure:"cpu_percent"`
	MemoryPercent float64       `json:"memory_percent" mapstructure:"memory_percent"`
	PlayerCount   uint32        `json:"player_count" mapstructure:"player_count"`
	Cooldown      time.Duration `json:"cooldown" mapstructure:"cooldown"`
}

// DefaultThresholds returns the stock alert limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:    85,
		MemoryPercent: 85,
		PlayerCount:   18,
		Cooldown:      300 * time.Second,
	}
}

// Validate rejects thresholds that could never be meaningful.
func (t Thresholds) Validate() error {
	if t.CPUPercent < 0 || t.MemoryPercent < 0 {
		return fmt.Errorf("percent thresholds must not be negative")
	}
	if t.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	return nil
}

type cooldown struct {
	mu    sync.Mutex
	fired bool
	last  uint64
}

// allow records now and reports true if the kind may fire at now.
func (c *cooldown) allow(now uint64, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired && !(now > c.last && now-c.last >= uint64(window/time.Second)) {
		return false
	}
	c.fired = true
	c.last = now
	return true
}

// Evaluator checks snapshots. Thresholds may be swapped at any time.
type Evaluator struct {
	mu         sync.RWMutex
	thresholds Thresholds

	cpu, memory, players cooldown

	bus    event.Sender
	logger *slog.Logger
}

func NewEvaluator(t Thresholds, bus event.Sender, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{thresholds: t, bus: bus, logger: logger}
}

// Thresholds returns the current thresholds.
func (e *Evaluator) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

func (e *Evaluator) SetThresholds(t Thresholds) {
	e.mu.Lock()
	e.thresholds = t
	e.mu.Unlock()
}

// Evaluate runs every check against s and returns the alerts that fired.
func (e *Evaluator) Evaluate(s metrics.Snapshot) []event.AlertPayload {
	t := e.Thresholds()
	var fired []event.AlertPayload

	if s.CPUUsage > t.CPUPercent && e.cpu.allow(s.Timestamp, t.Cooldown) {
		fired = append(fired, event.AlertPayload{
			Kind:      string(KindCPU),
			Message:   fmt.Sprintf("High CPU Usage: %.1f%% (Threshold: %.1f%%)", s.CPUUsage, t.CPUPercent),
			Value:     s.CPUUsage,
			Threshold: t.CPUPercent,
		})
	}
	if s.MemoryTotal > 0 {
		pct := s.MemoryPercent()
		if pct > t.MemoryPercent && e.memory.allow(s.Timestamp, t.Cooldown) {
			fired = append(fired, event.AlertPayload{
				Kind:      string(KindMemory),
				Message:   fmt.Sprintf("High Memory Usage: %.1f%% (Threshold: %.1f%%)", pct, t.MemoryPercent),
				Value:     pct,
				Threshold: t.MemoryPercent,
			})
		}
	}
	if s.MaxPlayers > 0 && s.PlayerCount >= t.PlayerCount && e.players.allow(s.Timestamp, t.Cooldown) {
		fired = append(fired, event.AlertPayload{
			Kind:      string(KindPlayers),
			Message:   fmt.Sprintf("Server Almost Full: %d / %d players (Threshold: %d)", s.PlayerCount, s.MaxPlayers, t.PlayerCount),
			Value:     float64(s.PlayerCount),
			Threshold: float64(t.PlayerCount),
		})
	}

	for _, a := range fired {
		e.logger.Warn(a.Message, "kind", a.Kind, "value", a.Value, "threshold", a.Threshold)
		metrics.IncAlert(a.Kind)
		if e.bus != nil {
			e.bus.Send(event.Alert(a.Kind, a.Message, a.Value, a.Threshold))
			e.bus.Send(event.Log(event.LevelWarn, event.SourceAlerts, a.Message))
		}
	}
	return fired
}
