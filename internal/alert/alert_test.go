package alert

import (
	"testing"
	"time"

	"github.com/loykin/craftvisor/internal/event"
	"github.com/loykin/craftvisor/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUCooldown(t *testing.T) {
	rec := event.NewRecorder()
	th := DefaultThresholds()
	th.CPUPercent = 80
	e := NewEvaluator(th, rec, nil)

	const t0 = 1_700_000_000
	for _, ts := range []uint64{t0, t0 + 1, t0 + 301} {
		e.Evaluate(metrics.Snapshot{Timestamp: ts, CPUUsage: 90})
	}

	alerts := rec.OfType(event.TypeAlert)
	require.Len(t, alerts, 2)
	p := alerts[0].Payload.(event.AlertPayload)
	assert.Equal(t, "cpu", p.Kind)
	assert.Equal(t, "High CPU Usage: 90.0% (Threshold: 80.0%)", p.Message)
	assert.Equal(t, 90.0, p.Value)
	assert.Equal(t, 80.0, p.Threshold)
	assert.Len(t, rec.Logs(event.LevelWarn), 2)
}

func TestCooldownIgnoresClockGoingBack(t *testing.T) {
	e := NewEvaluator(Thresholds{CPUPercent: 10, MemoryPercent: 100, PlayerCount: 100, Cooldown: time.Second}, nil, nil)
	assert.Len(t, e.Evaluate(metrics.Snapshot{Timestamp: 100, CPUUsage: 50}), 1)
	assert.Empty(t, e.Evaluate(metrics.Snapshot{Timestamp: 50, CPUUsage: 50}))
	assert.Empty(t, e.Evaluate(metrics.Snapshot{Timestamp: 100, CPUUsage: 50}))
	assert.Len(t, e.Evaluate(metrics.Snapshot{Timestamp: 101, CPUUsage: 50}), 1)
}

func TestMemoryAlert(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), nil, nil)
	assert.Empty(t, e.Evaluate(metrics.Snapshot{Timestamp: 1, MemoryUsage: 100}), "no total, no check")

	fired := e.Evaluate(metrics.Snapshot{Timestamp: 1, MemoryUsage: 90, MemoryTotal: 100})
	require.Len(t, fired, 1)
	assert.Equal(t, "High Memory Usage: 90.0% (Threshold: 85.0%)", fired[0].Message)
}

func TestPlayerAlert(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), nil, nil)
	assert.Empty(t, e.Evaluate(metrics.Snapshot{Timestamp: 1, PlayerCount: 20}), "max players unknown")
	assert.Empty(t, e.Evaluate(metrics.Snapshot{Timestamp: 1, PlayerCount: 17, MaxPlayers: 20}))

	fired := e.Evaluate(metrics.Snapshot{Timestamp: 2, PlayerCount: 18, MaxPlayers: 20})
	require.Len(t, fired, 1)
	assert.Equal(t, "players", fired[0].Kind)
	assert.Equal(t, "Server Almost Full: 18 / 20 players (Threshold: 18)", fired[0].Message)
}

func TestKindsHaveIndependentCooldowns(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), nil, nil)
	s := metrics.Snapshot{Timestamp: 10, CPUUsage: 99, MemoryUsage: 99, MemoryTotal: 100, PlayerCount: 20, MaxPlayers: 20}
	assert.Len(t, e.Evaluate(s), 3)
	assert.Empty(t, e.Evaluate(s))
}

func TestSetThresholds(t *testing.T) {
	e := NewEvaluator(DefaultThresholds(), nil, nil)
	th := Thresholds{CPUPercent: 50, MemoryPercent: 60, PlayerCount: 5, Cooldown: time.Minute}
	e.SetThresholds(th)
	assert.Equal(t, th, e.Thresholds())
	assert.NoError(t, th.Validate())
	assert.Error(t, Thresholds{CPUPercent: -1}.Validate())
}
