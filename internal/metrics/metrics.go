package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "craftvisor",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of successful server spawns.",
		},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftvisor",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of completed stops by outcome (graceful, killed).",
		}, []string{"outcome"},
	)
	serverCrashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "craftvisor",
			Subsystem: "server",
			Name:      "crashes_total",
			Help:      "Number of unexpected server terminations.",
		},
	)
	alertsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftvisor",
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Number of alerts fired per kind.",
		}, []string{"kind"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftvisor",
			Subsystem: "server",
			Name:      "state_transitions_total",
			Help:      "Number of status transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "craftvisor",
			Subsystem: "server",
			Name:      "current_state",
			Help:      "Current server state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	cpuPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "craftvisor",
		Subsystem: "server",
		Name:      "cpu_percent",
		Help:      "CPU usage percentage of the server process.",
	})
	memoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "craftvisor",
		Subsystem: "server",
		Name:      "memory_rss_bytes",
		Help:      "Resident memory of the server process.",
	})
	players = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "craftvisor",
		Subsystem: "server",
		Name:      "players",
		Help:      "Players currently online.",
	})
	maxPlayers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "craftvisor",
		Subsystem: "server",
		Name:      "max_players",
		Help:      "Configured player limit.",
	})
	uptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "craftvisor",
		Subsystem: "server",
		Name:      "uptime_seconds",
		Help:      "Uptime of the current server run.",
	})
)

var phases = []string{"stopped", "starting", "running", "stopping", "error"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serverStarts, serverStops, serverCrashes, alertsFired, stateTransitions,
		currentState, cpuPercent, memoryBytes, players, maxPlayers, uptimeSeconds,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart() {
	if regOK.Load() {
		serverStarts.Inc()
	}
}

func IncStop(outcome string) {
	if regOK.Load() {
		serverStops.WithLabelValues(outcome).Inc()
	}
}

func IncCrash() {
	if regOK.Load() {
		serverCrashes.Inc()
	}
}

func IncAlert(kind string) {
	if regOK.Load() {
		alertsFired.WithLabelValues(kind).Inc()
	}
}

// RecordStateTransition counts the transition and flips the state gauge.
func RecordStateTransition(from, to string) {
	if !regOK.Load() {
		return
	}
	if from != to {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
	for _, p := range phases {
		v := 0.0
		if p == to {
			v = 1
		}
		currentState.WithLabelValues(p).Set(v)
	}
}

// ObserveSnapshot mirrors a snapshot into the gauges.
func ObserveSnapshot(s Snapshot) {
	if !regOK.Load() {
		return
	}
	cpuPercent.Set(s.CPUUsage)
	memoryBytes.Set(float64(s.MemoryUsage))
	players.Set(float64(s.PlayerCount))
	maxPlayers.Set(float64(s.MaxPlayers))
	uptimeSeconds.Set(float64(s.Uptime))
}
