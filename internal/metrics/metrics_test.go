package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// idempotent: calling again should be no-op
	require.NoError(t, Register(reg))

	IncStart()
	IncStop("graceful")
	IncCrash()
	IncAlert("cpu")
	RecordStateTransition("stopped", "starting")
	ObserveSnapshot(Snapshot{CPUUsage: 12.5, MemoryUsage: 1024, PlayerCount: 3, MaxPlayers: 20, Uptime: 60})

	mfs, err := reg.Gather()
	require.NoError(t, err)
	want := map[string]bool{
		"craftvisor_server_starts_total":            false,
		"craftvisor_server_stops_total":             false,
		"craftvisor_server_crashes_total":           false,
		"craftvisor_alerts_fired_total":             false,
		"craftvisor_server_state_transitions_total": false,
		"craftvisor_server_current_state":           false,
		"craftvisor_server_cpu_percent":             false,
		"craftvisor_server_players":                 false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			assert.NotEmpty(t, mf.GetMetric(), mf.GetName())
		}
	}
	for n, ok := range want {
		assert.True(t, ok, "expected to find metric %s", n)
	}
}

func TestHandlerForServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "probe"})))

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "probe_total"))
}
