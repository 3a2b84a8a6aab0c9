package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/craftvisor/internal/alert"
	"github.com/loykin/craftvisor/internal/event"
	"github.com/loykin/craftvisor/internal/metrics"
	"github.com/loykin/craftvisor/internal/state"
	"github.com/loykin/craftvisor/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFinder struct {
	mu    sync.Mutex
	pid   int32
	alive bool
	finds int
}

func (f *fakeFinder) Find(state.Launch) (int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	return f.pid, f.pid != 0
}

func (f *fakeFinder) Alive(pid int32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive && pid == f.pid
}

func (f *fakeFinder) kill() {
	f.mu.Lock()
	f.alive = false
	f.mu.Unlock()
}

type fakeSampler struct {
	usage  metrics.Usage
	err    error
	resets int
}

func (s *fakeSampler) Sample(int32) (metrics.Usage, error) { return s.usage, s.err }
func (s *fakeSampler) Reset()                              { s.resets++ }

type fixture struct {
	mon     *Monitor
	st      *state.Shared
	rec     *event.Recorder
	finder  *fakeFinder
	sampler *fakeSampler
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	rec := event.NewRecorder()
	st := state.New(rec, state.Launch{JarPath: "/srv/mc/server.jar"}, nil)
	f := &fixture{
		st:      st,
		rec:     rec,
		finder:  &fakeFinder{pid: 4242, alive: true},
		sampler: &fakeSampler{usage: metrics.Usage{CPUPercent: 12.5, MemoryRSS: 512, MemoryTotal: 4096}},
	}
	opts = append([]Option{WithFinder(f.finder), WithSampler(f.sampler)}, opts...)
	f.mon = New(cfg, st, metrics.NewHistory(10), rec, opts...)
	return f
}

func (f *fixture) start() uint64 {
	run := f.st.BeginRun()
	f.st.SetStatus(status.Starting)
	f.st.SetStatus(status.Running)
	f.rec.Reset()
	return run
}

func TestTickInactiveResetsMetrics(t *testing.T) {
	f := newFixture(t, Config{})
	f.st.SetMetrics(metrics.Snapshot{Timestamp: 1, CPUUsage: 50})
	now := time.Unix(1_700_000_000, 0)

	f.mon.Tick(now)

	assert.Equal(t, metrics.Zero(now), f.st.Metrics())
	assert.Equal(t, 0, f.finder.finds, "no search while stopped")
	assert.Equal(t, 0, f.mon.History().Len())
	assert.Empty(t, f.rec.OfType(event.TypeMetricsUpdated))
}

func TestTickSamplesRunningServer(t *testing.T) {
	f := newFixture(t, Config{Interval: time.Second, EventInterval: 5 * time.Second})
	f.start()
	f.st.IncPlayers()
	f.st.SetMaxPlayers(20)
	t0 := time.Unix(1_700_000_000, 0)

	f.mon.Tick(t0)
	f.mon.Tick(t0.Add(2 * time.Second))
	f.mon.Tick(t0.Add(5 * time.Second))

	assert.Equal(t, 1, f.finder.finds, "pid is tracked after the first find")
	assert.Equal(t, 1, f.sampler.resets)

	cur := f.st.Metrics()
	assert.Equal(t, uint64(t0.Unix()+5), cur.Timestamp)
	assert.Equal(t, 12.5, cur.CPUUsage)
	assert.Equal(t, uint64(512), cur.MemoryUsage)
	assert.Equal(t, uint64(4096), cur.MemoryTotal)
	assert.Equal(t, uint32(1), cur.PlayerCount)
	assert.Equal(t, uint32(20), cur.MaxPlayers)
	assert.Equal(t, uint64(5), cur.Uptime)
	assert.Nil(t, cur.TPS)

	assert.Equal(t, 3, f.mon.History().Len())
	assert.Len(t, f.rec.OfType(event.TypeMetricsUpdated), 2, "rate limited to the event interval")
}

func TestTickVanishedPidIsCrash(t *testing.T) {
	f := newFixture(t, Config{})
	f.start()
	f.st.IncPlayers()
	t0 := time.Unix(1_700_000_000, 0)
	f.mon.Tick(t0)
	f.rec.Reset()

	f.finder.kill()
	f.mon.Tick(t0.Add(time.Second))

	assert.Equal(t, status.Stopped, f.st.Status())
	assert.Equal(t, uint32(0), f.st.Players())
	statuses := f.rec.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, status.Stopped, statuses[0].Status)
	warns := f.rec.Logs(event.LevelWarn)
	require.Len(t, warns, 1)
	assert.Equal(t, event.SourceMonitor, warns[0].Source)
	assert.Empty(t, f.rec.OfType(event.TypeMetricsUpdated), "the crash ends the tick")
}

func TestTickWithoutProcessWaits(t *testing.T) {
	f := newFixture(t, Config{})
	f.finder.pid = 0
	f.start()

	f.mon.Tick(time.Unix(100, 0))
	assert.Equal(t, status.Running, f.st.Status())
	assert.Equal(t, 0, f.mon.History().Len())
}

func TestTickNewRunRetracks(t *testing.T) {
	f := newFixture(t, Config{})
	f.start()
	f.mon.Tick(time.Unix(100, 0))
	f.start()
	f.mon.Tick(time.Unix(200, 0))
	assert.Equal(t, 2, f.finder.finds)
	assert.Equal(t, uint64(0), f.st.Metrics().Uptime)
}

func TestTickSampleErrorSkips(t *testing.T) {
	f := newFixture(t, Config{})
	f.sampler.err = errors.New("gone")
	f.start()
	f.mon.Tick(time.Unix(100, 0))
	assert.Equal(t, 0, f.mon.History().Len())
	assert.Equal(t, status.Running, f.st.Status())
}

func TestTickEvaluatesAlertsAndTPS(t *testing.T) {
	rec := event.NewRecorder()
	th := alert.DefaultThresholds()
	th.CPUPercent = 10
	tps := 19.5
	f := newFixture(t, Config{}, WithAlerts(alert.NewEvaluator(th, rec, nil)), WithTPS(func() *float64 { return &tps }))
	f.start()

	f.mon.Tick(time.Unix(100, 0))

	require.Len(t, rec.OfType(event.TypeAlert), 1)
	require.NotNil(t, f.st.Metrics().TPS)
	assert.Equal(t, 19.5, *f.st.Metrics().TPS)
}
