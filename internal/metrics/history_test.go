package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(ts uint64, cpu float64, mem uint64) Snapshot {
	return Snapshot{Timestamp: ts, CPUUsage: cpu, MemoryUsage: mem, MemoryTotal: 1000, MaxPlayers: 20}
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	h := NewHistory(3)
	for i := uint64(1); i <= 5; i++ {
		h.Append(snap(i, float64(i), i))
	}
	assert.Equal(t, 3, h.Len())
	got := h.Snapshots(0)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{got[0].Timestamp, got[1].Timestamp, got[2].Timestamp})

	last2 := h.Snapshots(2)
	assert.Equal(t, uint64(4), last2[0].Timestamp)
	assert.Equal(t, uint64(5), last2[1].Timestamp)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(5), latest.Timestamp)
}

func TestHistoryDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultHistorySize, NewHistory(0).Cap())
}

func TestAverageUsesWindowEndingAtLatest(t *testing.T) {
	h := NewHistory(100)
	// 100..109 with cpu equal to 10*i offset
	for i := uint64(0); i < 10; i++ {
		h.Append(snap(100+i, float64(i*10), 100*(i+1)))
	}
	// window [104, 109] -> cpu 40..90, mean 65; mem 500..1000, mean 750
	avg, ok := h.Average(5 * time.Second)
	require.True(t, ok)
	assert.InDelta(t, 65.0, avg.CPUUsage, 1e-9)
	assert.Equal(t, uint64(750), avg.MemoryUsage)
	assert.Equal(t, uint64(109), avg.Timestamp)
	assert.Nil(t, avg.TPS)

	all, ok := h.Average(time.Hour)
	require.True(t, ok)
	assert.InDelta(t, 45.0, all.CPUUsage, 1e-9)
}

func TestAverageTPSOnlyOverReportedSamples(t *testing.T) {
	h := NewHistory(10)
	a, b := 20.0, 18.0
	s1 := snap(1, 0, 0)
	s1.TPS = &a
	s2 := snap(2, 0, 0)
	s3 := snap(3, 0, 0)
	s3.TPS = &b
	h.Append(s1)
	h.Append(s2)
	h.Append(s3)
	avg, ok := h.Average(time.Minute)
	require.True(t, ok)
	require.NotNil(t, avg.TPS)
	assert.InDelta(t, 19.0, *avg.TPS, 1e-9)
}

func TestAverageEmpty(t *testing.T) {
	_, ok := NewHistory(4).Average(time.Minute)
	assert.False(t, ok)
}

func TestPersistWritesDatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	h := NewHistory(10)

	path, err := h.Persist(dir, time.Now())
	require.NoError(t, err)
	assert.Empty(t, path, "empty history writes nothing")

	h.Append(snap(1, 5, 10))
	h.Append(snap(2, 7, 20))
	day := time.Date(2024, 3, 9, 12, 0, 0, 0, time.Local)
	path, err = h.Persist(dir, day)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "metrics_20240309.json"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []Snapshot
	require.NoError(t, json.Unmarshal(b, &got))
	require.Len(t, got, 2)
	assert.Equal(t, 7.0, got[1].CPUUsage)
	assert.Contains(t, string(b), "\n  ", "pretty printed")
}

func TestSnapshotMemoryPercent(t *testing.T) {
	assert.Equal(t, 0.0, Snapshot{MemoryUsage: 5}.MemoryPercent())
	assert.InDelta(t, 50.0, Snapshot{MemoryUsage: 5, MemoryTotal: 10}.MemoryPercent(), 1e-9)
}
