package metrics

import "time"

// Snapshot is one sample of server telemetry. Timestamp is in unix seconds.
type Snapshot struct {
	Timestamp   uint64   `json:"timestamp"`
	CPUUsage    float64  `json:"cpu_usage"`
	MemoryUsage uint64   `json:"memory_usage"`
	MemoryTotal uint64   `json:"system_memory_total"`
	PlayerCount uint32   `json:"player_count"`
	MaxPlayers  uint32   `json:"max_players"`
	TPS         *float64 `json:"tps,omitempty"`
	Uptime      uint64   `json:"uptime"`
}

// Zero returns an empty snapshot stamped with now.
func Zero(now time.Time) Snapshot {
	return Snapshot{Timestamp: uint64(now.Unix())}
}

// Time returns the sample time.
func (s Snapshot) Time() time.Time { return time.Unix(int64(s.Timestamp), 0) }

// MemoryPercent returns RSS as a percentage of total system memory, or 0
// when the total is unknown.
func (s Snapshot) MemoryPercent() float64 {
	if s.MemoryTotal == 0 {
		return 0
	}
	return float64(s.MemoryUsage) / float64(s.MemoryTotal) * 100
}
