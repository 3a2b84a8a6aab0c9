package client

import (
	"fmt"
	"time"
)

// Status is the server status as reported by the API. State is one of
// stopped, starting, running, stopping or error.
type Status struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

func (s Status) String() string {
	if s.Message != "" {
		return s.State + ": " + s.Message
	}
	return s.State
}

// StatusResponse is returned by /status and the lifecycle endpoints.
type StatusResponse struct {
	Status     Status `json:"status"`
	Running    bool   `json:"running"`
	Run        uint64 `json:"run"`
	PID        int    `json:"pid,omitempty"`
	Players    uint32 `json:"players"`
	MaxPlayers uint32 `json:"max_players"`
}

// Snapshot is one metrics sample.
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

// Thresholds are the alert limits. Cooldown travels as nanoseconds.
type Thresholds struct {
	CPUPercent    float64       `json:"cpu_percent"`
	MemoryPercent float64       `json:"memory_percent"`
	PlayerCount   uint32        `json:"player_count"`
	Cooldown      time.Duration `json:"cooldown"`
}

// Launch is the launch configuration used for the next start.
type Launch struct {
	JavaPath    string        `json:"java_path"`
	JarPath     string        `json:"jar_path"`
	WorkDir     string        `json:"work_dir"`
	Args        []string      `json:"args"`
	Env         []string      `json:"env,omitempty"`
	StopTimeout time.Duration `json:"stop_timeout"`
}

// ConsoleLine is one captured console line.
type ConsoleLine struct {
	Time   time.Time `json:"time"`
	Source string    `json:"source"`
	Text   string    `json:"text"`
}

// HistoryEvent is one lifecycle record.
type HistoryEvent struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     struct {
		Server  string `json:"server"`
		Run     uint64 `json:"run"`
		Status  string `json:"status"`
		Players uint32 `json:"players"`
		Message string `json:"message,omitempty"`
	} `json:"record"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Kind       string `json:"kind"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("API error (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}
