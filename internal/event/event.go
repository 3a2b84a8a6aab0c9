// Package event carries typed domain events from any producer goroutine to a
// single dispatcher that forwards them to registered handlers.
package event

import (
	"time"

	"github.com/loykin/craftvisor/internal/metrics"
	"github.com/loykin/craftvisor/internal/status"
)

// Type names an event variant. It is the "type" field on the wire.
type Type string

const (
	TypeStatusChanged   Type = "status_changed"
	TypeLog             Type = "log"
	TypeAlert           Type = "alert"
	TypeMetricsUpdated  Type = "metrics_updated"
	TypePlayerJoined    Type = "player_joined"
	TypePlayerLeft      Type = "player_left"
	TypeCommandExecuted Type = "command_executed"
	TypeError           Type = "error"
)

// Level is the severity of a Log event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Log sources used by the supervisor and its monitors.
const (
	SourceStdout     = "server_stdout"
	SourceStderr     = "server_stderr"
	SourceSupervisor = "supervisor"
	SourceMonitor    = "monitor"
	SourceAlerts     = "alerts"
)

// Event is one tagged occurrence. Payload holds the variant's data and is one of
// the payload types below.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Causes attached to a status change that was not requested by a stop.
const (
	CauseCrash       = "crash"
	CauseStartFailed = "start_failed"
)

type StatusPayload struct {
	Status status.Status `json:"status"`
	Run    uint64        `json:"run,omitempty"`
	Cause  string        `json:"cause,omitempty"`
}

type LogPayload struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
	Source  string `json:"source"`
}

type AlertPayload struct {
	Kind      string  `json:"kind"`
	Message   string  `json:"message"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

type PlayerPayload struct {
	Name string `json:"name"`
}

type CommandPayload struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
}

type ErrorPayload struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func StatusChanged(s status.Status, run uint64) Event {
	return StatusChangedBy(s, run, "")
}

// StatusChangedBy is StatusChanged with a cause.
func StatusChangedBy(s status.Status, run uint64, cause string) Event {
	return Event{Type: TypeStatusChanged, Timestamp: time.Now(), Payload: StatusPayload{Status: s, Run: run, Cause: cause}}
}

func Log(level Level, source, message string) Event {
	return Event{Type: TypeLog, Timestamp: time.Now(), Payload: LogPayload{Level: level, Message: message, Source: source}}
}

func Alert(kind, message string, value, threshold float64) Event {
	return Event{Type: TypeAlert, Timestamp: time.Now(), Payload: AlertPayload{Kind: kind, Message: message, Value: value, Threshold: threshold}}
}

func MetricsUpdated(s metrics.Snapshot) Event {
	return Event{Type: TypeMetricsUpdated, Timestamp: time.Now(), Payload: s}
}

func PlayerJoined(name string) Event {
	return Event{Type: TypePlayerJoined, Timestamp: time.Now(), Payload: PlayerPayload{Name: name}}
}

func PlayerLeft(name string) Event {
	return Event{Type: TypePlayerLeft, Timestamp: time.Now(), Payload: PlayerPayload{Name: name}}
}

func CommandExecuted(command string, success bool, output string) Event {
	return Event{Type: TypeCommandExecuted, Timestamp: time.Now(), Payload: CommandPayload{Command: command, Success: success, Output: output}}
}

func Error(kind, message string) Event {
	return Event{Type: TypeError, Timestamp: time.Now(), Payload: ErrorPayload{Kind: kind, Message: message}}
}
