package status

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Phase is the coarse lifecycle position of the supervised server.
type Phase int32

const (
	PhaseStopped Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseStopping
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// ParsePhase is the inverse of Phase.String.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stopped":
		return PhaseStopped, nil
	case "starting":
		return PhaseStarting, nil
	case "running":
		return PhaseRunning, nil
	case "stopping":
		return PhaseStopping, nil
	case "error":
		return PhaseError, nil
	}
	return PhaseStopped, fmt.Errorf("unknown phase %q", s)
}

// Status is the server status value. Message is only set for PhaseError.
type Status struct {
	Phase   Phase
	Message string
}

var (
	Stopped  = Status{Phase: PhaseStopped}
	Starting = Status{Phase: PhaseStarting}
	Running  = Status{Phase: PhaseRunning}
	Stopping = Status{Phase: PhaseStopping}
)

// Error returns an error status carrying msg.
func Error(msg string) Status { return Status{Phase: PhaseError, Message: msg} }

func (s Status) Is(p Phase) bool { return s.Phase == p }

// Active reports whether a process is expected to be alive (starting or running).
func (s Status) Active() bool { return s.Phase == PhaseStarting || s.Phase == PhaseRunning }

func (s Status) String() string {
	if s.Phase == PhaseError {
		return "error: " + s.Message
	}
	return s.Phase.String()
}

type wireStatus struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireStatus{State: s.Phase.String(), Message: s.Message})
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var w wireStatus
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := ParsePhase(w.State)
	if err != nil {
		return err
	}
	s.Phase = p
	s.Message = w.Message
	return nil
}
