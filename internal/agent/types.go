// ABOUTME: Core records shared by the supervisor components: agents, statuses, messages.
// ABOUTME: Agents are owned by the Pool; everything handed to callers is a copy.

package agent

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// State is the coarse lifecycle state of an agent.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateIdle
	StateBusy
	StateError
	StateStopping
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateError:
		return "Error"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Status is an agent's lifecycle status. Reason is only set for StateError.
type Status struct {
	State  State
	Reason string
}

// Convenience statuses for the reason-less states.
var (
	StatusStarting = Status{State: StateStarting}
	StatusRunning  = Status{State: StateRunning}
	StatusIdle     = Status{State: StateIdle}
	StatusBusy     = Status{State: StateBusy}
	StatusStopping = Status{State: StateStopping}
	StatusStopped  = Status{State: StateStopped}
)

// reasonTimeout is the error reason the health scanner assigns to overdue agents.
const reasonTimeout = "Timeout"

// ErrorStatus builds an error status with the given reason.
func ErrorStatus(reason string) Status {
	return Status{State: StateError, Reason: reason}
}

// String renders the status the way it is shown to users, e.g. "Error: Timeout".
func (s Status) String() string {
	if s.State == StateError {
		return "Error: " + s.Reason
	}
	return s.State.String()
}

// IsTimeout reports whether the status is the health scanner's timeout mark.
func (s Status) IsTimeout() bool {
	return s.State == StateError && s.Reason == reasonTimeout
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, bool) {
	if reason, ok := strings.CutPrefix(s, "Error: "); ok {
		return ErrorStatus(reason), true
	}
	for st := StateStarting; st <= StateStopped; st++ {
		if st != StateError && strings.EqualFold(st.String(), s) {
			return Status{State: st}, true
		}
	}
	return Status{}, false
}

// Agent describes one supervised worker.
type Agent struct {
	ID           string
	Name         string
	Type         string
	Task         string
	Status       Status
	CreatedAt    time.Time
	LastActive   time.Time
	Capabilities []string
	Metadata     map[string]string
}

// clone returns a copy that shares no mutable state with a.
func (a *Agent) clone() Agent {
	c := *a
	c.Capabilities = slices.Clone(a.Capabilities)
	c.Metadata = maps.Clone(a.Metadata)
	return c
}

// MessageKind tags mailbox traffic.
type MessageKind int

const (
	KindTask MessageKind = iota
	KindResponse
	KindProgress
	KindError
	KindStatus
	KindHeartbeat
)

// String returns the kind name.
func (k MessageKind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindResponse:
		return "response"
	case KindProgress:
		return "progress"
	case KindError:
		return "error"
	case KindStatus:
		return "status"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// stopSignal is the Status payload a worker treats as cooperative shutdown.
const stopSignal = "STOP"

// Message is a unit of mailbox traffic.
type Message struct {
	ID        string
	From      string
	To        string
	Kind      MessageKind
	Content   string
	Timestamp time.Time

	// Reply, when set, receives exactly one Reply for a Task message.
	// It must be buffered so the worker never blocks on it.
	Reply chan Reply
}

// Reply is the answer a worker posts on a Task message's reply channel.
type Reply struct {
	Content string
	Err     error
}

// CreateRequest describes an agent to create.
type CreateRequest struct {
	Type         string
	Task         string
	Name         string        // optional; generated when empty
	Capabilities []string      // optional; defaults per agent type
	Timeout      time.Duration // optional health timeout; zero means the configured default
	Priority     int           // accepted and recorded in metadata, never used for ordering
	Metadata     map[string]string
}

// CreateResult reports the outcome of one entry of a parallel creation batch.
type CreateResult struct {
	ID    string
	Type  string
	Error error
}

// SystemStatus is an observability snapshot of the supervisor.
type SystemStatus struct {
	ActiveAgents      int
	MaxAgents         int
	MemoryUsedPercent float64
	CPUUsedPercent    float64
	Uptime            time.Duration
	MessagesProcessed uint64
}

// HealthSummary aggregates the health records into buckets.
type HealthSummary struct {
	TotalAgents     int
	HealthyAgents   int
	UnhealthyAgents int
	TimedOutAgents  int
	TotalMessages   uint64
}
