// ABOUTME: Error taxonomy for the agent supervisor.
// ABOUTME: Sentinels are wrapped with context and matched with errors.Is.

package agent

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrCapacity indicates admission was denied. Callers may retry later.
	ErrCapacity = errors.New("resource limits exceeded")

	// ErrAgentNotFound indicates the specified agent was not found.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrMailboxClosed indicates the agent's worker exited without a formal stop.
	ErrMailboxClosed = errors.New("agent mailbox closed")

	// ErrMailboxFull indicates the agent's mailbox queue is saturated.
	ErrMailboxFull = errors.New("agent mailbox full")

	// ErrResponseTimeout indicates a request/response exchange exceeded its wait
	// budget. It does not mean the agent is dead.
	ErrResponseTimeout = errors.New("timeout waiting for agent response")

	// ErrUnknownAgentType indicates no executor is registered for the agent type.
	ErrUnknownAgentType = errors.New("unknown agent type")

	// ErrTaskFailed wraps an executor failure reported back through a reply.
	ErrTaskFailed = errors.New("agent task failed")
)

// BroadcastError collects the per-recipient failures of a broadcast.
// Every recipient was attempted before it was returned.
type BroadcastError struct {
	MessageID string
	Failed    map[string]error // recipient id -> delivery error
}

func (e *BroadcastError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failed[id]))
	}
	return fmt.Sprintf("broadcast %s failed for %d agent(s): %s", e.MessageID, len(ids), strings.Join(parts, ", "))
}

// Unwrap exposes the individual delivery errors to errors.Is and errors.As.
func (e *BroadcastError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}
