// ABOUTME: Registry of agent mailboxes supporting unicast and broadcast delivery.
// ABOUTME: Broadcast attempts every recipient and aggregates failures.

package agent

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Bus maps agent ids to their mailboxes.
type Bus struct {
	mu      sync.RWMutex
	agents  map[string]*Mailbox
	counter atomic.Uint64
	logger  *slog.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		agents: make(map[string]*Mailbox),
		logger: logger.With("component", "bus"),
	}
}

// Register installs the mailbox for agentID, replacing any previous one.
func (b *Bus) Register(agentID string, mb *Mailbox) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agents[agentID] = mb
}

// Unregister removes agentID. No-op when absent.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.agents, agentID)
}

// Send delivers msg to a single agent.
func (b *Bus) Send(agentID string, msg Message) error {
	b.mu.RLock()
	mb, ok := b.agents[agentID]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("sending to %s: %w", agentID, ErrAgentNotFound)
	}
	if err := mb.Send(msg); err != nil {
		return fmt.Errorf("sending to %s: %w", agentID, err)
	}

	b.counter.Add(1)
	return nil
}

// Broadcast delivers a copy of msg to every registered agent. Each copy gets
// the id "<msg.ID>-<recipient>" so responses can be correlated. All recipients
// are attempted; failures come back together as a *BroadcastError.
func (b *Bus) Broadcast(msg Message) error {
	type target struct {
		id string
		mb *Mailbox
	}

	// Copy targets under the read lock; sends happen without it.
	b.mu.RLock()
	targets := make([]target, 0, len(b.agents))
	for id, mb := range b.agents {
		targets = append(targets, target{id: id, mb: mb})
	}
	b.mu.RUnlock()

	var failed map[string]error
	for _, t := range targets {
		copyMsg := msg
		copyMsg.ID = msg.ID + "-" + t.id
		copyMsg.To = t.id

		if err := t.mb.Send(copyMsg); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[t.id] = err
			b.logger.Warn("broadcast delivery failed",
				"message_id", copyMsg.ID,
				"agent_id", t.id,
				"error", err,
			)
		}
	}

	if failed != nil {
		return &BroadcastError{MessageID: msg.ID, Failed: failed}
	}

	b.counter.Add(1)
	b.logger.Debug("broadcast delivered", "message_id", msg.ID, "recipients", len(targets))
	return nil
}

// ActiveAgents returns a snapshot of the registered ids.
func (b *Bus) ActiveAgents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.agents))
	for id := range b.agents {
		ids = append(ids, id)
	}
	return ids
}

// countExchange counts a request/response exchange that went straight to a
// pool mailbox rather than through Send.
func (b *Bus) countExchange() {
	b.counter.Add(1)
}

// MessageCount returns the number of successful sends, broadcasts and
// request/response exchanges.
func (b *Bus) MessageCount() uint64 {
	return b.counter.Load()
}
