// ABOUTME: Liveness tracking: per-agent heartbeat deadlines and a periodic timeout scanner.
// ABOUTME: Overdue agents are reported at least once per scan on an unbounded notification channel.

package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// health is the liveness record of one agent.
type health struct {
	agentID       string
	lastHeartbeat time.Time
	timeout       time.Duration
	status        Status
	messageCount  uint64
}

// Monitor tracks heartbeats and reports agents that missed their deadline.
type Monitor struct {
	mu      sync.RWMutex
	records map[string]*health

	// pending holds timeout notifications not yet taken by the consumer.
	pendingMu sync.Mutex
	pending   []string
	wake      chan struct{}
	timeouts  chan string

	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewMonitor creates a Monitor. Notifications flow once Run is started.
func NewMonitor(cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		records:  make(map[string]*health),
		wake:     make(chan struct{}, 1),
		timeouts: make(chan string),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		logger:   logger.With("component", "health"),
	}
}

// Register installs a fresh record for agentID with its clock starting now.
// A non-positive timeout selects the configured default.
func (m *Monitor) Register(agentID string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[agentID] = &health{
		agentID:       agentID,
		lastHeartbeat: m.now(),
		timeout:       timeout,
		status:        StatusStarting,
	}
}

// Unregister removes agentID's record.
func (m *Monitor) Unregister(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, agentID)
}

// UpdateHeartbeat resets agentID's timeout clock, mirrors status and counts
// the event. It is the only way to reset the clock.
func (m *Monitor) UpdateHeartbeat(agentID string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.records[agentID]; ok {
		h.lastHeartbeat = m.now()
		h.status = status
		h.messageCount++
	}
}

// Status returns the mirrored status of agentID.
func (m *Monitor) Status(agentID string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.records[agentID]
	if !ok {
		return Status{}, false
	}
	return h.status, true
}

// Statuses returns the mirrored status of every tracked agent.
func (m *Monitor) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.records))
	for id, h := range m.records {
		out[id] = h.status
	}
	return out
}

// Timeouts delivers the ids of overdue agents. Delivery is at-least-once: an
// agent still registered on the next scan is reported again.
func (m *Monitor) Timeouts() <-chan string {
	return m.timeouts
}

// Scan marks every overdue agent Error("Timeout") and queues its id for
// notification. It returns the overdue ids.
func (m *Monitor) Scan() []string {
	now := m.now()
	var overdue []string

	m.mu.Lock()
	for id, h := range m.records {
		if now.Sub(h.lastHeartbeat) > h.timeout {
			h.status = ErrorStatus(reasonTimeout)
			overdue = append(overdue, id)
		}
	}
	m.mu.Unlock()

	for _, id := range overdue {
		m.logger.Warn("agent timed out", "agent_id", id)
		m.enqueue(id)
	}
	return overdue
}

func (m *Monitor) enqueue(agentID string) {
	m.pendingMu.Lock()
	m.pending = append(m.pending, agentID)
	m.pendingMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run scans every HealthCheckInterval and forwards notifications until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	go m.forward(ctx)

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Scan()
		}
	}
}

// forward moves queued notifications onto the timeouts channel so Scan never
// blocks on a slow consumer.
func (m *Monitor) forward(ctx context.Context) {
	for {
		m.pendingMu.Lock()
		var next string
		hasNext := len(m.pending) > 0
		if hasNext {
			next = m.pending[0]
		}
		m.pendingMu.Unlock()

		if !hasNext {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case m.timeouts <- next:
			m.pendingMu.Lock()
			m.pending = m.pending[1:]
			m.pendingMu.Unlock()
		}
	}
}

// Summary aggregates the records into healthy, unhealthy and timed-out buckets.
func (m *Monitor) Summary() HealthSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := HealthSummary{TotalAgents: len(m.records)}
	for _, h := range m.records {
		summary.TotalMessages += h.messageCount

		switch {
		case h.status.State == StateRunning, h.status.State == StateIdle, h.status.State == StateBusy:
			summary.HealthyAgents++
		case h.status.IsTimeout():
			summary.TimedOutAgents++
		default:
			summary.UnhealthyAgents++
		}
	}
	return summary
}
