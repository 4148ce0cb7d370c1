// ABOUTME: Composition root of the supervisor: sequences scheduler, pool, bus and monitor.
// ABOUTME: Runs the background loops for timeout eviction, broadcasts, sampling and reaping.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-swarm/internal/dedupe"
)

// ManagerParams configures a Manager.
type ManagerParams struct {
	Config    Config
	Executors ExecutorSource
	Sink      Sink
	Sampler   StatsSampler
	Recorder  Recorder
	Logger    *slog.Logger
}

// Manager coordinates the supervisor components. No method holds one
// component's lock while calling another; components only meet here, in
// sequential calls, and through channels.
type Manager struct {
	cfg       Config
	pool      *Pool
	bus       *Bus
	monitor   *Monitor
	scheduler *Scheduler

	broadcasts chan Message
	seen       *dedupe.Cache
	recorder   Recorder
	logger     *slog.Logger
}

// NewManager wires the components together. Call Run to start the
// background loops.
func NewManager(p ManagerParams) *Manager {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := p.Config.withDefaults()
	recorder := p.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	m := &Manager{
		cfg:        cfg,
		bus:        NewBus(logger),
		monitor:    NewMonitor(cfg, logger),
		scheduler:  NewScheduler(cfg, p.Sampler, logger),
		broadcasts: make(chan Message, cfg.MessageQueueSize),
		seen:       dedupe.New(cfg.HealthCheckInterval, 4*cfg.MaxAgents),
		recorder:   recorder,
		logger:     logger.With("component", "manager"),
	}
	m.pool = NewPool(PoolParams{
		Config:      cfg,
		Executors:   p.Executors,
		Sink:        p.Sink,
		Logger:      logger,
		OnHeartbeat: m.heartbeatTick,
	})
	return m
}

// CreateAgent admits, spawns and registers one agent.
func (m *Manager) CreateAgent(ctx context.Context, req CreateRequest) (string, error) {
	if err := m.scheduler.Reserve(); err != nil {
		return "", err
	}
	return m.createReserved(ctx, req)
}

// createReserved spawns an agent whose slot has already been reserved. Until
// the pool accepts the agent the slot is released here on failure; after
// that it belongs to the pool entry and is released by whoever removes it.
func (m *Manager) createReserved(ctx context.Context, req CreateRequest) (string, error) {
	id, err := m.pool.CreateAgent(ctx, req)
	if err != nil {
		m.scheduler.Release()
		return "", err
	}

	mb, ok := m.pool.Mailbox(id)
	if !ok {
		return "", fmt.Errorf("registering agent %s: stopped during creation: %w", id, ErrAgentNotFound)
	}
	m.bus.Register(id, mb)
	m.monitor.Register(id, req.Timeout)
	m.monitor.UpdateHeartbeat(id, StatusRunning)

	// A stop that removed the agent before the registrations above ran its
	// teardown too early to undo them.
	if _, ok := m.pool.GetAgent(id); !ok {
		m.monitor.Unregister(id)
		m.bus.Unregister(id)
		return "", fmt.Errorf("registering agent %s: stopped during creation: %w", id, ErrAgentNotFound)
	}

	m.logger.Info("created agent", "agent_id", id, "type", req.Type)
	m.record(ctx, id, EventCreated, map[string]any{"type": req.Type, "task": req.Task})
	return id, nil
}

// CreateAgentsParallel creates a batch of agents. Slots for the whole batch
// are reserved up front in one step: when they do not all fit, nothing is
// created and ErrCapacity is returned. Individual creation failures are
// reported per entry and release their own slot.
func (m *Manager) CreateAgentsParallel(ctx context.Context, reqs []CreateRequest) ([]CreateResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if err := m.scheduler.ReserveN(len(reqs)); err != nil {
		return nil, err
	}

	results := make([]CreateResult, len(reqs))
	var g errgroup.Group
	for i, req := range reqs {
		g.Go(func() error {
			id, err := m.createReserved(ctx, req)
			results[i] = CreateResult{ID: id, Type: req.Type, Error: err}
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// StopAgent stops agentID. It returns false when the agent was not running;
// only a successful stop unregisters it and frees its slot.
func (m *Manager) StopAgent(agentID string) (bool, error) {
	stopped, err := m.pool.StopAgent(agentID)
	if err != nil {
		return false, err
	}
	if !stopped {
		return false, nil
	}

	m.teardown(agentID)
	m.logger.Info("stopped agent", "agent_id", agentID)
	m.record(context.Background(), agentID, EventStopped, nil)
	return true, nil
}

// teardown undoes the registrations of an agent already removed from the
// pool. Callers must have won that removal, so the slot is released once.
func (m *Manager) teardown(agentID string) {
	m.monitor.Unregister(agentID)
	m.bus.Unregister(agentID)
	m.seen.Forget(agentID)
	m.scheduler.Release()
}

// cleanupDeadWorker tears down an agent whose mailbox was found closed: the
// worker exited without being stopped.
func (m *Manager) cleanupDeadWorker(ctx context.Context, agentID string, cause error) {
	m.logger.Error("agent worker exited without stop, cleaning up", "agent_id", agentID)
	if _, err := m.StopAgent(agentID); err != nil {
		m.logger.Error("cleanup after closed mailbox failed", "agent_id", agentID, "error", err)
	}
	m.record(ctx, agentID, EventError, map[string]any{"error": cause.Error()})
}

// cleanupBroadcastFailures tears down every recipient of a failed broadcast
// whose mailbox was closed.
func (m *Manager) cleanupBroadcastFailures(ctx context.Context, err error) {
	var be *BroadcastError
	if !errors.As(err, &be) {
		return
	}
	for id, ferr := range be.Failed {
		if errors.Is(ferr, ErrMailboxClosed) {
			m.cleanupDeadWorker(ctx, id, ferr)
		}
	}
}

// SendMessage sends content to agentID and waits for the reply. A successful
// exchange counts as a heartbeat. A closed mailbox means the worker died
// without being stopped; it is torn down like an explicit stop.
func (m *Manager) SendMessage(ctx context.Context, agentID, content string) (string, error) {
	resp, err := m.pool.SendMessage(ctx, agentID, content)
	if err != nil {
		if errors.Is(err, ErrMailboxClosed) {
			m.cleanupDeadWorker(ctx, agentID, err)
		}
		return "", err
	}

	m.monitor.UpdateHeartbeat(agentID, StatusBusy)
	m.bus.countExchange()
	m.record(ctx, agentID, EventMessage, map[string]any{"content": content, "response": resp})
	return resp, nil
}

// Broadcast queues content for delivery to every registered agent. Delivery
// is best effort: failures are logged by the broadcast loop, not returned,
// and recipients with closed mailboxes are torn down.
func (m *Manager) Broadcast(content string) (string, error) {
	msg := newBroadcastMessage(content)
	select {
	case m.broadcasts <- msg:
		return msg.ID, nil
	default:
		return "", fmt.Errorf("queueing broadcast: %w", ErrMailboxFull)
	}
}

// BroadcastNow delivers content to every registered agent and returns the
// aggregate delivery error, if any.
func (m *Manager) BroadcastNow(ctx context.Context, content string) error {
	msg := newBroadcastMessage(content)
	err := m.bus.Broadcast(msg)
	m.recordBroadcast(ctx, msg, err)
	m.cleanupBroadcastFailures(ctx, err)
	return err
}

func newBroadcastMessage(content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Kind:      KindTask,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// ListAgents returns copies of every agent record.
func (m *Manager) ListAgents() []Agent {
	return m.pool.ListAgents()
}

// GetAgent returns a copy of agentID's record.
func (m *Manager) GetAgent(agentID string) (Agent, bool) {
	return m.pool.GetAgent(agentID)
}

// SystemStatus returns the scheduler's snapshot with the bus throughput.
func (m *Manager) SystemStatus() SystemStatus {
	return m.scheduler.Status(m.bus.MessageCount())
}

// HealthSummary returns the monitor's aggregate view.
func (m *Manager) HealthSummary() HealthSummary {
	return m.monitor.Summary()
}

// CanCreate reports whether one more agent would currently be admitted.
func (m *Manager) CanCreate() bool {
	return m.scheduler.CanCreate()
}

// ActiveSlots returns the number of reserved scheduler slots.
func (m *Manager) ActiveSlots() int {
	return m.scheduler.ActiveCount()
}

// AllCompleted reports whether every pooled agent is marked Stopped.
func (m *Manager) AllCompleted() bool {
	return m.pool.AllCompleted()
}

// DetectCompleted marks Running or Busy agents idle for longer than the idle
// threshold as Stopped. Idle is presumed done, so a legitimately long task
// that stops touching its record is reaped too.
func (m *Manager) DetectCompleted() int {
	count := 0
	for _, a := range m.pool.ListAgents() {
		if a.Status.State != StateRunning && a.Status.State != StateBusy {
			continue
		}
		idle := time.Since(a.LastActive)
		if idle <= m.cfg.IdleThreshold {
			continue
		}

		m.logger.Info("agent appears to have completed its task",
			"agent_id", a.ID,
			"name", a.Name,
			"idle", idle.Round(time.Second),
		)
		m.pool.UpdateStatus(a.ID, StatusStopped)
		m.record(context.Background(), a.ID, EventReaped, map[string]any{"idle_seconds": int(idle.Seconds())})
		count++
	}
	return count
}

// CleanupStopped evicts agents marked Stopped from the pool and frees their
// registrations and slots. It returns the number evicted.
func (m *Manager) CleanupStopped() int {
	ids := m.pool.CleanupStopped()
	for _, id := range ids {
		m.teardown(id)
	}
	return len(ids)
}

// ForceCleanupTimedOut stops every agent the monitor has marked as timed out.
func (m *Manager) ForceCleanupTimedOut() []string {
	var cleaned []string
	for id, st := range m.monitor.Statuses() {
		if !st.IsTimeout() {
			continue
		}
		if stopped, _ := m.StopAgent(id); stopped {
			cleaned = append(cleaned, id)
		}
	}
	return cleaned
}

// Run starts the background loops and blocks until ctx is cancelled. On
// return every remaining agent has been stopped and the timeout dedupe
// sweeper is shut down; a Manager is not reusable after Run returns.
func (m *Manager) Run(ctx context.Context) error {
	defer m.seen.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { m.scheduler.Run(gctx); return nil })
	g.Go(func() error { m.monitor.Run(gctx); return nil })
	g.Go(func() error { m.evictionLoop(gctx); return nil })
	g.Go(func() error { m.broadcastLoop(gctx); return nil })
	if m.cfg.ReapInterval > 0 {
		g.Go(func() error { m.reapLoop(gctx); return nil })
	}

	m.logger.Info("supervisor running",
		"max_agents", m.cfg.MaxAgents,
		"health_check_interval", m.cfg.HealthCheckInterval,
		"default_timeout", m.cfg.DefaultTimeout,
	)

	err := g.Wait()
	m.stopAll()
	return err
}

// Close stops every agent and releases background resources.
func (m *Manager) Close() {
	m.stopAll()
	m.seen.Close()
}

func (m *Manager) stopAll() {
	for _, id := range m.pool.IDs() {
		if _, err := m.StopAgent(id); err != nil {
			m.logger.Error("stopping agent during shutdown", "agent_id", id, "error", err)
		}
	}
}

// evictionLoop tears down agents reported overdue by the monitor. The same
// id may arrive again before cleanup completes; StopAgent is idempotent and
// repeats inside one scan interval are dropped.
func (m *Manager) evictionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.monitor.Timeouts():
			if m.seen.CheckAndMark(id) {
				m.logger.Debug("duplicate timeout notification", "agent_id", id)
				continue
			}
			m.evict(id)
		}
	}
}

func (m *Manager) evict(agentID string) {
	m.logger.Warn("agent timed out, attempting cleanup", "agent_id", agentID)

	stopped, err := m.pool.StopAgent(agentID)
	if err != nil {
		m.logger.Error("evicting timed out agent", "agent_id", agentID, "error", err)
		return
	}
	if !stopped {
		// Already gone from the pool; drop any leftover liveness record so it
		// is not reported again. The slot was released by whoever removed it.
		m.monitor.Unregister(agentID)
		m.bus.Unregister(agentID)
		return
	}

	m.teardown(agentID)
	m.logger.Info("cleaned up timed out agent", "agent_id", agentID)
	m.record(context.Background(), agentID, EventEvicted, map[string]any{"reason": reasonTimeout})
}

func (m *Manager) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.broadcasts:
			m.logger.Debug("processing broadcast", "message_id", msg.ID)
			err := m.bus.Broadcast(msg)
			m.recordBroadcast(ctx, msg, err)
			m.cleanupBroadcastFailures(ctx, err)
		}
	}
}

func (m *Manager) recordBroadcast(ctx context.Context, msg Message, err error) {
	detail := map[string]any{"message_id": msg.ID, "content": msg.Content}
	if err != nil {
		m.logger.Warn("broadcast partially failed", "message_id", msg.ID, "error", err)
		detail["error"] = err.Error()
	}
	m.record(ctx, "", EventBroadcast, detail)
}

func (m *Manager) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if marked := m.DetectCompleted(); marked > 0 {
				m.logger.Info("reaper marked idle agents", "count", marked)
			}
			m.CleanupStopped()
		}
	}
}

// heartbeatTick is the pool's worker tick hook; it only runs when
// Config.HeartbeatRefreshesHealth is set.
func (m *Manager) heartbeatTick(agentID string) {
	a, ok := m.pool.GetAgent(agentID)
	if !ok {
		return
	}
	m.monitor.UpdateHeartbeat(agentID, a.Status)
}

func (m *Manager) record(ctx context.Context, agentID string, kind EventKind, detail map[string]any) {
	m.recorder.Record(ctx, Event{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Kind:      kind,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}
