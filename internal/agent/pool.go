// ABOUTME: Owns the running agent workers: spawns them, messages them and tears them down.
// ABOUTME: The pool is the only writer of the agent record and its handle.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Executor performs the actual work of an agent.
type Executor interface {
	Execute(ctx context.Context, task string) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task string) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task string) (string, error) {
	return f(ctx, task)
}

// ExecutorSource resolves the executor for an agent type.
type ExecutorSource interface {
	Lookup(agentType string) (Executor, bool)
}

// handle is the runtime side of an agent.
type handle struct {
	mailbox *Mailbox
	cancel  context.CancelFunc
	done    chan struct{} // closed when the worker goroutine returns
}

type instance struct {
	agent  Agent
	handle *handle
}

// PoolParams configures a Pool.
type PoolParams struct {
	Config    Config
	Executors ExecutorSource
	Sink      Sink
	Logger    *slog.Logger

	// OnHeartbeat is called on every worker heartbeat tick when
	// Config.HeartbeatRefreshesHealth is set.
	OnHeartbeat func(agentID string)
}

// Pool owns the set of running agent workers.
type Pool struct {
	mu     sync.RWMutex
	agents map[string]*instance

	cfg         Config
	executors   ExecutorSource
	sink        Sink
	onHeartbeat func(agentID string)
	logger      *slog.Logger
}

// NewPool creates an empty Pool.
func NewPool(p PoolParams) *Pool {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := p.Sink
	if sink == nil {
		sink = NewLogSink(logger)
	}
	return &Pool{
		agents:      make(map[string]*instance),
		cfg:         p.Config.withDefaults(),
		executors:   p.Executors,
		sink:        sink,
		onHeartbeat: p.OnHeartbeat,
		logger:      logger.With("component", "pool"),
	}
}

// CreateAgent spawns a worker for req and returns the new agent's id.
func (p *Pool) CreateAgent(ctx context.Context, req CreateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var exec Executor
	if p.executors != nil {
		exec, _ = p.executors.Lookup(req.Type)
	}
	if exec == nil {
		return "", fmt.Errorf("creating %q agent: %w", req.Type, ErrUnknownAgentType)
	}

	id := uuid.New().String()
	name := req.Name
	if name == "" {
		name = generateName(req.Type)
	}
	caps := slices.Clone(req.Capabilities)
	if len(caps) == 0 {
		caps = defaultCapabilities(req.Type)
	}
	meta := maps.Clone(req.Metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	if req.Priority != 0 {
		meta["priority"] = strconv.Itoa(req.Priority)
	}

	now := time.Now()
	rec := Agent{
		ID:           id,
		Name:         name,
		Type:         req.Type,
		Task:         req.Task,
		Status:       StatusStarting,
		CreatedAt:    now,
		LastActive:   now,
		Capabilities: caps,
		Metadata:     meta,
	}

	// Workers outlive the creating request, so they are not derived from ctx.
	workerCtx, cancel := context.WithCancel(context.Background())
	h := &handle{
		mailbox: NewMailbox(p.cfg.MessageQueueSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	w := &worker{
		pool:      p,
		id:        id,
		name:      name,
		agentType: req.Type,
		task:      req.Task,
		mailbox:   h.mailbox,
		exec:      exec,
		interval:  p.cfg.HeartbeatInterval,
		logger:    p.logger.With("agent_id", id, "name", name),
	}

	rec.Status = StatusRunning
	p.mu.Lock()
	p.agents[id] = &instance{agent: rec, handle: h}
	total := len(p.agents)
	p.mu.Unlock()

	go w.run(workerCtx, h.done)

	p.logger.Info("=== AGENT STARTED ===",
		"agent_id", id,
		"name", name,
		"type", req.Type,
		"capabilities", caps,
		"total_agents", total,
	)
	return id, nil
}

// StopAgent removes agentID, cancels its worker and posts a best-effort STOP.
// It returns false when the agent is not present, so repeated calls are safe.
func (p *Pool) StopAgent(agentID string) (bool, error) {
	p.mu.Lock()
	inst, ok := p.agents[agentID]
	if ok {
		delete(p.agents, agentID)
	}
	total := len(p.agents)
	p.mu.Unlock()

	if !ok {
		return false, nil
	}

	inst.handle.cancel()
	_ = inst.handle.mailbox.Send(Message{
		ID:        uuid.New().String(),
		To:        agentID,
		Kind:      KindStatus,
		Content:   stopSignal,
		Timestamp: time.Now(),
	})

	p.logger.Info("=== AGENT STOPPED ===",
		"agent_id", agentID,
		"name", inst.agent.Name,
		"total_agents", total,
	)
	return true, nil
}

// SendMessage posts a Task to agentID and waits for its reply for at most the
// configured response timeout. A timeout leaves the agent running.
func (p *Pool) SendMessage(ctx context.Context, agentID, content string) (string, error) {
	p.mu.RLock()
	inst, ok := p.agents[agentID]
	var h *handle
	if ok {
		h = inst.handle
	}
	p.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("messaging %s: %w", agentID, ErrAgentNotFound)
	}

	reply := make(chan Reply, 1)
	msg := Message{
		ID:        uuid.New().String(),
		To:        agentID,
		Kind:      KindTask,
		Content:   content,
		Timestamp: time.Now(),
		Reply:     reply,
	}
	if err := h.mailbox.Send(msg); err != nil {
		return "", fmt.Errorf("messaging %s: %w", agentID, err)
	}

	timer := time.NewTimer(p.cfg.ResponseTimeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		return unpackReply(agentID, r)
	case <-h.done:
		select {
		case r := <-reply:
			return unpackReply(agentID, r)
		default:
		}
		return "", fmt.Errorf("messaging %s: %w", agentID, ErrMailboxClosed)
	case <-timer.C:
		return "", fmt.Errorf("messaging %s after %s: %w", agentID, p.cfg.ResponseTimeout, ErrResponseTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func unpackReply(agentID string, r Reply) (string, error) {
	if r.Err != nil {
		return "", fmt.Errorf("agent %s: %w: %w", agentID, ErrTaskFailed, r.Err)
	}
	return r.Content, nil
}

// ListAgents returns copies of every agent record.
func (p *Pool) ListAgents() []Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Agent, 0, len(p.agents))
	for _, inst := range p.agents {
		out = append(out, inst.agent.clone())
	}
	return out
}

// GetAgent returns a copy of agentID's record.
func (p *Pool) GetAgent(agentID string) (Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	inst, ok := p.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return inst.agent.clone(), true
}

// Mailbox returns the send end of agentID's mailbox.
func (p *Pool) Mailbox(agentID string) (*Mailbox, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	inst, ok := p.agents[agentID]
	if !ok {
		return nil, false
	}
	return inst.handle.mailbox, true
}

// UpdateStatus sets agentID's status and refreshes its last-active time.
// Marking an agent Stopped does not remove it; see CleanupStopped.
func (p *Pool) UpdateStatus(agentID string, status Status) {
	p.setStatus(agentID, status, false)
}

// setStatus applies a status change. Worker-originated changes never revive
// an agent that was already marked Stopping or Stopped.
func (p *Pool) setStatus(agentID string, status Status, fromWorker bool) {
	p.mu.Lock()
	inst, ok := p.agents[agentID]
	if !ok {
		p.mu.Unlock()
		return
	}
	cur := inst.agent.Status.State
	if fromWorker && (cur == StateStopped || cur == StateStopping) {
		p.mu.Unlock()
		return
	}
	inst.agent.Status = status
	inst.agent.LastActive = time.Now()
	name := inst.agent.Name
	p.mu.Unlock()

	if status.State == StateStopped {
		p.logger.Info("agent marked as completed and stopped", "agent_id", agentID, "name", name)
		p.sink.DeliverProgress(context.Background(), agentID,
			fmt.Sprintf("Agent %s has completed its task and stopped", name))
	}
}

// CleanupStopped evicts every agent marked Stopped and returns their ids.
func (p *Pool) CleanupStopped() []string {
	p.mu.Lock()
	var removed []*handle
	var ids []string
	for id, inst := range p.agents {
		if inst.agent.Status.State == StateStopped {
			removed = append(removed, inst.handle)
			ids = append(ids, id)
			delete(p.agents, id)
		}
	}
	p.mu.Unlock()

	for _, h := range removed {
		h.cancel()
	}
	if len(ids) > 0 {
		p.logger.Info("cleaned up stopped agents", "count", len(ids))
	}
	return ids
}

// ActiveCount returns the number of agents not marked Stopped.
func (p *Pool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, inst := range p.agents {
		if inst.agent.Status.State != StateStopped {
			n++
		}
	}
	return n
}

// AllCompleted reports whether every agent is marked Stopped. An empty pool
// counts as completed.
func (p *Pool) AllCompleted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, inst := range p.agents {
		if inst.agent.Status.State != StateStopped {
			return false
		}
	}
	return true
}

// IDs returns the ids of every agent in the pool.
func (p *Pool) IDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Collect(maps.Keys(p.agents))
}
