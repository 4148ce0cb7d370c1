// ABOUTME: Registry mapping agent types to the executors that perform their tasks.
// ABOUTME: Unknown types resolve to the fallback executor when one is configured.

// Package executor provides the pluggable work an agent performs: echoing,
// running an external command or querying a SearXNG search instance.
package executor

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/2389/coven-swarm/internal/agent"
)

// Echo answers every task with the task itself. It is the default executor
// for agent types without explicit configuration.
type Echo struct {
	Prefix string
}

// Execute returns the task, prefixed.
func (e Echo) Execute(_ context.Context, task string) (string, error) {
	return e.Prefix + task, nil
}

// Registry resolves agent types to executors. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	byType   map[string]agent.Executor
	fallback agent.Executor
}

// NewRegistry creates a registry. A nil fallback makes unknown types fail
// with agent.ErrUnknownAgentType.
func NewRegistry(fallback agent.Executor) *Registry {
	return &Registry{
		byType:   make(map[string]agent.Executor),
		fallback: fallback,
	}
}

// Register installs exec for agentType, replacing any previous one.
func (r *Registry) Register(agentType string, exec agent.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[strings.ToLower(agentType)] = exec
}

// Lookup implements agent.ExecutorSource.
func (r *Registry) Lookup(agentType string) (agent.Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if exec, ok := r.byType[strings.ToLower(agentType)]; ok {
		return exec, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Types returns the explicitly registered agent types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byType))
}
