// ABOUTME: JSON request and response bodies for the supervisor HTTP API
// ABOUTME: Converts between wire shapes and internal/agent types

package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/store"
)

// CreateAgentRequest is the JSON request body for POST /api/agents.
type CreateAgentRequest struct {
	Type         string            `json:"type"`
	Task         string            `json:"task"`
	Name         string            `json:"name,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Timeout      string            `json:"timeout,omitempty"` // Go duration, e.g. "5m"
	Priority     int               `json:"priority,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// toCreateRequest validates r and converts it.
func (r CreateAgentRequest) toCreateRequest() (agent.CreateRequest, error) {
	if r.Type == "" {
		return agent.CreateRequest{}, errors.New("type is required")
	}
	var timeout time.Duration
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil || d <= 0 {
			return agent.CreateRequest{}, fmt.Errorf("timeout must be a positive duration, got %q", r.Timeout)
		}
		timeout = d
	}
	return agent.CreateRequest{
		Type:         r.Type,
		Task:         r.Task,
		Name:         r.Name,
		Capabilities: r.Capabilities,
		Timeout:      timeout,
		Priority:     r.Priority,
		Metadata:     r.Metadata,
	}, nil
}

// BatchCreateRequest is the JSON request body for POST /api/agents/batch.
type BatchCreateRequest struct {
	Agents []CreateAgentRequest `json:"agents"`
}

// BatchCreateResult is one entry of the batch creation response.
type BatchCreateResult struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// BatchCreateResponse is the JSON response for POST /api/agents/batch.
type BatchCreateResponse struct {
	Results []BatchCreateResult `json:"results"`
	Created int                 `json:"created"`
	Failed  int                 `json:"failed"`
}

// AgentResponse is the JSON shape of an agent record.
type AgentResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Task         string            `json:"task"`
	Status       string            `json:"status"`
	CreatedAt    string            `json:"created_at"`
	LastActive   string            `json:"last_active"`
	Capabilities []string          `json:"capabilities"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func agentResponse(a agent.Agent) AgentResponse {
	return AgentResponse{
		ID:           a.ID,
		Name:         a.Name,
		Type:         a.Type,
		Task:         a.Task,
		Status:       a.Status.String(),
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
		LastActive:   a.LastActive.Format(time.RFC3339),
		Capabilities: a.Capabilities,
		Metadata:     a.Metadata,
	}
}

// MessageRequest is the JSON request body for POST /api/agents/{id}/messages.
type MessageRequest struct {
	Content string `json:"content"`
}

// MessageResponse is the JSON response for POST /api/agents/{id}/messages.
type MessageResponse struct {
	AgentID  string `json:"agent_id"`
	Response string `json:"response"`
	HTML     string `json:"html,omitempty"`
}

// BroadcastRequest is the JSON request body for POST /api/broadcast. With
// Wait set the call delivers synchronously and reports per-agent failures.
type BroadcastRequest struct {
	Content string `json:"content"`
	Wait    bool   `json:"wait,omitempty"`
}

// BroadcastResponse is the JSON response for POST /api/broadcast.
type BroadcastResponse struct {
	MessageID string            `json:"message_id,omitempty"`
	Queued    bool              `json:"queued"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// HealthResponse is the health part of StatusResponse.
type HealthResponse struct {
	TotalAgents     int    `json:"total_agents"`
	HealthyAgents   int    `json:"healthy_agents"`
	UnhealthyAgents int    `json:"unhealthy_agents"`
	TimedOutAgents  int    `json:"timed_out_agents"`
	TotalMessages   uint64 `json:"total_messages"`
}

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	ActiveAgents      int            `json:"active_agents"`
	MaxAgents         int            `json:"max_agents"`
	MemoryUsedPercent float64        `json:"memory_used_percent"`
	CPUUsedPercent    float64        `json:"cpu_used_percent"`
	Uptime            string         `json:"uptime"`
	UptimeSeconds     int64          `json:"uptime_seconds"`
	MessagesProcessed uint64         `json:"messages_processed"`
	CanCreate         bool           `json:"can_create"`
	AllCompleted      bool           `json:"all_completed"`
	Health            HealthResponse `json:"health"`
}

// EventResponse is the JSON shape of a lifecycle event, used by both the
// history endpoint and the event stream.
type EventResponse struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id,omitempty"`
	Kind      string         `json:"kind"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func storedEventResponse(e store.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		AgentID:   e.AgentID,
		Kind:      e.Kind,
		Detail:    e.Detail,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
	}
}

func liveEventResponse(e agent.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		AgentID:   e.AgentID,
		Kind:      string(e.Kind),
		Detail:    e.Detail,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
	}
}

// HistoryResponse is the JSON response for GET /api/agents/{id}/history.
type HistoryResponse struct {
	AgentID    string          `json:"agent_id"`
	Events     []EventResponse `json:"events"`
	NextCursor string          `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}
