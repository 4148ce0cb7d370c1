// ABOUTME: HTTP handler wiring for the supervisor API: routes, JSON helpers and error mapping
// ABOUTME: Handlers depend on narrow interfaces so tests can supply a real or fake supervisor

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/auth"
	"github.com/2389/coven-swarm/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Supervisor is the slice of agent.Manager the API drives.
type Supervisor interface {
	CreateAgent(ctx context.Context, req agent.CreateRequest) (string, error)
	CreateAgentsParallel(ctx context.Context, reqs []agent.CreateRequest) ([]agent.CreateResult, error)
	StopAgent(agentID string) (bool, error)
	SendMessage(ctx context.Context, agentID, content string) (string, error)
	Broadcast(content string) (string, error)
	BroadcastNow(ctx context.Context, content string) error
	ListAgents() []agent.Agent
	GetAgent(agentID string) (agent.Agent, bool)
	SystemStatus() agent.SystemStatus
	HealthSummary() agent.HealthSummary
	CanCreate() bool
	AllCompleted() bool
}

// History reads the lifecycle ledger.
type History interface {
	ListEvents(ctx context.Context, f store.EventFilter) (*store.EventPage, error)
}

// EventSource streams live lifecycle events.
type EventSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan agent.Event, string)
}

// Params configures a Handler. History and Events are optional; their
// routes answer 503 when absent.
type Params struct {
	Supervisor Supervisor
	History    History
	Events     EventSource
	Logger     *slog.Logger
}

// Handler serves the supervisor API.
type Handler struct {
	sup      Supervisor
	history  History
	events   EventSource
	markdown goldmark.Markdown
	logger   *slog.Logger
}

// New creates a Handler.
func New(p Params) *Handler {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sup:      p.Supervisor,
		history:  p.History,
		events:   p.Events,
		markdown: goldmark.New(),
		logger:   logger.With("component", "api"),
	}
}

// Register adds every route to mux. authMW wraps the /api/ routes; pass
// auth.AnonymousMiddleware() to run without tokens.
func (h *Handler) Register(mux *http.ServeMux, authMW func(http.Handler) http.Handler) {
	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReady)

	read := func(f http.HandlerFunc) http.Handler { return authMW(f) }
	write := func(f http.HandlerFunc) http.Handler { return authMW(auth.RequireWrite(f)) }

	mux.Handle("GET /api/agents", read(h.handleListAgents))
	mux.Handle("POST /api/agents", write(h.handleCreateAgent))
	mux.Handle("POST /api/agents/batch", write(h.handleCreateBatch))
	mux.Handle("GET /api/agents/{id}", read(h.handleGetAgent))
	mux.Handle("DELETE /api/agents/{id}", write(h.handleStopAgent))
	mux.Handle("POST /api/agents/{id}/messages", write(h.handleSendMessage))
	mux.Handle("GET /api/agents/{id}/history", read(h.handleAgentHistory))
	mux.Handle("POST /api/broadcast", write(h.handleBroadcast))
	mux.Handle("GET /api/status", read(h.handleStatus))
	mux.Handle("GET /api/events", read(h.handleEvents))
}

// errorStatus maps supervisor errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, agent.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrCapacity):
		return http.StatusTooManyRequests
	case errors.Is(err, agent.ErrResponseTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, agent.ErrMailboxClosed):
		return http.StatusGone
	case errors.Is(err, agent.ErrMailboxFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, agent.ErrUnknownAgentType), errors.Is(err, store.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrTaskFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendError writes err as a JSON error with its mapped status. Internal
// errors are logged and hidden from the client.
func (h *Handler) sendError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		h.sendJSONError(w, status, "internal server error")
		return
	}
	h.sendJSONError(w, status, err.Error())
}

// sendJSONError writes a JSON error response.
func (h *Handler) sendJSONError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("writing response", "error", err)
	}
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
