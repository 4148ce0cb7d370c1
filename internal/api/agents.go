// ABOUTME: Agent lifecycle handlers: list, create, batch create, inspect, stop, message and history
// ABOUTME: Message replies can be rendered from markdown to HTML on request

package api

import (
	"bytes"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/store"
)

// maxBatchSize bounds POST /api/agents/batch.
const maxBatchSize = 100

// handleListAgents handles GET /api/agents. Supports optional ?type=X and
// ?status=X filters.
func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	typeFilter := r.URL.Query().Get("type")
	var statusFilter *agent.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := agent.ParseStatus(raw)
		if !ok {
			h.sendJSONError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(raw))
			return
		}
		statusFilter = &st
	}

	agents := h.sup.ListAgents()
	slices.SortFunc(agents, func(a, b agent.Agent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	response := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		if typeFilter != "" && a.Type != typeFilter {
			continue
		}
		if statusFilter != nil && a.Status != *statusFilter {
			continue
		}
		response = append(response, agentResponse(a))
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleCreateAgent handles POST /api/agents.
func (h *Handler) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var body CreateAgentRequest
	if err := decodeJSON(r, &body); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := body.toCreateRequest()
	if err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.sup.CreateAgent(r.Context(), req)
	if err != nil {
		h.sendError(w, err)
		return
	}

	a, ok := h.sup.GetAgent(id)
	if !ok {
		// Stopped again before we could read it back.
		h.writeJSON(w, http.StatusCreated, AgentResponse{ID: id, Type: req.Type, Task: req.Task})
		return
	}
	h.writeJSON(w, http.StatusCreated, agentResponse(a))
}

// handleCreateBatch handles POST /api/agents/batch. The batch is admitted
// as a whole or not at all; per-entry creation failures are reported in
// the results.
func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var body BatchCreateRequest
	if err := decodeJSON(r, &body); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.Agents) == 0 {
		h.sendJSONError(w, http.StatusBadRequest, "agents is required")
		return
	}
	if len(body.Agents) > maxBatchSize {
		h.sendJSONError(w, http.StatusBadRequest, "at most "+strconv.Itoa(maxBatchSize)+" agents per batch")
		return
	}

	reqs := make([]agent.CreateRequest, len(body.Agents))
	for i, a := range body.Agents {
		req, err := a.toCreateRequest()
		if err != nil {
			h.sendJSONError(w, http.StatusBadRequest, "agents["+strconv.Itoa(i)+"]: "+err.Error())
			return
		}
		reqs[i] = req
	}

	results, err := h.sup.CreateAgentsParallel(r.Context(), reqs)
	if err != nil {
		h.sendError(w, err)
		return
	}

	resp := BatchCreateResponse{Results: make([]BatchCreateResult, len(results))}
	for i, res := range results {
		out := BatchCreateResult{ID: res.ID, Type: res.Type}
		if res.Error != nil {
			out.Error = res.Error.Error()
			resp.Failed++
		} else {
			resp.Created++
		}
		resp.Results[i] = out
	}

	status := http.StatusCreated
	if resp.Created == 0 {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, resp)
}

// handleGetAgent handles GET /api/agents/{id}.
func (h *Handler) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.sup.GetAgent(r.PathValue("id"))
	if !ok {
		h.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	h.writeJSON(w, http.StatusOK, agentResponse(a))
}

// handleStopAgent handles DELETE /api/agents/{id}.
func (h *Handler) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stopped, err := h.sup.StopAgent(id)
	if err != nil {
		h.sendError(w, err)
		return
	}
	if !stopped {
		h.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"agent_id": id, "stopped": true})
}

// handleSendMessage handles POST /api/agents/{id}/messages. With
// ?render=html the markdown reply is also returned as HTML.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body MessageRequest
	if err := decodeJSON(r, &body); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Content == "" {
		h.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	reply, err := h.sup.SendMessage(r.Context(), id, body.Content)
	if err != nil {
		h.sendError(w, err)
		return
	}

	resp := MessageResponse{AgentID: id, Response: reply}
	if r.URL.Query().Get("render") == "html" {
		html, err := h.renderMarkdown(reply)
		if err != nil {
			h.logger.Warn("rendering reply", "agent_id", id, "error", err)
		}
		resp.HTML = html
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// renderMarkdown converts an agent reply to HTML. Raw HTML in the reply is
// not passed through.
func (h *Handler) renderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// handleAgentHistory handles GET /api/agents/{id}/history. The agent need
// not be running: stopped agents keep their history. Supports ?kind, ?since,
// ?until (RFC3339), ?limit and ?cursor.
func (h *Handler) handleAgentHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.sendJSONError(w, http.StatusServiceUnavailable, "event ledger disabled")
		return
	}

	id := r.PathValue("id")
	q := r.URL.Query()
	f := store.EventFilter{
		AgentID: id,
		Kind:    q.Get("kind"),
		Cursor:  q.Get("cursor"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = limit
	}
	bounds := []struct {
		name string
		dst  **time.Time
	}{{"since", &f.Since}, {"until", &f.Until}}
	for _, b := range bounds {
		raw := q.Get(b.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.sendJSONError(w, http.StatusBadRequest, b.name+" must be an RFC3339 timestamp")
			return
		}
		*b.dst = &ts
	}

	page, err := h.history.ListEvents(r.Context(), f)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			h.sendJSONError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		h.sendError(w, err)
		return
	}

	resp := HistoryResponse{
		AgentID:    id,
		Events:     make([]EventResponse, len(page.Events)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for i, e := range page.Events {
		resp.Events[i] = storedEventResponse(e)
	}
	h.writeJSON(w, http.StatusOK, resp)
}
