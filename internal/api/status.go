// ABOUTME: Health, readiness, status and broadcast handlers
// ABOUTME: Readiness follows the scheduler's admission decision

package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/coven-swarm/internal/agent"
)

// handleHealth returns 200 OK if the server is alive.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK while another agent would be admitted.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	st := h.sup.SystemStatus()
	if !h.sup.CanCreate() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "at capacity (%d/%d agents)", st.ActiveAgents, st.MaxAgents)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d/%d agents)", st.ActiveAgents, st.MaxAgents)
}

// handleStatus handles GET /api/status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := h.sup.SystemStatus()
	hs := h.sup.HealthSummary()

	h.writeJSON(w, http.StatusOK, StatusResponse{
		ActiveAgents:      st.ActiveAgents,
		MaxAgents:         st.MaxAgents,
		MemoryUsedPercent: st.MemoryUsedPercent,
		CPUUsedPercent:    st.CPUUsedPercent,
		Uptime:            st.Uptime.Round(time.Second).String(),
		UptimeSeconds:     int64(st.Uptime / time.Second),
		MessagesProcessed: st.MessagesProcessed,
		CanCreate:         h.sup.CanCreate(),
		AllCompleted:      h.sup.AllCompleted(),
		Health: HealthResponse{
			TotalAgents:     hs.TotalAgents,
			HealthyAgents:   hs.HealthyAgents,
			UnhealthyAgents: hs.UnhealthyAgents,
			TimedOutAgents:  hs.TimedOutAgents,
			TotalMessages:   hs.TotalMessages,
		},
	})
}

// handleBroadcast handles POST /api/broadcast. By default the broadcast is
// queued and 202 is returned; with "wait": true delivery happens in the
// request and per-agent failures are listed.
func (h *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var body BroadcastRequest
	if err := decodeJSON(r, &body); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Content == "" {
		h.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	if !body.Wait {
		id, err := h.sup.Broadcast(body.Content)
		if err != nil {
			h.sendError(w, err)
			return
		}
		h.writeJSON(w, http.StatusAccepted, BroadcastResponse{MessageID: id, Queued: true})
		return
	}

	err := h.sup.BroadcastNow(r.Context(), body.Content)
	if err == nil {
		h.writeJSON(w, http.StatusOK, BroadcastResponse{})
		return
	}

	var berr *agent.BroadcastError
	if !errors.As(err, &berr) {
		h.sendError(w, err)
		return
	}
	resp := BroadcastResponse{MessageID: berr.MessageID, Failed: make(map[string]string, len(berr.Failed))}
	for id, ferr := range berr.Failed {
		resp.Failed[id] = ferr.Error()
	}
	h.writeJSON(w, http.StatusMultiStatus, resp)
}
