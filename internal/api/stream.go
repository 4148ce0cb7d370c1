// ABOUTME: Server-sent event stream of supervisor lifecycle events
// ABOUTME: Clients follow one agent with ?agent_id=X or every event by default

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/coven-swarm/internal/events"
)

// keepaliveInterval is how often an idle stream sends a comment line.
const keepaliveInterval = 30 * time.Second

// handleEvents handles GET /api/events.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.sendJSONError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		h.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	topic := r.URL.Query().Get("agent_id")
	if topic == "" {
		topic = events.AllTopics
	}

	ctx := r.Context()
	ch, subID := h.events.Subscribe(ctx, topic)
	h.logger.Debug("event stream opened", "subscriber", subID, "topic", topic)
	defer h.logger.Debug("event stream closed", "subscriber", subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			h.writeSSEEvent(w, string(e.Kind), liveEventResponse(e))
			flusher.Flush()
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (h *Handler) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
