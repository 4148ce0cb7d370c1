// ABOUTME: Adapter persisting supervisor lifecycle events into a Store.
// ABOUTME: Write failures are logged; the supervisor never waits on the ledger's health.

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/coven-swarm/internal/agent"
)

// recordTimeout bounds a single ledger write.
const recordTimeout = 5 * time.Second

// Recorder implements agent.Recorder on top of a Store.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a Recorder writing to st.
func NewRecorder(st Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: st, logger: logger.With("component", "ledger")}
}

// Record appends e to the ledger.
func (r *Recorder) Record(ctx context.Context, e agent.Event) {
	// Lifecycle events often fire while the triggering request is finishing.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	err := r.store.AppendEvent(ctx, &Event{
		ID:        e.ID,
		AgentID:   e.AgentID,
		Kind:      string(e.Kind),
		Detail:    e.Detail,
		Timestamp: e.Timestamp,
	})
	if err != nil {
		r.logger.Error("recording lifecycle event", "kind", e.Kind, "agent_id", e.AgentID, "error", err)
	}
}
