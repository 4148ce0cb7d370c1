// ABOUTME: Outbound collaborators: result/progress sinks and lifecycle event recorders.
// ABOUTME: Both are fire-and-forget; failures are logged by the implementation.

package agent

import (
	"context"
	"log/slog"
	"time"
)

// Sink receives what agents produce for the end user.
type Sink interface {
	DeliverResult(ctx context.Context, agentID, text string)
	DeliverProgress(ctx context.Context, agentID, text string)
}

// LogSink writes results and progress to a logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "sink")}
}

// DeliverResult logs a result.
func (s *LogSink) DeliverResult(_ context.Context, agentID, text string) {
	s.logger.Info("agent result", "agent_id", agentID, "text", text)
}

// DeliverProgress logs a progress update.
func (s *LogSink) DeliverProgress(_ context.Context, agentID, text string) {
	s.logger.Debug("agent progress", "agent_id", agentID, "text", text)
}

// EventKind names a lifecycle event.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventStopped   EventKind = "stopped"
	EventEvicted   EventKind = "evicted"
	EventReaped    EventKind = "reaped"
	EventMessage   EventKind = "message"
	EventBroadcast EventKind = "broadcast"
	EventError     EventKind = "error"
)

// Event is a supervisor lifecycle event.
type Event struct {
	ID        string
	AgentID   string // empty for broadcasts
	Kind      EventKind
	Detail    map[string]any
	Timestamp time.Time
}

// Recorder receives lifecycle events.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Recorders fans an event out to several recorders.
type Recorders []Recorder

// Record forwards e to every recorder.
func (rs Recorders) Record(ctx context.Context, e Event) {
	for _, r := range rs {
		r.Record(ctx, e)
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) {}
