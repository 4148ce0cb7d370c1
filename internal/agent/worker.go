// ABOUTME: Per-agent execution loop: runs the initial task, then serves the mailbox.
// ABOUTME: Exits on a STOP status message or when its context is cancelled.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type worker struct {
	pool      *Pool
	id        string
	name      string
	agentType string
	task      string
	mailbox   *Mailbox
	exec      Executor
	interval  time.Duration
	logger    *slog.Logger
}

// run is the worker goroutine. It holds no lock across any blocking call, so
// cancellation at any point leaves the shared maps consistent.
func (w *worker) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	defer w.mailbox.Close()

	w.logger.Info("agent running", "type", w.agentType, "task", w.task)

	if w.task != "" {
		w.execute(ctx, w.task, nil)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("agent shutting down", "reason", "cancelled")
			return

		case msg := <-w.mailbox.receive():
			switch {
			case msg.Kind == KindTask:
				w.execute(ctx, msg.Content, msg.Reply)
			case msg.Kind == KindStatus && msg.Content == stopSignal:
				w.logger.Info("agent shutting down", "reason", "stop signal")
				return
			default:
				w.logger.Debug("ignoring message", "message_id", msg.ID, "kind", msg.Kind)
			}

		case <-ticker.C:
			w.logger.Debug("heartbeat")
			if w.pool.cfg.HeartbeatRefreshesHealth && w.pool.onHeartbeat != nil {
				w.pool.onHeartbeat(w.id)
			}
		}
	}
}

// execute runs one task and delivers the outcome to the sink and, when
// present, the reply channel.
func (w *worker) execute(ctx context.Context, task string, reply chan<- Reply) {
	w.pool.setStatus(w.id, StatusBusy, true)
	w.pool.sink.DeliverProgress(ctx, w.id, fmt.Sprintf("Agent %s received new task: %s", w.name, task))

	out, err := w.safeExecute(ctx, task)

	cancelled := ctx.Err() != nil
	if !cancelled {
		w.pool.setStatus(w.id, StatusRunning, true)
	}
	if reply != nil {
		reply <- Reply{Content: out, Err: err}
	}
	if cancelled {
		return
	}

	if err != nil {
		w.logger.Warn("task failed", "error", err)
		w.pool.sink.DeliverResult(ctx, w.id, fmt.Sprintf("Agent %s failed: %v", w.name, err))
		return
	}
	w.logger.Info("task completed", "bytes", len(out))
	w.pool.sink.DeliverResult(ctx, w.id, out)
}

// safeExecute shields the supervisor from panicking executors.
func (w *worker) safeExecute(ctx context.Context, task string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	return w.exec.Execute(ctx, task)
}
