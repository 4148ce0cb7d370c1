// ABOUTME: Shared fixtures for the supervisor tests: silent loggers, fake executors and samplers.
// ABOUTME: Executors are resolved through a map so tests control exactly what an agent does.

package agent

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// executorMap resolves executors by agent type.
type executorMap map[string]Executor

func (m executorMap) Lookup(agentType string) (Executor, bool) {
	e, ok := m[agentType]
	return e, ok
}

func echoExecutor() Executor {
	return ExecutorFunc(func(_ context.Context, task string) (string, error) {
		return "echo: " + task, nil
	})
}

// blockingExecutor runs until its context ends.
func blockingExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

// sleepExecutor sleeps for d, or until the context ends.
func sleepExecutor(d time.Duration) Executor {
	return ExecutorFunc(func(ctx context.Context, task string) (string, error) {
		select {
		case <-time.After(d):
			return "done: " + task, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
}

func testExecutors() executorMap {
	return executorMap{
		"echo":  echoExecutor(),
		"block": blockingExecutor(),
		"slow":  sleepExecutor(500 * time.Millisecond),
	}
}

// fixedSampler reports constant host stats.
type fixedSampler struct {
	mem, cpu float64
	ok       bool
}

func (s fixedSampler) MemoryPercent() (float64, bool) { return s.mem, s.ok }
func (s fixedSampler) CPUPercent() (float64, bool)    { return s.cpu, s.ok }

// captureSink records everything delivered to it.
type captureSink struct {
	mu       sync.Mutex
	results  []string
	progress []string
}

func (s *captureSink) DeliverResult(_ context.Context, _ string, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, text)
}

func (s *captureSink) DeliverProgress(_ context.Context, _ string, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, text)
}

func (s *captureSink) Results() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.results...)
}

// captureRecorder records lifecycle events.
type captureRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *captureRecorder) Record(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *captureRecorder) Kinds(agentID string) []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []EventKind
	for _, e := range r.events {
		if e.AgentID == agentID {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *captureRecorder) {
	t.Helper()
	rec := &captureRecorder{}
	m := NewManager(ManagerParams{
		Config:    cfg,
		Executors: testExecutors(),
		Sink:      &captureSink{},
		Recorder:  rec,
		Logger:    testLogger(),
	})
	t.Cleanup(m.Close)
	return m, rec
}

// runManager starts the background loops and stops them at test cleanup.
func runManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}
