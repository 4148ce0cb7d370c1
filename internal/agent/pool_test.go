// ABOUTME: Tests for the worker pool: spawning, messaging, status changes and teardown.

package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, cfg Config, execs ExecutorSource) (*Pool, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	p := NewPool(PoolParams{
		Config:    cfg,
		Executors: execs,
		Sink:      sink,
		Logger:    testLogger(),
	})
	t.Cleanup(func() {
		for _, id := range p.IDs() {
			_, _ = p.StopAgent(id)
		}
	})
	return p, sink
}

func TestPool_CreateAgent(t *testing.T) {
	p, _ := newTestPool(t, Config{}, testExecutors())

	id, err := p.CreateAgent(t.Context(), CreateRequest{
		Type:     "echo",
		Priority: 3,
		Metadata: map[string]string{"origin": "test"},
	})
	require.NoError(t, err)

	a, ok := p.GetAgent(id)
	require.True(t, ok)
	assert.Equal(t, "echo", a.Type)
	assert.Equal(t, StatusRunning, a.Status)
	assert.NotEmpty(t, a.Name)
	assert.Equal(t, baseCapabilities, a.Capabilities)
	assert.Equal(t, "3", a.Metadata["priority"])
	assert.Equal(t, "test", a.Metadata["origin"])
	assert.Equal(t, 1, p.ActiveCount())
}

func TestPool_CreateAgent_UnknownType(t *testing.T) {
	p, _ := newTestPool(t, Config{}, testExecutors())

	_, err := p.CreateAgent(t.Context(), CreateRequest{Type: "teleport"})
	require.ErrorIs(t, err, ErrUnknownAgentType)
	assert.Empty(t, p.ListAgents())
}

func TestPool_InitialTaskDelivered(t *testing.T) {
	p, sink := newTestPool(t, Config{}, testExecutors())

	_, err := p.CreateAgent(t.Context(), CreateRequest{Type: "echo", Task: "warm up"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sink.Results()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "echo: warm up", sink.Results()[0])
}

func TestPool_SendMessage(t *testing.T) {
	p, _ := newTestPool(t, Config{}, testExecutors())
	id, err := p.CreateAgent(t.Context(), CreateRequest{Type: "echo"})
	require.NoError(t, err)

	resp, err := p.SendMessage(t.Context(), id, "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", resp)

	a, _ := p.GetAgent(id)
	assert.Equal(t, StatusRunning, a.Status, "status returns to Running after a task")
}

func TestPool_SendMessage_NotFound(t *testing.T) {
	p, _ := newTestPool(t, Config{}, testExecutors())

	_, err := p.SendMessage(t.Context(), "nope", "hi")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestPool_SendMessage_TaskFailure(t *testing.T) {
	boom := errors.New("boom")
	execs := executorMap{"fail": ExecutorFunc(func(context.Context, string) (string, error) {
		return "", boom
	})}
	p, _ := newTestPool(t, Config{}, execs)
	id, err := p.CreateAgent(t.Context(), CreateRequest{Type: "fail"})
	require.NoError(t, err)

	_, err = p.SendMessage(t.Context(), id, "hi")
	require.ErrorIs(t, err, ErrTaskFailed)
	assert.ErrorIs(t, err, boom)
}

func TestPool_SendMessage_ExecutorPanic(t *testing.T) {
	execs := executorMap{"panic": ExecutorFunc(func(context.Context, string) (string, error) {
		panic("kaboom")
	})}
	p, _ := newTestPool(t, Config{}, execs)
	id, err := p.CreateAgent(t.Context(), CreateRequest{Type: "panic"})
	require.NoError(t, err)

	_, err = p.SendMessage(t.Context(), id, "hi")
	require.ErrorIs(t, err, ErrTaskFailed)
	assert.Contains(t, err.Error(), "kaboom")

	_, ok := p.GetAgent(id)
	assert.True(t, ok, "a panicking task does not kill the agent")
}

func TestPool_SendMessage_ResponseTimeoutKeepsAgent(t *testing.T) {
	p, _ := newTestPool(t, Config{ResponseTimeout: 50 * time.Millisecond}, testExecutors())
	id, err := p.CreateAgent(t.Context(), CreateRequest{Type: "block"})
	require.NoError(t, err)

	_, err = p.SendMessage(t.Context(), id, "wait forever")
	require.ErrorIs(t, err, ErrResponseTimeout)

	a, ok := p.GetAgent(id)
	require.True(t, ok)
	assert.Equal(t, StatusBusy, a.Status)
}

func TestPool_StopAgent_Idempotent(t *testing.T) {
	p, _ := newTestPool(t, Config{}, testExecutors())
	id, err := p.CreateAgent(t.Context(), CreateRequest{Type: "echo"})
	require.NoError(t, err)
	mb, ok := p.Mailbox(id)
	require.True(t, ok)

	stopped, err := p.StopAgent(id)
	require.NoError(t, err)
	assert.True(t, stopped)

	stopped, err = p.StopAgent(id)
	require.NoError(t, err)
	assert.False(t, stopped)

	require.Eventually(t, mb.Closed, time.Second, 10*time.Millisecond, "worker exits and closes its mailbox")
	_, ok = p.GetAgent(id)
	assert.False(t, ok)
}

func TestPool_UpdateStatusAndCleanup(t *testing.T) {
	p, _ := newTestPool(t, Config{}, testExecutors())
	a1, err := p.CreateAgent(t.Context(), CreateRequest{Type: "echo"})
	require.NoError(t, err)
	a2, err := p.CreateAgent(t.Context(), CreateRequest{Type: "echo"})
	require.NoError(t, err)

	p.UpdateStatus(a1, StatusStopped)
	assert.Equal(t, 1, p.ActiveCount())
	assert.False(t, p.AllCompleted())

	ids := p.CleanupStopped()
	assert.Equal(t, []string{a1}, ids)
	assert.Equal(t, []string{a2}, p.IDs())

	p.UpdateStatus(a2, StatusStopped)
	assert.True(t, p.AllCompleted())
}

func TestPool_WorkerCannotReviveStopped(t *testing.T) {
	p, _ := newTestPool(t, Config{}, testExecutors())
	id, err := p.CreateAgent(t.Context(), CreateRequest{Type: "echo"})
	require.NoError(t, err)

	p.UpdateStatus(id, StatusStopped)
	p.setStatus(id, StatusRunning, true)

	a, _ := p.GetAgent(id)
	assert.Equal(t, StatusStopped, a.Status)

	p.UpdateStatus(id, StatusIdle)
	a, _ = p.GetAgent(id)
	assert.Equal(t, StatusIdle, a.Status, "callers may still change it")
}

func TestPool_ListAgentsReturnsCopies(t *testing.T) {
	p, _ := newTestPool(t, Config{}, testExecutors())
	id, err := p.CreateAgent(t.Context(), CreateRequest{Type: "echo"})
	require.NoError(t, err)

	list := p.ListAgents()
	require.Len(t, list, 1)
	list[0].Capabilities[0] = "mutated"
	list[0].Metadata["x"] = "y"

	a, _ := p.GetAgent(id)
	assert.NotEqual(t, "mutated", a.Capabilities[0])
	assert.NotContains(t, a.Metadata, "x")
}
