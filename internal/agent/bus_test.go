// ABOUTME: Tests for the mailbox registry: unicast delivery, broadcast fan-out and failure aggregation.

package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_Send(t *testing.T) {
	b := NewBus(testLogger())
	mb := NewMailbox(4)
	b.Register("a1", mb)

	require.NoError(t, b.Send("a1", Message{ID: "m1", Content: "hello"}))
	got := <-mb.receive()
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, uint64(1), b.MessageCount())

	err := b.Send("missing", Message{ID: "m2"})
	require.ErrorIs(t, err, ErrAgentNotFound)
	assert.Equal(t, uint64(1), b.MessageCount(), "failed sends are not counted")
}

func TestBus_Unregister(t *testing.T) {
	b := NewBus(testLogger())
	b.Register("a1", NewMailbox(1))
	b.Unregister("a1")
	b.Unregister("a1")

	assert.Empty(t, b.ActiveAgents())
	assert.ErrorIs(t, b.Send("a1", Message{}), ErrAgentNotFound)
}

func TestBus_Broadcast(t *testing.T) {
	b := NewBus(testLogger())
	boxes := map[string]*Mailbox{
		"a1": NewMailbox(4),
		"a2": NewMailbox(4),
		"a3": NewMailbox(4),
	}
	for id, mb := range boxes {
		b.Register(id, mb)
	}

	require.NoError(t, b.Broadcast(Message{ID: "bc", Kind: KindTask, Content: "all hands"}))

	for id, mb := range boxes {
		got := <-mb.receive()
		assert.Equal(t, "bc-"+id, got.ID)
		assert.Equal(t, id, got.To)
		assert.Equal(t, "all hands", got.Content)
	}
	assert.Equal(t, uint64(1), b.MessageCount())
}

func TestBus_BroadcastPartialFailure(t *testing.T) {
	b := NewBus(testLogger())
	a1, a2, a3 := NewMailbox(4), NewMailbox(4), NewMailbox(4)
	b.Register("agent-1", a1)
	b.Register("agent-2", a2)
	b.Register("agent-3", a3)
	a2.Close()

	err := b.Broadcast(Message{ID: "bc", Content: "ping"})
	require.Error(t, err)

	var be *BroadcastError
	require.True(t, errors.As(err, &be))
	assert.Len(t, be.Failed, 1)
	assert.ErrorIs(t, be.Failed["agent-2"], ErrMailboxClosed)
	assert.Contains(t, err.Error(), "agent-2")

	assert.Equal(t, 1, a1.Len(), "agent-1 still receives")
	assert.Equal(t, 1, a3.Len(), "agent-3 still receives")
	assert.Equal(t, uint64(0), b.MessageCount())
}

func TestBus_BroadcastNoRecipients(t *testing.T) {
	b := NewBus(testLogger())
	assert.NoError(t, b.Broadcast(Message{ID: "bc"}))
}
