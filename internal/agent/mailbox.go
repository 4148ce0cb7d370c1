// ABOUTME: Per-agent inbound queue shared by many senders and drained by one worker.
// ABOUTME: Distinguishes a closed mailbox (worker gone) from a full one.

package agent

import "sync"

// Mailbox is the send end of an agent's ordered inbound queue. Senders never
// block: a saturated queue reports ErrMailboxFull and a mailbox whose worker
// has exited reports ErrMailboxClosed.
type Mailbox struct {
	ch        chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewMailbox creates a mailbox holding up to size queued messages.
func NewMailbox(size int) *Mailbox {
	if size < 1 {
		size = 1
	}
	return &Mailbox{
		ch:   make(chan Message, size),
		done: make(chan struct{}),
	}
}

// Send enqueues msg.
func (m *Mailbox) Send(msg Message) error {
	select {
	case <-m.done:
		return ErrMailboxClosed
	default:
	}

	select {
	case m.ch <- msg:
		return nil
	case <-m.done:
		return ErrMailboxClosed
	default:
		return ErrMailboxFull
	}
}

// Close marks the mailbox closed. Safe to call multiple times.
// The message channel itself is never closed so racing senders cannot panic.
func (m *Mailbox) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	return len(m.ch)
}

// receive is the consumer side, used only by the owning worker.
func (m *Mailbox) receive() <-chan Message {
	return m.ch
}
