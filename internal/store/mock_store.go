// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	events []Event // kept sorted by timestamp, then ID
	closed bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// AppendEvent stores a copy of e.
func (m *MockStore) AppendEvent(_ context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Kind == "" {
		return errors.New("event kind required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("store closed")
	}
	c := *e
	c.Detail = maps.Clone(e.Detail)
	m.events = append(m.events, c)
	sort.SliceStable(m.events, func(i, j int) bool {
		return eventLess(m.events[i], m.events[j])
	})
	return nil
}

// GetEvent retrieves an event by ID.
func (m *MockStore) GetEvent(_ context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.events {
		if e.ID == id {
			c := e
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// ListEvents returns one page of events matching f, oldest first.
func (m *MockStore) ListEvents(_ context.Context, f EventFilter) (*EventPage, error) {
	limit := normalizeLimit(f.Limit)

	var after *Event
	if f.Cursor != "" {
		ts, id, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
		}
		after = &Event{ID: id, Timestamp: ts}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, e := range m.events {
		switch {
		case f.AgentID != "" && e.AgentID != f.AgentID,
			f.Kind != "" && e.Kind != f.Kind,
			f.Since != nil && e.Timestamp.Before(*f.Since),
			f.Until != nil && e.Timestamp.After(*f.Until),
			after != nil && !eventLess(*after, e):
			continue
		}
		out = append(out, e)
		if len(out) > limit {
			break
		}
	}

	page := &EventPage{HasMore: len(out) > limit}
	if page.HasMore {
		out = out[:limit]
		last := out[len(out)-1]
		page.NextCursor = encodeCursor(last.Timestamp, last.ID)
	}
	page.Events = out
	return page, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func eventLess(a, b Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}
