// ABOUTME: Store interface and data types for the coven-swarm lifecycle ledger
// ABOUTME: Defines Event, EventFilter and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidCursor is returned when a pagination cursor cannot be decoded
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Event is one entry of the supervisor's lifecycle ledger.
type Event struct {
	ID        string         // UUID v4, generated when empty
	AgentID   string         // empty for broadcasts
	Kind      string         // created, stopped, evicted, reaped, message, broadcast, error
	Detail    map[string]any // additional context, stored as JSON
	Timestamp time.Time      // generated when zero
}

// EventFilter selects ledger events. Zero fields match everything.
type EventFilter struct {
	AgentID string
	Kind    string
	Since   *time.Time // events at or after this time
	Until   *time.Time // events at or before this time
	Limit   int        // 1-500, defaults to 50
	Cursor  string     // opaque cursor from a previous page
}

// EventPage is one page of ListEvents results, oldest first.
type EventPage struct {
	Events     []Event
	NextCursor string // empty when there are no more events
	HasMore    bool
}

// Store persists the lifecycle ledger.
type Store interface {
	AppendEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	ListEvents(ctx context.Context, f EventFilter) (*EventPage, error)
	Close() error
}

// normalizeLimit applies the default (50) and cap (500) to a page size.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}
