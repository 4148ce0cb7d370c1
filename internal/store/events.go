// ABOUTME: Lifecycle ledger store methods: append, fetch and paginated listing
// ABOUTME: Events are ordered by timestamp then id, with opaque cursors for paging

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// tsLayout is fixed-width so timestamps sort lexically in SQL.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// AppendEvent appends a new event to the ledger.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Kind == "" {
		return errors.New("event kind required")
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling event detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_events (event_id, agent_id, kind, ts, detail_json)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.AgentID, e.Kind, formatTS(e.Timestamp), detailJSON)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("appended event", "id", e.ID, "agent_id", e.AgentID, "kind", e.Kind)
	return nil
}

// GetEvent retrieves a single event by ID.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, agent_id, kind, ts, detail_json
		FROM agent_events
		WHERE event_id = ?
	`, id)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEvents returns one page of events matching f, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) (*EventPage, error) {
	limit := normalizeLimit(f.Limit)

	var args []any
	query := `
		SELECT event_id, agent_id, kind, ts, detail_json
		FROM agent_events
		WHERE 1 = 1
	`
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	if f.Since != nil {
		query += ` AND ts >= ?`
		args = append(args, formatTS(*f.Since))
	}
	if f.Until != nil {
		query += ` AND ts <= ?`
		args = append(args, formatTS(*f.Until))
	}
	if f.Cursor != "" {
		cursorTS, cursorID, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
		}
		query += ` AND (ts > ? OR (ts = ? AND event_id > ?))`
		args = append(args, formatTS(cursorTS), formatTS(cursorTS), cursorID)
	}

	// Order by timestamp, then event_id for deterministic pagination.
	// Fetch limit+1 to detect if there are more results.
	query += ` ORDER BY ts ASC, event_id ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	page := &EventPage{HasMore: len(events) > limit}
	if page.HasMore {
		events = events[:limit]
		last := events[len(events)-1]
		page.NextCursor = encodeCursor(last.Timestamp, last.ID)
	}
	page.Events = events
	return page, nil
}

// scanEvent scans a row into an Event.
func scanEvent(scanner interface{ Scan(dest ...any) error }) (Event, error) {
	var e Event
	var tsStr string
	var detailJSON *string

	if err := scanner.Scan(&e.ID, &e.AgentID, &e.Kind, &tsStr, &detailJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scanning event: %w", err)
	}

	var err error
	e.Timestamp, err = time.Parse(tsLayout, tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

// encodeCursor creates an opaque cursor string from a timestamp and event ID.
// Format is base64(timestamp|event_id)
func encodeCursor(ts time.Time, id string) string {
	data := formatTS(ts) + "|" + id
	return base64.StdEncoding.EncodeToString([]byte(data))
}

// decodeCursor parses an opaque cursor string into a timestamp and event ID.
func decodeCursor(cursor string) (time.Time, string, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor encoding: %w", err)
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid cursor format: expected timestamp|event_id")
	}

	ts, err := time.Parse(tsLayout, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	return ts, parts[1], nil
}
