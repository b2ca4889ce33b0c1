package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/loomworks/worldloom/internal/platform/errors"
	"github.com/loomworks/worldloom/internal/world"
)

// AppendEvent validates and appends one event to the session's journal.
//
// Malformed events are rejected here so nothing that would corrupt a replay
// ever reaches disk.
func (s *Store) AppendEvent(ctx context.Context, sessionCode string, event world.Event) error {
	sessionCode = strings.TrimSpace(sessionCode)
	if sessionCode == "" {
		return apperrors.New(apperrors.CodeSessionEmptyCode, "session code is required")
	}
	if err := world.ValidateEvent(event); err != nil {
		return err
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Millisecond)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO events (session_code, turn_number, payload, created_at)
VALUES (?, ?, ?, ?)`,
		sessionCode, event.TurnNumber, string(payload), toMillis(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns the session's events in journal order. A maxTurn of zero
// means no turn cutoff.
//
// Ordering is created_at with rowid as the tiebreak, so events appended within
// the same millisecond still replay in insertion order.
func (s *Store) ListEvents(ctx context.Context, sessionCode string, maxTurn int) ([]world.Event, error) {
	sessionCode = strings.TrimSpace(sessionCode)
	if sessionCode == "" {
		return nil, apperrors.New(apperrors.CodeSessionEmptyCode, "session code is required")
	}

	var rows *sql.Rows
	var err error
	if maxTurn > 0 {
		rows, err = s.sqlDB.QueryContext(ctx, `
SELECT payload FROM events
WHERE session_code = ? AND turn_number <= ?
ORDER BY created_at ASC, rowid ASC`, sessionCode, maxTurn)
	} else {
		rows, err = s.sqlDB.QueryContext(ctx, `
SELECT payload FROM events
WHERE session_code = ?
ORDER BY created_at ASC, rowid ASC`, sessionCode)
	}
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListEventsForTurn returns the events tagged with exactly one turn, in
// journal order.
func (s *Store) ListEventsForTurn(ctx context.Context, sessionCode string, turnNumber int) ([]world.Event, error) {
	sessionCode = strings.TrimSpace(sessionCode)
	if sessionCode == "" {
		return nil, apperrors.New(apperrors.CodeSessionEmptyCode, "session code is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT payload FROM events
WHERE session_code = ? AND turn_number = ?
ORDER BY created_at ASC, rowid ASC`, sessionCode, turnNumber)
	if err != nil {
		return nil, fmt.Errorf("query turn events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]world.Event, error) {
	var events []world.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var event world.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}
