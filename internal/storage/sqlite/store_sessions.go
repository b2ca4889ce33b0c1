package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/loomworks/worldloom/internal/platform/errors"
	"github.com/loomworks/worldloom/internal/storage"
)

// CreateSession inserts a new session at turn 1 with status active.
func (s *Store) CreateSession(ctx context.Context, code, name string) (storage.SessionRecord, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return storage.SessionRecord{}, apperrors.New(apperrors.CodeSessionEmptyCode, "session code is required")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	record := storage.SessionRecord{
		Code:       code,
		Name:       strings.TrimSpace(name),
		TurnNumber: 1,
		Status:     storage.SessionActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (code, name, turn_number, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		record.Code, record.Name, record.TurnNumber, string(record.Status),
		toMillis(record.CreatedAt), toMillis(record.UpdatedAt),
	)
	if err != nil {
		return storage.SessionRecord{}, fmt.Errorf("insert session: %w", err)
	}
	return record, nil
}

// GetSession returns the session with the given code.
func (s *Store) GetSession(ctx context.Context, code string) (storage.SessionRecord, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return storage.SessionRecord{}, apperrors.New(apperrors.CodeSessionEmptyCode, "session code is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT code, name, turn_number, status, created_at, updated_at
FROM sessions WHERE code = ?`, code)

	var record storage.SessionRecord
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(&record.Code, &record.Name, &record.TurnNumber, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SessionRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SessionRecord{}, fmt.Errorf("scan session: %w", err)
	}
	record.Status = storage.SessionStatus(status)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// IncrementTurn advances the session's turn counter by one and returns the
// new value.
func (s *Store) IncrementTurn(ctx context.Context, code string) (int, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, apperrors.New(apperrors.CodeSessionEmptyCode, "session code is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
UPDATE sessions SET turn_number = turn_number + 1, updated_at = ?
WHERE code = ?
RETURNING turn_number`, toMillis(time.Now()), code)

	var turn int
	err := row.Scan(&turn)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment turn: %w", err)
	}
	return turn, nil
}

// SetStatus updates the session's lifecycle status.
func (s *Store) SetStatus(ctx context.Context, code string, status storage.SessionStatus) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return apperrors.New(apperrors.CodeSessionEmptyCode, "session code is required")
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions SET status = ?, updated_at = ? WHERE code = ?`,
		string(status), toMillis(time.Now()), code)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
