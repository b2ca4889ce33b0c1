package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/loomworks/worldloom/internal/platform/errors"
	"github.com/loomworks/worldloom/internal/world"
)

// AppendCheckpoint inserts one checkpoint. The (session, turn) primary key
// guarantees at most one checkpoint per turn.
func (s *Store) AppendCheckpoint(ctx context.Context, sessionCode string, checkpoint world.Checkpoint) error {
	sessionCode = strings.TrimSpace(sessionCode)
	if sessionCode == "" {
		return apperrors.New(apperrors.CodeSessionEmptyCode, "session code is required")
	}
	if checkpoint.TurnNumber <= 0 {
		return apperrors.New(apperrors.CodeEventEmptyTurnNumber, "checkpoint turn number is required")
	}

	if checkpoint.CreatedAt.IsZero() {
		checkpoint.CreatedAt = time.Now()
	}
	checkpoint.CreatedAt = checkpoint.CreatedAt.UTC().Truncate(time.Millisecond)

	payload, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO checkpoints (session_code, turn_number, payload, created_at)
VALUES (?, ?, ?, ?)`,
		sessionCode, checkpoint.TurnNumber, string(payload), toMillis(checkpoint.CreatedAt))
	if err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	return nil
}

// ListRecent returns up to limit checkpoints with the newest last.
func (s *Store) ListRecent(ctx context.Context, sessionCode string, limit int) ([]world.Checkpoint, error) {
	sessionCode = strings.TrimSpace(sessionCode)
	if sessionCode == "" {
		return nil, apperrors.New(apperrors.CodeSessionEmptyCode, "session code is required")
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT payload FROM checkpoints
WHERE session_code = ?
ORDER BY turn_number DESC
LIMIT ?`, sessionCode, limit)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []world.Checkpoint
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		var checkpoint world.Checkpoint
		if err := json.Unmarshal([]byte(payload), &checkpoint); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, checkpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}

	// The query walks newest first; callers want chronological order.
	for i, j := 0, len(checkpoints)-1; i < j; i, j = i+1, j-1 {
		checkpoints[i], checkpoints[j] = checkpoints[j], checkpoints[i]
	}
	return checkpoints, nil
}

// LatestTurn returns the highest checkpointed turn number, or zero when the
// session has no checkpoints.
func (s *Store) LatestTurn(ctx context.Context, sessionCode string) (int, error) {
	sessionCode = strings.TrimSpace(sessionCode)
	if sessionCode == "" {
		return 0, apperrors.New(apperrors.CodeSessionEmptyCode, "session code is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT COALESCE(MAX(turn_number), 0) FROM checkpoints WHERE session_code = ?`, sessionCode)

	var turn int
	err := row.Scan(&turn)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan latest checkpoint turn: %w", err)
	}
	return turn, nil
}
