// Package storage defines the persistence interfaces for sessions, the
// per-session event journal, narrative checkpoints, and the imported
// rulebook corpus.
package storage

import (
	"context"
	"time"

	apperrors "github.com/loomworks/worldloom/internal/platform/errors"
	"github.com/loomworks/worldloom/internal/rulebook"
	"github.com/loomworks/worldloom/internal/world"
)

// ErrNotFound reports that a requested record does not exist.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// SessionStatus enumerates the lifecycle states of a session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionDisabled SessionStatus = "disabled"
)

// SessionRecord is one persistent play session.
type SessionRecord struct {
	Code       string
	Name       string
	TurnNumber int
	Status     SessionStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SessionStore persists sessions and their turn counters.
type SessionStore interface {
	// CreateSession inserts a new session at turn 1 with status active.
	CreateSession(ctx context.Context, code, name string) (SessionRecord, error)
	// GetSession returns the session with the given code or ErrNotFound.
	GetSession(ctx context.Context, code string) (SessionRecord, error)
	// IncrementTurn advances the session's turn counter by one and returns
	// the new value.
	IncrementTurn(ctx context.Context, code string) (int, error)
	// SetStatus updates the session's lifecycle status.
	SetStatus(ctx context.Context, code string, status SessionStatus) error
}

// EventStore persists the append-only per-session event journal.
type EventStore interface {
	// AppendEvent validates and appends one event to the session's journal.
	AppendEvent(ctx context.Context, sessionCode string, event world.Event) error
	// ListEvents returns the session's events in journal order. A maxTurn
	// of zero means no turn cutoff; a positive maxTurn excludes events
	// tagged with later turns.
	ListEvents(ctx context.Context, sessionCode string, maxTurn int) ([]world.Event, error)
	// ListEventsForTurn returns the events tagged with exactly one turn,
	// in journal order.
	ListEventsForTurn(ctx context.Context, sessionCode string, turnNumber int) ([]world.Event, error)
}

// CheckpointStore persists per-turn narrative checkpoints.
type CheckpointStore interface {
	// AppendCheckpoint inserts one checkpoint. A session holds at most one
	// checkpoint per turn.
	AppendCheckpoint(ctx context.Context, sessionCode string, checkpoint world.Checkpoint) error
	// ListRecent returns up to limit checkpoints with the newest last.
	ListRecent(ctx context.Context, sessionCode string, limit int) ([]world.Checkpoint, error)
	// LatestTurn returns the highest checkpointed turn number, or zero when
	// the session has no checkpoints.
	LatestTurn(ctx context.Context, sessionCode string) (int, error)
}

// RuleStore persists the flattened rulebook corpus and serves retrieval.
type RuleStore interface {
	// PutRules inserts or replaces the given rules by id.
	PutRules(ctx context.Context, rules []rulebook.Rule) error
	// GetRule returns one rule by id or ErrNotFound.
	GetRule(ctx context.Context, id int) (rulebook.Rule, error)
	// SearchKeyword returns up to limit rules whose title or keywords match
	// the query terms.
	SearchKeyword(ctx context.Context, query string, limit int) ([]rulebook.Rule, error)
	// SearchVector returns up to limit rules ranked by cosine similarity of
	// their stored embeddings against the query vector. Rules without an
	// embedding are skipped.
	SearchVector(ctx context.Context, query []float64, limit int) ([]rulebook.Rule, error)
}
