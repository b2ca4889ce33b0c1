// Package world defines the session event journal schema and the fold that
// turns it into the current world snapshot.
//
// Events are append-only facts: chat messages and entity deltas tagged with
// the turn they occurred in. Ordering is defined by CreatedAt ascending with
// insertion order breaking ties; identity is implicit because events are
// never updated or deleted.
package world

import (
	"strings"
	"time"

	apperrors "github.com/loomworks/worldloom/internal/platform/errors"
)

// System actor values used on machine-authored chat events.
const (
	SystemAuthorID   = "system"
	SystemAuthorCode = "system"
)

var (
	// ErrEmptyDeltaID indicates an entity delta without a stable id.
	ErrEmptyDeltaID = apperrors.New(apperrors.CodeEventEmptyDeltaID, "entity delta id is required")
	// ErrInvalidEntityState indicates an unknown entity state value.
	ErrInvalidEntityState = apperrors.New(apperrors.CodeEventInvalidState, "entity state is invalid")
	// ErrEmptyTurnNumber indicates an event without a positive turn number.
	ErrEmptyTurnNumber = apperrors.New(apperrors.CodeEventEmptyTurnNumber, "event turn number must be >= 1")
	// ErrEmptyChatAuthor indicates a chat payload without an author.
	ErrEmptyChatAuthor = apperrors.New(apperrors.CodeEventEmptyChatAuthor, "chat author is required")
	// ErrEmptyChatMessage indicates a chat payload without a message body.
	ErrEmptyChatMessage = apperrors.New(apperrors.CodeEventEmptyChatMessage, "chat message is required")
)

// ChatMessage is the member- or system-authored chat payload of an event.
type ChatMessage struct {
	AuthorID   string `json:"authorId"`
	AuthorCode string `json:"authorCode"`
	Message    string `json:"message"`
}

// Citation links generated narrative text back to a rule record.
type Citation struct {
	RuleID  int    `json:"ruleId"`
	Content string `json:"content"`
	Note    string `json:"note,omitempty"`
}

// TaskRecord captures an outstanding follow-up surfaced by generation.
type TaskRecord struct {
	Description string `json:"description"`
	Done        bool   `json:"done,omitempty"`
}

// Event is one immutable record in a session's append-only journal.
type Event struct {
	TurnNumber       int           `json:"turnNumber"`
	Chat             *ChatMessage  `json:"chat,omitempty"`
	EntityDeltas     []EntityDelta `json:"entityDeltas,omitempty"`
	Tasks            []TaskRecord  `json:"tasks,omitempty"`
	Citations        []Citation    `json:"citations,omitempty"`
	RankedTermRefs   []int         `json:"rankedTermRefs,omitempty"`
	RankedEntityRefs []string      `json:"rankedEntityRefs,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// ValidateEvent rejects malformed events before they reach the journal.
// Reduction assumes clean input, so integrity problems surface here at
// append time rather than at read time.
func ValidateEvent(evt Event) error {
	if evt.TurnNumber < 1 {
		return ErrEmptyTurnNumber
	}
	if evt.Chat != nil {
		if strings.TrimSpace(evt.Chat.AuthorID) == "" || strings.TrimSpace(evt.Chat.AuthorCode) == "" {
			return ErrEmptyChatAuthor
		}
		if strings.TrimSpace(evt.Chat.Message) == "" {
			return ErrEmptyChatMessage
		}
	}
	for _, delta := range evt.EntityDeltas {
		if err := delta.Validate(); err != nil {
			return err
		}
	}
	return nil
}
