package world

import "strings"

// EntityState identifies the lifecycle state of a world entity.
type EntityState string

const (
	// StateActive marks an entity visible in the active world view.
	StateActive EntityState = "active"
	// StateRemoved marks a soft-deleted entity. Its deltas stay in the log
	// forever but the entity is excluded from the reduced view.
	StateRemoved EntityState = "removed"
	// StateUnlisted marks an entity hidden from member-facing listings while
	// still participating in reduction.
	StateUnlisted EntityState = "unlisted"
)

// IsValid reports whether the state is one of the known values or unset.
func (s EntityState) IsValid() bool {
	switch s {
	case "", StateActive, StateRemoved, StateUnlisted:
		return true
	}
	return false
}

// EntityDelta is an incremental change to one world entity carried inside an
// event. ID is assigned once at entity creation and never reused. Absent
// string fields are empty; absent ScoreDelta is zero.
type EntityDelta struct {
	ID           string      `json:"id"`
	Name         string      `json:"name,omitempty"`
	Description  string      `json:"description,omitempty"`
	ScoreDelta   int         `json:"scoreDelta,omitempty"`
	State        EntityState `json:"state,omitempty"`
	Info         string      `json:"info,omitempty"`
	TermRefs     []int       `json:"termRefs,omitempty"`
	DocumentRefs []int       `json:"documentRefs,omitempty"`
}

// Validate reports whether the delta is structurally usable.
func (d EntityDelta) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return ErrEmptyDeltaID
	}
	if !d.State.IsValid() {
		return ErrInvalidEntityState
	}
	return nil
}

// Entity is the reduced, current-state view of one world object. It is
// derived from the event log and never persisted as its own record.
type Entity struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Score       int         `json:"score"`
	State       EntityState `json:"state,omitempty"`
	Info        string      `json:"info,omitempty"`
}
