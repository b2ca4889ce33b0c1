package world

import "time"

// Checkpoint is the durable summary closing one turn: the committed
// narrative, the events that occurred within the turn, and the reduced world
// snapshot at commit time. Written exactly once per turn and immutable
// afterward.
//
// EmbeddedEvents holds only the events recorded for the turn before the
// narrative event was appended. The narrative text already lives on the
// checkpoint itself, so embedding its event too would persist it twice.
type Checkpoint struct {
	TurnNumber     int          `json:"turnNumber"`
	NarrativeText  string       `json:"narrativeText"`
	TurnSummary    string       `json:"turnSummary"`
	EmbeddedEvents []Event      `json:"embeddedEvents"`
	Citations      []Citation   `json:"citations,omitempty"`
	Tasks          []TaskRecord `json:"tasks,omitempty"`
	WorldSnapshot  []Entity     `json:"worldSnapshot"`
	CreatedAt      time.Time    `json:"createdAt"`
}
