package world

import "sort"

// Reduce folds events in log order into the current set of live entities.
//
// The fold is pure: identical input order yields identical output, and the
// input slice is never mutated. Per-entity rules:
//   - the first delta for an id seeds the entity with score = ScoreDelta,
//   - later ScoreDelta values accumulate additively,
//   - Name, Description, Info and State overwrite unconditionally when the
//     delta carries a value (last write wins in event order),
//   - entities whose latest state is removed are excluded from the result.
//
// Results are sorted ascending by accumulated score. Lower-score entities
// surface first on purpose: generation context windows trim by count, and
// quieter entities would otherwise be starved out of them.
func Reduce(events []Event) []Entity {
	byID := make(map[string]*Entity)
	order := make([]string, 0)

	for _, evt := range events {
		for _, delta := range evt.EntityDeltas {
			entity, seen := byID[delta.ID]
			if !seen {
				entity = &Entity{ID: delta.ID}
				byID[delta.ID] = entity
				order = append(order, delta.ID)
			}
			entity.Score += delta.ScoreDelta
			if delta.Name != "" {
				entity.Name = delta.Name
			}
			if delta.Description != "" {
				entity.Description = delta.Description
			}
			if delta.Info != "" {
				entity.Info = delta.Info
			}
			if delta.State != "" {
				entity.State = delta.State
			}
		}
	}

	entities := make([]Entity, 0, len(order))
	for _, id := range order {
		entity := byID[id]
		if entity.State == StateRemoved {
			continue
		}
		entities = append(entities, *entity)
	}

	// Stable sort keeps first-seen order for equal scores, so repeated
	// reductions of the same log are byte-identical.
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Score < entities[j].Score
	})
	return entities
}
