package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomworks/worldloom/internal/rulebook"
	"github.com/loomworks/worldloom/internal/storage"
	"github.com/loomworks/worldloom/internal/world"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func chatEvent(turn int, author, message string) world.Event {
	return world.Event{
		TurnNumber: turn,
		Chat: &world.ChatMessage{
			AuthorID:   author,
			AuthorCode: author,
			Message:    message,
		},
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	created, err := store.CreateSession(ctx, "mistfall", "Mistfall")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if created.TurnNumber != 1 || created.Status != storage.SessionActive {
		t.Fatalf("unexpected new session: %+v", created)
	}

	got, err := store.GetSession(ctx, "mistfall")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Code != "mistfall" || got.Name != "Mistfall" {
		t.Fatalf("unexpected session: %+v", got)
	}

	turn, err := store.IncrementTurn(ctx, "mistfall")
	if err != nil {
		t.Fatalf("increment turn: %v", err)
	}
	if turn != 2 {
		t.Fatalf("expected turn 2, got %d", turn)
	}

	if err := store.SetStatus(ctx, "mistfall", storage.SessionDisabled); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, err = store.GetSession(ctx, "mistfall")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != storage.SessionDisabled {
		t.Fatalf("expected disabled, got %q", got.Status)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := newStore(t)
	if _, err := store.GetSession(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementTurnMissingSession(t *testing.T) {
	store := newStore(t)
	if _, err := store.IncrementTurn(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendAndListEvents(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, "mistfall", ""); err != nil {
		t.Fatalf("create session: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, message := range []string{"first", "second", "third"} {
		event := chatEvent(1, "ash", message)
		event.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := store.AppendEvent(ctx, "mistfall", event); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}
	later := chatEvent(2, "ash", "later turn")
	later.CreatedAt = base.Add(time.Second)
	if err := store.AppendEvent(ctx, "mistfall", later); err != nil {
		t.Fatalf("append later event: %v", err)
	}

	all, err := store.ListEvents(ctx, "mistfall", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
	if all[0].Chat.Message != "first" || all[2].Chat.Message != "third" {
		t.Fatalf("unexpected order: %q, %q", all[0].Chat.Message, all[2].Chat.Message)
	}

	capped, err := store.ListEvents(ctx, "mistfall", 1)
	if err != nil {
		t.Fatalf("list events with cutoff: %v", err)
	}
	if len(capped) != 3 {
		t.Fatalf("expected 3 events at or below turn 1, got %d", len(capped))
	}

	turnTwo, err := store.ListEventsForTurn(ctx, "mistfall", 2)
	if err != nil {
		t.Fatalf("list turn events: %v", err)
	}
	if len(turnTwo) != 1 || turnTwo[0].Chat.Message != "later turn" {
		t.Fatalf("unexpected turn events: %+v", turnTwo)
	}
}

func TestListEventsPreservesInsertionOrderWithinMillisecond(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, "mistfall", ""); err != nil {
		t.Fatalf("create session: %v", err)
	}

	stamp := time.Now().UTC().Truncate(time.Millisecond)
	for _, message := range []string{"a", "b", "c"} {
		event := chatEvent(1, "ash", message)
		event.CreatedAt = stamp
		if err := store.AppendEvent(ctx, "mistfall", event); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	events, err := store.ListEvents(ctx, "mistfall", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []string{"a", "b", "c"} {
		if events[i].Chat.Message != want {
			t.Fatalf("event %d out of order: got %q want %q", i, events[i].Chat.Message, want)
		}
	}
}

func TestAppendEventRejectsMalformed(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, "mistfall", ""); err != nil {
		t.Fatalf("create session: %v", err)
	}

	bad := world.Event{
		TurnNumber:   1,
		EntityDeltas: []world.EntityDelta{{ID: ""}},
	}
	if err := store.AppendEvent(ctx, "mistfall", bad); err == nil {
		t.Fatal("expected validation error")
	}

	events, err := store.ListEvents(ctx, "mistfall", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected empty journal, got %d events", len(events))
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, "mistfall", ""); err != nil {
		t.Fatalf("create session: %v", err)
	}

	for turn := 1; turn <= 3; turn++ {
		checkpoint := world.Checkpoint{
			TurnNumber:    turn,
			NarrativeText: "narrative",
			TurnSummary:   "summary",
		}
		if err := store.AppendCheckpoint(ctx, "mistfall", checkpoint); err != nil {
			t.Fatalf("append checkpoint %d: %v", turn, err)
		}
	}

	recent, err := store.ListRecent(ctx, "mistfall", 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(recent))
	}
	if recent[0].TurnNumber != 2 || recent[1].TurnNumber != 3 {
		t.Fatalf("expected chronological order, got %d then %d", recent[0].TurnNumber, recent[1].TurnNumber)
	}

	latest, err := store.LatestTurn(ctx, "mistfall")
	if err != nil {
		t.Fatalf("latest turn: %v", err)
	}
	if latest != 3 {
		t.Fatalf("expected latest turn 3, got %d", latest)
	}
}

func TestAppendCheckpointRejectsDuplicateTurn(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, "mistfall", ""); err != nil {
		t.Fatalf("create session: %v", err)
	}

	checkpoint := world.Checkpoint{TurnNumber: 1, NarrativeText: "once"}
	if err := store.AppendCheckpoint(ctx, "mistfall", checkpoint); err != nil {
		t.Fatalf("append checkpoint: %v", err)
	}
	if err := store.AppendCheckpoint(ctx, "mistfall", checkpoint); err == nil {
		t.Fatal("expected duplicate-turn error")
	}
}

func TestLatestTurnEmptySession(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, "mistfall", ""); err != nil {
		t.Fatalf("create session: %v", err)
	}

	latest, err := store.LatestTurn(ctx, "mistfall")
	if err != nil {
		t.Fatalf("latest turn: %v", err)
	}
	if latest != 0 {
		t.Fatalf("expected 0, got %d", latest)
	}
}

func sampleRules() []rulebook.Rule {
	return []rulebook.Rule{
		{
			ID:            1,
			Title:         "Combat",
			ContentChunks: []string{"Combat is resolved in rounds."},
			Level:         1,
			CategoryPath:  []string{"Rulebook", "Combat"},
			ChildIDs:      []int{2},
			Keywords:      []string{"combat"},
			Embedding:     []float64{1, 0},
		},
		{
			ID:            2,
			Title:         "Initiative",
			ContentChunks: []string{"Roll once per encounter."},
			Level:         2,
			CategoryPath:  []string{"Rulebook", "Combat", "Initiative"},
			Keywords:      []string{"initiative", "combat"},
			Embedding:     []float64{0, 1},
		},
		{
			ID:            3,
			Title:         "Exploration",
			ContentChunks: []string{"Travel happens on the overland map."},
			Level:         1,
			CategoryPath:  []string{"Rulebook", "Exploration"},
			Keywords:      []string{"exploration", "travel"},
		},
	}
}

func TestPutAndGetRule(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.PutRules(ctx, sampleRules()); err != nil {
		t.Fatalf("put rules: %v", err)
	}

	rule, err := store.GetRule(ctx, 2)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if rule.Title != "Initiative" || len(rule.Embedding) != 2 {
		t.Fatalf("unexpected rule: %+v", rule)
	}
	if len(rule.CategoryPath) != 3 || rule.CategoryPath[2] != "Initiative" {
		t.Fatalf("unexpected category path: %v", rule.CategoryPath)
	}

	if _, err := store.GetRule(ctx, 99); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchKeywordRanksByHits(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if err := store.PutRules(ctx, sampleRules()); err != nil {
		t.Fatalf("put rules: %v", err)
	}

	results, err := store.SearchKeyword(ctx, "combat initiative", 10)
	if err != nil {
		t.Fatalf("search keyword: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(results))
	}
	if results[0].ID != 2 {
		t.Fatalf("expected two-term match first, got rule %d", results[0].ID)
	}
}

func TestSearchVectorSkipsMissingEmbeddings(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if err := store.PutRules(ctx, sampleRules()); err != nil {
		t.Fatalf("put rules: %v", err)
	}

	results, err := store.SearchVector(ctx, []float64{0.9, 0.1}, 10)
	if err != nil {
		t.Fatalf("search vector: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 embedded rules, got %d", len(results))
	}
	if results[0].ID != 1 {
		t.Fatalf("expected closest rule first, got %d", results[0].ID)
	}
}
