// Package turn orchestrates the session turn cycle: collecting chat events,
// evaluating ready quorum, generating and committing the turn narrative, and
// applying post-narrative entity edits.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomworks/worldloom/internal/generation"
	"github.com/loomworks/worldloom/internal/notify"
	apperrors "github.com/loomworks/worldloom/internal/platform/errors"
	"github.com/loomworks/worldloom/internal/platform/timeouts"
	"github.com/loomworks/worldloom/internal/rulebook"
	"github.com/loomworks/worldloom/internal/storage"
	"github.com/loomworks/worldloom/internal/world"
)

// Phase is the orchestration phase of one session's turn cycle.
type Phase string

const (
	// PhaseOpen accepts chat events and ready flags.
	PhaseOpen Phase = "OPEN"
	// PhaseFlagged means every online member raised a ready flag and
	// narrative generation can start.
	PhaseFlagged Phase = "FLAGGED"
	// PhaseGeneratingNarrative means a narrative request is in flight.
	// Ready flags are ignored until the phase clears.
	PhaseGeneratingNarrative Phase = "GENERATING_NARRATIVE"
	// PhaseCommitted means the turn narrative and checkpoint are durable
	// and the turn counter has advanced.
	PhaseCommitted Phase = "COMMITTED"
	// PhaseGeneratingEdits means a post-narrative edit request is in flight.
	PhaseGeneratingEdits Phase = "GENERATING_EDITS"
	// PhaseEditCommitted means the post-narrative edits are durable and the
	// session accepts chat and ready flags again.
	PhaseEditCommitted Phase = "EDIT_COMMITTED"
)

const (
	recentCheckpointLimit = 3
	retrievedRuleLimit    = 5
)

// Generator produces narrative text, entity edits, and embeddings.
type Generator interface {
	GenerateNarrative(ctx context.Context, messages []generation.Message) (generation.Narrative, error)
	GenerateEdits(ctx context.Context, messages []generation.Message) (generation.EditSet, error)
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Notifier pushes session change notifications to connected peers.
type Notifier interface {
	Notify(sessionCode string, kind notify.UpdateKind, payload map[string]any)
}

// Stores bundles the persistence interfaces the orchestrator depends on.
type Stores struct {
	Sessions    storage.SessionStore
	Events      storage.EventStore
	Checkpoints storage.CheckpointStore
	Rules       storage.RuleStore
}

// sessionState is the in-memory orchestration state of one session.
//
// genMu serializes narrative and edit generation so a session has exactly one
// writer across the generate-and-commit window. flagMu guards the small
// mutable fields and is never held across a generation call.
type sessionState struct {
	genMu sync.Mutex

	flagMu sync.Mutex
	phase  Phase
	ready  map[string]bool
}

// Orchestrator drives the turn cycle for every session in the process.
type Orchestrator struct {
	stores    Stores
	generator Generator
	notifier  Notifier
	now       func() time.Time
	genWait   time.Duration
	tracer    trace.Tracer

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewOrchestrator builds a turn orchestrator over the given stores.
func NewOrchestrator(stores Stores, generator Generator, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		stores:    stores,
		generator: generator,
		notifier:  notifier,
		now:       time.Now,
		genWait:   timeouts.Generation,
		tracer:    otel.Tracer("worldloom/turn"),
		sessions:  make(map[string]*sessionState),
	}
}

func (o *Orchestrator) state(sessionCode string) *sessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.sessions[sessionCode]
	if !ok {
		state = &sessionState{phase: PhaseOpen, ready: make(map[string]bool)}
		o.sessions[sessionCode] = state
	}
	return state
}

// Phase returns the session's current orchestration phase.
func (o *Orchestrator) Phase(sessionCode string) Phase {
	state := o.state(sessionCode)
	state.flagMu.Lock()
	defer state.flagMu.Unlock()
	return state.phase
}

// ensureSession loads the session, creating it on first contact, and rejects
// disabled sessions.
func (o *Orchestrator) ensureSession(ctx context.Context, sessionCode string) (storage.SessionRecord, error) {
	session, err := o.stores.Sessions.GetSession(ctx, sessionCode)
	if errors.Is(err, storage.ErrNotFound) {
		session, err = o.stores.Sessions.CreateSession(ctx, sessionCode, "")
	}
	if err != nil {
		return storage.SessionRecord{}, err
	}
	if session.Status == storage.SessionDisabled {
		return storage.SessionRecord{}, apperrors.New(apperrors.CodeSessionDisabled, "session is disabled")
	}
	return session, nil
}

// AppendChat records one member chat message as an event at the session's
// current turn.
func (o *Orchestrator) AppendChat(ctx context.Context, sessionCode, authorID, authorCode, message string) error {
	session, err := o.ensureSession(ctx, sessionCode)
	if err != nil {
		return err
	}

	event := world.Event{
		TurnNumber: session.TurnNumber,
		Chat: &world.ChatMessage{
			AuthorID:   strings.TrimSpace(authorID),
			AuthorCode: strings.TrimSpace(authorCode),
			Message:    strings.TrimSpace(message),
		},
		CreatedAt: o.now(),
	}
	return o.stores.Events.AppendEvent(ctx, session.Code, event)
}

// MarkReady raises or lowers one participant's ready flag and reports whether
// the session reached quorum. While generation is in flight the flag is
// ignored and quorum is never reported.
func (o *Orchestrator) MarkReady(ctx context.Context, sessionCode, participantCode string, ready bool, online []string) (bool, error) {
	if _, err := o.ensureSession(ctx, sessionCode); err != nil {
		return false, err
	}
	participantCode = strings.TrimSpace(participantCode)
	if participantCode == "" {
		return false, apperrors.New(apperrors.CodeSessionEmptyParticipant, "participant code is required")
	}

	state := o.state(sessionCode)
	state.flagMu.Lock()
	defer state.flagMu.Unlock()

	if state.phase == PhaseGeneratingNarrative || state.phase == PhaseGeneratingEdits {
		return false, nil
	}

	if ready {
		state.ready[participantCode] = true
	} else {
		delete(state.ready, participantCode)
	}

	if !QuorumReached(online, state.ready) {
		if len(state.ready) == 0 {
			state.phase = PhaseOpen
		}
		return false, nil
	}
	state.phase = PhaseFlagged
	return true, nil
}

// RequestNarrative generates and commits the narrative that closes the
// session's current turn.
//
// The commit sequence is: append the system narrative event, write the turn
// checkpoint, then advance the turn counter. A generation failure leaves the
// journal, checkpoints, and turn counter untouched.
func (o *Orchestrator) RequestNarrative(ctx context.Context, sessionCode string) (world.Checkpoint, error) {
	ctx, span := o.tracer.Start(ctx, "turn.RequestNarrative")
	defer span.End()

	state := o.state(sessionCode)
	state.genMu.Lock()
	defer state.genMu.Unlock()

	session, err := o.ensureSession(ctx, sessionCode)
	if err != nil {
		return world.Checkpoint{}, err
	}

	state.flagMu.Lock()
	if state.phase == PhaseGeneratingNarrative || state.phase == PhaseGeneratingEdits {
		state.flagMu.Unlock()
		return world.Checkpoint{}, apperrors.New(apperrors.CodeSessionGenerationInProgress, "generation already in progress")
	}
	state.phase = PhaseGeneratingNarrative
	state.flagMu.Unlock()

	o.notifier.Notify(sessionCode, notify.UpdateFlagWaiting, nil)

	checkpoint, err := o.generateAndCommit(ctx, session)

	state.flagMu.Lock()
	if err != nil {
		state.phase = PhaseFlagged
	} else {
		state.phase = PhaseCommitted
		state.ready = make(map[string]bool)
	}
	state.flagMu.Unlock()

	if err != nil {
		o.notifier.Notify(sessionCode, notify.UpdateFlagDown, map[string]any{"error": true})
		return world.Checkpoint{}, err
	}

	o.notifier.Notify(sessionCode, notify.UpdateHistory, map[string]any{"turnNumber": checkpoint.TurnNumber})
	o.notifier.Notify(sessionCode, notify.UpdateFlagDown, nil)
	return checkpoint, nil
}

func (o *Orchestrator) generateAndCommit(ctx context.Context, session storage.SessionRecord) (world.Checkpoint, error) {
	turnNumber := session.TurnNumber

	events, err := o.stores.Events.ListEvents(ctx, session.Code, turnNumber)
	if err != nil {
		return world.Checkpoint{}, fmt.Errorf("list events: %w", err)
	}
	entities := world.Reduce(events)

	// Captured before the narrative event is appended so the checkpoint
	// embeds only the member activity of the turn.
	turnEvents, err := o.stores.Events.ListEventsForTurn(ctx, session.Code, turnNumber)
	if err != nil {
		return world.Checkpoint{}, fmt.Errorf("list turn events: %w", err)
	}

	recent, err := o.stores.Checkpoints.ListRecent(ctx, session.Code, recentCheckpointLimit)
	if err != nil {
		return world.Checkpoint{}, fmt.Errorf("list checkpoints: %w", err)
	}

	rules := o.retrieveRules(ctx, turnEvents)

	genCtx, cancel := context.WithTimeout(ctx, o.genWait)
	defer cancel()
	narrative, err := o.generator.GenerateNarrative(genCtx, buildNarrativeMessages(entities, recent, rules, turnEvents))
	if err != nil {
		return world.Checkpoint{}, apperrors.Wrap(apperrors.CodeGenerationUnavailable, "narrative generation failed", err)
	}

	citations := make([]world.Citation, 0, len(narrative.Documents))
	for _, ref := range narrative.Documents {
		citation := world.Citation{RuleID: ref.ID, Note: ref.Comment}
		if rule, err := o.stores.Rules.GetRule(ctx, ref.ID); err == nil {
			citation.Content = rule.Title
		}
		citations = append(citations, citation)
	}

	narrativeEvent := world.Event{
		TurnNumber: turnNumber,
		Chat: &world.ChatMessage{
			AuthorID:   world.SystemAuthorID,
			AuthorCode: world.SystemAuthorCode,
			Message:    narrative.Content,
		},
		Citations: citations,
		CreatedAt: o.now(),
	}
	if err := o.stores.Events.AppendEvent(ctx, session.Code, narrativeEvent); err != nil {
		return world.Checkpoint{}, fmt.Errorf("append narrative event: %w", err)
	}

	checkpoint := world.Checkpoint{
		TurnNumber:     turnNumber,
		NarrativeText:  narrative.Content,
		TurnSummary:    narrative.Summary,
		EmbeddedEvents: turnEvents,
		Citations:      citations,
		WorldSnapshot:  entities,
		CreatedAt:      o.now(),
	}
	if err := o.stores.Checkpoints.AppendCheckpoint(ctx, session.Code, checkpoint); err != nil {
		return world.Checkpoint{}, fmt.Errorf("append checkpoint: %w", err)
	}

	if _, err := o.stores.Sessions.IncrementTurn(ctx, session.Code); err != nil {
		return world.Checkpoint{}, fmt.Errorf("increment turn: %w", err)
	}
	return checkpoint, nil
}

// retrieveRules pulls rulebook context for the turn's chat. Retrieval is best
// effort: a failing embedding service degrades to keyword search and a
// failing store degrades to no rules at all.
func (o *Orchestrator) retrieveRules(ctx context.Context, turnEvents []world.Event) []rulebook.Rule {
	chatText := chatTranscript(turnEvents)
	if strings.TrimSpace(chatText) == "" {
		return nil
	}

	byID := make(map[int]struct{})
	var rules []rulebook.Rule

	embedCtx, cancel := context.WithTimeout(ctx, timeouts.Embedding)
	vector, err := o.generator.Embed(embedCtx, chatText)
	cancel()
	if err != nil {
		log.Printf("rule embedding failed err=%v", err)
	} else {
		matches, err := o.stores.Rules.SearchVector(ctx, vector, retrievedRuleLimit)
		if err != nil {
			log.Printf("rule vector search failed err=%v", err)
		}
		for _, rule := range matches {
			if _, dup := byID[rule.ID]; !dup {
				byID[rule.ID] = struct{}{}
				rules = append(rules, rule)
			}
		}
	}

	matches, err := o.stores.Rules.SearchKeyword(ctx, chatText, retrievedRuleLimit)
	if err != nil {
		log.Printf("rule keyword search failed err=%v", err)
	}
	for _, rule := range matches {
		if _, dup := byID[rule.ID]; !dup {
			byID[rule.ID] = struct{}{}
			rules = append(rules, rule)
		}
	}
	return rules
}

// RequestEdits generates post-narrative entity edits from the most recent
// checkpoint and records them as one system event at the new open turn.
func (o *Orchestrator) RequestEdits(ctx context.Context, sessionCode string) error {
	ctx, span := o.tracer.Start(ctx, "turn.RequestEdits")
	defer span.End()

	state := o.state(sessionCode)
	state.genMu.Lock()
	defer state.genMu.Unlock()

	session, err := o.ensureSession(ctx, sessionCode)
	if err != nil {
		return err
	}

	recent, err := o.stores.Checkpoints.ListRecent(ctx, session.Code, 1)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	if len(recent) == 0 {
		return apperrors.New(apperrors.CodeSessionNarrativeUnavailable, "no committed narrative to edit from")
	}
	latest := recent[len(recent)-1]

	state.flagMu.Lock()
	previous := state.phase
	state.phase = PhaseGeneratingEdits
	state.flagMu.Unlock()
	setPhase := func(phase Phase) {
		state.flagMu.Lock()
		state.phase = phase
		state.flagMu.Unlock()
	}

	genCtx, cancel := context.WithTimeout(ctx, o.genWait)
	defer cancel()
	edits, err := o.generator.GenerateEdits(genCtx, buildEditMessages(latest))
	if err != nil {
		setPhase(previous)
		return apperrors.Wrap(apperrors.CodeGenerationUnavailable, "edit generation failed", err)
	}

	deltas := collectEditDeltas(edits)
	if len(deltas) == 0 {
		setPhase(PhaseEditCommitted)
		return nil
	}

	event := world.Event{
		TurnNumber:   session.TurnNumber,
		EntityDeltas: deltas,
		CreatedAt:    o.now(),
	}
	if err := o.stores.Events.AppendEvent(ctx, session.Code, event); err != nil {
		setPhase(previous)
		return fmt.Errorf("append edit event: %w", err)
	}
	setPhase(PhaseEditCommitted)

	o.notifier.Notify(sessionCode, notify.UpdateHistory, map[string]any{"turnNumber": session.TurnNumber})
	return nil
}

// collectEditDeltas flattens an edit set into journal deltas. Deleted ids
// become soft-delete deltas so removals replay like any other change.
func collectEditDeltas(edits generation.EditSet) []world.EntityDelta {
	deltas := make([]world.EntityDelta, 0, len(edits.Created)+len(edits.Updated)+len(edits.Deleted))
	for _, delta := range edits.Created {
		if delta.State == "" {
			delta.State = world.StateActive
		}
		deltas = append(deltas, delta)
	}
	deltas = append(deltas, edits.Updated...)
	for _, id := range edits.Deleted {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		deltas = append(deltas, world.EntityDelta{ID: id, State: world.StateRemoved})
	}
	return deltas
}

// History is the catch-up payload pushed to a participant joining a session.
type History struct {
	Session     storage.SessionRecord `json:"session"`
	Events      []world.Event         `json:"events"`
	Checkpoints []world.Checkpoint    `json:"checkpoints"`
	Entities    []world.Entity        `json:"entities"`
}

// History assembles the session's full journal, recent checkpoints, and the
// reduced world view.
func (o *Orchestrator) History(ctx context.Context, sessionCode string) (History, error) {
	session, err := o.ensureSession(ctx, sessionCode)
	if err != nil {
		return History{}, err
	}

	events, err := o.stores.Events.ListEvents(ctx, session.Code, 0)
	if err != nil {
		return History{}, fmt.Errorf("list events: %w", err)
	}
	checkpoints, err := o.stores.Checkpoints.ListRecent(ctx, session.Code, recentCheckpointLimit)
	if err != nil {
		return History{}, fmt.Errorf("list checkpoints: %w", err)
	}

	return History{
		Session:     session,
		Events:      events,
		Checkpoints: checkpoints,
		Entities:    world.Reduce(events),
	}, nil
}

func chatTranscript(events []world.Event) string {
	var b strings.Builder
	for _, event := range events {
		if event.Chat == nil || event.Chat.AuthorCode == world.SystemAuthorCode {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", event.Chat.AuthorCode, event.Chat.Message)
	}
	return b.String()
}

func buildNarrativeMessages(entities []world.Entity, recent []world.Checkpoint, rules []rulebook.Rule, turnEvents []world.Event) []generation.Message {
	var system strings.Builder
	system.WriteString("You are the narrator of a persistent shared world. ")
	system.WriteString("Write the next scene from the members' messages, then summarize it. ")
	system.WriteString("Respond with JSON: {\"content\", \"summary\", \"documents\": [{\"id\", \"comment\"}], \"terms\": [{\"id\", \"comment\"}]}.\n\n")

	if len(entities) > 0 {
		system.WriteString("Current world entities:\n")
		if raw, err := json.Marshal(entities); err == nil {
			system.Write(raw)
			system.WriteString("\n\n")
		}
	}
	for _, checkpoint := range recent {
		fmt.Fprintf(&system, "Turn %d summary: %s\n", checkpoint.TurnNumber, checkpoint.TurnSummary)
	}
	if len(rules) > 0 {
		system.WriteString("\nRelevant rules:\n")
		for _, rule := range rules {
			fmt.Fprintf(&system, "[%d] %s: %s\n", rule.ID, rule.Title, strings.Join(rule.ContentChunks, " "))
		}
	}

	return []generation.Message{
		{Role: "system", Content: system.String()},
		{Role: "user", Content: chatTranscript(turnEvents)},
	}
}

func buildEditMessages(checkpoint world.Checkpoint) []generation.Message {
	var system strings.Builder
	system.WriteString("You maintain the entity roster of a persistent shared world. ")
	system.WriteString("Given the committed narrative and the current entities, propose edits. ")
	system.WriteString("Respond with JSON: {\"created\": [], \"updated\": [], \"deleted\": []} where created and updated hold entity deltas and deleted holds entity ids.\n\n")

	if len(checkpoint.WorldSnapshot) > 0 {
		system.WriteString("Current world entities:\n")
		if raw, err := json.Marshal(checkpoint.WorldSnapshot); err == nil {
			system.Write(raw)
			system.WriteString("\n")
		}
	}

	return []generation.Message{
		{Role: "system", Content: system.String()},
		{Role: "user", Content: checkpoint.NarrativeText},
	}
}
