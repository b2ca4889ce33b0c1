package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomworks/worldloom/internal/world"
)

// Keyword is one extracted term with a short gloss.
type Keyword struct {
	Term        string `json:"term"`
	Description string `json:"description"`
}

// KeywordExtraction is the response shape for the keyword-extraction prompt.
type KeywordExtraction struct {
	Keywords []Keyword `json:"keywords"`
	Summary  string    `json:"summary"`
}

// EntityDraft is one proposed entity in the entity-drafting response shape.
type EntityDraft struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Info        string   `json:"info"`
	Terms       []string `json:"terms"`
}

// NarrativeRef cites a numbered source consulted while writing narrative.
type NarrativeRef struct {
	ID      int    `json:"id"`
	Comment string `json:"comment"`
}

// Narrative is the response shape for the turn-narrative prompt.
type Narrative struct {
	Content   string         `json:"content"`
	Documents []NarrativeRef `json:"documents"`
	Terms     []NarrativeRef `json:"terms"`
	Summary   string         `json:"summary"`
}

// EditSet is the response shape for the post-narrative entity-edit prompt.
type EditSet struct {
	Created []world.EntityDelta `json:"created"`
	Updated []world.EntityDelta `json:"updated"`
	Deleted []string            `json:"deleted"`
}

// stripCodeFence removes an optional markdown code fence wrapping a JSON
// payload. Models occasionally fence their output despite instructions.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}

// ExtractKeywords runs the keyword-extraction prompt and parses its shape.
func (c *Client) ExtractKeywords(ctx context.Context, messages []Message) (KeywordExtraction, error) {
	raw, err := c.invoke(ctx, messages)
	if err != nil {
		return KeywordExtraction{}, err
	}
	var extraction KeywordExtraction
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &extraction); err != nil {
		return KeywordExtraction{}, fmt.Errorf("parse keyword extraction: %w", err)
	}
	for i, kw := range extraction.Keywords {
		if strings.TrimSpace(kw.Term) == "" {
			return KeywordExtraction{}, fmt.Errorf("keyword %d has an empty term", i)
		}
	}
	return extraction, nil
}

// DraftEntities runs the entity-drafting prompt and parses its shape.
func (c *Client) DraftEntities(ctx context.Context, messages []Message) ([]EntityDraft, error) {
	raw, err := c.invoke(ctx, messages)
	if err != nil {
		return nil, err
	}
	var drafts []EntityDraft
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &drafts); err != nil {
		return nil, fmt.Errorf("parse entity drafts: %w", err)
	}
	for i, draft := range drafts {
		if strings.TrimSpace(draft.Name) == "" {
			return nil, fmt.Errorf("entity draft %d has an empty name", i)
		}
	}
	return drafts, nil
}

// GenerateNarrative runs the turn-narrative prompt and parses its shape.
func (c *Client) GenerateNarrative(ctx context.Context, messages []Message) (Narrative, error) {
	raw, err := c.invoke(ctx, messages)
	if err != nil {
		return Narrative{}, err
	}
	var narrative Narrative
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &narrative); err != nil {
		return Narrative{}, fmt.Errorf("parse narrative: %w", err)
	}
	if strings.TrimSpace(narrative.Content) == "" {
		return Narrative{}, fmt.Errorf("narrative content is empty")
	}
	return narrative, nil
}

// GenerateEdits runs the entity-edit prompt and parses its shape.
func (c *Client) GenerateEdits(ctx context.Context, messages []Message) (EditSet, error) {
	raw, err := c.invoke(ctx, messages)
	if err != nil {
		return EditSet{}, err
	}
	var edits EditSet
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &edits); err != nil {
		return EditSet{}, fmt.Errorf("parse edit set: %w", err)
	}
	for i, delta := range edits.Created {
		if strings.TrimSpace(delta.ID) == "" {
			return EditSet{}, fmt.Errorf("created delta %d has an empty id", i)
		}
	}
	for i, delta := range edits.Updated {
		if strings.TrimSpace(delta.ID) == "" {
			return EditSet{}, fmt.Errorf("updated delta %d has an empty id", i)
		}
	}
	return edits, nil
}
