package rulebook

import (
	"strings"
	"testing"
)

const sampleDoc = `Intro paragraph about the rules.

# Combat
Combat is resolved in rounds.

## Initiative
Roll once per encounter.

## Attacks
Declare a target first.

### Critical Hits
Doubles all dice.

# Exploration
Travel happens on the overland map.
`

func TestSegmentBuildsTree(t *testing.T) {
	root := Segment("Rulebook", sampleDoc, 0)

	if root.Title != "Rulebook" || root.Level != 0 {
		t.Fatalf("unexpected root: %+v", root)
	}
	if len(root.Content) != 1 || root.Content[0] != "Intro paragraph about the rules." {
		t.Fatalf("unexpected root content: %v", root.Content)
	}
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 top sections, got %d", len(root.Children))
	}

	combat := root.Children[0]
	if combat.Title != "Combat" || combat.Level != 1 {
		t.Fatalf("unexpected combat node: %+v", combat)
	}
	if len(combat.Children) != 2 {
		t.Fatalf("expected 2 combat subsections, got %d", len(combat.Children))
	}

	attacks := combat.Children[1]
	if attacks.Title != "Attacks" {
		t.Fatalf("unexpected subsection order: %q", attacks.Title)
	}
	if len(attacks.Children) != 1 || attacks.Children[0].Title != "Critical Hits" {
		t.Fatalf("expected nested critical hits section, got %+v", attacks.Children)
	}

	exploration := root.Children[1]
	if exploration.Title != "Exploration" || len(exploration.Children) != 0 {
		t.Fatalf("unexpected exploration node: %+v", exploration)
	}
}

func TestSegmentBodyWithoutSubheadings(t *testing.T) {
	node := Segment("Leaf", "only prose here\nand one more line", 2)
	if len(node.Children) != 0 {
		t.Fatalf("expected no children, got %d", len(node.Children))
	}
	if len(node.Content) != 1 || node.Content[0] != "only prose here and one more line" {
		t.Fatalf("unexpected content: %v", node.Content)
	}
}

func TestSegmentEmptyBody(t *testing.T) {
	node := Segment("Empty", "\n   \n\n", 1)
	if len(node.Content) != 0 {
		t.Fatalf("expected empty chunk list, got %v", node.Content)
	}
}

func TestSegmentStopsAtMaxDepth(t *testing.T) {
	body := "####### Too Deep\nopaque line one\nopaque line two"
	node := Segment("Deep", body, maxDepth)
	if len(node.Children) != 0 {
		t.Fatalf("expected no splitting past max depth, got %d children", len(node.Children))
	}
	if len(node.Content) != 1 || !strings.Contains(node.Content[0], "Too Deep") {
		t.Fatalf("expected one opaque chunk, got %v", node.Content)
	}
}

func TestSegmentDoesNotMatchDeeperHeadings(t *testing.T) {
	body := "## Nested Early\nhidden\n# Section\nvisible"
	node := Segment("Doc", body, 0)

	if len(node.Children) != 1 || node.Children[0].Title != "Section" {
		t.Fatalf("expected only the level-1 heading to split, got %+v", node.Children)
	}
	// The level-2 heading before any level-1 heading stays in the parent's
	// own content.
	joined := strings.Join(node.Content, " ")
	if !strings.Contains(joined, "Nested Early") {
		t.Fatalf("expected deeper heading to remain as content, got %v", node.Content)
	}
}

func TestPackChunksCap(t *testing.T) {
	long := strings.Repeat("word ", 60) // ~300 chars
	chunks := packChunks([]string{strings.TrimSpace(long), "tail line"})
	if len(chunks) != 2 {
		t.Fatalf("expected the long line to close its chunk, got %d chunks: %v", len(chunks), chunks)
	}
	if chunks[1] != "tail line" {
		t.Fatalf("expected new chunk to start on the next line, got %q", chunks[1])
	}
}

func TestPackChunksAccumulatesShortLines(t *testing.T) {
	chunks := packChunks([]string{"one", "two", "three"})
	if len(chunks) != 1 || chunks[0] != "one two three" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}
