// Package rulebook turns a long-form rules document into an addressable,
// navigable tree of titled sections and flattens it into stably identified
// rule records.
package rulebook

import "strings"

const (
	// maxDepth is the deepest heading level the segmenter splits on.
	// Content below this depth is kept as one opaque chunk.
	maxDepth = 6

	// chunkCap is the approximate character budget of one content chunk. A
	// chunk closes once a line pushes it past the cap; the next line starts
	// a new chunk.
	chunkCap = 200
)

// Node is one titled section of a segmented document.
type Node struct {
	Title    string
	Content  []string
	Level    int
	Children []*Node
}

// Segment recursively splits rawText into a section tree.
//
// At each level the text is split on markdown headings one level deeper than
// the current one. The pre-heading remainder becomes the node's own content
// chunks; every heading segment recurses with its heading text as the new
// title. A body with no matching sub-heading is pure content of the current
// node.
func Segment(title, rawText string, level int) *Node {
	node := &Node{Title: title, Level: level}

	if level >= maxDepth {
		if trimmed := strings.TrimSpace(rawText); trimmed != "" {
			node.Content = []string{trimmed}
		}
		return node
	}

	marker := strings.Repeat("#", level+1) + " "
	lines := strings.Split(rawText, "\n")

	var ownLines []string
	var childTitle string
	var childLines []string
	inChild := false

	flushChild := func() {
		if !inChild {
			return
		}
		child := Segment(childTitle, strings.Join(childLines, "\n"), level+1)
		node.Children = append(node.Children, child)
	}

	for _, line := range lines {
		if strings.HasPrefix(line, marker) {
			flushChild()
			inChild = true
			childTitle = strings.TrimSpace(strings.TrimPrefix(line, marker))
			childLines = nil
			continue
		}
		if inChild {
			childLines = append(childLines, line)
			continue
		}
		ownLines = append(ownLines, line)
	}
	flushChild()

	node.Content = packChunks(ownLines)
	return node
}

// packChunks joins non-empty lines into consecutive chunks of roughly
// chunkCap characters. An empty body yields an empty chunk list, never a
// single empty chunk.
func packChunks(lines []string) []string {
	var chunks []string
	var current strings.Builder

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(line)
		if current.Len() >= chunkCap {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
