package rulebook

import "strings"

// Rule is one flattened, addressable node of a segmented document.
//
// IDs are assigned by pre-order traversal at ingestion time and never
// change; re-running Flatten over an identical tree with the same start id
// reproduces identical records, which idempotent re-ingestion relies on.
type Rule struct {
	ID            int       `json:"id"`
	Title         string    `json:"title"`
	ContentChunks []string  `json:"contentChunks"`
	Level         int       `json:"level"`
	CategoryPath  []string  `json:"categoryPath"`
	ChildIDs      []int     `json:"childIds,omitempty"`
	Keywords      []string  `json:"keywords,omitempty"`
	Embedding     []float64 `json:"embedding,omitempty"`
}

// Flatten assigns startID to node, derives its category path from the
// ancestor titles, and flattens every child left to right in pre-order,
// advancing the id cursor as it goes. It returns the accumulated records and
// the next unassigned id.
func Flatten(startID int, ancestorTitles []string, node *Node) ([]Rule, int) {
	path := make([]string, 0, len(ancestorTitles)+1)
	path = append(path, ancestorTitles...)
	path = append(path, node.Title)

	rule := Rule{
		ID:            startID,
		Title:         node.Title,
		ContentChunks: node.Content,
		Level:         node.Level,
		CategoryPath:  path,
		Keywords:      titleKeywords(node.Title),
	}

	nextID := startID + 1
	var descendants []Rule
	for _, child := range node.Children {
		rule.ChildIDs = append(rule.ChildIDs, nextID)
		childRecords, advanced := Flatten(nextID, path, child)
		descendants = append(descendants, childRecords...)
		nextID = advanced
	}

	records := make([]Rule, 0, 1+len(descendants))
	records = append(records, rule)
	records = append(records, descendants...)
	return records, nextID
}

// titleKeywords derives lookup keywords from a section title. Frontmatter
// keywords are merged in separately at ingestion time.
func titleKeywords(title string) []string {
	fields := strings.Fields(strings.ToLower(title))
	keywords := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.Trim(field, ".,:;()[]\"'")
		if len(field) < 3 {
			continue
		}
		keywords = append(keywords, field)
	}
	if len(keywords) == 0 {
		return nil
	}
	return keywords
}
