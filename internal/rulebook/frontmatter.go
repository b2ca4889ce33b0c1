package rulebook

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter carries optional document metadata declared in a leading YAML
// block delimited by "---" lines.
type Frontmatter struct {
	Title    string   `yaml:"title"`
	Keywords []string `yaml:"keywords"`
}

// ParseFrontmatter splits an optional YAML frontmatter block off raw and
// returns it together with the remaining document body. Documents without a
// frontmatter block come back unchanged with empty metadata.
func ParseFrontmatter(raw string) (Frontmatter, string, error) {
	trimmed := strings.TrimLeft(raw, "\ufeff\n\r\t ")
	if !strings.HasPrefix(trimmed, "---\n") {
		return Frontmatter{}, raw, nil
	}

	rest := trimmed[len("---\n"):]
	end := strings.Index(rest, "---\n")
	if end == -1 {
		return Frontmatter{}, raw, nil
	}

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return Frontmatter{}, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	body := rest[end+len("---\n"):]
	return fm, body, nil
}

// MergeKeywords combines frontmatter keywords into every rule of a flattened
// corpus, deduplicating against the title-derived ones.
func MergeKeywords(rules []Rule, extra []string) []Rule {
	if len(extra) == 0 {
		return rules
	}
	merged := make([]Rule, len(rules))
	for i, rule := range rules {
		seen := make(map[string]struct{}, len(rule.Keywords))
		for _, kw := range rule.Keywords {
			seen[kw] = struct{}{}
		}
		for _, kw := range extra {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if _, dup := seen[kw]; dup {
				continue
			}
			rule.Keywords = append(rule.Keywords, kw)
			seen[kw] = struct{}{}
		}
		merged[i] = rule
	}
	return merged
}
