package rulebook

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseFrontmatter(t *testing.T) {
	raw := "---\ntitle: Core Rules\nkeywords:\n  - combat\n  - magic\n---\n# Combat\nbody\n"
	fm, body, err := ParseFrontmatter(raw)
	if err != nil {
		t.Fatalf("parse frontmatter: %v", err)
	}
	if fm.Title != "Core Rules" {
		t.Fatalf("unexpected title %q", fm.Title)
	}
	if !reflect.DeepEqual(fm.Keywords, []string{"combat", "magic"}) {
		t.Fatalf("unexpected keywords %v", fm.Keywords)
	}
	if !strings.HasPrefix(body, "# Combat") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestParseFrontmatterAbsent(t *testing.T) {
	raw := "# Combat\nno metadata here\n"
	fm, body, err := ParseFrontmatter(raw)
	if err != nil {
		t.Fatalf("parse frontmatter: %v", err)
	}
	if fm.Title != "" || len(fm.Keywords) != 0 {
		t.Fatalf("expected empty frontmatter, got %+v", fm)
	}
	if body != raw {
		t.Fatalf("expected body unchanged, got %q", body)
	}
}

func TestParseFrontmatterInvalidYAML(t *testing.T) {
	raw := "---\ntitle: [unclosed\n---\nbody\n"
	if _, _, err := ParseFrontmatter(raw); err == nil {
		t.Fatal("expected yaml error")
	}
}

func TestMergeKeywords(t *testing.T) {
	rules := []Rule{{ID: 1, Title: "Combat", Keywords: []string{"combat"}}}
	merged := MergeKeywords(rules, []string{"Combat", "initiative", ""})
	if !reflect.DeepEqual(merged[0].Keywords, []string{"combat", "initiative"}) {
		t.Fatalf("unexpected merged keywords: %v", merged[0].Keywords)
	}
}
