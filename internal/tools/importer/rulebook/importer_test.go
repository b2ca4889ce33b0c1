package rulebook

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loomworks/worldloom/internal/storage/sqlite"
)

const sampleDoc = `---
title: Core Rules
keywords:
  - combat
---
Intro paragraph.

# Combat
Combat is resolved in rounds.

## Initiative
Roll once per encounter.

# Exploration
Travel happens on the overland map.
`

func TestParseConfigRequiresInput(t *testing.T) {
	fs := flag.NewFlagSet("importer", flag.ContinueOnError)
	if _, err := ParseConfig(fs, []string{}); err == nil {
		t.Fatal("expected input-path error")
	}
}

func TestRunImportsRulebook(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "rules.md")
	if err := os.WriteFile(inputPath, []byte(sampleDoc), 0o600); err != nil {
		t.Fatalf("write rulebook: %v", err)
	}
	dbPath := filepath.Join(dir, "engine.db")

	fs := flag.NewFlagSet("importer", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-input", inputPath, "-db", dbPath})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	var out bytes.Buffer
	if err := Run(context.Background(), cfg, &out); err != nil {
		t.Fatalf("run importer: %v", err)
	}
	if !strings.Contains(out.String(), "imported 4 rules") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	root, err := store.GetRule(context.Background(), 1)
	if err != nil {
		t.Fatalf("get root rule: %v", err)
	}
	if root.Title != "Core Rules" {
		t.Fatalf("expected frontmatter title, got %q", root.Title)
	}
	if len(root.ChildIDs) != 2 {
		t.Fatalf("expected 2 top sections, got %v", root.ChildIDs)
	}

	results, err := store.SearchKeyword(context.Background(), "combat", 10)
	if err != nil {
		t.Fatalf("search keyword: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected frontmatter keyword to be searchable")
	}
}
