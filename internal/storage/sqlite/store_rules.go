package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	apperrors "github.com/loomworks/worldloom/internal/platform/errors"
	"github.com/loomworks/worldloom/internal/rulebook"
	"github.com/loomworks/worldloom/internal/storage"
)

// PutRules inserts or replaces the given rules by id in one transaction.
func (s *Store) PutRules(ctx context.Context, rules []rulebook.Rule) error {
	if len(rules) == 0 {
		return apperrors.New(apperrors.CodeRuleEmptyCorpus, "rule corpus is empty")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rules transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rule := range rules {
		if rule.ID <= 0 {
			return apperrors.New(apperrors.CodeRuleInvalidID, "rule id must be positive")
		}
		if strings.TrimSpace(rule.Title) == "" {
			return apperrors.New(apperrors.CodeRuleEmptyTitle, "rule title is required")
		}

		chunks, err := json.Marshal(rule.ContentChunks)
		if err != nil {
			return fmt.Errorf("marshal rule chunks: %w", err)
		}
		categoryPath, err := json.Marshal(rule.CategoryPath)
		if err != nil {
			return fmt.Errorf("marshal rule category path: %w", err)
		}
		childIDs, err := json.Marshal(rule.ChildIDs)
		if err != nil {
			return fmt.Errorf("marshal rule child ids: %w", err)
		}
		keywords, err := json.Marshal(rule.Keywords)
		if err != nil {
			return fmt.Errorf("marshal rule keywords: %w", err)
		}
		embedding := ""
		if len(rule.Embedding) > 0 {
			raw, err := json.Marshal(rule.Embedding)
			if err != nil {
				return fmt.Errorf("marshal rule embedding: %w", err)
			}
			embedding = string(raw)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO rules (id, title, level, content_chunks, category_path, child_ids, keywords, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.ID, rule.Title, rule.Level, string(chunks), string(categoryPath),
			string(childIDs), string(keywords), embedding,
		); err != nil {
			return fmt.Errorf("insert rule %d: %w", rule.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rules transaction: %w", err)
	}
	return nil
}

// GetRule returns one rule by id.
func (s *Store) GetRule(ctx context.Context, id int) (rulebook.Rule, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, title, level, content_chunks, category_path, child_ids, keywords, embedding
FROM rules WHERE id = ?`, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rulebook.Rule{}, storage.ErrNotFound
	}
	if err != nil {
		return rulebook.Rule{}, err
	}
	return rule, nil
}

// SearchKeyword returns up to limit rules matching the query terms, ranked by
// how many terms hit the rule's title or keywords.
func (s *Store) SearchKeyword(ctx context.Context, query string, limit int) ([]rulebook.Rule, error) {
	terms := queryTerms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	rules, err := s.listRules(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rule rulebook.Rule
		hits int
	}
	var matches []scored
	for _, rule := range rules {
		haystack := strings.ToLower(rule.Title) + " " + strings.ToLower(strings.Join(rule.Keywords, " "))
		hits := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, scored{rule: rule, hits: hits})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].hits > matches[j].hits })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	results := make([]rulebook.Rule, len(matches))
	for i, match := range matches {
		results[i] = match.rule
	}
	return results, nil
}

// SearchVector returns up to limit rules ranked by cosine similarity of their
// stored embeddings against the query vector. Rules without an embedding are
// skipped.
func (s *Store) SearchVector(ctx context.Context, query []float64, limit int) ([]rulebook.Rule, error) {
	if len(query) == 0 || limit <= 0 {
		return nil, nil
	}

	rules, err := s.listRules(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rule       rulebook.Rule
		similarity float64
	}
	var matches []scored
	for _, rule := range rules {
		if len(rule.Embedding) == 0 {
			continue
		}
		similarity, ok := cosineSimilarity(query, rule.Embedding)
		if !ok {
			continue
		}
		matches = append(matches, scored{rule: rule, similarity: similarity})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].similarity > matches[j].similarity })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	results := make([]rulebook.Rule, len(matches))
	for i, match := range matches {
		results[i] = match.rule
	}
	return results, nil
}

func (s *Store) listRules(ctx context.Context) ([]rulebook.Rule, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, title, level, content_chunks, category_path, child_ids, keywords, embedding
FROM rules ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []rulebook.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return rules, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (rulebook.Rule, error) {
	var rule rulebook.Rule
	var chunks, categoryPath, childIDs, keywords, embedding string
	if err := row.Scan(&rule.ID, &rule.Title, &rule.Level, &chunks, &categoryPath, &childIDs, &keywords, &embedding); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rulebook.Rule{}, err
		}
		return rulebook.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	if err := json.Unmarshal([]byte(chunks), &rule.ContentChunks); err != nil {
		return rulebook.Rule{}, fmt.Errorf("unmarshal rule chunks: %w", err)
	}
	if err := json.Unmarshal([]byte(categoryPath), &rule.CategoryPath); err != nil {
		return rulebook.Rule{}, fmt.Errorf("unmarshal rule category path: %w", err)
	}
	if err := json.Unmarshal([]byte(childIDs), &rule.ChildIDs); err != nil {
		return rulebook.Rule{}, fmt.Errorf("unmarshal rule child ids: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &rule.Keywords); err != nil {
		return rulebook.Rule{}, fmt.Errorf("unmarshal rule keywords: %w", err)
	}
	if strings.TrimSpace(embedding) != "" {
		if err := json.Unmarshal([]byte(embedding), &rule.Embedding); err != nil {
			return rulebook.Rule{}, fmt.Errorf("unmarshal rule embedding: %w", err)
		}
	}
	return rule, nil
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	var terms []string
	for _, field := range fields {
		field = strings.Trim(field, ".,;:!?\"'()")
		if len(field) >= 3 {
			terms = append(terms, field)
		}
	}
	return terms
}

// cosineSimilarity returns the cosine of the angle between two vectors. The
// second return value is false when the vectors disagree in dimension or
// either has zero magnitude.
func cosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
