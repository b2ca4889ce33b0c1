// Package rulebook imports a markdown rulebook into the engine's rule store:
// it segments the document by heading depth, flattens the tree into rule
// records, and optionally embeds each record for vector retrieval.
package rulebook

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/loomworks/worldloom/internal/generation"
	platformcmd "github.com/loomworks/worldloom/internal/platform/cmd"
	"github.com/loomworks/worldloom/internal/rulebook"
	"github.com/loomworks/worldloom/internal/storage/sqlite"
)

// Config holds the importer configuration.
type Config struct {
	DBPath string `env:"WORLDLOOM_DB_PATH" envDefault:"worldloom.db"`

	GenerationAPIKey string `env:"WORLDLOOM_GENERATION_API_KEY"`
	EmbeddingModel   string `env:"WORLDLOOM_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingsURL    string `env:"WORLDLOOM_EMBEDDINGS_URL"`

	InputPath string
	Title     string
	StartID   int
	Embed     bool
}

// ParseConfig loads the importer configuration from the environment and
// command-line flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.InputPath, "input", "", "path to the markdown rulebook")
	fs.StringVar(&cfg.Title, "title", "", "corpus title (frontmatter title wins when present)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the SQLite database")
	fs.IntVar(&cfg.StartID, "start-id", 1, "first rule id to assign")
	fs.BoolVar(&cfg.Embed, "embed", false, "embed rule content for vector retrieval")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.InputPath) == "" {
		return Config{}, fmt.Errorf("input path is required")
	}
	if cfg.StartID < 1 {
		return Config{}, fmt.Errorf("start id must be >= 1")
	}
	return cfg, nil
}

// Run imports one rulebook document and reports progress to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceImporter, func(ctx context.Context) error {
		raw, err := os.ReadFile(cfg.InputPath)
		if err != nil {
			return fmt.Errorf("read rulebook: %w", err)
		}

		frontmatter, body, err := rulebook.ParseFrontmatter(string(raw))
		if err != nil {
			return err
		}

		title := strings.TrimSpace(frontmatter.Title)
		if title == "" {
			title = strings.TrimSpace(cfg.Title)
		}
		if title == "" {
			return fmt.Errorf("corpus title is required (set -title or a frontmatter title)")
		}

		root := rulebook.Segment(title, body, 0)
		rules, nextID := rulebook.Flatten(cfg.StartID, nil, root)
		rules = rulebook.MergeKeywords(rules, frontmatter.Keywords)

		if cfg.Embed {
			client := generation.NewClient(generation.Config{
				EmbeddingsURL:  cfg.EmbeddingsURL,
				APIKey:         cfg.GenerationAPIKey,
				EmbeddingModel: cfg.EmbeddingModel,
			})
			for i := range rules {
				text := rules[i].Title + "\n" + strings.Join(rules[i].ContentChunks, " ")
				vector, err := client.Embed(ctx, text)
				if err != nil {
					return fmt.Errorf("embed rule %d: %w", rules[i].ID, err)
				}
				rules[i].Embedding = vector
			}
		}

		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() { _ = store.Close() }()

		if err := store.PutRules(ctx, rules); err != nil {
			return fmt.Errorf("store rules: %w", err)
		}

		fmt.Fprintf(out, "imported %d rules (ids %d-%d) from %s\n", len(rules), cfg.StartID, nextID-1, cfg.InputPath)
		return nil
	})
}
