// Package engine wires the worldloom engine process: storage, generation,
// the turn orchestrator, and the websocket transport.
package engine

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/loomworks/worldloom/internal/generation"
	"github.com/loomworks/worldloom/internal/notify"
	platformcmd "github.com/loomworks/worldloom/internal/platform/cmd"
	"github.com/loomworks/worldloom/internal/server"
	"github.com/loomworks/worldloom/internal/storage/sqlite"
	"github.com/loomworks/worldloom/internal/turn"
)

// Config holds the engine process configuration.
type Config struct {
	HTTPAddr string `env:"WORLDLOOM_HTTP_ADDR" envDefault:":8080"`
	DBPath   string `env:"WORLDLOOM_DB_PATH" envDefault:"worldloom.db"`

	GenerationAPIKey       string `env:"WORLDLOOM_GENERATION_API_KEY"`
	GenerationModel        string `env:"WORLDLOOM_GENERATION_MODEL" envDefault:"gpt-4o-mini"`
	GenerationResponsesURL string `env:"WORLDLOOM_GENERATION_RESPONSES_URL"`
	EmbeddingModel         string `env:"WORLDLOOM_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingsURL          string `env:"WORLDLOOM_EMBEDDINGS_URL"`

	ReadHeaderTimeout time.Duration `env:"WORLDLOOM_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `env:"WORLDLOOM_SHUTDOWN_TIMEOUT"`
}

// ParseConfig loads the engine configuration from the environment and
// command-line flags. Flags take precedence over environment values.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the SQLite database")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the engine process and blocks until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceEngine, func(ctx context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() { _ = store.Close() }()

		client := generation.NewClient(generation.Config{
			ResponsesURL:   cfg.GenerationResponsesURL,
			EmbeddingsURL:  cfg.EmbeddingsURL,
			APIKey:         cfg.GenerationAPIKey,
			Model:          cfg.GenerationModel,
			EmbeddingModel: cfg.EmbeddingModel,
		})

		registry := notify.NewRegistry()
		orchestrator := turn.NewOrchestrator(turn.Stores{
			Sessions:    store,
			Events:      store,
			Checkpoints: store,
			Rules:       store,
		}, client, registry)

		srv, err := server.NewServer(server.Config{
			HTTPAddr:          cfg.HTTPAddr,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ShutdownTimeout:   cfg.ShutdownTimeout,
		}, orchestrator, registry)
		if err != nil {
			return fmt.Errorf("init server: %w", err)
		}
		return srv.ListenAndServe(ctx)
	})
}
