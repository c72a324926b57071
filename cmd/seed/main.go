// Command seed loads knowledge entries from a YAML file into the knowledge
// base, embedding each one. Entries are upserted by category and title, so
// the command can be rerun after editing the file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/framestudio/agency-assistant/internal/config"
	"github.com/framestudio/agency-assistant/internal/llm"
	"github.com/framestudio/agency-assistant/internal/model"
	"github.com/framestudio/agency-assistant/internal/service"
	"github.com/framestudio/agency-assistant/internal/store"
	"github.com/framestudio/agency-assistant/pkg/logger"
)

type seedFile struct {
	Entries []model.UpsertKnowledgeRequest `yaml:"entries"`
}

func main() {
	file := flag.String("file", "knowledge.yaml", "YAML file with knowledge entries")
	reindex := flag.Bool("reindex", false, "regenerate every embedding after seeding")
	flag.Parse()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seed(ctx, cfg, log, *file, *reindex); err != nil {
		log.Error("seed failed", zap.Error(err))
		os.Exit(1)
	}
}

func loadSeedFile(path string) ([]model.UpsertKnowledgeRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return f.Entries, nil
}

func seed(ctx context.Context, cfg *config.Config, log *logger.Logger, path string, reindex bool) error {
	entries, err := loadSeedFile(path)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	embedder, err := llm.NewEmbedder(ctx, llm.Provider(cfg.EmbeddingProvider), llm.Keys{
		OpenAI:    cfg.OpenAIAPIKey,
		Anthropic: cfg.AnthropicAPIKey,
		Gemini:    cfg.GeminiAPIKey,
	}, cfg.EmbeddingModel)
	if err != nil {
		return err
	}

	// A running server on SQLite loads its in-memory index at startup, so
	// there is nothing to sync here.
	svc := service.NewKnowledgeService(db, embedder, nil, log)

	var created, updated, reembedded int
	for i := range entries {
		res, err := svc.Upsert(ctx, &entries[i])
		if err != nil {
			return fmt.Errorf("entry %d (%s/%s): %w", i+1, entries[i].Category, entries[i].Title, err)
		}
		if res.Created {
			created++
		} else {
			updated++
		}
		if res.Reembedded {
			reembedded++
		}
	}

	log.Info("knowledge seeded",
		zap.String("file", path),
		zap.Int("created", created),
		zap.Int("updated", updated),
		zap.Int("reembedded", reembedded),
	)

	if reindex {
		n, err := svc.Reindex(ctx)
		if err != nil {
			return fmt.Errorf("reindex stopped after %d entries: %w", n, err)
		}
	}

	return nil
}
