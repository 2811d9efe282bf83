// Package main implements the knowledge-base sync worker. It consumes QA
// upsert and delete events from NATS and applies them to the vector index.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/answerly/engine/engine/embed"
	"github.com/answerly/engine/engine/kbsync"
	"github.com/answerly/engine/engine/vecstore"
	"github.com/answerly/engine/pkg/metrics"
)

// Config holds all environment-based configuration.
type Config struct {
	NATSURL       string
	MetricsPort   int
	MaxRetries    int
	IncludeAnswer bool
	EmbedProvider string
	EmbedBaseURL  string
	EmbedModel    string
	EmbedDims     int
	EmbedRPS      float64
}

func loadConfig() Config {
	metricsPort, _ := strconv.Atoi(envOr("METRICS_PORT", "9091"))
	maxRetries, _ := strconv.Atoi(envOr("SYNC_MAX_RETRIES", "3"))
	dims, _ := strconv.Atoi(envOr("EMBED_DIMS", "0"))
	rps, _ := strconv.ParseFloat(envOr("EMBED_RPS", "0"), 64)
	return Config{
		NATSURL:       envOr("NATS_URL", nats.DefaultURL),
		MetricsPort:   metricsPort,
		MaxRetries:    maxRetries,
		IncludeAnswer: envOr("SYNC_INCLUDE_ANSWER", "") == "true",
		EmbedProvider: envOr("EMBED_PROVIDER", "openai"),
		EmbedBaseURL:  envOr("EMBED_BASE_URL", ""),
		EmbedModel:    envOr("EMBED_MODEL", ""),
		EmbedDims:     dims,
		EmbedRPS:      rps,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newEmbedClient(cfg Config) (embed.Client, error) {
	switch cfg.EmbedProvider {
	case "ollama":
		baseURL := cfg.EmbedBaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.EmbedModel
		if model == "" {
			model = "nomic-embed-text"
		}
		dims := cfg.EmbedDims
		if dims == 0 {
			dims = 768
		}
		return embed.NewOllamaClient(baseURL, model, dims), nil
	case "openai":
		return embed.NewOpenAIClient(embed.OpenAIConfig{
			BaseURL:           cfg.EmbedBaseURL,
			APIKey:            os.Getenv("OPENAI_API_KEY"),
			Model:             cfg.EmbedModel,
			Dims:              cfg.EmbedDims,
			RequestsPerSecond: cfg.EmbedRPS,
		})
	default:
		return nil, fmt.Errorf("unknown embed provider %q", cfg.EmbedProvider)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("sync worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("answerly-syncworker"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	embedder, err := newEmbedClient(cfg)
	if err != nil {
		return fmt.Errorf("embed client: %w", err)
	}

	store, err := vecstore.Shared()
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	if err := store.EnsureCollection(ctx, embedder.Dims()); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	reg := metrics.New()
	reg.ServeAsync(cfg.MetricsPort)

	syncOpts := kbsync.DefaultOptions()
	syncOpts.IncludeAnswer = cfg.IncludeAnswer
	syncer := kbsync.NewSyncer(embedder, store, syncOpts, logger)

	consumer := kbsync.NewConsumer(nc, syncer, reg, logger, cfg.MaxRetries)
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	logger.Info("sync worker running",
		"model", embedder.Model(),
		"dims", embedder.Dims(),
		"metrics_port", cfg.MetricsPort,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	consumer.Stop()
	return nil
}
