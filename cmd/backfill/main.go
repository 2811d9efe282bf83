// Command backfill bulk-loads QA pairs into the vector index from a JSONL
// file, one QAPair per line. Run it after changing the embedding model (the
// index must be rebuilt, vectors from different models are not comparable) or
// when importing an existing knowledge base.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/answerly/engine/engine/domain"
	"github.com/answerly/engine/engine/embed"
	"github.com/answerly/engine/engine/kbsync"
	"github.com/answerly/engine/engine/vecstore"
	"github.com/answerly/engine/pkg/fn"
)

func main() {
	var (
		file          = flag.String("file", "", "JSONL file of QA pairs (required)")
		batchSize     = flag.Int("batch", 64, "pairs per embed/upsert batch")
		includeAnswer = flag.Bool("include-answer", false, "embed question and answer together")
		wipeChatbot   = flag.String("wipe", "", "delete this chatbot's vectors before loading")
	)
	flag.Parse()
	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	embedder, err := newEmbedClient()
	if err != nil {
		log.Fatalf("embed client: %v", err)
	}

	store, err := vecstore.Shared()
	if err != nil {
		log.Fatalf("vector store: %v", err)
	}
	if err := store.EnsureCollection(ctx, embedder.Dims()); err != nil {
		log.Fatalf("ensure collection: %v", err)
	}

	opts := kbsync.DefaultOptions()
	opts.IncludeAnswer = *includeAnswer
	syncer := kbsync.NewSyncer(embedder, store, opts, nil)

	if *wipeChatbot != "" {
		if err := syncer.DeleteChatbot(ctx, *wipeChatbot); err != nil {
			log.Fatalf("wipe chatbot %s: %v", *wipeChatbot, err)
		}
		log.Printf("Wiped vectors for chatbot %s", *wipeChatbot)
	}

	pairs, skipped, err := readPairs(*file)
	if err != nil {
		log.Fatalf("read %s: %v", *file, err)
	}
	log.Printf("Loaded %d pairs from %s (%d skipped as invalid)", len(pairs), *file, skipped)

	var loaded, failed int
	for i, batch := range fn.Chunk(pairs, *batchSize) {
		if err := syncer.UpsertBatch(ctx, batch); err != nil {
			log.Printf("batch %d failed: %v", i, err)
			failed += len(batch)
			continue
		}
		loaded += len(batch)
		if loaded%1000 < *batchSize {
			log.Printf("Progress: %d loaded, %d failed (of %d)", loaded, failed, len(pairs))
		}
	}

	log.Printf("Done! Loaded: %d, Failed: %d, Skipped: %d, Model: %s",
		loaded, failed, skipped, embedder.Model())
}

// readPairs parses one QAPair per line, skipping lines that fail validation
// so a single bad row cannot kill a long import.
func readPairs(path string) ([]domain.QAPair, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var pairs []domain.QAPair
	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var qa domain.QAPair
		if err := json.Unmarshal(scanner.Bytes(), &qa); err != nil {
			log.Printf("line %d: bad json: %v", line, err)
			skipped++
			continue
		}
		if err := domain.ValidateQAPair(qa); err != nil {
			log.Printf("line %d: %v", line, err)
			skipped++
			continue
		}
		pairs = append(pairs, qa)
	}
	return pairs, skipped, scanner.Err()
}

func newEmbedClient() (embed.Client, error) {
	dims, _ := strconv.Atoi(envOr("EMBED_DIMS", "0"))
	rps, _ := strconv.ParseFloat(envOr("EMBED_RPS", "2"), 64)
	if envOr("EMBED_PROVIDER", "openai") == "ollama" {
		if dims == 0 {
			dims = 768
		}
		return embed.NewOllamaClient(
			envOr("EMBED_BASE_URL", "http://localhost:11434"),
			envOr("EMBED_MODEL", "nomic-embed-text"),
			dims,
		), nil
	}
	return embed.NewOpenAIClient(embed.OpenAIConfig{
		BaseURL:           envOr("EMBED_BASE_URL", ""),
		APIKey:            os.Getenv("OPENAI_API_KEY"),
		Model:             envOr("EMBED_MODEL", ""),
		Dims:              dims,
		RequestsPerSecond: rps,
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
