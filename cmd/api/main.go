// Package main implements the Answerly retrieval API server. It answers
// visitor questions synchronously and hands knowledge-base writes to the sync
// worker over NATS.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/answerly/engine/engine/domain"
	"github.com/answerly/engine/engine/embed"
	"github.com/answerly/engine/engine/kbsync"
	"github.com/answerly/engine/engine/retrieve"
	"github.com/answerly/engine/engine/vecstore"
	"github.com/answerly/engine/pkg/metrics"
	"github.com/answerly/engine/pkg/mid"
	"github.com/answerly/engine/pkg/natsutil"
)

// Config holds all environment-based configuration.
type Config struct {
	Port          string
	NATSURL       string
	CORSOrigin    string
	EmbedProvider string
	EmbedBaseURL  string
	EmbedModel    string
	EmbedDims     int
	EmbedRPS      float64
}

func loadConfig() Config {
	dims, _ := strconv.Atoi(envOr("EMBED_DIMS", "0"))
	rps, _ := strconv.ParseFloat(envOr("EMBED_RPS", "0"), 64)
	return Config{
		Port:          envOr("PORT", "8080"),
		NATSURL:       envOr("NATS_URL", nats.DefaultURL),
		CORSOrigin:    envOr("CORS_ORIGIN", "*"),
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
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("answerly-api"))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	reg := metrics.New()
	srvState := &server{cfg: cfg, nc: nc, reg: reg, log: logger}
	srvState.newRetriever = func() (*retrieve.Retriever, error) {
		embedder, err := newEmbedClient(cfg)
		if err != nil {
			return nil, err
		}
		store, err := vecstore.Shared()
		if err != nil {
			return nil, err
		}
		return retrieve.New(embedder, store, retrieve.DefaultRetrieveOptions(), reg, logger), nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/retrieve", srvState.handleRetrieve)
	mux.HandleFunc("POST /api/qa", srvState.handleUpsertQA)
	mux.HandleFunc("POST /api/qa/batch", srvState.handleUpsertBatch)
	mux.HandleFunc("DELETE /api/qa/{id}", srvState.handleDeleteQA)
	mux.HandleFunc("DELETE /api/chatbot/{id}", srvState.handleDeleteChatbot)
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("answerly-api"),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// server holds shared handler state. The retriever is built on first use so
// misconfiguration surfaces as a request error instead of a crash at boot.
type server struct {
	cfg Config
	nc  *nats.Conn
	reg *metrics.Registry
	log *slog.Logger

	once         sync.Once
	newRetriever func() (*retrieve.Retriever, error)
	retriever    *retrieve.Retriever
	initErr      error
}

func (s *server) getRetriever() (*retrieve.Retriever, error) {
	s.once.Do(func() {
		s.retriever, s.initErr = s.newRetriever()
	})
	return s.retriever, s.initErr
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// RetrieveRequest is the JSON body for POST /api/retrieve.
type RetrieveRequest struct {
	Question  string `json:"question"`
	ChatbotID string `json:"chatbot_id"`
	TopK      int    `json:"top_k,omitempty"`
}

// RetrieveResponse is the JSON response for POST /api/retrieve.
type RetrieveResponse struct {
	Matches []domain.QueryMatch `json:"matches"`
}

func (s *server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TopK == 0 {
		req.TopK = retrieve.DefaultTopK
	}

	retriever, err := s.getRetriever()
	if err != nil {
		s.log.Error("retriever init failed", "err", err)
		writeError(w, http.StatusInternalServerError, "service misconfigured")
		return
	}

	matches, err := retriever.RetrieveK(r.Context(), req.Question, req.ChatbotID, req.TopK)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
			return
		}
		s.log.Error("retrieve failed", "err", err)
		writeError(w, http.StatusBadGateway, "retrieval unavailable")
		return
	}
	if matches == nil {
		matches = []domain.QueryMatch{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RetrieveResponse{Matches: matches})
}

func (s *server) handleUpsertQA(w http.ResponseWriter, r *http.Request) {
	var qa domain.QAPair
	if err := json.NewDecoder(r.Body).Decode(&qa); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.ValidateQAPair(qa); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev := kbsync.UpsertEvent{QA: qa}
	if err := natsutil.Publish(r.Context(), s.nc, kbsync.SubjectUpsert, ev); err != nil {
		s.log.Error("publish upsert failed", "err", err)
		writeError(w, http.StatusInternalServerError, "publish failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// BatchRequest is the JSON body for POST /api/qa/batch.
type BatchRequest struct {
	Pairs []domain.QAPair `json:"pairs"`
}

func (s *server) handleUpsertBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, qa := range req.Pairs {
		if err := domain.ValidateQAPair(qa); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	for _, qa := range req.Pairs {
		ev := kbsync.UpsertEvent{QA: qa}
		if err := natsutil.Publish(r.Context(), s.nc, kbsync.SubjectUpsert, ev); err != nil {
			s.log.Error("publish upsert failed", "err", err)
			writeError(w, http.StatusInternalServerError, "publish failed")
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleDeleteQA(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing qa id")
		return
	}
	ev := kbsync.DeleteEvent{ID: id}
	if err := natsutil.Publish(r.Context(), s.nc, kbsync.SubjectDelete, ev); err != nil {
		s.log.Error("publish delete failed", "err", err)
		writeError(w, http.StatusInternalServerError, "publish failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleDeleteChatbot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := domain.ValidateChatbotID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev := kbsync.DeleteEvent{ChatbotID: id}
	if err := natsutil.Publish(r.Context(), s.nc, kbsync.SubjectDelete, ev); err != nil {
		s.log.Error("publish delete failed", "err", err)
		writeError(w, http.StatusInternalServerError, "publish failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
