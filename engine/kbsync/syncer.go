// Package kbsync keeps the vector index consistent with the QA knowledge
// base. Every create, update, and delete of a QAPair flows through here; the
// index is never written from anywhere else.
package kbsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/answerly/engine/engine/domain"
	"github.com/answerly/engine/engine/embed"
	"github.com/answerly/engine/engine/vecstore"
	"github.com/answerly/engine/pkg/fn"
)

// pointNamespace seeds deterministic point ids. The same QA id always maps to
// the same point id, which is what makes upserts idempotent replacements.
var pointNamespace = uuid.MustParse("7b8a1c2e-4f5d-4a6b-9c3d-2e1f0a9b8c7d")

// PointID derives the index point id for a QA pair. Deterministic: re-syncing
// a pair overwrites its previous point instead of accumulating duplicates.
func PointID(qaID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(qaID)).String()
}

// VectorWriter is the slice of the vector store the syncer writes through.
type VectorWriter interface {
	Upsert(ctx context.Context, records []vecstore.VectorRecord) error
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByChatbot(ctx context.Context, chatbotID string) error
}

// Options configures a Syncer.
type Options struct {
	// IncludeAnswer embeds question and answer together instead of the
	// question alone. Questions carry most of the retrieval signal, so the
	// default is question-only.
	IncludeAnswer bool
	// MaxEmbedBatch caps how many texts go to the provider in one call.
	MaxEmbedBatch int
	// Retry bounds the backoff applied to embed and index calls.
	Retry fn.RetryOpts
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	retry := fn.DefaultRetry
	retry.Retryable = domain.Retryable
	return Options{MaxEmbedBatch: 128, Retry: retry}
}

// Syncer pushes QA pairs into the vector index and removes them again.
// All operations are idempotent and no-ops on empty input.
type Syncer struct {
	embedder embed.Client
	store    VectorWriter
	opts     Options
	log      *slog.Logger
}

// NewSyncer creates a Syncer. A nil logger falls back to slog.Default.
func NewSyncer(embedder embed.Client, store VectorWriter, opts Options, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxEmbedBatch <= 0 {
		opts.MaxEmbedBatch = DefaultOptions().MaxEmbedBatch
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultOptions().Retry
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = domain.Retryable
	}
	return &Syncer{embedder: embedder, store: store, opts: opts, log: log}
}

// Upsert embeds one QA pair and writes it to the index.
func (s *Syncer) Upsert(ctx context.Context, qa domain.QAPair) error {
	return s.UpsertBatch(ctx, []domain.QAPair{qa})
}

// UpsertBatch embeds a batch of QA pairs and writes them to the index in one
// call. The whole batch is validated before any network traffic; a single
// invalid pair rejects the batch. Empty input is a no-op.
func (s *Syncer) UpsertBatch(ctx context.Context, pairs []domain.QAPair) error {
	if len(pairs) == 0 {
		return nil
	}

	for i, qa := range pairs {
		if err := domain.ValidateQAPair(qa); err != nil {
			return fmt.Errorf("kbsync: upsert batch [%d]: %w", i, err)
		}
	}

	texts := make([]string, len(pairs))
	for i, qa := range pairs {
		texts[i] = s.embedText(qa)
	}

	vectors := make([][]float32, 0, len(texts))
	for _, chunk := range fn.Chunk(texts, s.opts.MaxEmbedBatch) {
		vecs, err := fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) fn.Result[[][]float32] {
			return fn.FromPair(s.embedder.EmbedBatch(ctx, chunk))
		}).Unwrap()
		if err != nil {
			return fmt.Errorf("kbsync: embed batch of %d: %w", len(pairs), err)
		}
		vectors = append(vectors, vecs...)
	}

	model := s.embedder.Model()
	records := make([]vecstore.VectorRecord, len(pairs))
	for i, qa := range pairs {
		records[i] = vecstore.VectorRecord{
			ID:        PointID(qa.ID),
			QAID:      qa.ID,
			ChatbotID: qa.ChatbotID,
			Question:  qa.Question,
			Answer:    qa.Answer,
			Model:     model,
			Embedding: vectors[i],
		}
	}

	_, err := fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, s.store.Upsert(ctx, records))
	}).Unwrap()
	if err != nil {
		return fmt.Errorf("kbsync: index batch of %d: %w", len(pairs), err)
	}

	s.log.Info("synced batch", "count", len(pairs), "model", model)
	return nil
}

// Delete removes one QA pair from the index.
func (s *Syncer) Delete(ctx context.Context, qaID string) error {
	return s.DeleteBatch(ctx, []string{qaID})
}

// DeleteBatch removes a batch of QA pairs from the index. Deleting ids that
// were never synced is not an error. Empty input is a no-op.
func (s *Syncer) DeleteBatch(ctx context.Context, qaIDs []string) error {
	if len(qaIDs) == 0 {
		return nil
	}

	pointIDs := make([]string, len(qaIDs))
	for i, id := range qaIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("kbsync: delete batch [%d]: %w",
				i, domain.NewValidationError("id", id, domain.ErrEmptyQAID))
		}
		pointIDs[i] = PointID(id)
	}

	_, err := fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, s.store.DeleteByIDs(ctx, pointIDs))
	}).Unwrap()
	if err != nil {
		return fmt.Errorf("kbsync: delete batch of %d: %w", len(qaIDs), err)
	}

	s.log.Info("deleted batch", "count", len(qaIDs))
	return nil
}

// DeleteChatbot removes every vector belonging to one tenant.
func (s *Syncer) DeleteChatbot(ctx context.Context, chatbotID string) error {
	if err := domain.ValidateChatbotID(chatbotID); err != nil {
		return fmt.Errorf("kbsync: delete chatbot: %w", err)
	}

	_, err := fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, s.store.DeleteByChatbot(ctx, chatbotID))
	}).Unwrap()
	if err != nil {
		return fmt.Errorf("kbsync: delete chatbot %s: %w", chatbotID, err)
	}

	s.log.Info("deleted chatbot vectors", "chatbot_id", chatbotID)
	return nil
}

func (s *Syncer) embedText(qa domain.QAPair) string {
	if s.opts.IncludeAnswer && qa.Answer != "" {
		return qa.Question + "\n" + qa.Answer
	}
	return qa.Question
}
