// Package retrieve answers visitor questions against a tenant's knowledge
// base: embed the question, search the vector index under the tenant filter,
// and map raw hits into QueryMatch results.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/answerly/engine/engine/domain"
	"github.com/answerly/engine/engine/embed"
	"github.com/answerly/engine/engine/vecstore"
	"github.com/answerly/engine/pkg/fn"
	"github.com/answerly/engine/pkg/metrics"
)

// DefaultTopK is the number of matches returned when the caller does not ask
// for a specific count.
const DefaultTopK = 5

// VectorSearcher is the slice of the vector store the retriever reads through.
type VectorSearcher interface {
	Query(ctx context.Context, embedding []float32, topK int, chatbotID string) ([]vecstore.Hit, error)
}

// Options configures a Retriever.
type Options struct {
	// SearchTimeout bounds a single embed-plus-search round trip. Zero means
	// no extra deadline beyond the caller's context.
	SearchTimeout time.Duration
	// Retry bounds the backoff applied to embed and search calls.
	Retry fn.RetryOpts
}

// DefaultRetrieveOptions returns the production defaults.
func DefaultRetrieveOptions() Options {
	retry := fn.DefaultRetry
	retry.Retryable = domain.Retryable
	return Options{
		SearchTimeout: 10 * time.Second,
		Retry:         retry,
	}
}

// Retriever performs query-time retrieval for one embedding client and one
// vector index. Safe for concurrent use.
type Retriever struct {
	embedder embed.Client
	searcher VectorSearcher
	opts     Options
	log      *slog.Logger

	requests *metrics.Counter
	dropped  *metrics.Counter
	duration *metrics.Histogram
}

// New creates a Retriever. reg and log may be nil.
func New(embedder embed.Client, searcher VectorSearcher, opts Options, reg *metrics.Registry, log *slog.Logger) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetrieveOptions().Retry
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = domain.Retryable
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		opts:     opts,
		log:      log,
		requests: reg.Counter("retrieve_requests_total", "Total retrieval requests."),
		dropped:  reg.Counter("retrieve_dropped_hits_total", "Hits dropped for failing the tenant check."),
		duration: reg.Histogram("retrieve_duration_seconds", "Retrieval round-trip duration.", nil),
	}
}

// Retrieve returns the DefaultTopK closest matches for a visitor question.
func (r *Retriever) Retrieve(ctx context.Context, question, chatbotID string) ([]domain.QueryMatch, error) {
	return r.RetrieveK(ctx, question, chatbotID, DefaultTopK)
}

// RetrieveK returns up to topK matches in the index's descending-score order.
// Fewer than topK stored pairs yields fewer matches; an empty knowledge base
// yields an empty slice, not an error. All inputs are validated before any
// network call.
func (r *Retriever) RetrieveK(ctx context.Context, question, chatbotID string, topK int) ([]domain.QueryMatch, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if err := domain.ValidateChatbotID(chatbotID); err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if err := domain.ValidateTopK(topK); err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	r.requests.Inc()
	start := time.Now()
	defer r.duration.Since(start)

	if r.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.SearchTimeout)
		defer cancel()
	}

	vector, err := fn.Retry(ctx, r.opts.Retry, func(ctx context.Context) fn.Result[[]float32] {
		return fn.FromPair(r.embedder.Embed(ctx, question))
	}).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("retrieve: embed question: %w", err)
	}

	hits, err := fn.Retry(ctx, r.opts.Retry, func(ctx context.Context) fn.Result[[]vecstore.Hit] {
		return fn.FromPair(r.searcher.Query(ctx, vector, topK, chatbotID))
	}).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("retrieve: search: %w", err)
	}

	matches := r.toMatches(hits, chatbotID)
	r.log.Info("retrieved",
		"chatbot_id", chatbotID,
		"top_k", topK,
		"matches", len(matches),
		"duration", time.Since(start),
	)
	return matches, nil
}

// toMatches maps raw hits into QueryMatch values, preserving the index
// ordering. A hit whose payload names a different tenant is dropped; the
// search filter should make that impossible, so it is logged loudly. Absent
// payload fields come through as zero values, which is exactly the
// substitution the API contract wants.
func (r *Retriever) toMatches(hits []vecstore.Hit, chatbotID string) []domain.QueryMatch {
	matches := make([]domain.QueryMatch, 0, len(hits))
	for _, h := range hits {
		if h.ChatbotID != "" && h.ChatbotID != chatbotID {
			r.dropped.Inc()
			r.log.Error("dropped cross-tenant hit",
				"point_id", h.ID, "hit_chatbot_id", h.ChatbotID, "chatbot_id", chatbotID)
			continue
		}
		if h.Model != "" && h.Model != r.embedder.Model() {
			r.log.Warn("embedding model mismatch, scores may be unreliable",
				"point_id", h.ID, "stored_model", h.Model, "query_model", r.embedder.Model())
		}

		id := h.QAID
		if id == "" {
			id = h.ID
		}
		matches = append(matches, domain.QueryMatch{
			ID:       id,
			Score:    h.Score,
			Question: h.Question,
			Answer:   h.Answer,
		})
	}
	return matches
}
