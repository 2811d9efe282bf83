package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/answerly/engine/engine/domain"
)

// DefaultDims matches OpenAI's text-embedding-3-small output.
const DefaultDims = 1536

// OpenAIClient implements Client against an OpenAI-compatible /v1/embeddings
// endpoint.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
	limiter *rate.Limiter
}

// OpenAIConfig configures an OpenAIClient. Zero values fall back to the
// public OpenAI API, text-embedding-3-small, and 1536 dims.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Dims    int
	// RequestsPerSecond caps provider calls; 0 disables the limiter.
	RequestsPerSecond float64
}

// NewOpenAIClient creates an embedding client for an OpenAI-compatible API.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewConfigError("OPENAI_API_KEY")
	}
	c := &OpenAIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    cfg.Dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.openai.com"
	}
	if c.model == "" {
		c.model = "text-embedding-3-small"
	}
	if c.dims == 0 {
		c.dims = DefaultDims
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Model implements Client.
func (c *OpenAIClient) Model() string { return c.model }

// Dims implements Client.
func (c *OpenAIClient) Dims() int { return c.dims }

type openaiEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResp struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Client.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Client.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, _ := json.Marshal(openaiEmbedReq{Model: c.model, Input: texts})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewEmbedError(c.model, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.NewEmbedError(c.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.NewEmbedError(c.model, fmt.Errorf("status %d: %s", resp.StatusCode, detail))
	}

	var result openaiEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domain.NewEmbedError(c.model, fmt.Errorf("decode: %w", err))
	}
	if len(result.Data) != len(texts) {
		return nil, domain.NewEmbedError(c.model, fmt.Errorf("got %d embeddings for %d inputs", len(result.Data), len(texts)))
	}

	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, domain.NewEmbedError(c.model, fmt.Errorf("embedding index %d out of range", d.Index))
		}
		if len(d.Embedding) != c.dims {
			return nil, domain.NewEmbedError(c.model, fmt.Errorf("dimensionality %d, configured %d", len(d.Embedding), c.dims))
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
