package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/answerly/engine/engine/domain"
)

func TestOllamaClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %s", req.Model)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "nomic-embed-text", 3)
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[0] != float32(0.1) {
		t.Errorf("wrong vector: %v", vec)
	}
}

func TestOllamaClient_EmbedBatch_Sequential(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: []float64{1, 2}})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "nomic-embed-text", 2)
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 3 || calls != 3 {
		t.Errorf("vecs=%d calls=%d, want 3/3", len(vecs), calls)
	}
}

func TestOllamaClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "missing", 2)
	_, err := c.Embed(context.Background(), "hello")
	var ee *domain.EmbedError
	if !errors.As(err, &ee) {
		t.Fatalf("got %v, want EmbedError", err)
	}
}
