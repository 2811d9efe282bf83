package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/answerly/engine/engine/retrieve"
	"github.com/answerly/engine/engine/vecstore"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Port != "8080" {
		t.Errorf("port = %s", cfg.Port)
	}
	if cfg.EmbedProvider != "openai" {
		t.Errorf("provider = %s", cfg.EmbedProvider)
	}
	if cfg.CORSOrigin != "*" {
		t.Errorf("cors = %s", cfg.CORSOrigin)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("ANSWERLY_TEST_KEY", "set")
	if envOr("ANSWERLY_TEST_KEY", "fallback") != "set" {
		t.Error("should prefer env value")
	}
	if envOr("ANSWERLY_TEST_MISSING", "fallback") != "fallback" {
		t.Error("should fall back")
	}
}

func TestNewEmbedClient_UnknownProvider(t *testing.T) {
	if _, err := newEmbedClient(Config{EmbedProvider: "nope"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["status"] != "ok" {
		t.Errorf("body = %v, err = %v", body, err)
	}
}

// --- retrieve handler ---

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = s.Embed(ctx, texts[i])
	}
	return out, nil
}

func (stubEmbedder) Model() string { return "test-embed-1" }
func (stubEmbedder) Dims() int     { return 2 }

type stubSearcher struct {
	hits []vecstore.Hit
}

func (s *stubSearcher) Query(context.Context, []float32, int, string) ([]vecstore.Hit, error) {
	return s.hits, nil
}

func newTestServer(hits []vecstore.Hit) *server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &server{log: log}
	s.newRetriever = func() (*retrieve.Retriever, error) {
		return retrieve.New(stubEmbedder{}, &stubSearcher{hits: hits}, retrieve.Options{}, nil, log), nil
	}
	return s
}

func TestGetRetriever_BuildsOnceUnderConcurrency(t *testing.T) {
	s := newTestServer(nil)
	var builds atomic.Int32
	inner := s.newRetriever
	s.newRetriever = func() (*retrieve.Retriever, error) {
		builds.Add(1)
		return inner()
	}

	const callers = 16
	got := make([]*retrieve.Retriever, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.getRetriever()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			got[i] = r
		}(i)
	}
	wg.Wait()

	if builds.Load() != 1 {
		t.Errorf("retriever built %d times, want 1", builds.Load())
	}
	for i := 1; i < callers; i++ {
		if got[i] != got[0] {
			t.Fatal("concurrent callers saw different retriever instances")
		}
	}
}

func TestHandleRetrieve_InvalidBody(t *testing.T) {
	s := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve", strings.NewReader("not json"))
	s.handleRetrieve(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandleRetrieve_ValidationError(t *testing.T) {
	s := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve",
		strings.NewReader(`{"question":"  ","chatbot_id":"bot-1"}`))
	s.handleRetrieve(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandleRetrieve_Success(t *testing.T) {
	s := newTestServer([]vecstore.Hit{
		{ID: "p1", Score: 0.9, QAID: "qa-1", ChatbotID: "bot-1", Question: "hours?", Answer: "9 to 5"},
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve",
		strings.NewReader(`{"question":"when are you open?","chatbot_id":"bot-1"}`))
	s.handleRetrieve(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp RetrieveResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Matches) != 1 || resp.Matches[0].ID != "qa-1" || resp.Matches[0].Answer != "9 to 5" {
		t.Errorf("matches = %+v", resp.Matches)
	}
}

func TestHandleRetrieve_EmptyIndexReturnsEmptyArray(t *testing.T) {
	s := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve",
		strings.NewReader(`{"question":"hours?","chatbot_id":"bot-1"}`))
	s.handleRetrieve(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"matches":[]`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandleUpsertQA_RejectsInvalidBeforePublish(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &server{log: log} // nil NATS conn: a publish attempt would panic
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/qa",
		strings.NewReader(`{"id":"","chatbot_id":"bot-1","question":"hours?"}`))
	s.handleUpsertQA(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}
