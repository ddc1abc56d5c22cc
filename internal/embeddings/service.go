// Package embeddings turns writing-sample passages and retrieval queries
// into vectors via the sidecar's /embeddings endpoint. Results are cached in
// a per-process LRU and optionally a shared Redis cache, since the same
// passages are embedded again on every styling lookup.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/plumeworks/plume/internal/interceptors"
	"github.com/plumeworks/plume/internal/metrics"
	"github.com/plumeworks/plume/internal/tracing"
)

// lruTTL bounds how long shared-cache entries stay pinned in process.
const lruTTL = 30 * time.Minute

// Service generates embeddings with two cache tiers in front of the sidecar.
type Service struct {
	cfg   Config
	http  *http.Client
	cache Cache
	lru   *LocalLRU
}

// NewService builds the embeddings client. cache may be nil when no shared
// cache is configured.
func NewService(cfg Config, cache Cache) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("LLM_SERVICE_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://llm-service:8000"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: interceptors.NewRunHTTPRoundTripper(nil),
	}
	return &Service{cfg: cfg, http: httpClient, cache: cache, lru: NewLocalLRU(cfg.MaxLRU)}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// GenerateEmbedding returns the vector for a single text.
func (s *Service) GenerateEmbedding(ctx context.Context, text string, model string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embeddings: service not initialized")
	}
	m := model
	if m == "" {
		m = s.cfg.DefaultModel
	}
	if v, ok := s.lookup(ctx, m, text); ok {
		return v, nil
	}
	vecs, err := s.fetch(ctx, []string{text}, m)
	if err != nil {
		return nil, err
	}
	s.store(ctx, m, text, vecs[0])
	return vecs[0], nil
}

// GenerateBatchEmbeddings embeds texts in one request, serving what it can
// from cache first. Results keep input order.
func (s *Service) GenerateBatchEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embeddings: service not initialized")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	m := model
	if m == "" {
		m = s.cfg.DefaultModel
	}

	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := s.lookup(ctx, m, text); ok {
			results[i] = v
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	vecs, err := s.fetch(ctx, missing, m)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		results[missingIdx[i]] = v
		s.store(ctx, m, missing[i], v)
	}
	return results, nil
}

// lookup checks the LRU, then the shared cache.
func (s *Service) lookup(ctx context.Context, model, text string) ([]float32, bool) {
	key := MakeKey(model, text)
	if v, ok := s.lru.Get(ctx, key); ok {
		metrics.EmbeddingCacheHits.Inc()
		metrics.RecordEmbeddingMetrics(model, "lru_hit", 0)
		return v, true
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, lruTTL)
			metrics.EmbeddingCacheHits.Inc()
			metrics.RecordEmbeddingMetrics(model, "cache_hit", 0)
			return v, true
		}
	}
	metrics.EmbeddingCacheMisses.Inc()
	return nil, false
}

func (s *Service) store(ctx context.Context, model, text string, v []float32) {
	key := MakeKey(model, text)
	s.lru.Set(ctx, key, v, lruTTL)
	if s.cache != nil {
		s.cache.Set(ctx, key, v, s.cfg.CacheTTL)
	}
}

// fetch calls the sidecar for every text and converts the reply to float32
// vectors, one per input text.
func (s *Service) fetch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	start := time.Now()
	url := fmt.Sprintf("%s/embeddings/", s.cfg.BaseURL)

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	payload := embedRequest{Texts: texts, Model: model}
	buf, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		metrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embeddings status %d: %s", resp.StatusCode, string(body))
	}
	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, err
	}
	if len(er.Embeddings) != len(texts) {
		metrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embeddings service returned %d vectors for %d texts", len(er.Embeddings), len(texts))
	}
	out := make([][]float32, len(er.Embeddings))
	for i, emb := range er.Embeddings {
		v := make([]float32, len(emb))
		for j, f := range emb {
			v[j] = float32(f)
		}
		out[i] = v
	}
	metrics.RecordEmbeddingMetrics(model, "ok", time.Since(start).Seconds())
	return out, nil
}
