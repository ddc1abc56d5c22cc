// Package agents implements the run collaborators behind the writing
// pipeline. Each collaborator owns one stage concern (research, drafting,
// styling, review, revision, gap scanning) and talks to the LLM sidecar
// through a shared Client.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/circuitbreaker"
	"github.com/plumeworks/plume/internal/interceptors"
	"github.com/plumeworks/plume/internal/metrics"
	"github.com/plumeworks/plume/internal/models"
	"github.com/plumeworks/plume/internal/pricing"
)

// Model tiers understood by the sidecar router.
const (
	TierSmall  = "small"
	TierMedium = "medium"
	TierLarge  = "large"
)

// tierFor maps a request's quality mode to the tier used by the generation
// stages. Evaluation stages always run on the small tier.
func tierFor(mode string) string {
	switch mode {
	case models.ModeFast:
		return TierSmall
	case models.ModeQuality:
		return TierLarge
	default:
		return TierMedium
	}
}

// Query is one completion request to the sidecar.
type Query struct {
	Prompt       string
	SystemPrompt string
	AgentID      string
	ModelTier    string
	MaxTokens    int
	Temperature  float64
}

// Completion is the sidecar's answer plus usage accounting.
type Completion struct {
	Text         string
	TokensUsed   int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	ModelUsed    string
	Provider     string
}

// SearchResult is one hit from the sidecar's web search tool.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client calls the LLM sidecar over HTTP. All collaborator traffic funnels
// through here so the circuit breaker sees every request.
type Client struct {
	baseURL string
	http    *circuitbreaker.HTTPWrapper
	logger  *zap.Logger
}

// ClientConfig configures the sidecar client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient builds a sidecar client. An empty BaseURL falls back to the
// LLM_SERVICE_URL environment variable, then to the compose-network default.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("LLM_SERVICE_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://llm-service:8000"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: interceptors.NewRunHTTPRoundTripper(nil),
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    circuitbreaker.NewHTTPWrapper(hc, "llm-service", "plume", logger),
		logger:  logger,
	}
}

// Complete sends a completion query and returns the sidecar's response text
// with usage metadata.
func (c *Client) Complete(ctx context.Context, q Query) (*Completion, error) {
	if q.ModelTier == "" {
		q.ModelTier = TierMedium
	}
	if q.MaxTokens <= 0 {
		q.MaxTokens = 4096
	}

	reqBody := map[string]interface{}{
		"query":       q.Prompt,
		"max_tokens":  q.MaxTokens,
		"temperature": q.Temperature,
		"agent_id":    q.AgentID,
		"model_tier":  q.ModelTier,
		"context": map[string]interface{}{
			"system_prompt": q.SystemPrompt,
			"run_id":        interceptors.RunIDFromContext(ctx),
		},
	}

	start := time.Now()
	comp, err := c.postQuery(ctx, q.AgentID, reqBody)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordLLMMetrics(q.AgentID, status, time.Since(start).Seconds())
	return comp, err
}

func (c *Client) postQuery(ctx context.Context, agentID string, body map[string]interface{}) (*Completion, error) {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent/query", bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", agentID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d from llm service: %s", resp.StatusCode, string(b))
	}

	var llmResp struct {
		Success  bool   `json:"success"`
		Response string `json:"response"`
		Error    string `json:"error"`
		Metadata struct {
			InputTokens  int     `json:"input_tokens"`
			OutputTokens int     `json:"output_tokens"`
			CostUSD      float64 `json:"cost_usd"`
		} `json:"metadata"`
		TokensUsed int    `json:"tokens_used"`
		ModelUsed  string `json:"model_used"`
		Provider   string `json:"provider"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&llmResp); err != nil {
		return nil, fmt.Errorf("parse llm response: %w", err)
	}
	if !llmResp.Success {
		if llmResp.Error == "" {
			llmResp.Error = "unspecified llm error"
		}
		return nil, fmt.Errorf("llm service: %s", llmResp.Error)
	}

	// Not every provider path reports cost; price those locally from the
	// models table.
	cost := llmResp.Metadata.CostUSD
	if cost <= 0 {
		cost = pricing.CostForSplit(llmResp.ModelUsed, llmResp.Metadata.InputTokens, llmResp.Metadata.OutputTokens)
	}
	tokens := llmResp.TokensUsed
	if tokens == 0 {
		tokens = llmResp.Metadata.InputTokens + llmResp.Metadata.OutputTokens
	}
	metrics.RecordCompletionUsage(tokens, cost)

	return &Completion{
		Text:         llmResp.Response,
		TokensUsed:   tokens,
		InputTokens:  llmResp.Metadata.InputTokens,
		OutputTokens: llmResp.Metadata.OutputTokens,
		CostUSD:      cost,
		ModelUsed:    llmResp.ModelUsed,
		Provider:     llmResp.Provider,
	}, nil
}

// Search runs a web search through the sidecar's tool endpoint.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	reqBody := map[string]interface{}{
		"query":       query,
		"max_results": maxResults,
	}
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/search", bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordLLMMetrics("search", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("search call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordLLMMetrics("search", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("HTTP %d from search tool", resp.StatusCode)
	}

	var searchResp struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		metrics.RecordLLMMetrics("search", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	metrics.RecordLLMMetrics("search", "ok", time.Since(start).Seconds())
	return searchResp.Results, nil
}
