package agents

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"
)

// llmCall captures one request seen by the fake sidecar.
type llmCall struct {
	Path         string
	AgentID      string
	HeaderAgent  string
	ModelTier    string
	Temperature  float64
	MaxTokens    int
	Query        string
	SystemPrompt string
	RunIDHeader  string
	RunIDBody    string
	MaxResults   int
}

// fakeSidecar is an httptest stand-in for the LLM service. Tests set
// completeFn or searchFn to script responses; unset handlers fail the test.
type fakeSidecar struct {
	t   *testing.T
	srv *httptest.Server

	mu    sync.Mutex
	calls []llmCall

	completeFn func(call llmCall) (response string, status int)
	searchFn   func(query string) (results []SearchResult, status int)
}

func newFakeSidecar(t *testing.T) *fakeSidecar {
	f := &fakeSidecar{t: t}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSidecar) client() *Client {
	return NewClient(ClientConfig{BaseURL: f.srv.URL}, zaptest.NewLogger(f.t))
}

func (f *fakeSidecar) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/agent/query":
		f.handleQuery(w, r)
	case "/tools/search":
		f.handleSearch(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeSidecar) handleQuery(w http.ResponseWriter, r *http.Request) {
	if f.completeFn == nil {
		f.t.Errorf("unexpected completion call")
		http.Error(w, "unexpected", http.StatusInternalServerError)
		return
	}

	var body struct {
		Query       string  `json:"query"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
		AgentID     string  `json:"agent_id"`
		ModelTier   string  `json:"model_tier"`
		Context     struct {
			SystemPrompt string `json:"system_prompt"`
			RunID        string `json:"run_id"`
		} `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		f.t.Errorf("decode completion body: %v", err)
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	call := llmCall{
		Path:         r.URL.Path,
		AgentID:      body.AgentID,
		HeaderAgent:  r.Header.Get("X-Agent-ID"),
		ModelTier:    body.ModelTier,
		Temperature:  body.Temperature,
		MaxTokens:    body.MaxTokens,
		Query:        body.Query,
		SystemPrompt: body.Context.SystemPrompt,
		RunIDHeader:  r.Header.Get("X-Run-ID"),
		RunIDBody:    body.Context.RunID,
	}
	f.record(call)

	response, status := f.completeFn(call)
	if status == 0 {
		status = http.StatusOK
	}
	if status != http.StatusOK {
		http.Error(w, "sidecar error", status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":     true,
		"response":    response,
		"tokens_used": 42,
		"model_used":  "test-model",
		"provider":    "test",
		"metadata": map[string]interface{}{
			"input_tokens":  10,
			"output_tokens": 32,
			"cost_usd":      0.001,
		},
	})
}

func (f *fakeSidecar) handleSearch(w http.ResponseWriter, r *http.Request) {
	if f.searchFn == nil {
		f.t.Errorf("unexpected search call")
		http.Error(w, "unexpected", http.StatusInternalServerError)
		return
	}

	var body struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		f.t.Errorf("decode search body: %v", err)
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	f.record(llmCall{Path: r.URL.Path, Query: body.Query, MaxResults: body.MaxResults})

	results, status := f.searchFn(body.Query)
	if status == 0 {
		status = http.StatusOK
	}
	if status != http.StatusOK {
		http.Error(w, "search error", status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
}

func (f *fakeSidecar) record(call llmCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSidecar) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSidecar) lastCall() llmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		f.t.Fatal("no sidecar calls recorded")
	}
	return f.calls[len(f.calls)-1]
}
