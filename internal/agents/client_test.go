package agents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/plumeworks/plume/internal/interceptors"
	"github.com/plumeworks/plume/internal/models"
)

func TestClientComplete(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.completeFn = func(call llmCall) (string, int) {
		return "the model answer", http.StatusOK
	}

	ctx := interceptors.WithRunID(context.Background(), "run-123")
	comp, err := sidecar.client().Complete(ctx, Query{
		Prompt:       "write something",
		SystemPrompt: "you are a writer",
		AgentID:      "drafter",
		ModelTier:    TierLarge,
		Temperature:  0.7,
	})
	require.NoError(t, err)

	assert.Equal(t, "the model answer", comp.Text)
	assert.Equal(t, 42, comp.TokensUsed)
	assert.Equal(t, 10, comp.InputTokens)
	assert.Equal(t, 32, comp.OutputTokens)
	assert.Equal(t, "test-model", comp.ModelUsed)
	assert.Equal(t, "test", comp.Provider)

	call := sidecar.lastCall()
	assert.Equal(t, "/agent/query", call.Path)
	assert.Equal(t, "drafter", call.AgentID)
	assert.Equal(t, "drafter", call.HeaderAgent)
	assert.Equal(t, TierLarge, call.ModelTier)
	assert.Equal(t, "write something", call.Query)
	assert.Equal(t, "you are a writer", call.SystemPrompt)
	assert.Equal(t, "run-123", call.RunIDHeader)
	assert.Equal(t, "run-123", call.RunIDBody)
}

func TestClientCompleteDefaults(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.completeFn = func(call llmCall) (string, int) {
		return "ok", http.StatusOK
	}

	_, err := sidecar.client().Complete(context.Background(), Query{
		Prompt:  "q",
		AgentID: "drafter",
	})
	require.NoError(t, err)

	call := sidecar.lastCall()
	assert.Equal(t, TierMedium, call.ModelTier)
	assert.Equal(t, 4096, call.MaxTokens)
	assert.Empty(t, call.RunIDHeader)
}

func TestClientCompleteServerError(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.completeFn = func(call llmCall) (string, int) {
		return "", http.StatusInternalServerError
	}

	_, err := sidecar.client().Complete(context.Background(), Query{Prompt: "q", AgentID: "drafter"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestClientCompleteUnsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": false, "error": "rate limited upstream"}`))
	}))
	defer srv.Close()
	client := NewClient(ClientConfig{BaseURL: srv.URL}, zaptest.NewLogger(t))

	_, err := client.Complete(context.Background(), Query{Prompt: "q", AgentID: "drafter"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited upstream")
}

func TestClientSearch(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.searchFn = func(query string) ([]SearchResult, int) {
		return []SearchResult{
			{Title: "Acme overview", URL: "https://example.com/acme", Snippet: "Acme builds rockets"},
		}, http.StatusOK
	}

	results, err := sidecar.client().Search(context.Background(), "Acme company overview", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Acme overview", results[0].Title)

	call := sidecar.lastCall()
	assert.Equal(t, "/tools/search", call.Path)
	assert.Equal(t, "Acme company overview", call.Query)
	assert.Equal(t, 3, call.MaxResults)
}

func TestClientSearchServerError(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.searchFn = func(query string) ([]SearchResult, int) {
		return nil, http.StatusBadGateway
	}

	_, err := sidecar.client().Search(context.Background(), "anything", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, TierSmall, tierFor(models.ModeFast))
	assert.Equal(t, TierLarge, tierFor(models.ModeQuality))
	assert.Equal(t, TierMedium, tierFor(models.ModeBalanced))
	assert.Equal(t, TierMedium, tierFor(""))
}
