package agents

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/plumeworks/plume/internal/models"
)

func coverLetterReq() models.WritingRequest {
	return models.WritingRequest{
		RequestID: "req-1",
		UserID:    "user-1",
		Category:  models.CategoryCoverLetter,
		Context: map[string]interface{}{
			"company":   "Acme",
			"job_title": "Staff Engineer",
		},
	}
}

func TestResearcherGathersByTopic(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.searchFn = func(query string) ([]SearchResult, int) {
		if strings.Contains(query, "overview") {
			return []SearchResult{{Title: "Acme", Snippet: "Acme builds rockets"}}, http.StatusOK
		}
		return []SearchResult{{Title: "Role", Snippet: "Staff engineers lead systems"}}, http.StatusOK
	}

	r := NewResearcher(sidecar.client(), 3, zaptest.NewLogger(t))
	findings, err := r.Gather(context.Background(), coverLetterReq())
	require.NoError(t, err)

	require.Contains(t, findings, "company_research")
	require.Contains(t, findings, "role_research")
	company := findings["company_research"].([]string)
	assert.Equal(t, []string{"Acme: Acme builds rockets"}, company)
	assert.Equal(t, 2, sidecar.callCount())
}

func TestResearcherQueriesRunConcurrently(t *testing.T) {
	sidecar := newFakeSidecar(t)

	// Each search blocks until every query has arrived. A sequential
	// implementation never gets past the first query and hits the deadline.
	var entered sync.WaitGroup
	entered.Add(2)
	release := make(chan struct{})
	go func() {
		entered.Wait()
		close(release)
	}()
	sidecar.searchFn = func(query string) ([]SearchResult, int) {
		entered.Done()
		select {
		case <-release:
		case <-time.After(3 * time.Second):
		}
		return []SearchResult{{Snippet: "fact"}}, http.StatusOK
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r := NewResearcher(sidecar.client(), 3, zaptest.NewLogger(t))
	findings, err := r.Gather(ctx, coverLetterReq())
	require.NoError(t, err)
	assert.Contains(t, findings, "company_research")
	assert.Contains(t, findings, "role_research")
}

func TestResearcherMotivationalLetterTopics(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.searchFn = func(query string) ([]SearchResult, int) {
		return []SearchResult{{Snippet: "program detail"}}, http.StatusOK
	}

	req := models.WritingRequest{
		Category: models.CategoryMotivationalLetter,
		Context: map[string]interface{}{
			"program_name":     "MSc Robotics",
			"scholarship_name": "Pioneer Grant",
		},
	}
	r := NewResearcher(sidecar.client(), 5, zaptest.NewLogger(t))
	findings, err := r.Gather(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, findings, "program_research")
	assert.Contains(t, findings, "scholarship_research")
}

func TestResearcherSkipsWithoutSearchableContext(t *testing.T) {
	sidecar := newFakeSidecar(t)

	req := models.WritingRequest{
		Category: models.CategoryEmail,
		Context:  map[string]interface{}{"subject": "Q3 status"},
	}
	r := NewResearcher(sidecar.client(), 5, zaptest.NewLogger(t))
	findings, err := r.Gather(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, findings)
	assert.Zero(t, sidecar.callCount())
}

func TestResearcherPartialFailureKeepsFindings(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.searchFn = func(query string) ([]SearchResult, int) {
		if strings.Contains(query, "overview") {
			return nil, http.StatusBadGateway
		}
		return []SearchResult{{Snippet: "role facts"}}, http.StatusOK
	}

	r := NewResearcher(sidecar.client(), 5, zaptest.NewLogger(t))
	findings, err := r.Gather(context.Background(), coverLetterReq())
	require.NoError(t, err)

	assert.NotContains(t, findings, "company_research")
	assert.Contains(t, findings, "role_research")
}

func TestResearcherAllFailuresError(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.searchFn = func(query string) ([]SearchResult, int) {
		return nil, http.StatusBadGateway
	}

	r := NewResearcher(sidecar.client(), 5, zaptest.NewLogger(t))
	_, err := r.Gather(context.Background(), coverLetterReq())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "research failed")
}

func TestResearcherEmptyResultsAreNotFindings(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.searchFn = func(query string) ([]SearchResult, int) {
		return []SearchResult{}, http.StatusOK
	}

	r := NewResearcher(sidecar.client(), 5, zaptest.NewLogger(t))
	findings, err := r.Gather(context.Background(), coverLetterReq())
	require.NoError(t, err)
	assert.Empty(t, findings)
}
