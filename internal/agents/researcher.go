package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/plumeworks/plume/internal/models"
)

// Researcher gathers background facts for long-form requests through the
// sidecar's web search tool. Findings are keyed by topic so repeated passes
// merge instead of overwrite.
type Researcher struct {
	client     *Client
	logger     *zap.Logger
	maxResults int
}

// NewResearcher builds a Researcher. maxResults <= 0 selects the default of 5
// hits per query.
func NewResearcher(client *Client, maxResults int, logger *zap.Logger) *Researcher {
	if maxResults <= 0 {
		maxResults = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Researcher{client: client, logger: logger, maxResults: maxResults}
}

type researchQuery struct {
	topic string
	query string
}

// Gather runs the category-specific queries concurrently and returns findings
// keyed by topic. Requests whose context names nothing searchable return an
// empty map. Individual query failures only degrade the result; the run fails
// when every query fails or the context is cancelled.
func (r *Researcher) Gather(ctx context.Context, req models.WritingRequest) (map[string]interface{}, error) {
	queries := buildQueries(req)
	if len(queries) == 0 {
		r.logger.Debug("No searchable context, skipping research",
			zap.String("request_id", req.RequestID),
			zap.String("category", req.Category),
		)
		return map[string]interface{}{}, nil
	}

	// The queries are independent; fan them out. Each slot is written by
	// exactly one goroutine, so results need no lock.
	type outcome struct {
		lines []string
		err   error
	}
	outcomes := make([]outcome, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			results, err := r.client.Search(gctx, q.query, r.maxResults)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Warn("Search query failed",
					zap.String("request_id", req.RequestID),
					zap.String("topic", q.topic),
					zap.Error(err),
				)
				outcomes[i] = outcome{err: err}
				return nil
			}
			lines := make([]string, 0, len(results))
			for _, res := range results {
				lines = append(lines, formatFinding(res))
			}
			outcomes[i] = outcome{lines: lines}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	findings := make(map[string]interface{}, len(queries))
	var firstErr error
	for i, q := range queries {
		out := outcomes[i]
		if out.err != nil {
			if firstErr == nil {
				firstErr = out.err
			}
			continue
		}
		if len(out.lines) == 0 {
			continue
		}
		findings[q.topic] = out.lines
	}

	if len(findings) == 0 && firstErr != nil {
		return nil, fmt.Errorf("research failed: %w", firstErr)
	}
	return findings, nil
}

func formatFinding(res SearchResult) string {
	switch {
	case res.Title != "" && res.Snippet != "":
		return fmt.Sprintf("%s: %s", res.Title, res.Snippet)
	case res.Snippet != "":
		return res.Snippet
	default:
		return res.Title
	}
}

// buildQueries derives search queries from the request context. Short-form
// categories have no research topics.
func buildQueries(req models.WritingRequest) []researchQuery {
	str := func(key string) string {
		v, _ := req.Context[key].(string)
		return v
	}

	var queries []researchQuery
	switch req.Category {
	case models.CategoryCoverLetter:
		company := str("company")
		jobTitle := str("job_title")
		if company != "" {
			queries = append(queries, researchQuery{
				topic: "company_research",
				query: fmt.Sprintf("%s company overview recent news and culture", company),
			})
		}
		switch {
		case jobTitle != "" && company != "":
			queries = append(queries, researchQuery{
				topic: "role_research",
				query: fmt.Sprintf("%s position requirements at %s", jobTitle, company),
			})
		case jobTitle != "":
			queries = append(queries, researchQuery{
				topic: "role_research",
				query: fmt.Sprintf("%s role responsibilities and expectations", jobTitle),
			})
		}
	case models.CategoryMotivationalLetter:
		if program := str("program_name"); program != "" {
			queries = append(queries, researchQuery{
				topic: "program_research",
				query: fmt.Sprintf("%s program curriculum focus and admission criteria", program),
			})
		}
		if scholarship := str("scholarship_name"); scholarship != "" {
			queries = append(queries, researchQuery{
				topic: "scholarship_research",
				query: fmt.Sprintf("%s scholarship selection criteria", scholarship),
			})
		}
		if university := str("university"); university != "" && len(queries) == 0 {
			queries = append(queries, researchQuery{
				topic: "program_research",
				query: fmt.Sprintf("%s university programs and values", university),
			})
		}
	}
	return queries
}
