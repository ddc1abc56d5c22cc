package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	c := NewClient(Config{
		Enabled:   true,
		Host:      "qdrant",
		Port:      6333,
		Samples:   "writing_samples",
		TopK:      5,
		Threshold: 0.7,
		Timeout:   2 * time.Second,
	}, zaptest.NewLogger(t))
	c.base = ts.URL
	return c
}

func TestClientDisabledErrors(t *testing.T) {
	c := NewClient(Config{Enabled: false}, zaptest.NewLogger(t))

	assert.False(t, c.Enabled())

	_, err := c.search(context.Background(), "writing_samples", []float32{0.1}, 3, 0, nil)
	require.Error(t, err)

	_, err = c.Upsert(context.Background(), "writing_samples", []UpsertItem{{Vector: []float32{0.1}}})
	require.Error(t, err)
}

func TestClientDefaults(t *testing.T) {
	c := NewClient(Config{Enabled: true, Host: "qdrant"}, nil)

	assert.Equal(t, "writing_samples", c.Collection())
	assert.Equal(t, 5, c.cfg.TopK)
	assert.Equal(t, 5*time.Second, c.cfg.Timeout)
	assert.Equal(t, "http://qdrant:6333", c.base)
}

func TestSearchUsesQueryEndpoint(t *testing.T) {
	var got qdrantQueryRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collections/writing_samples/points/query", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"result":{"points":[{"id":"p1","score":0.92,"payload":{"content":"hello"}}]},"status":"ok"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := newTestClient(t, ts)
	points, err := c.search(context.Background(), "writing_samples", []float32{0.1, 0.2}, 3, 0.7, nil)
	require.NoError(t, err)

	require.Len(t, points, 1)
	assert.Equal(t, 0.92, points[0].Score)
	assert.Equal(t, "hello", points[0].Payload["content"])

	assert.Equal(t, []float32{0.1, 0.2}, got.Query)
	assert.Equal(t, 3, got.Limit)
	require.NotNil(t, got.ScoreThreshold)
	assert.Equal(t, 0.7, *got.ScoreThreshold)
	assert.True(t, got.WithPayload)
}

func TestSearchFallsBackToLegacyEndpoint(t *testing.T) {
	var legacy map[string]interface{}
	mux := http.NewServeMux()
	// /points/query is unregistered, so the mux answers 404 and the client
	// retries against the legacy search endpoint.
	mux.HandleFunc("POST /collections/writing_samples/points/search", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&legacy))
		fmt.Fprint(w, `{"result":[{"id":"p1","score":0.81,"payload":{"content":"old"}}],"status":"ok"}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := newTestClient(t, ts)
	points, err := c.search(context.Background(), "writing_samples", []float32{0.5}, 2, 0.7, map[string]interface{}{
		"must": []map[string]interface{}{{"key": "user_id", "match": map[string]interface{}{"value": "u1"}}},
	})
	require.NoError(t, err)

	require.Len(t, points, 1)
	assert.Equal(t, 0.81, points[0].Score)

	assert.Equal(t, float64(2), legacy["limit"])
	assert.NotNil(t, legacy["vector"])
	assert.NotNil(t, legacy["filter"])
	assert.Equal(t, 0.7, legacy["score_threshold"])
}

func TestUpsertSendsPoints(t *testing.T) {
	var got struct {
		Points []struct {
			ID      string                 `json:"id"`
			Vector  []float32              `json:"vector"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"points"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /collections/writing_samples/points", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"status":"ok","time":0.004}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := newTestClient(t, ts)
	resp, err := c.Upsert(context.Background(), "writing_samples", []UpsertItem{
		{ID: "s1", Vector: []float32{0.1, 0.2}, Payload: map[string]interface{}{"type": "email"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "ok", resp.Status)
	require.Len(t, got.Points, 1)
	assert.Equal(t, "s1", got.Points[0].ID)
	assert.Equal(t, []float32{0.1, 0.2}, got.Points[0].Vector)
	assert.Equal(t, "email", got.Points[0].Payload["type"])
}

func TestUpsertRejectsBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	c := newTestClient(t, ts)
	_, err := c.Upsert(context.Background(), "writing_samples", []UpsertItem{{Vector: []float32{0.1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestValidateDimensions(t *testing.T) {
	collectionInfo := func(size int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"result":{"status":"green","points_count":12,"config":{"params":{"vectors":{"size":%d,"distance":"Cosine"}}}}}`, size)
		}
	}

	t.Run("matching", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /collections/writing_samples", collectionInfo(4))
		ts := httptest.NewServer(mux)
		defer ts.Close()

		c := newTestClient(t, ts)
		c.cfg.ExpectedDim = 4
		require.NoError(t, c.ValidateDimensions(context.Background()))
	})

	t.Run("mismatch", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /collections/writing_samples", collectionInfo(8))
		ts := httptest.NewServer(mux)
		defer ts.Close()

		c := newTestClient(t, ts)
		c.cfg.ExpectedDim = 4
		err := c.ValidateDimensions(context.Background())
		require.Error(t, err)

		var mismatch DimensionMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, 4, mismatch.Expected)
		assert.Equal(t, 8, mismatch.Got)
	})

	t.Run("collection missing is not fatal", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer ts.Close()

		c := newTestClient(t, ts)
		c.cfg.ExpectedDim = 4
		require.NoError(t, c.ValidateDimensions(context.Background()))
	})

	t.Run("disabled skips", func(t *testing.T) {
		c := NewClient(Config{Enabled: false, ExpectedDim: 4}, zaptest.NewLogger(t))
		require.NoError(t, c.ValidateDimensions(context.Background()))
	})
}
