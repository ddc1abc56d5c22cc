package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumeworks/plume/internal/models"
	"github.com/plumeworks/plume/internal/streaming"
)

// finishRun submits a synchronous request and returns its ID. By the time
// the response arrives the run history is retained for replay.
func finishRun(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/v1/writing?sync=true", submitBody(models.CategoryEmail))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	requestID, _ := body["request_id"].(string)
	require.NotEmpty(t, requestID)
	return requestID
}

func TestStreamReplaysFinishedRun(t *testing.T) {
	srv := newAPIServer(t, apiOpts{runStore: newMemRunStore()})
	requestID := finishRun(t, srv)

	resp, err := http.Get(srv.URL + "/api/v1/writing/" + requestID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The run already ended, so the handler replays history and closes.
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, ": streaming run "+requestID)
	assert.Regexp(t, regexp.MustCompile(`(?m)^id: 1$`), body)
	assert.Contains(t, body, "event: research")
	assert.Contains(t, body, "event: complete")
	assert.Less(t, strings.Index(body, "event: research"), strings.Index(body, "event: complete"))
}

func TestStreamResumesAfterLastEventID(t *testing.T) {
	srv := newAPIServer(t, apiOpts{runStore: newMemRunStore()})
	requestID := finishRun(t, srv)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/writing/"+requestID+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "2")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.NotRegexp(t, regexp.MustCompile(`(?m)^id: 1$`), body)
	assert.NotRegexp(t, regexp.MustCompile(`(?m)^id: 2$`), body)
	assert.Regexp(t, regexp.MustCompile(`(?m)^id: 3$`), body)
	assert.Contains(t, body, "event: complete")
}

func TestStreamFiltersStages(t *testing.T) {
	srv := newAPIServer(t, apiOpts{runStore: newMemRunStore()})
	requestID := finishRun(t, srv)

	resp, err := http.Get(srv.URL + "/api/v1/writing/" + requestID + "/stream?stages=review")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.NotContains(t, body, "event: research")
	assert.Contains(t, body, "event: review")
	// Terminal events bypass the filter so the client sees the stream end.
	assert.Contains(t, body, "event: complete")
}

func TestStreamUnknownRunIs404(t *testing.T) {
	srv := newAPIServer(t, apiOpts{runStore: newMemRunStore()})

	resp, err := http.Get(srv.URL + "/api/v1/writing/req-ghost/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestWebSocketReplaysFinishedRun(t *testing.T) {
	srv := newAPIServer(t, apiOpts{runStore: newMemRunStore()})
	requestID := finishRun(t, srv)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/v1/stream/ws?request_id="+requestID), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	var events []streaming.Event
	for {
		var ev streaming.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		events = append(events, ev)
	}

	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}
	last := events[len(events)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, "complete", last.Stage)
	assert.Equal(t, requestID, last.RunID)
}

func TestWebSocketRequiresRequestID(t *testing.T) {
	srv := newAPIServer(t, apiOpts{runStore: newMemRunStore()})

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/v1/stream/ws"), nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketUnknownRunRejected(t *testing.T) {
	srv := newAPIServer(t, apiOpts{runStore: newMemRunStore()})

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/v1/stream/ws?request_id=req-ghost"), nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
