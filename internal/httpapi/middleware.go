package httpapi

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/plumeworks/plume/internal/metrics"
)

// instrument records request counts and durations per route. Streaming
// endpoints are counted too; their duration is the connection lifetime.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routeLabel(r.URL.Path)
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses path parameters so metric cardinality stays bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/writing/") && strings.HasSuffix(path, "/stream"):
		return "/api/v1/writing/{id}/stream"
	case strings.HasPrefix(path, "/api/v1/writing/"):
		return "/api/v1/writing/{id}"
	case strings.HasPrefix(path, "/api/v1/profile/") && strings.HasSuffix(path, "/samples"):
		return "/api/v1/profile/{user_id}/samples"
	case strings.HasPrefix(path, "/api/v1/profile/"):
		return "/api/v1/profile/{user_id}"
	case strings.HasPrefix(path, "/api/v1/keys/"):
		return "/api/v1/keys/{id}"
	default:
		return path
	}
}

// statusRecorder captures the response status while passing Flusher and
// Hijacker through for the SSE and WebSocket handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
