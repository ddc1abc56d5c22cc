// Package interceptors propagates run identity across service boundaries.
// The run ID travels in context.Context inside the process and as an
// X-Run-ID header on outgoing HTTP requests, so sidecar logs can be joined
// back to the run that triggered them.
package interceptors

import (
	"context"
	"net/http"
)

type ctxKey int

const runIDKey ctxKey = iota

// WithRunID returns a context carrying the run ID.
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext extracts the run ID, or "" when none is set.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// RunHTTPRoundTripper stamps outgoing requests with the run ID from the
// request context.
type RunHTTPRoundTripper struct {
	base http.RoundTripper
}

// NewRunHTTPRoundTripper wraps base (http.DefaultTransport when nil).
func NewRunHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RunHTTPRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper.
func (rt *RunHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if runID := RunIDFromContext(req.Context()); runID != "" && req.Header.Get("X-Run-ID") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("X-Run-ID", runID)
	}
	return rt.base.RoundTrip(req)
}
