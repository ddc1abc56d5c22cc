package interceptors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIDRoundTrip(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-42")
	assert.Equal(t, "run-42", RunIDFromContext(ctx))
	assert.Empty(t, RunIDFromContext(context.Background()))
}

func TestWithRunIDEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithRunID(ctx, ""))
}

func TestRoundTripperStampsHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Run-ID")
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewRunHTTPRoundTripper(nil)}
	req, err := http.NewRequestWithContext(WithRunID(context.Background(), "run-7"), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "run-7", got)
}

func TestRoundTripperKeepsExplicitHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Run-ID")
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewRunHTTPRoundTripper(nil)}
	req, err := http.NewRequestWithContext(WithRunID(context.Background(), "from-ctx"), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-Run-ID", "explicit")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "explicit", got)
}
