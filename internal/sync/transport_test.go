// ABOUTME: Tests for the HTTP transport
// ABOUTME: Covers request round-trips, status passthrough, and context cancellation

package sync

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_RoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sync/push", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ping":true}`, string(body))

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"pong":true}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(5 * time.Second)
	resp, err := transport.RoundTrip(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    server.URL + "/sync/push",
		Body:   []byte(`{"ping":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"pong":true}`, string(resp.Body))
}

func TestHTTPTransport_PassesStatusThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))
	defer server.Close()

	transport := NewHTTPTransport(5 * time.Second)
	resp, err := transport.RoundTrip(context.Background(), &Request{
		Method: http.MethodGet,
		URL:    server.URL + "/sync/pull?cursor=0",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestHTTPTransport_ContextCancellation(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	transport := NewHTTPTransport(0)
	_, err := transport.RoundTrip(ctx, &Request{Method: http.MethodGet, URL: server.URL})
	assert.Error(t, err)
}
