// ABOUTME: Pluggable transport for the sync protocol
// ABOUTME: Defines the Transport interface and the default net/http implementation

package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is one transport-level sync request
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response carries the status code and raw JSON body of a sync response
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport executes a single sync request. Implementations must be safe for
// concurrent use; the client injects one at construction so real HTTP and
// in-memory test doubles are interchangeable.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// StatusError reports a non-2xx response from a sync endpoint
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sync endpoint returned HTTP %d", e.StatusCode)
}

// HTTPTransport is the production Transport backed by net/http
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates an HTTP transport. A zero timeout means no
// client-side bound; callers wanting one impose it here or via context.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
	}
}

// RoundTrip executes the request and reads the full response body
func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// Ensure HTTPTransport implements Transport
var _ Transport = (*HTTPTransport)(nil)
