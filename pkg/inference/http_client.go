package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is the only Client implementation: a plain net/http client.
// No ecosystem HTTP client in the corpus fits better than stdlib for a
// single POST-and-read-body round trip with caller-supplied headers.
type HTTPClient struct {
	httpClient *http.Client
}

// NewHTTPClient builds a Client with the given call timeout (default
// wraps the 600-900s inference window; callers should also pass a
// context deadline for fine-grained control).
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	return &HTTPClient{httpClient: &http.Client{Timeout: timeout}}
}

// Do sends req and returns the raw response body. Non-2xx is returned
// as an error carrying the status and body so the caller's retry loop
// can decide whether it's a format issue or an upstream failure.
func (c *HTTPClient) Do(ctx context.Context, req *Request) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build inference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read inference response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("inference endpoint returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
