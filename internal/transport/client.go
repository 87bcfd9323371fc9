// Package transport provides the one HTTP client every toyraft component
// uses to call its peers, the catalog, or the frontend, so trace
// propagation and timeouts are applied uniformly.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// TraceHeader is the header carrying the request-scoped trace id.
const TraceHeader = "X-Request-Id"

// Client wraps http.Client with a fixed timeout and trace propagation.
type Client struct {
	http *http.Client
}

// New returns a Client with the given hard per-call timeout.
func New(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// PostJSON POSTs body as JSON to url, decoding the JSON response into out
// (which may be nil to discard the body). traceID is propagated if set.
func (c *Client) PostJSON(ctx context.Context, url, traceID string, body, out interface{}) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, errors.Wrap(err, "transport: encode request body")
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, errors.Wrap(err, "transport: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID != "" {
		req.Header.Set(TraceHeader, traceID)
	}
	return c.do(req, out)
}

// GetJSON GETs url, decoding the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url, traceID string, out interface{}) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "transport: build request")
	}
	if traceID != "" {
		req.Header.Set(TraceHeader, traceID)
	}
	return c.do(req, out)
}

// Delete issues a DELETE to url with no body, discarding the response.
func (c *Client) Delete(ctx context.Context, url, traceID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "transport: build request")
	}
	if traceID != "" {
		req.Header.Set(TraceHeader, traceID)
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out interface{}) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "transport: request failed")
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, errors.Wrap(err, "transport: decode response body")
		}
	}
	return resp, nil
}
