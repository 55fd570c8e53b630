package songpool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// baseClient is a small JSON-over-HTTP client for the preview lookup API.
type baseClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func newBaseClient(baseURL string) *baseClient {
	return &baseClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		headers: make(map[string]string),
	}
}

func (c *baseClient) setHeader(key, value string) {
	c.headers[key] = value
}

func (c *baseClient) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("API returned status code: %d, response: %s", resp.StatusCode, string(body))
	}
	return body, resp.StatusCode, nil
}
