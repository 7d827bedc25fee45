package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes caps a single GraphQL response body.
const maxResponseBytes = 16 << 20

// Transport posts a JSON body and returns the raw response.
type Transport interface {
	Post(ctx context.Context, endpoint string, body []byte) (status int, resp []byte, err error)
	Close() error
}

// HTTPTransport posts with a plain HTTP client.
type HTTPTransport struct {
	client  *http.Client
	headers map[string]string
}

func NewHTTPTransport(client *http.Client) *HTTPTransport {
	return &HTTPTransport{
		client: client,
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"User-Agent":   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			"Origin":       "https://holland2stay.com",
			"Referer":      "https://holland2stay.com/",
		},
	}
}

func (t *HTTPTransport) Post(ctx context.Context, endpoint string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
