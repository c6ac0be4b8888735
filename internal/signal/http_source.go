package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	engerrors "github.com/ducminhle1904/virtual-autotrader/internal/errors"
)

// HTTPSource asks a remote analysis endpoint for signals
type HTTPSource struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPSource creates a source posting requests to url
func NewHTTPSource(url string, headers map[string]string) *HTTPSource {
	return &HTTPSource{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

// Fetch posts req and decodes the signal or signals in the response
func (s *HTTPSource) Fetch(ctx context.Context, req Request) ([]Signal, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, engerrors.NewFetchError("signal", "fetch", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read signal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, engerrors.NewFetchError("signal", "fetch",
			fmt.Errorf("signal source returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data)))
	}
	return Decode(data)
}
