package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"muse/internal/httpclient"
	"muse/internal/logging"
)

const maxFetchBytes = 64 << 20 // generated media, not arbitrary downloads

// HTTPFetcher downloads ephemeral provider payloads over HTTP.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds a fetcher with its own timeout and circuit breaker.
func NewHTTPFetcher(timeout time.Duration, logger logging.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPFetcher{
		client: httpclient.NewWithCircuitBreaker(timeout, logger, "ephemeral-fetch"),
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, ephemeralURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ephemeralURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch ephemeral payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch ephemeral payload: status %d", resp.StatusCode)
	}

	data, err := httpclient.ReadAllWithLimit(resp.Body, maxFetchBytes)
	if err != nil {
		return nil, "", fmt.Errorf("read ephemeral payload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("ephemeral payload is empty")
	}
	return data, resp.Header.Get("Content-Type"), nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
