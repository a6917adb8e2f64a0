package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPFetcher downloads artifacts with a GET request.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher uses client, or a client with a 30 minute timeout when nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Open(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("failed to fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}
