package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rustyeddy/tracker/market"
)

// maxBody bounds how much of a response is read.
const maxBody = 32 << 20

// Fetcher downloads a price payload over HTTP and parses it.
type Fetcher struct {
	parser     Parser
	token      string
	httpClient *http.Client
}

// NewFetcher creates a fetcher. An empty token sends no Authorization
// header. When p.Format is FormatAuto the format is taken from the
// response Content-Type or the URL.
func NewFetcher(p Parser, token string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		parser: p,
		token:  token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch GETs rawURL and parses the body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]market.PriceSnapshot, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	req.Header.Set("Accept", "application/json, application/yaml, text/csv;q=0.9, */*;q=0.5")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(raw) > maxBody {
		return nil, fmt.Errorf("response larger than %d bytes", maxBody)
	}

	p := f.parser
	if p.Format == FormatAuto {
		p.Format = DetectFormat(resp.Header.Get("Content-Type"), u.Path, raw)
	}
	return p.Parse(raw)
}
