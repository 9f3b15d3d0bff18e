// Package httpdoc talks to a remote document store over HTTP.
package httpdoc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rustyeddy/tracker/market"
	"github.com/rustyeddy/tracker/remote"
)

// StatusError is a non-2xx answer from the document API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Code, e.Body)
}

// Permanent reports whether retrying the same request is pointless.
func (e *StatusError) Permanent() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

// Client is a remote.Store backed by the document API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the document API at baseURL.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) collectionURL(collection string) string {
	return fmt.Sprintf("%s/v1/collections/%s/documents", c.baseURL, url.PathEscape(collection))
}

func (c *Client) Pull(ctx context.Context, collection string, after int64, limit int) (remote.Page, error) {
	params := url.Values{}
	params.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.collectionURL(collection)+"?"+params.Encode(), nil)
	if err != nil {
		return remote.Page{}, fmt.Errorf("create request: %w", err)
	}

	var body pullResponse
	if err := c.do(req, &body); err != nil {
		return remote.Page{}, err
	}

	page := remote.Page{Next: body.Next, More: body.More}
	for _, d := range body.Documents {
		page.Docs = append(page.Docs, d.transaction())
	}
	if page.Next < after {
		page.Next = after
	}
	return page, nil
}

// Push sends docs in one batch. The Idempotency-Key is derived from the
// target and the body, so retrying the same batch reuses it; the server
// also deduplicates by document id.
func (c *Client) Push(ctx context.Context, collection string, docs []market.Transaction) ([]remote.Ack, error) {
	in := pushRequest{Documents: make([]document, 0, len(docs))}
	for _, tx := range docs {
		in.Documents = append(in.Documents, toDocument(tx))
	}
	buf, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	target := c.collectionURL(collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", pushKey(target, buf))

	var out pushResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if len(out.Acks) > len(docs) {
		return nil, fmt.Errorf("push: %d acks for %d documents", len(out.Acks), len(docs))
	}

	acks := make([]remote.Ack, 0, len(out.Acks))
	for i, b := range out.Acks {
		a, err := b.ack()
		if err != nil {
			return acks, fmt.Errorf("push ack %d: %w", i, err)
		}
		if a.ID != docs[i].ID {
			return acks, fmt.Errorf("push ack %d: id %q out of order, want %q", i, a.ID, docs[i].ID)
		}
		acks = append(acks, a)
	}
	return acks, nil
}

func pushKey(target string, body []byte) string {
	name := make([]byte, 0, len(target)+1+len(body))
	name = append(name, target...)
	name = append(name, '\n')
	name = append(name, body...)
	return uuid.NewSHA1(uuid.NameSpaceURL, name).String()
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ remote.Store = (*Client)(nil)
