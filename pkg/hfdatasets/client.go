// Package hfdatasets provides a client for the Hugging Face datasets-server
// rows API.
package hfdatasets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// MaxPageSize is the largest page the rows endpoint serves.
const MaxPageSize = 100

// Client defines the datasets-server operations.
type Client interface {
	// Rows fetches one page of rows starting at req.Offset.
	Rows(ctx context.Context, req RowsRequest) (*RowsResponse, error)
}

// RowsRequest selects a page of a dataset split.
type RowsRequest struct {
	Dataset string
	Config  string
	Split   string
	Offset  int64
	Length  int
}

// RowsResponse is the parsed rows endpoint response.
type RowsResponse struct {
	Rows         []Row `json:"rows"`
	NumRowsTotal int64 `json:"num_rows_total"`
	Partial      bool  `json:"partial"`
}

// Row is a single dataset row. Row payloads are left raw so callers decode
// them into their own types.
type Row struct {
	RowIdx         int64           `json:"row_idx"`
	Row            json.RawMessage `json:"row"`
	TruncatedCells []string        `json:"truncated_cells"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithToken authenticates requests for gated datasets.
func WithToken(token string) Option {
	return func(c *httpClient) {
		c.token = token
	}
}

// WithRateLimit paces requests to rps per second. Zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithBackoff sets the initial retry backoff (for testing).
func WithBackoff(d time.Duration) Option {
	return func(c *httpClient) {
		c.backoff = d
	}
}

type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	backoff time.Duration
}

// NewClient creates a datasets-server client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://datasets-server.huggingface.co",
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// retryDo executes a GET with exponential backoff on transport errors and
// retryable statuses. Each attempt waits on the rate limiter.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 4
	backoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, 0, err
			}
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr != nil {
				lastErr = eris.Wrap(readErr, "hfdatasets: read response body")
			} else if !retryableStatusCode(resp.StatusCode) {
				return body, resp.StatusCode, nil
			} else {
				lastErr = eris.Errorf("hfdatasets: status %d: %s", resp.StatusCode, string(body))
			}
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return nil, 0, lastErr
}

func (c *httpClient) Rows(ctx context.Context, r RowsRequest) (*RowsResponse, error) {
	if r.Length <= 0 || r.Length > MaxPageSize {
		r.Length = MaxPageSize
	}
	if r.Config == "" {
		r.Config = "default"
	}

	q := url.Values{}
	q.Set("dataset", r.Dataset)
	q.Set("config", r.Config)
	q.Set("split", r.Split)
	q.Set("offset", strconv.FormatInt(r.Offset, 10))
	q.Set("length", strconv.Itoa(r.Length))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rows?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "hfdatasets: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "hfdatasets: rows request failed")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("hfdatasets: unexpected status %d: %s", statusCode, string(body))
	}

	var result RowsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "hfdatasets: unmarshal response")
	}
	return &result, nil
}
