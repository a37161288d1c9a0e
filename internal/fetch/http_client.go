package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dealwatch/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 2 * time.Second
	DefaultMaxDelay    = 16 * time.Second
	DefaultBackoffMult = 2.0
	DefaultMaxPages    = 50
	DefaultPageSize    = 100
)

// HTTPClient implements Fetcher against the upstream company REST API.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	maxPages    int
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the key sent in the Authorization header.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithMaxPages caps how many pages a listing follows.
func WithMaxPages(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxPages = n
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		maxPages:    DefaultMaxPages,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	return c
}

// Compile-time interface check.
var _ Fetcher = (*HTTPClient)(nil)

// Fetch retrieves the company document plus its deals and people.
func (c *HTTPClient) Fetch(ctx context.Context, entityID string) (*domain.Payload, error) {
	if entityID == "" {
		return nil, Permanent(errors.New("empty entity id"))
	}
	base := "/companies/" + url.PathEscape(entityID)

	var company companyRecord
	if err := c.get(ctx, base, nil, &company); err != nil {
		return nil, err
	}
	deals, err := paginate[dealRecord](ctx, c, base+"/deals")
	if err != nil {
		return nil, err
	}
	people, err := paginate[personRecord](ctx, c, base+"/people")
	if err != nil {
		return nil, err
	}

	payload, err := toPayload(&company, deals, people)
	if err != nil {
		return nil, Transient(err)
	}
	return payload, nil
}

// paginate follows cursors until an empty page, a missing cursor or maxPages.
func paginate[T any](ctx context.Context, c *HTTPClient, path string) ([]T, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(DefaultPageSize))

	var all []T
	for i := 0; i < c.maxPages; i++ {
		var p page[T]
		if err := c.get(ctx, path, params, &p); err != nil {
			return nil, err
		}
		items := p.entries()
		all = append(all, items...)

		next := p.cursor()
		if next == "" || len(items) == 0 {
			break
		}
		params.Set("cursor", next)
	}
	return all, nil
}

// get performs a GET with retries and exponential backoff. Transient and
// rate-limited failures are retried; permanent ones return immediately.
func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, result any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	delay := c.retryDelay
	var lastErr *Error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := delay
			if lastErr != nil && lastErr.RetryAfter > wait {
				wait = min(lastErr.RetryAfter, c.maxDelay)
			}
			select {
			case <-ctx.Done():
				return Transient(ctx.Err())
			case <-time.After(wait):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		err := c.do(ctx, target, result)
		if err == nil {
			return nil
		}
		if err.Kind == KindPermanent {
			return err
		}
		if ctx.Err() != nil {
			return Transient(ctx.Err())
		}
		lastErr = err
	}

	return lastErr
}

// do performs one request and classifies its outcome.
func (c *HTTPClient) do(ctx context.Context, target string, result any) *Error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "PitchBook "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("http request: %w", err))
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return Transient(fmt.Errorf("read response: %w", err))
	}

	if fe := classifyStatus(resp, body); fe != nil {
		return fe
	}

	if err := json.Unmarshal(body, result); err != nil {
		return Transient(fmt.Errorf("%w: decode response: %v", domain.ErrInvalidPayload, err))
	}
	return nil
}

// classifyStatus maps a non-2xx response onto a failure kind.
func classifyStatus(resp *http.Response, body []byte) *Error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	err := fmt.Errorf("%s %s: %s", resp.Request.Method, resp.Request.URL.Path, detail)

	var fe *Error
	switch {
	case code == http.StatusTooManyRequests:
		fe = RateLimited(err, parseRetryAfter(resp.Header.Get("Retry-After")))
	case code == http.StatusRequestTimeout, code >= 500:
		fe = Transient(err)
	default:
		// 401, 403, 404, 410 and the remaining client errors will not
		// succeed on retry.
		fe = Permanent(err)
	}
	fe.StatusCode = code
	return fe
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
