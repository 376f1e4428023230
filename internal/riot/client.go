package riot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// baseURLFormat is filled with the platform host of a region
const baseURLFormat = "https://%s.api.riotgames.com"

var (
	// ErrNotFound is returned when the API answers 404
	ErrNotFound = errors.New("riot: not found")

	// ErrUnknownRegion is returned for regions without a platform host
	ErrUnknownRegion = errors.New("riot: unknown region")
)

// APIError is any other failed request. StatusCode is 0 for transport failures.
type APIError struct {
	StatusCode int
	Message    string
}

// Rejected reports whether the API refused this particular request. Auth failures and
// rate limits are excluded since they hit every request alike.
func (e *APIError) Rejected() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("riot: request failed: %s", e.Message)
	}
	return fmt.Sprintf("riot: API error: status %d, body: %s", e.StatusCode, e.Message)
}

// regions maps the regions guilds can choose to their platform hosts
var regions = map[string]string{
	"euw":  "euw1",
	"eune": "eun1",
	"na":   "na1",
	"ru":   "ru",
	"kr":   "kr",
	"br":   "br1",
	"oce":  "oc1",
	"jp":   "jp1",
	"tr":   "tr1",
	"lan":  "la1",
	"las":  "la2",
}

// HasRegion reports whether region is supported
func HasRegion(region string) bool {
	_, ok := regions[region]
	return ok
}

// Regions returns all supported region names, sorted
func Regions() []string {
	names := make([]string, 0, len(regions))
	for name := range regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Option customizes a Client
type Option func(*Client)

// WithBaseURL sends every request to a fixed base URL regardless of region
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = func(string) string { return baseURL }
	}
}

// WithMinInterval overrides the pause enforced between requests
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		c.minInterval = d
	}
}

// Client is a Riot Games API client with rate limiting
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    func(host string) string

	// Simple rate limiter, also guards apiKey
	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

// NewClient creates a new Riot API client
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: func(host string) string {
			return fmt.Sprintf(baseURLFormat, host)
		},
		// Rate limit: ~20 requests per second (50ms between requests)
		minInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// endpoint builds the URL of a path on a region's platform host
func (c *Client) endpoint(region, path string) (string, error) {
	host, ok := regions[region]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRegion, region)
	}
	return c.baseURL(host) + path, nil
}

// SetAPIKey replaces the key used by all following requests
func (c *Client) SetAPIKey(apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
}

// wait blocks until the next request is allowed and returns the key to send
func (c *Client) wait(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elapsed := time.Since(c.lastRequest); elapsed < c.minInterval {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.minInterval - elapsed):
		}
	}
	c.lastRequest = time.Now()
	return c.apiKey, nil
}

// doRequest performs an HTTP request with rate limiting
func (c *Client) doRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	apiKey, err := c.wait(ctx)
	if err != nil {
		return nil, err
	}

	// Add API key header
	req.Header.Set("X-Riot-Token", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	// Handle rate limiting (429)
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()

		// Wait and retry once
		delay := time.Second
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			delay = time.Duration(secs) * time.Second
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		return c.httpClient.Do(req)
	}

	return resp, nil
}

// get performs a GET request and decodes the JSON response
func (c *Client) get(ctx context.Context, url string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.doRequest(ctx, req)
	if err != nil {
		return &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
