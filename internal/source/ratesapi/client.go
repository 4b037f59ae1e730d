package ratesapi

import (
	"net/http"
	"time"

	"menuprice/internal/currency"
)

const baseURL = "https://open.er-api.com/v6/latest"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=ratesapi_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for a latest-rates endpoint of the form
// GET {baseURL}/{pivot}.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// pivot is the currency rates are requested against.
	pivot currency.Code
	// maxRetries is the number of retries after the first attempt.
	maxRetries uint64
	// backoff is the constant wait between attempts.
	backoff time.Duration
}

// Option is a configuration option for the client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if key != "" {
			c.header.Set("Authorization", "Bearer "+key)
		}
	}
}

// WithPivot sets the currency used by Fetch.
func WithPivot(pivot currency.Code) Option {
	return func(c *Client) {
		c.pivot = pivot
	}
}

// WithRetry retries transport errors, 429 and 5xx responses up to max
// times, waiting backoff between attempts.
func WithRetry(max int, backoff time.Duration) Option {
	return func(c *Client) {
		if max < 0 {
			max = 0
		}
		c.maxRetries = uint64(max)
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewClient creates a new rates API client.
func NewClient(options ...Option) (*Client, error) {
	var client = &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		pivot:      currency.Pivot,
		backoff:    250 * time.Millisecond,
	}
	for _, option := range options {
		option(client)
	}
	if !client.pivot.Valid() {
		return nil, currency.ErrUnsupportedCurrency
	}
	return client, nil
}

func (c *Client) Name() string { return "ratesapi" }
