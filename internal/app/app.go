// Package app assembles the rate pipeline from configuration. The server and
// the CLIs share it.
package app

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"menuprice/internal/config"
	"menuprice/internal/currency"
	"menuprice/internal/httpx"
	"menuprice/internal/metrics"
	"menuprice/internal/source"
	"menuprice/internal/source/ratelimit"
	"menuprice/internal/source/ratesapi"
)

// NewFetcher builds the provider client with rate limiting applied.
func NewFetcher(p config.Provider, logger hclog.Logger) (source.Fetcher, error) {
	pivot, err := currency.ParseCode(p.Pivot)
	if err != nil {
		return nil, fmt.Errorf("provider.pivot: %w", err)
	}

	httpClient := httpx.New(p.Timeout())
	opts := []ratesapi.Option{
		ratesapi.WithBaseURL(p.BaseURL),
		ratesapi.WithHTTPClient(httpClient),
		ratesapi.WithPivot(pivot),
		ratesapi.WithRetry(p.MaxRetries, p.RetryBackoff()),
	}
	if p.APIKey != "" {
		opts = append(opts, ratesapi.WithAPIKey(p.APIKey))
	}
	client, err := ratesapi.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("rates client: %w", err)
	}

	minInterval := time.Duration(p.MinRequestIntervalSec) * time.Second
	f := ratelimit.Wrap(client, p.MaxRequestsPerMinute, p.Burst, minInterval)
	if p.MaxRequestsPerMinute > 0 || minInterval > 0 {
		logger.Debug("provider rate limit enabled", "rpm", p.MaxRequestsPerMinute, "burst", p.Burst, "min_interval", minInterval)
	}
	return f, nil
}

// NewSource wraps the configured provider so that every fetch yields a table.
func NewSource(p config.Provider, logger hclog.Logger, m *metrics.Metrics) (*source.Source, error) {
	f, err := NewFetcher(p, logger)
	if err != nil {
		return nil, err
	}
	return source.New(f,
		source.WithTimeout(p.Timeout()),
		source.WithLogger(logger),
		source.WithMetrics(m),
	), nil
}
