package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"menuprice/internal/currency"
	"menuprice/internal/metrics"
)

// DefaultTimeout bounds a single Fetch, retries included.
const DefaultTimeout = 5 * time.Second

// ErrNoFetcher is reported when the source runs without a provider.
var ErrNoFetcher = errors.New("no rate provider configured")

// Fetcher retrieves a possibly partial rate table from a provider.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (currency.RateTable, error)
}

// Result is what a Source hands back. Rates is always a complete, valid table.
type Result struct {
	Rates     currency.RateTable
	Live      bool
	FetchedAt time.Time
	// Err is the reason the fallback table was used. Informational only.
	Err error
}

// Source turns provider failures into fallback results.
type Source struct {
	fetcher Fetcher
	timeout time.Duration
	logger  hclog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Source)

func WithTimeout(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l hclog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Source) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// New wraps f. A nil f always yields the fallback table.
func New(f Fetcher, opts ...Option) *Source {
	s := &Source{
		fetcher: f,
		timeout: DefaultTimeout,
		logger:  hclog.NewNullLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("source")
	return s
}

// Fetch never fails. On any provider error the static fallback table is
// returned with Live=false.
func (s *Source) Fetch(ctx context.Context) Result {
	start := time.Now()
	partial, err := s.fetch(ctx)

	res := Result{FetchedAt: s.now()}
	if err == nil {
		var filled []currency.Code
		res.Rates, filled, err = complete(partial)
		if err == nil {
			res.Live = true
			if len(filled) > 0 {
				s.logger.Warn("provider response missing currencies, using fallback values", "provider", s.fetcher.Name(), "filled", filled)
			}
		}
	}
	if err != nil {
		res.Rates = currency.FallbackRates()
		res.Err = err
		if s.fetcher != nil {
			s.logger.Warn("rate fetch failed, using fallback rates", "provider", s.fetcher.Name(), "error", err)
		}
	}

	outcome := metrics.OutcomeFallback
	if res.Live {
		outcome = metrics.OutcomeLive
	}
	s.metrics.ObserveFetch(outcome, time.Since(start))
	return res
}

func (s *Source) fetch(ctx context.Context) (currency.RateTable, error) {
	if s.fetcher == nil {
		return nil, ErrNoFetcher
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type out struct {
		rates currency.RateTable
		err   error
	}
	// the fetcher may not honor ctx, so the timeout is enforced here
	ch := make(chan out, 1)
	go func() {
		r, err := s.fetcher.Fetch(ctx)
		ch <- out{r, err}
	}()
	select {
	case o := <-ch:
		return o.rates, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", s.fetcher.Name(), ctx.Err())
	}
}

// complete fills gaps from the fallback table. It fails when the provider
// did not supply a single usable non-pivot rate.
func complete(partial currency.RateTable) (currency.RateTable, []currency.Code, error) {
	out := currency.FallbackRates()
	var filled []currency.Code
	got := 0
	for _, c := range currency.Codes() {
		if c == currency.Pivot {
			continue
		}
		if v, err := partial.Rate(c); err == nil {
			out[c] = v
			got++
			continue
		}
		filled = append(filled, c)
	}
	out[currency.Pivot] = 1.0
	if got == 0 {
		return nil, nil, fmt.Errorf("%w: response had no supported currencies", currency.ErrInvalidRate)
	}
	return out, filled, nil
}
