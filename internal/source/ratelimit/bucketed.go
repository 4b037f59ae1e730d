package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"menuprice/internal/currency"
	"menuprice/internal/source"
)

// PerMinute returns a limiter allowing n calls a minute after an initial
// burst. Non-positive values allow one call and then nothing further.
func PerMinute(n, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(0)
	if n > 0 {
		limit = rate.Every(time.Minute / time.Duration(n))
	}
	return rate.NewLimiter(limit, burst)
}

// Bucketed gates a fetcher with a token bucket limiter.
type Bucketed struct {
	F       source.Fetcher
	Limiter *rate.Limiter
}

var _ source.Fetcher = (*Bucketed)(nil)

func (b *Bucketed) Name() string { return b.F.Name() }

func (b *Bucketed) Fetch(ctx context.Context) (currency.RateTable, error) {
	if b.Limiter != nil {
		if err := b.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return b.F.Fetch(ctx)
}

// Wrap applies the limiter the settings ask for. A positive perMinute wins
// over minInterval; with neither, f is returned as is.
func Wrap(f source.Fetcher, perMinute, burst int, minInterval time.Duration) source.Fetcher {
	switch {
	case f == nil:
		return nil
	case perMinute > 0:
		return &Bucketed{F: f, Limiter: PerMinute(perMinute, burst)}
	case minInterval > 0:
		return &MinInterval{F: f, Interval: minInterval}
	default:
		return f
	}
}
