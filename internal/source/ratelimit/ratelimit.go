package ratelimit

import (
	"context"
	"sync"
	"time"

	"menuprice/internal/currency"
	"menuprice/internal/source"
)

// MinInterval wraps a fetcher and enforces a minimum time between calls.
// Concurrent calls queue behind each other, or return early if the context
// is canceled.
type MinInterval struct {
	F        source.Fetcher
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

var _ source.Fetcher = (*MinInterval)(nil)

func (m *MinInterval) Name() string { return m.F.Name() }

func (m *MinInterval) Fetch(ctx context.Context) (currency.RateTable, error) {
	if m.Interval <= 0 {
		return m.F.Fetch(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if wait := time.Until(m.last.Add(m.Interval)); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	rates, err := m.F.Fetch(ctx)
	m.last = time.Now()
	return rates, err
}
