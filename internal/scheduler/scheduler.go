package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"menuprice/internal/currency"
	"menuprice/internal/metrics"
	"menuprice/internal/ratecache"
	"menuprice/internal/source"
	"menuprice/internal/store"
)

// RateStore is the part of store.Store the scheduler drives.
type RateStore interface {
	Snapshot() currency.Snapshot
	UpdateRatesFrom(partial currency.RateTable, live bool) error
}

// RateSource is implemented by *source.Source.
type RateSource interface {
	Fetch(ctx context.Context) source.Result
}

// ErrStopped is reported by refreshes requested after Stop.
var ErrStopped = errors.New("scheduler stopped")

var (
	_ RateStore  = (*store.Store)(nil)
	_ RateSource = (*source.Source)(nil)
)

// Scheduler refreshes rates in the background once they go stale.
type Scheduler struct {
	store  RateStore
	source RateSource

	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	logger     hclog.Logger
	metrics    *metrics.Metrics

	group singleflight.Group
	// life bounds every fetch; only Stop cancels it
	life    context.Context
	kill    context.CancelFunc
	flights sync.WaitGroup

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithStaleAfter(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(l hclog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(st RateStore, src RateSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      st,
		source:     src,
		interval:   ratecache.DefaultCheckInterval,
		staleAfter: ratecache.DefaultStaleAfter,
		now:        time.Now,
		logger:     hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scheduler")
	s.life, s.kill = context.WithCancel(context.Background())
	return s
}

// Start runs a check now and then on every interval until Stop is called or
// ctx ends. Calling Start on a running or stopped scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("rate refresh started", "interval", s.interval, "stale_after", s.staleAfter)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.Check(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Stop cancels the loop and any fetch in flight, then waits for both to
// exit. A fetch cut short by Stop is not applied. It is safe before Start
// and on repeated calls.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	s.kill()
	if cancel != nil {
		cancel()
		<-done
	}
	s.flights.Wait()
	if cancel != nil {
		s.logger.Info("rate refresh stopped")
	}
}

// Check fetches and applies new rates when the current snapshot is stale.
// It reports whether a fetch happened.
func (s *Scheduler) Check(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	snap := s.store.Snapshot()
	if !ratecache.IsStale(snap, s.staleAfter, s.now()) {
		s.metrics.RefreshChecked(false)
		return false
	}
	s.logger.Debug("rates stale, refreshing", "age", snap.Age(s.now()))
	s.refresh(ctx)
	s.metrics.RefreshChecked(true)
	return true
}

// Refresh fetches immediately regardless of staleness and applies the
// result. Result.Live tells live data apart from the fallback table.
//
// ctx only bounds the wait. The fetch itself runs until the source's own
// timeout or Stop, so a caller that gives up never cancels a fetch shared
// with other callers. A caller that gives up gets the current rates back
// with Err set to ctx.Err().
func (s *Scheduler) Refresh(ctx context.Context) source.Result {
	return s.refresh(ctx)
}

func (s *Scheduler) refresh(ctx context.Context) source.Result {
	ch := s.group.DoChan("refresh", func() (any, error) {
		return s.fetchAndApply(), nil
	})
	select {
	case r := <-ch:
		return r.Val.(source.Result)
	case <-ctx.Done():
		return s.current(ctx.Err())
	}
}

func (s *Scheduler) fetchAndApply() source.Result {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return s.current(ErrStopped)
	}
	s.flights.Add(1)
	s.mu.Unlock()
	defer s.flights.Done()

	res := s.source.Fetch(s.life)
	if s.life.Err() != nil || errors.Is(res.Err, context.Canceled) {
		s.logger.Debug("refresh abandoned, keeping current rates", "error", res.Err)
		return s.current(context.Canceled)
	}
	if err := s.store.UpdateRatesFrom(res.Rates, res.Live); err != nil {
		s.logger.Error("applying fetched rates failed", "error", err)
	}
	if res.Live {
		s.logger.Info("rates refreshed", "rates", res.Rates)
	} else {
		s.logger.Warn("rates refreshed from fallback table", "error", res.Err)
	}
	return res
}

// current reports the rates already in the store, marked as not fetched.
func (s *Scheduler) current(err error) source.Result {
	return source.Result{Rates: s.store.Snapshot().Rates, FetchedAt: s.now(), Err: err}
}
