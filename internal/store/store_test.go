package store_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"menuprice/internal/currency"
	"menuprice/internal/kv"
	"menuprice/internal/kv/kvmock"
	"menuprice/internal/metrics"
	"menuprice/internal/ratecache"
	"menuprice/internal/store"
)

var t0 = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func clock(at time.Time) func() time.Time { return func() time.Time { return at } }

func newStore(t *testing.T, db kv.Store, opts ...store.Option) *store.Store {
	t.Helper()
	s := store.New(db, append([]store.Option{store.WithLogger(hclog.NewNullLogger()), store.WithClock(clock(t0))}, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_ColdStart(t *testing.T) {
	t.Parallel()

	s := newStore(t, kv.NewMemory())

	require.Equal(t, currency.USD, s.Currency())
	snap := s.Snapshot()
	require.Equal(t, currency.FallbackRates(), snap.Rates)
	require.True(t, snap.UpdatedAt.Equal(t0))
	require.False(t, snap.Live)

	got, err := s.Format(9.99, currency.USD)
	require.NoError(t, err)
	require.Equal(t, "$9.99", got)
}

func TestNew_WarmStart(t *testing.T) {
	t.Parallel()

	db := kv.NewMemory()
	cached := currency.Snapshot{Rates: currency.RateTable{currency.USD: 1, currency.NPR: 140, currency.JPY: 150}, UpdatedAt: t0.Add(-time.Minute), Live: true}
	require.NoError(t, ratecache.New(db, nil).Save(cached))
	require.NoError(t, db.Set(store.CurrencyKey, []byte(`"NPR"`)))

	s := newStore(t, db)
	require.Equal(t, currency.NPR, s.Currency())
	require.Equal(t, cached.Rates, s.Snapshot().Rates)
	require.True(t, s.Snapshot().Live)
}

func TestNew_CorruptCurrencyDefaultsToUSD(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`"EUR"`, `{`, `42`} {
		db := kv.NewMemory()
		require.NoError(t, db.Set(store.CurrencyKey, []byte(raw)))
		require.Equal(t, currency.USD, newStore(t, db).Currency(), raw)
	}
}

func TestNew_UnreadableStorage(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	db := kvmock.NewMockStore(ctrl)
	db.EXPECT().Get(gomock.Any()).Return(nil, false, errors.New("io error")).Times(2)

	s := newStore(t, db)
	require.Equal(t, currency.USD, s.Currency())
	require.Equal(t, currency.FallbackRates(), s.Snapshot().Rates)
}

func TestConvert_Identity(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	for _, c := range currency.Codes() {
		require.NoError(t, s.SetCurrency(c))
		got, err := s.Convert(12.345678901, c)
		require.NoError(t, err)
		require.Equal(t, 12.345678901, got)
	}
}

func TestConvert_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	for _, f := range currency.Codes() {
		for _, to := range currency.Codes() {
			require.NoError(t, s.SetCurrency(to))
			there, err := s.Convert(42.5, f)
			require.NoError(t, err)

			require.NoError(t, s.SetCurrency(f))
			back, err := s.Convert(there, to)
			require.NoError(t, err)
			require.InEpsilon(t, 42.5, back, 1e-6)
		}
	}
}

func TestConvert_Unsupported(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	_, err := s.Convert(1, "EUR")
	require.ErrorIs(t, err, currency.ErrUnsupportedCurrency)
	_, err = s.Format(1, "EUR")
	require.ErrorIs(t, err, currency.ErrUnsupportedCurrency)
	require.Panics(t, func() { s.MustFormat(1, "EUR") })
}

func TestFormat_JPYGrouped(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	require.NoError(t, s.SetCurrency(currency.JPY))
	got, err := s.Format(1234, currency.JPY)
	require.NoError(t, err)
	require.Equal(t, "¥1,234", got)
}

func TestUpdateRates_NewRateUsedEverywhere(t *testing.T) {
	t.Parallel()

	db := kv.NewMemory()
	s := newStore(t, db)
	require.NoError(t, s.SetCurrency(currency.NPR))
	require.NoError(t, s.UpdateRates(currency.RateTable{currency.NPR: 140.0}))

	got, err := s.Format(10, currency.USD)
	require.NoError(t, err)
	require.Equal(t, "Rs. 1400.00", got)

	snap := s.Snapshot()
	require.InDelta(t, 140.0, snap.Rates[currency.NPR], 0)
	require.InDelta(t, 157.7, snap.Rates[currency.JPY], 0, "untouched entries keep their value")
	require.True(t, snap.Live)

	// persisted copy matches too
	s.Flush()
	persisted, ok := ratecache.New(db, nil).Load()
	require.True(t, ok)
	require.InDelta(t, 140.0, persisted.Rates[currency.NPR], 0)
	for _, v := range persisted.Rates {
		require.NotEqual(t, 133.5, v)
	}
}

func TestUpdateRates_StampsTimestamp(t *testing.T) {
	t.Parallel()

	now := t0
	var mu sync.Mutex
	s := newStore(t, nil, store.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}))

	mu.Lock()
	now = t0.Add(2 * time.Hour)
	mu.Unlock()

	require.NoError(t, s.UpdateRatesFrom(currency.FallbackRates(), false))
	require.True(t, s.Snapshot().UpdatedAt.Equal(t0.Add(2*time.Hour)))
	require.False(t, s.Snapshot().Live)
}

func TestUpdateRates_InvalidLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	before := s.Snapshot()
	require.ErrorIs(t, s.UpdateRates(currency.RateTable{currency.JPY: 0}), currency.ErrInvalidRate)
	require.Equal(t, before, s.Snapshot())
}

func TestSetCurrency_NotifiesOncePerCall(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	var events []store.Event
	unsubscribe := s.Subscribe(func(ev store.Event) { events = append(events, ev) })
	defer unsubscribe()

	require.NoError(t, s.SetCurrency(currency.JPY))
	require.Len(t, events, 1)
	require.Equal(t, store.CurrencyChanged, events[0].Kind)
	require.Equal(t, currency.JPY, events[0].Currency)
	require.Equal(t, currency.FallbackRates(), events[0].Rates)

	require.NoError(t, s.SetCurrency(currency.JPY))
	require.Len(t, events, 2)
}

func TestSetCurrency_RejectsUnsupported(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	calls := 0
	defer s.Subscribe(func(store.Event) { calls++ })()

	require.ErrorIs(t, s.SetCurrency("EUR"), currency.ErrUnsupportedCurrency)
	require.Equal(t, currency.USD, s.Currency())
	require.Zero(t, calls)
}

func TestSetCurrency_Persists(t *testing.T) {
	t.Parallel()

	db := kv.NewMemory()
	s := newStore(t, db)
	require.NoError(t, s.SetCurrency(currency.JPY))
	require.NoError(t, s.Close())

	b, ok, err := db.Get(store.CurrencyKey)
	require.NoError(t, err)
	require.True(t, ok)
	var code string
	require.NoError(t, json.Unmarshal(b, &code))
	require.Equal(t, "JPY", code)

	require.Equal(t, currency.JPY, newStore(t, db).Currency())
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	db := kvmock.NewMockStore(ctrl)
	db.EXPECT().Get(gomock.Any()).Return(nil, false, nil).AnyTimes()
	db.EXPECT().Set(gomock.Any(), gomock.Any()).Return(errors.New("quota exceeded")).AnyTimes()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := newStore(t, db, store.WithMetrics(m))

	require.NoError(t, s.UpdateRates(currency.RateTable{currency.NPR: 141}))
	s.Flush()
	require.InDelta(t, 141.0, s.Snapshot().Rates[currency.NPR], 0)
	require.InDelta(t, 1.0, testutil.ToFloat64(m.PersistFailures.WithLabelValues(ratecache.SnapshotKey)), 0)
}

func TestUpdateRates_NotifiesSubscribers(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	var got []store.Event
	defer s.Subscribe(func(ev store.Event) { got = append(got, ev) })()

	require.NoError(t, s.UpdateRates(currency.RateTable{currency.JPY: 150}))
	require.Len(t, got, 1)
	require.Equal(t, store.RatesUpdated, got[0].Kind)
	require.InDelta(t, 150.0, got[0].Rates[currency.JPY], 0)
}

func TestSubscribe_UnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	calls := 0
	unsubscribe := s.Subscribe(func(store.Event) { calls++ })
	require.Equal(t, 1, s.Subscribers())

	unsubscribe()
	unsubscribe()
	require.Zero(t, s.Subscribers())

	require.NoError(t, s.SetCurrency(currency.NPR))
	require.Zero(t, calls)
}

func TestSubscribe_EventRatesAreCopies(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	defer s.Subscribe(func(ev store.Event) { ev.Rates[currency.NPR] = -1 })()

	require.NoError(t, s.SetCurrency(currency.NPR))
	require.InDelta(t, 133.5, s.Snapshot().Rates[currency.NPR], 0)
}

func TestSubscribe_PanickingListenerIsContained(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	called := false
	defer s.Subscribe(func(store.Event) { panic("bad listener") })()
	defer s.Subscribe(func(store.Event) { called = true })()

	require.NotPanics(t, func() { _ = s.SetCurrency(currency.JPY) })
	require.True(t, called)
}

func TestListenerMayReadStore(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	var rendered string
	defer s.Subscribe(func(store.Event) { rendered = s.MustFormat(10, currency.USD) })()

	require.NoError(t, s.SetCurrency(currency.JPY))
	assert.Equal(t, "¥1,577", rendered)
}

func TestConcurrentSetCurrency_LastWriteWins(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.SetCurrency(currency.Codes()[i%3])
			_, _ = s.Format(1, currency.USD)
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.SetCurrency(currency.NPR))
	require.Equal(t, currency.NPR, s.Currency())
}

func TestConcurrentMutations_PersistAndNotifyInOrder(t *testing.T) {
	t.Parallel()

	db := kv.NewMemory()
	s := newStore(t, db)

	var (
		mu   sync.Mutex
		last store.Event
	)
	defer s.Subscribe(func(ev store.Event) {
		mu.Lock()
		defer mu.Unlock()
		assert.Greater(t, ev.Seq, last.Seq)
		last = ev
	})()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%10 == 0 {
				_ = s.UpdateRates(currency.RateTable{currency.NPR: 130 + float64(i)})
				return
			}
			_ = s.SetCurrency(currency.Codes()[i%3])
		}(i)
	}
	wg.Wait()
	s.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, s.Currency(), last.Currency)
	require.Equal(t, s.Snapshot().Rates, last.Rates)

	b, ok, err := db.Get(store.CurrencyKey)
	require.NoError(t, err)
	require.True(t, ok)
	var code string
	require.NoError(t, json.Unmarshal(b, &code))
	require.Equal(t, string(s.Currency()), code)

	snap, ok := ratecache.New(db, nil).Load()
	require.True(t, ok)
	require.Equal(t, s.Snapshot().Rates, snap.Rates)
}

func TestUpdateRates_SavesThroughRateCache(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	db := kvmock.NewMockStore(ctrl)
	db.EXPECT().Get(gomock.Any()).Return(nil, false, nil).AnyTimes()

	var saved []byte
	db.EXPECT().Set(ratecache.SnapshotKey, gomock.Any()).DoAndReturn(func(_ string, b []byte) error {
		saved = b
		return nil
	}).Times(1)

	s := newStore(t, db)
	require.NoError(t, s.UpdateRates(currency.RateTable{currency.NPR: 141}))
	s.Flush()

	var snap currency.Snapshot
	require.NoError(t, json.Unmarshal(saved, &snap))
	require.InDelta(t, 141.0, snap.Rates[currency.NPR], 0)
	require.True(t, snap.Live)
	require.True(t, snap.UpdatedAt.Equal(t0))
}

func TestIsStale_UsesStoreClock(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	snap := s.Snapshot()
	require.False(t, s.IsStale(snap, time.Hour))
	snap.UpdatedAt = t0.Add(-time.Hour)
	require.True(t, s.IsStale(snap, time.Hour))
}
