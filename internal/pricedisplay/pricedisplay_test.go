package pricedisplay_test

import (
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"menuprice/internal/currency"
	"menuprice/internal/pricedisplay"
	"menuprice/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(nil,
		store.WithLogger(hclog.NewNullLogger()),
		store.WithClock(func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }),
	)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMount_RendersImmediately(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	var got []string
	p, err := pricedisplay.Mount(s, currency.Money{Amount: 9.99, Currency: currency.USD}, func(v string) { got = append(got, v) })
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, []string{"$9.99"}, got)
	require.Equal(t, 1, s.Subscribers())
}

func TestMount_RerendersOnCurrencyChange(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	var got []string
	p, err := pricedisplay.Mount(s, currency.Money{Amount: 10, Currency: currency.USD}, func(v string) { got = append(got, v) })
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, s.SetCurrency(currency.JPY))
	require.NoError(t, s.SetCurrency(currency.NPR))
	require.Equal(t, []string{"$10.00", "¥1,577", "Rs. 1335.00"}, got)
}

func TestMount_ReflectsRateUpdates(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	require.NoError(t, s.SetCurrency(currency.NPR))

	var last string
	p, err := pricedisplay.Mount(s, currency.Money{Amount: 10, Currency: currency.USD}, func(v string) { last = v })
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, "Rs. 1335.00", last)

	require.NoError(t, s.UpdateRates(currency.RateTable{currency.NPR: 140}))
	require.Equal(t, "Rs. 1400.00", last)

	text, err := p.Text()
	require.NoError(t, err)
	require.Equal(t, "Rs. 1400.00", text)
}

func TestMount_RejectsBadMoney(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	_, err := pricedisplay.Mount(s, currency.Money{Amount: 1, Currency: "EUR"}, nil)
	require.ErrorIs(t, err, currency.ErrUnsupportedCurrency)

	_, err = pricedisplay.Mount(s, currency.Money{Amount: -1, Currency: currency.USD}, nil)
	require.ErrorIs(t, err, currency.ErrInvalidAmount)

	require.Zero(t, s.Subscribers())
}

func TestClose_UnsubscribesOnce(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	renders := 0
	p, err := pricedisplay.Mount(s, currency.Money{Amount: 1, Currency: currency.USD}, func(string) { renders++ })
	require.NoError(t, err)

	p.Close()
	p.Close()
	require.Zero(t, s.Subscribers())

	require.NoError(t, s.SetCurrency(currency.JPY))
	require.Equal(t, 1, renders)
}

func TestBoard(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	b := pricedisplay.NewBoard(s)

	require.NoError(t, b.Add("momo", currency.Money{Amount: 1335, Currency: currency.NPR}))
	require.NoError(t, b.Add("ramen", currency.Money{Amount: 1577, Currency: currency.JPY}))
	require.Error(t, b.Add("bad", currency.Money{Amount: 1, Currency: "EUR"}))
	require.Equal(t, []string{"momo", "ramen"}, b.IDs())
	require.Equal(t, map[string]string{"momo": "$10.00", "ramen": "$10.00"}, b.Render())

	require.NoError(t, s.SetCurrency(currency.JPY))
	require.Equal(t, map[string]string{"momo": "¥1,577", "ramen": "¥1,577"}, b.Render())

	// replacing an entry does not leak its old subscription
	require.NoError(t, b.Add("momo", currency.Money{Amount: 2, Currency: currency.USD}))
	require.Equal(t, 2, s.Subscribers())
	require.Equal(t, "¥315", b.Render()["momo"])

	b.Remove("ramen")
	require.Equal(t, 1, s.Subscribers())
	require.NotContains(t, b.Render(), "ramen")

	b.Close()
	require.Zero(t, s.Subscribers())
	require.Empty(t, b.Render())
}

// flakyStore converts once and fails every later conversion.
type flakyStore struct {
	calls    int
	listener store.Listener
}

func (f *flakyStore) Format(float64, currency.Code) (string, error) {
	f.calls++
	if f.calls > 1 {
		return "", errors.New("rates unavailable")
	}
	return "Rs. 1335.00", nil
}

func (f *flakyStore) Subscribe(fn store.Listener) func() {
	f.listener = fn
	return func() { f.listener = nil }
}

func TestRerender_ConversionErrorShowsAuthoredAmount(t *testing.T) {
	t.Parallel()

	st := &flakyStore{}
	var got []string
	p, err := pricedisplay.Mount(st, currency.Money{Amount: 9.99, Currency: currency.USD}, func(v string) { got = append(got, v) },
		pricedisplay.WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)
	defer p.Close()

	st.listener(store.Event{Kind: store.CurrencyChanged})
	require.Equal(t, []string{"Rs. 1335.00", "$9.99"}, got)
}
