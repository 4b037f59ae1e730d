package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "menuprice"

// Fetch outcomes.
const (
	OutcomeLive     = "live"
	OutcomeFallback = "fallback"
)

// Metrics holds the collectors for the pricing core. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Provider fetches
	FetchTotal    *prometheus.CounterVec
	FetchDuration prometheus.Histogram

	// Store state
	Rate              *prometheus.GaugeVec
	SnapshotTimestamp prometheus.Gauge
	Subscribers       prometheus.Gauge
	CurrencyChanges   *prometheus.CounterVec

	// Durable writes that were dropped
	PersistFailures *prometheus.CounterVec

	// Scheduler ticks by result: fetched or fresh
	RefreshChecks *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FetchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_fetch_total",
				Help:      "Exchange rate fetches by outcome",
			},
			[]string{"outcome"},
		),
		FetchDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rate_fetch_duration_seconds",
				Help:      "Time spent fetching exchange rates, including fallback",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		Rate: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "exchange_rate",
				Help:      "Current multiplier against the pivot currency",
			},
			[]string{"currency"},
		),
		SnapshotTimestamp: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_snapshot_timestamp_seconds",
				Help:      "Unix time the current rate snapshot was taken",
			},
		),
		Subscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "price_subscribers",
				Help:      "Registered price display subscribers",
			},
		),
		CurrencyChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "display_currency_changes_total",
				Help:      "Display currency selections by currency",
			},
			[]string{"currency"},
		),
		PersistFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Durable writes that failed and were dropped",
			},
			[]string{"key"},
		),
		RefreshChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_checks_total",
				Help:      "Scheduler staleness checks by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) SetRates(rates map[string]float64, at time.Time) {
	if m == nil {
		return
	}
	for c, v := range rates {
		m.Rate.WithLabelValues(c).Set(v)
	}
	m.SnapshotTimestamp.Set(float64(at.Unix()))
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

func (m *Metrics) CurrencyChanged(code string) {
	if m == nil {
		return
	}
	m.CurrencyChanges.WithLabelValues(code).Inc()
}

func (m *Metrics) PersistFailed(key string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(key).Inc()
}

func (m *Metrics) RefreshChecked(fetched bool) {
	if m == nil {
		return
	}
	result := "fresh"
	if fetched {
		result = "fetched"
	}
	m.RefreshChecks.WithLabelValues(result).Inc()
}
