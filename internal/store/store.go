package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"menuprice/internal/currency"
	"menuprice/internal/kv"
	"menuprice/internal/metrics"
	"menuprice/internal/ratecache"
)

// CurrencyKey is the storage key for the selected display currency.
const CurrencyKey = "display_currency"

// DefaultCurrency is used when nothing valid has been persisted.
const DefaultCurrency = currency.USD

type EventKind int

const (
	CurrencyChanged EventKind = iota + 1
	RatesUpdated
)

func (k EventKind) String() string {
	switch k {
	case CurrencyChanged:
		return "currency_changed"
	case RatesUpdated:
		return "rates_updated"
	default:
		return "unknown"
	}
}

func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is delivered to subscribers. Rates is a private copy. Seq increases
// with every mutation; a listener never sees a Seq lower than one it has
// already been given.
type Event struct {
	Seq       uint64             `json:"seq,omitempty"`
	Kind      EventKind          `json:"kind,omitempty"`
	Currency  currency.Code      `json:"currency"`
	Rates     currency.RateTable `json:"rates"`
	UpdatedAt time.Time          `json:"updated_at"`
	Live      bool               `json:"live"`
}

type Listener func(Event)

type subscription struct {
	fn Listener

	mu   sync.Mutex
	last uint64
}

// Store holds the display currency and the current rate snapshot. It is
// created Ready; there is no way to observe it uninitialized.
type Store struct {
	mu       sync.RWMutex
	display  currency.Code
	snapshot currency.Snapshot
	seq      uint64

	subsMu sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64

	cache   *ratecache.Cache
	persist *persister
	logger  hclog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Store)

func WithLogger(l hclog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New loads persisted state from db, falling back to the static rate table
// and USD. db may be nil for a purely in-memory store.
func New(db kv.Store, opts ...Option) *Store {
	s := &Store{
		subs:   map[uint64]*subscription{},
		logger: hclog.NewNullLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("store")
	if db == nil {
		db = kv.NewMemory()
	}
	s.cache = ratecache.New(db, s.logger)
	s.cache.Now = s.now
	s.persist = newPersister(s.logger, s.metrics)

	if snap, ok := s.cache.Load(); ok {
		s.snapshot = snap
		s.logger.Debug("loaded cached rates", "updated_at", snap.UpdatedAt, "live", snap.Live)
	} else {
		s.snapshot = currency.Snapshot{Rates: currency.FallbackRates(), UpdatedAt: s.now()}
		s.logger.Info("no cached rates, starting from fallback table")
	}
	s.display = loadCurrency(db, s.logger)

	s.metrics.SetRates(rateLabels(s.snapshot.Rates), s.snapshot.UpdatedAt)
	return s
}

func loadCurrency(db kv.Store, logger hclog.Logger) currency.Code {
	b, ok, err := db.Get(CurrencyKey)
	if err != nil {
		logger.Warn("reading display currency failed", "error", err)
		return DefaultCurrency
	}
	if !ok {
		return DefaultCurrency
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		logger.Warn("discarding corrupt display currency", "error", err)
		return DefaultCurrency
	}
	c, err := currency.ParseCode(raw)
	if err != nil {
		logger.Warn("discarding unsupported display currency", "currency", raw)
		return DefaultCurrency
	}
	return c
}

// Currency returns the display currency.
func (s *Store) Currency() currency.Code {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.display
}

// Snapshot returns a copy of the current rates.
func (s *Store) Snapshot() currency.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Clone()
}

// SetCurrency selects the display currency and notifies every subscriber
// once, whether or not the value changed.
func (s *Store) SetCurrency(code currency.Code) error {
	if !code.Valid() {
		return fmt.Errorf("%w: %q", currency.ErrUnsupportedCurrency, string(code))
	}

	b, err := json.Marshal(string(code))
	if err != nil {
		return fmt.Errorf("encode currency: %w", err)
	}

	// enqueue while locked so the last write queued matches the last state
	s.mu.Lock()
	s.display = code
	ev := s.eventLocked(CurrencyChanged)
	s.persist.enqueue(CurrencyKey, func() error { return s.cache.Store.Set(CurrencyKey, b) })
	s.mu.Unlock()

	s.metrics.CurrencyChanged(string(code))
	s.logger.Debug("display currency set", "currency", code)
	s.notify(ev)
	return nil
}

// UpdateRates merges partial into the current table as live data.
func (s *Store) UpdateRates(partial currency.RateTable) error {
	return s.UpdateRatesFrom(partial, true)
}

// UpdateRatesFrom merges partial into the current table, stamps the snapshot
// with the current time and persists it. Entries absent from partial keep
// their value. An invalid partial table leaves the store untouched.
func (s *Store) UpdateRatesFrom(partial currency.RateTable, live bool) error {
	s.mu.Lock()
	merged, err := s.snapshot.Rates.Merge(partial)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	merged[currency.Pivot] = 1.0
	s.snapshot = currency.Snapshot{Rates: merged, UpdatedAt: s.now(), Live: live}
	snap := s.snapshot.Clone()
	ev := s.eventLocked(RatesUpdated)
	s.persist.enqueue(ratecache.SnapshotKey, func() error { return s.cache.Save(snap) })
	s.mu.Unlock()

	s.metrics.SetRates(rateLabels(snap.Rates), snap.UpdatedAt)
	s.logger.Debug("rates updated", "live", live, "rates", snap.Rates)
	s.notify(ev)
	return nil
}

func (s *Store) eventLocked(kind EventKind) Event {
	s.seq++
	return Event{
		Seq:       s.seq,
		Kind:      kind,
		Currency:  s.display,
		Rates:     s.snapshot.Rates.Clone(),
		UpdatedAt: s.snapshot.UpdatedAt,
		Live:      s.snapshot.Live,
	}
}

// IsStale reports whether snap is at least threshold old by the store's clock.
func (s *Store) IsStale(snap currency.Snapshot, threshold time.Duration) bool {
	return s.cache.IsStale(snap, threshold)
}

// Convert expresses amount, authored in from, in the display currency.
func (s *Store) Convert(amount float64, from currency.Code) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return currency.Convert(amount, from, s.display, s.snapshot.Rates)
}

// Format converts amount and renders it in the display currency.
func (s *Store) Format(amount float64, from currency.Code) (string, error) {
	s.mu.RLock()
	display := s.display
	v, err := currency.Convert(amount, from, display, s.snapshot.Rates)
	s.mu.RUnlock()
	if err != nil {
		return "", err
	}
	return currency.Format(v, display), nil
}

// MustFormat is Format for callers whose currency is known to be supported.
func (s *Store) MustFormat(amount float64, from currency.Code) string {
	out, err := s.Format(amount, from)
	if err != nil {
		panic(err)
	}
	return out
}

// Subscribe registers fn for store events. The returned func removes it and
// may be called any number of times.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = &subscription{fn: fn}
	n := len(s.subs)
	s.subsMu.Unlock()
	s.metrics.SetSubscribers(n)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			n := len(s.subs)
			s.subsMu.Unlock()
			s.metrics.SetSubscribers(n)
		})
	}
}

// Subscribers returns the number of registered listeners.
func (s *Store) Subscribers() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

// notify runs listeners synchronously on the caller's goroutine. Deliveries
// to one listener are serialized, and an event older than one it has already
// seen is dropped, so concurrent mutations reach every listener in order.
// A listener must not mutate the store from inside its callback.
func (s *Store) notify(ev Event) {
	s.subsMu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()

	for _, sub := range subs {
		s.deliver(sub, ev)
	}
}

func (s *Store) deliver(sub *subscription, ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if ev.Seq <= sub.last {
		return
	}
	sub.last = ev.Seq

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("price listener panicked", "event", ev.Kind.String(), "panic", rec)
		}
	}()
	// each listener gets its own table
	ev.Rates = ev.Rates.Clone()
	sub.fn(ev)
}

// Flush waits for pending durable writes.
func (s *Store) Flush() { s.persist.Flush() }

// Close flushes pending writes and stops the writer. It does not close the
// underlying kv.Store.
func (s *Store) Close() error {
	s.persist.Close()
	return nil
}

func rateLabels(t currency.RateTable) map[string]float64 {
	out := make(map[string]float64, len(t))
	for c, v := range t {
		out[string(c)] = v
	}
	return out
}
