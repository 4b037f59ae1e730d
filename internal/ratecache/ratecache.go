package ratecache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"menuprice/internal/currency"
	"menuprice/internal/kv"
)

// SnapshotKey is the storage key for the persisted snapshot.
const SnapshotKey = "rates_snapshot"

const (
	DefaultStaleAfter    = time.Hour
	DefaultCheckInterval = 30 * time.Minute
)

// Cache persists rate snapshots in a kv.Store.
type Cache struct {
	Store  kv.Store
	Logger hclog.Logger
	// Now is the clock used by IsStale; time.Now when nil.
	Now func() time.Time
}

func New(store kv.Store, logger hclog.Logger) *Cache {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Cache{Store: store, Logger: logger.Named("ratecache"), Now: time.Now}
}

func (c *Cache) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Cache) logger() hclog.Logger {
	if c.Logger == nil {
		return hclog.NewNullLogger()
	}
	return c.Logger
}

// Load returns the persisted snapshot. Missing, unreadable or invalid data is
// reported as absent.
func (c *Cache) Load() (currency.Snapshot, bool) {
	if c.Store == nil {
		return currency.Snapshot{}, false
	}
	b, ok, err := c.Store.Get(SnapshotKey)
	if err != nil {
		c.logger().Warn("reading cached rates failed", "error", err)
		return currency.Snapshot{}, false
	}
	if !ok {
		return currency.Snapshot{}, false
	}
	var s currency.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		c.logger().Warn("discarding corrupt cached rates", "error", err)
		return currency.Snapshot{}, false
	}
	if err := s.Rates.Validate(); err != nil {
		c.logger().Warn("discarding incomplete cached rates", "error", err)
		return currency.Snapshot{}, false
	}
	// the pivot is fixed, whatever was stored
	s.Rates[currency.Pivot] = 1.0
	return s, true
}

// Save replaces the persisted snapshot.
func (c *Cache) Save(s currency.Snapshot) error {
	if c.Store == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.Store.Set(SnapshotKey, b); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// IsStale reports whether s is at least threshold old.
func (c *Cache) IsStale(s currency.Snapshot, threshold time.Duration) bool {
	return IsStale(s, threshold, c.now())
}

// IsStale reports whether now - s.UpdatedAt >= threshold.
func IsStale(s currency.Snapshot, threshold time.Duration, now time.Time) bool {
	return s.Age(now) >= threshold
}
