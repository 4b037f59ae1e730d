package currency

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrUnsupportedCurrency is returned for any code outside the supported set.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrInvalidRate is returned when a rate is missing, non-positive or not finite.
	ErrInvalidRate = errors.New("invalid exchange rate")

	// ErrInvalidAmount is returned for negative or non-finite money amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Code is an ISO currency code from the closed supported set.
type Code string

const (
	USD Code = "USD"
	NPR Code = "NPR"
	JPY Code = "JPY"
)

// Pivot is the currency all conversions are routed through.
const Pivot = USD

var supported = []Code{USD, NPR, JPY}

// Codes returns the supported currencies in a stable order.
func Codes() []Code {
	out := make([]Code, len(supported))
	copy(out, supported)
	return out
}

// Valid reports whether c is a supported code.
func (c Code) Valid() bool {
	for _, s := range supported {
		if c == s {
			return true
		}
	}
	return false
}

func (c Code) String() string { return string(c) }

// ParseCode normalizes s and checks it against the supported set.
func ParseCode(s string) (Code, error) {
	c := Code(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, s)
	}
	return c, nil
}

// RateTable maps a currency to its multiplier against the pivot.
type RateTable map[Code]float64

// FallbackRates is the static table used when live rates cannot be obtained.
func FallbackRates() RateTable {
	return RateTable{
		USD: 1.0,
		NPR: 133.5,
		JPY: 157.7,
	}
}

func validRate(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Validate checks that every supported currency has a usable rate.
func (t RateTable) Validate() error {
	for _, c := range supported {
		v, ok := t[c]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrInvalidRate, c)
		}
		if !validRate(v) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidRate, c, v)
		}
	}
	return nil
}

// Clone returns an independent copy of t.
func (t RateTable) Clone() RateTable {
	out := make(RateTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Merge returns a copy of t with the entries of partial applied.
// Entries absent from partial are left unchanged.
func (t RateTable) Merge(partial RateTable) (RateTable, error) {
	for c, v := range partial {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, string(c))
		}
		if !validRate(v) {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidRate, c, v)
		}
	}
	out := t.Clone()
	for c, v := range partial {
		out[c] = v
	}
	return out, nil
}

// Rate returns the multiplier for c.
func (t RateTable) Rate(c Code) (float64, error) {
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, string(c))
	}
	v, ok := t[c]
	if !ok || !validRate(v) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidRate, c)
	}
	return v, nil
}

// Snapshot is a rate table plus the time it was captured.
type Snapshot struct {
	Rates     RateTable
	UpdatedAt time.Time
	// Live is false when the rates came from the fallback table.
	Live bool
}

// Clone returns a copy that shares no state with s.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{Rates: s.Rates.Clone(), UpdatedAt: s.UpdatedAt, Live: s.Live}
}

// Age returns how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.UpdatedAt)
}

type snapshotJSON struct {
	Rates     map[string]float64 `json:"rates"`
	Timestamp int64              `json:"timestamp"`
	Live      bool               `json:"live"`
}

// MarshalJSON encodes the timestamp as unix milliseconds.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	raw := snapshotJSON{
		Rates:     make(map[string]float64, len(s.Rates)),
		Timestamp: s.UpdatedAt.UnixMilli(),
		Live:      s.Live,
	}
	for c, v := range s.Rates {
		raw.Rates[string(c)] = v
	}
	return json.Marshal(raw)
}

// UnmarshalJSON drops codes outside the supported set.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Rates == nil {
		return fmt.Errorf("%w: no rates", ErrInvalidRate)
	}
	rates := make(RateTable, len(raw.Rates))
	for k, v := range raw.Rates {
		c, err := ParseCode(k)
		if err != nil {
			continue
		}
		rates[c] = v
	}
	s.Rates = rates
	s.UpdatedAt = time.UnixMilli(raw.Timestamp)
	s.Live = raw.Live
	return nil
}

// Money is an amount tagged with the currency it was authored in.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency Code    `json:"currency"`
}

// Validate checks that the amount is a finite non-negative number in a
// supported currency.
func (m Money) Validate() error {
	if !m.Currency.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedCurrency, string(m.Currency))
	}
	if m.Amount < 0 || math.IsNaN(m.Amount) || math.IsInf(m.Amount, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, m.Amount)
	}
	return nil
}
