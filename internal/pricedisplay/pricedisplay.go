// Package pricedisplay binds money values to render callbacks that follow the
// store's display currency.
package pricedisplay

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"

	"menuprice/internal/currency"
	"menuprice/internal/store"
)

// Store is the part of store.Store a price element needs.
type Store interface {
	Format(amount float64, from currency.Code) (string, error)
	Subscribe(fn store.Listener) (unsubscribe func())
}

var _ Store = (*store.Store)(nil)

// Price is a mounted price element. It renders on mount and again on every
// store event until Close.
type Price struct {
	st     Store
	money  currency.Money
	render func(string)
	logger hclog.Logger

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
}

type Option func(*Price)

// WithLogger reports prices that could not be converted on update.
func WithLogger(l hclog.Logger) Option {
	return func(p *Price) { p.logger = l }
}

// Mount validates m, renders it once and subscribes for updates. render is
// called synchronously from whichever goroutine changed the store.
func Mount(st Store, m currency.Money, render func(string), opts ...Option) (*Price, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if render == nil {
		render = func(string) {}
	}
	p := &Price{st: st, money: m, render: render, logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pricedisplay")

	// Subscribe before the first render so no event in between is missed.
	unsubscribe := st.Subscribe(func(store.Event) { p.rerender() })
	p.mu.Lock()
	p.unsubscribe = unsubscribe
	p.mu.Unlock()

	text, err := p.Text()
	if err != nil {
		p.Close()
		return nil, err
	}
	p.render(text)
	return p, nil
}

// Money returns the authored value.
func (p *Price) Money() currency.Money { return p.money }

// Text formats the price against the store's current state.
func (p *Price) Text() (string, error) {
	return p.st.Format(p.money.Amount, p.money.Currency)
}

func (p *Price) rerender() {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	text, err := p.Text()
	if err != nil {
		// show the authored value rather than a stale conversion
		p.logger.Warn("converting price failed, showing authored amount", "amount", p.money.Amount, "currency", p.money.Currency, "error", err)
		text = fmt.Sprintf("%s%.2f", currency.Symbol(p.money.Currency), p.money.Amount)
	}
	p.render(text)
}

// Close unsubscribes. Safe to call more than once.
func (p *Price) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	unsubscribe := p.unsubscribe
	p.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Board is a set of named prices, such as a menu, mounted together.
type Board struct {
	st   Store
	opts []Option

	mu     sync.Mutex
	prices map[string]*Price
	text   map[string]string
}

func NewBoard(st Store, opts ...Option) *Board {
	return &Board{st: st, opts: opts, prices: map[string]*Price{}, text: map[string]string{}}
}

// Add mounts m under id, replacing any price already there.
func (b *Board) Add(id string, m currency.Money) error {
	p, err := Mount(b.st, m, func(s string) {
		b.mu.Lock()
		b.text[id] = s
		b.mu.Unlock()
	}, b.opts...)
	if err != nil {
		return err
	}

	b.mu.Lock()
	old := b.prices[id]
	b.prices[id] = p
	b.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Remove unmounts id.
func (b *Board) Remove(id string) {
	b.mu.Lock()
	p := b.prices[id]
	delete(b.prices, id)
	delete(b.text, id)
	b.mu.Unlock()
	if p != nil {
		p.Close()
	}
}

// Render returns the last rendered string of every price.
func (b *Board) Render() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.text))
	for id, s := range b.text {
		out[id] = s
	}
	return out
}

// IDs returns the mounted ids in sorted order.
func (b *Board) IDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.prices))
	for id := range b.prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close unmounts everything.
func (b *Board) Close() {
	b.mu.Lock()
	prices := b.prices
	b.prices = map[string]*Price{}
	b.text = map[string]string{}
	b.mu.Unlock()
	for _, p := range prices {
		p.Close()
	}
}
