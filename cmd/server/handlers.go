package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"menuprice/internal/currency"
	"menuprice/internal/pricedisplay"
	"menuprice/internal/source"
	"menuprice/internal/store"
)

const maxItems = 1000

type refresher interface {
	Refresh(ctx context.Context) source.Result
}

type api struct {
	store          *store.Store
	refresher      refresher
	staleAfter     time.Duration
	requestTimeout time.Duration
	logger         hclog.Logger
}

type currencyBody struct {
	Currency currency.Code `json:"currency"`
}

type ratesResponse struct {
	Rates     currency.RateTable `json:"rates"`
	UpdatedAt time.Time          `json:"updated_at"`
	Live      bool               `json:"live"`
	Stale     bool               `json:"stale"`
}

type refreshResponse struct {
	Live  bool               `json:"live"`
	Rates currency.RateTable `json:"rates"`
	Error string             `json:"error,omitempty"`
}

type priceResponse struct {
	Amount          float64       `json:"amount"`
	Currency        currency.Code `json:"currency"`
	Display         string        `json:"display"`
	DisplayCurrency currency.Code `json:"display_currency"`
}

type pricesBody struct {
	Items []priceItem `json:"items"`
}

type priceItem struct {
	ID       string        `json:"id"`
	Amount   float64       `json:"amount"`
	Currency currency.Code `json:"currency"`
}

type pricesResponse struct {
	DisplayCurrency currency.Code     `json:"display_currency"`
	Prices          map[string]string `json:"prices"`
}

func (a *api) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *api) getCurrency(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, currencyBody{Currency: a.store.Currency()})
}

func (a *api) putCurrency(w http.ResponseWriter, r *http.Request) {
	var b currencyBody
	if err := decodeBody(r, &b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	code, err := currency.ParseCode(string(b.Currency))
	if err == nil {
		err = a.store.SetCurrency(code)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, currencyBody{Currency: code})
}

func (a *api) getRates(w http.ResponseWriter, _ *http.Request) {
	snap := a.store.Snapshot()
	writeJSON(w, http.StatusOK, ratesResponse{
		Rates:     snap.Rates,
		UpdatedAt: snap.UpdatedAt.UTC(),
		Live:      snap.Live,
		Stale:     a.store.IsStale(snap, a.staleAfter),
	})
}

// refreshRates answers 200 even when only the fallback table was available.
func (a *api) refreshRates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()
	res := a.refresher.Refresh(ctx)
	resp := refreshResponse{Live: res.Live, Rates: res.Rates}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) getPrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := strconv.ParseFloat(strings.TrimSpace(q.Get("amount")), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	code, err := currency.ParseCode(q.Get("currency"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m := currency.Money{Amount: amount, Currency: code}
	if err := m.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := pricedisplay.Mount(a.store, m, nil, pricedisplay.WithLogger(a.logger))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer p.Close()
	text, err := p.Text()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{
		Amount:          amount,
		Currency:        code,
		Display:         text,
		DisplayCurrency: a.store.Currency(),
	})
}

func (a *api) postPrices(w http.ResponseWriter, r *http.Request) {
	var b pricesBody
	if err := decodeBody(r, &b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(b.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items cannot be empty")
		return
	}
	if len(b.Items) > maxItems {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many items (max %d)", maxItems))
		return
	}

	board := pricedisplay.NewBoard(a.store, pricedisplay.WithLogger(a.logger))
	defer board.Close()
	for i, it := range b.Items {
		id := it.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		code, err := currency.ParseCode(string(it.Currency))
		if err == nil {
			err = board.Add(id, currency.Money{Amount: it.Amount, Currency: code})
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("item %q: %v", id, err))
			return
		}
	}
	writeJSON(w, http.StatusOK, pricesResponse{
		DisplayCurrency: a.store.Currency(),
		Prices:          board.Render(),
	})
}

// events streams store events as server-sent events until the client goes
// away. The first event carries the current state.
func (a *api) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// the stream outlives the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ch := make(chan store.Event, 16)
	unsubscribe := a.store.Subscribe(func(ev store.Event) {
		select {
		case ch <- ev:
		default:
			a.logger.Warn("event stream lagging, dropping event", "kind", ev.Kind.String())
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snap := a.store.Snapshot()
	initial := store.Event{Currency: a.store.Currency(), Rates: snap.Rates, UpdatedAt: snap.UpdatedAt, Live: snap.Live}
	if err := writeEvent(w, "state", initial); err != nil {
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev := <-ch:
			if err := writeEvent(w, ev.Kind.String(), ev); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, name string, ev store.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
