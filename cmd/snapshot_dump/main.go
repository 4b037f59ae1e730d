package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"menuprice/internal/config"
	"menuprice/internal/currency"
	"menuprice/internal/kv"
	"menuprice/internal/logging"
	"menuprice/internal/ratecache"
	"menuprice/internal/store"
)

type dump struct {
	Driver          string             `json:"driver"`
	Path            string             `json:"path"`
	Found           bool               `json:"found"`
	Rates           currency.RateTable `json:"rates,omitempty"`
	UpdatedAt       *time.Time         `json:"updated_at,omitempty"`
	Live            bool               `json:"live"`
	Age             string             `json:"age,omitempty"`
	Stale           bool               `json:"stale"`
	DisplayCurrency string             `json:"display_currency,omitempty"`
}

func main() {
	var (
		cfgPath string
		driver  string
		path    string
		outPath string
	)
	flag.StringVar(&cfgPath, "config", "", "path to config.json (optional)")
	flag.StringVar(&driver, "driver", "", "storage driver override (bolt, file)")
	flag.StringVar(&path, "path", "", "storage path override")
	flag.StringVar(&outPath, "out", "", "output JSON file path (default stdout)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if driver != "" {
		cfg.Storage.Driver = driver
	}
	if path != "" {
		cfg.Storage.Path = path
	}
	logger := logging.New("snapshot_dump", cfg.Log.Level, cfg.Log.Format, os.Stderr)

	db, err := kv.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer db.Close()

	d := dump{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path}
	now := time.Now()
	if snap, ok := ratecache.New(db, logger).Load(); ok {
		at := snap.UpdatedAt.UTC()
		d.Found = true
		d.Rates = snap.Rates
		d.UpdatedAt = &at
		d.Live = snap.Live
		d.Age = snap.Age(now).Round(time.Second).String()
		d.Stale = ratecache.IsStale(snap, cfg.Refresh.StaleAfter(), now)
	}
	if b, ok, err := db.Get(store.CurrencyKey); err == nil && ok {
		var code string
		if json.Unmarshal(b, &code) == nil {
			d.DisplayCurrency = code
		}
	}

	var w io.Writer = os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			log.Fatalf("create out: %v", err)
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	enc := json.NewEncoder(bw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		log.Fatalf("encode: %v", err)
	}
	if outPath != "" {
		fmt.Fprintf(os.Stderr, "wrote %s\n", outPath)
	}
}
