package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"menuprice/internal/app"
	"menuprice/internal/config"
	"menuprice/internal/currency"
	"menuprice/internal/logging"
)

type output struct {
	Provider  string             `json:"provider"`
	Live      bool               `json:"live"`
	FetchedAt time.Time          `json:"fetched_at"`
	Rates     currency.RateTable `json:"rates"`
	Error     string             `json:"error,omitempty"`
	Price     *price             `json:"price,omitempty"`
}

type price struct {
	Amount  float64       `json:"amount"`
	From    currency.Code `json:"from"`
	To      currency.Code `json:"to"`
	Value   float64       `json:"value"`
	Display string        `json:"display"`
}

func main() {
	var (
		configPath string
		baseURL    string
		timeoutMS  int
		amount     float64
		from       string
		to         string
		verbose    bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.StringVar(&baseURL, "base-url", "", "override provider base URL")
	flag.IntVar(&timeoutMS, "timeout-ms", 0, "override fetch timeout in milliseconds")
	flag.Float64Var(&amount, "amount", -1, "amount to convert with the fetched rates")
	flag.StringVar(&from, "from", "USD", "currency the amount is authored in")
	flag.StringVar(&to, "to", "NPR", "currency to display the amount in")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if baseURL != "" {
		cfg.Provider.BaseURL = baseURL
	}
	if timeoutMS > 0 {
		cfg.Provider.TimeoutMS = timeoutMS
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger := logging.New("fetch", level, cfg.Log.Format, os.Stderr)

	src, err := app.NewSource(cfg.Provider, logger, nil)
	if err != nil {
		log.Fatalf("source: %v", err)
	}

	res := src.Fetch(context.Background())
	out := output{Provider: cfg.Provider.BaseURL, Live: res.Live, FetchedAt: res.FetchedAt, Rates: res.Rates}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}

	if amount >= 0 {
		p, err := convert(amount, from, to, res.Rates)
		if err != nil {
			log.Fatalf("convert: %v", err)
		}
		out.Price = p
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
	if !res.Live {
		os.Exit(2)
	}
}

func convert(amount float64, from, to string, rates currency.RateTable) (*price, error) {
	f, err := currency.ParseCode(from)
	if err != nil {
		return nil, err
	}
	t, err := currency.ParseCode(to)
	if err != nil {
		return nil, err
	}
	if err := (currency.Money{Amount: amount, Currency: f}).Validate(); err != nil {
		return nil, err
	}
	v, err := currency.Convert(amount, f, t, rates)
	if err != nil {
		return nil, err
	}
	return &price{Amount: amount, From: f, To: t, Value: v, Display: currency.Format(v, t)}, nil
}
