package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Server struct {
	Port              string `json:"port" env:"PORT" env-default:"8080"`
	RequestTimeoutSec int    `json:"request_timeout_sec" env:"REQUEST_TIMEOUT_SEC" env-default:"10"`
}

type Provider struct {
	BaseURL string `json:"base_url" env:"RATES_BASE_URL" env-default:"https://open.er-api.com/v6/latest"`
	Pivot   string `json:"pivot" env:"RATES_PIVOT" env-default:"USD"`
	APIKey  string `json:"api_key" env:"RATES_API_KEY"`
	// TimeoutMS bounds one whole fetch, retries included.
	TimeoutMS             int `json:"timeout_ms" env:"RATES_TIMEOUT_MS" env-default:"5000"`
	MaxRetries            int `json:"max_retries" env:"RATES_MAX_RETRIES"`
	RetryBackoffMS        int `json:"retry_backoff_ms" env:"RATES_RETRY_BACKOFF_MS" env-default:"250"`
	MinRequestIntervalSec int `json:"min_request_interval_sec" env:"RATES_MIN_INTERVAL_SEC"`
	MaxRequestsPerMinute  int `json:"max_requests_per_minute" env:"RATES_MAX_RPM"`
	Burst                 int `json:"burst" env:"RATES_BURST" env-default:"1"`
}

type Refresh struct {
	IntervalSec   int `json:"interval_sec" env:"REFRESH_INTERVAL_SEC" env-default:"1800"`
	StaleAfterSec int `json:"stale_after_sec" env:"REFRESH_STALE_AFTER_SEC" env-default:"3600"`
}

type Storage struct {
	Driver string `json:"driver" env:"STORAGE_DRIVER" env-default:"bolt"`
	Path   string `json:"path" env:"STORAGE_PATH" env-default:"menuprice.db"`
}

type Log struct {
	Level  string `json:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" env-default:"text"`
}

type Config struct {
	Server   Server   `json:"server"`
	Provider Provider `json:"provider"`
	Refresh  Refresh  `json:"refresh"`
	Storage  Storage  `json:"storage"`
	Log      Log      `json:"log"`
}

func (p Provider) Timeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

func (p Provider) RetryBackoff() time.Duration {
	return time.Duration(p.RetryBackoffMS) * time.Millisecond
}

func (r Refresh) Interval() time.Duration {
	return time.Duration(r.IntervalSec) * time.Second
}

func (r Refresh) StaleAfter() time.Duration {
	return time.Duration(r.StaleAfterSec) * time.Second
}

// Load reads JSON config from path. If path is empty, ./config.json is used
// when present. A missing file leaves defaults; environment variables
// override file values.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		_, err := os.Stat(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
			return cfg, cfg.validate()
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("read env: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Provider.TimeoutMS <= 0 {
		return fmt.Errorf("provider.timeout_ms must be positive")
	}
	if c.Refresh.IntervalSec <= 0 {
		return fmt.Errorf("refresh.interval_sec must be positive")
	}
	if c.Refresh.StaleAfterSec <= 0 {
		return fmt.Errorf("refresh.stale_after_sec must be positive")
	}
	if c.Provider.MaxRetries < 0 {
		return fmt.Errorf("provider.max_retries cannot be negative")
	}
	return nil
}
