package ratesapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sethvargo/go-retry"

	"menuprice/internal/currency"
)

// latestResponse covers both success styles seen in the wild:
// {"result":"success"} and {"success":true}.
type latestResponse struct {
	Result    string             `json:"result"`
	Success   *bool              `json:"success"`
	ErrorType string             `json:"error-type"`
	Rates     map[string]float64 `json:"rates"`
}

func (r latestResponse) ok() (bool, error) {
	switch {
	case r.Success != nil:
		return *r.Success, nil
	case r.Result != "":
		return strings.EqualFold(r.Result, "success"), nil
	default:
		return false, errors.New("missing success indicator")
	}
}

// Fetch returns the latest rates, requested against the configured pivot
// and rebased onto currency.Pivot.
func (c *Client) Fetch(ctx context.Context) (currency.RateTable, error) {
	table, err := c.Latest(ctx, c.pivot)
	if err != nil || c.pivot == currency.Pivot {
		return table, err
	}
	base, ok := table[currency.Pivot]
	if !ok || base <= 0 {
		return nil, fmt.Errorf("rebasing onto %s: %w", currency.Pivot, currency.ErrInvalidRate)
	}
	out := make(currency.RateTable, len(table)+1)
	for code, v := range table {
		out[code] = v / base
	}
	out[c.pivot] = 1 / base
	return out, nil
}

// Latest retrieves rates relative to pivot. Codes outside the supported set
// are dropped; supported codes may be missing from the result.
func (c *Client) Latest(ctx context.Context, pivot currency.Code) (currency.RateTable, error) {
	url := fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), pivot)

	var table currency.RateTable
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewConstant(c.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		t, err := c.latestOnce(ctx, url)
		if err != nil {
			return err
		}
		table = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}

func (c *Client) latestOnce(ctx context.Context, url string) (currency.RateTable, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("performing request: %w", err))
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:

	case res.StatusCode == http.StatusTooManyRequests:
		return nil, retry.RetryableError(fmt.Errorf("rate limited"))

	case res.StatusCode == http.StatusUnauthorized, res.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("unauthorized")

	case res.StatusCode >= http.StatusInternalServerError:
		return nil, retry.RetryableError(fmt.Errorf("unexpected status code: %d", res.StatusCode))

	default:
		return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	var body latestResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding latest response: %w", err)
	}
	ok, err := body.ok()
	if err != nil {
		return nil, fmt.Errorf("decoding latest response: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("provider error: %q", body.ErrorType)
	}
	if body.Rates == nil {
		return nil, fmt.Errorf("decoding latest response: no rates")
	}

	table := currency.RateTable{}
	for code, v := range body.Rates {
		c, err := currency.ParseCode(code)
		if err != nil {
			continue
		}
		table[c] = v
	}
	return table, nil
}
