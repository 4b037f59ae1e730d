package currency

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/dustin/go-humanize"
)

// Convert routes amount from one currency to another through the pivot.
// When from and to are equal, amount is returned untouched.
func Convert(amount float64, from, to Code, rates RateTable) (float64, error) {
	if !from.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, string(from))
	}
	if !to.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, string(to))
	}
	if from == to {
		return amount, nil
	}
	fromRate, err := rates.Rate(from)
	if err != nil {
		return 0, err
	}
	toRate, err := rates.Rate(to)
	if err != nil {
		return 0, err
	}
	return amount / fromRate * toRate, nil
}

// Symbol returns the display prefix for c, including any trailing space.
func Symbol(c Code) string {
	switch c {
	case JPY:
		return "¥"
	case NPR:
		return "Rs. "
	default:
		return "$"
	}
}

// Format renders an amount already expressed in c.
//
//	JPY  ¥1,234      no fraction, grouped thousands
//	NPR  Rs. 133.50  two decimals
//	USD  $12.34      two decimals
func Format(amount float64, c Code) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Sprintf("%s%.2f", Symbol(c), amount)
	}
	switch c {
	case JPY:
		r := math.Round(amount)
		// float64(math.MaxInt64) is 2^63, which does not fit in an int64
		if r >= math.MaxInt64 || r < math.MinInt64 {
			bi, _ := big.NewFloat(r).Int(nil)
			return Symbol(c) + humanize.BigComma(bi)
		}
		return Symbol(c) + humanize.Comma(int64(r))
	default:
		return Symbol(c) + strconv.FormatFloat(amount, 'f', 2, 64)
	}
}
