package quant

import (
	"stealth_twap/pkg/safe"

	"github.com/shopspring/decimal"
)

// Price is a fixed-point price with 8 decimals, the oracle wire format.
// E.g., 1.5 USD = 150,000,000 Price.
type Price int64

// Bps is a quantity in basis points (1/10000).
type Bps int64

const (
	PriceDecimals = 8
	PriceScale    = 100_000_000
	BpsScale      = 10_000
)

// PriceFromDecimal converts an exchange-side decimal to Price, truncating
// digits beyond the 8th decimal.
func PriceFromDecimal(d decimal.Decimal) Price {
	return Price(d.Shift(PriceDecimals).IntPart())
}

// ParsePrice parses a decimal string (e.g. "50000.25") into Price.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return PriceFromDecimal(d), nil
}

// Decimal returns the price as a decimal with 8 fractional digits.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -PriceDecimals)
}

func (p Price) String() string {
	return p.Decimal().StringFixed(PriceDecimals)
}

// DeviationBps returns |a-b| * 10000 / ref, or 0 when ref is not positive.
func DeviationBps(a, b, ref Price) Bps {
	if ref <= 0 {
		return 0
	}
	diff := safe.Abs(safe.Sub(int64(a), int64(b)))
	return Bps(safe.MulDiv(diff, BpsScale, int64(ref)))
}

// Mid returns the midpoint of a bid/ask pair.
func Mid(bid, ask Price) Price {
	return Price((int64(bid) + int64(ask)) / 2)
}
