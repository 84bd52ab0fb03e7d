package domain

import "stealth_twap/pkg/quant"

// MarketConditions is the input of the adaptive controller.
// Volatility is normalized in bps of the mean price; Liquidity is the
// shallower side of the top of book in base units.
type MarketConditions struct {
	Volatility int64
	Liquidity  int64
	Spread     quant.Price
	Volume24h  int64
	MidPrice   quant.Price
}

// SpreadBps returns the spread relative to the mid price.
func (m MarketConditions) SpreadBps() quant.Bps {
	if m.MidPrice <= 0 {
		return 0
	}
	return quant.DeviationBps(m.Spread, 0, m.MidPrice)
}
