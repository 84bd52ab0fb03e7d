package analytics

import (
	"context"
	"fmt"
	"sync"

	"stealth_twap/internal/domain"
	"stealth_twap/pkg/quant"

	"github.com/markcheno/go-talib"
)

// Quote is one top-of-book observation from the price feed.
type Quote struct {
	Asset     uint32
	Price     quant.Price
	Bid       quant.Price
	Ask       quant.Price
	BidSize   int64
	AskSize   int64
	Volume24h int64
}

type series struct {
	prices []float64
	last   Quote
}

// Sampler turns feed quotes into market conditions.
// It implements domain.ConditionsSource.
type Sampler struct {
	mu     sync.RWMutex
	window int
	assets map[uint32]*series
}

// NewSampler keeps the last window prices per asset; window is at least 2.
func NewSampler(window int) *Sampler {
	return &Sampler{
		window: max(window, 2),
		assets: make(map[uint32]*series),
	}
}

// Observe records a quote.
func (s *Sampler) Observe(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.assets[q.Asset]
	if !ok {
		sr = &series{prices: make([]float64, 0, s.window)}
		s.assets[q.Asset] = sr
	}
	if q.Price > 0 {
		if len(sr.prices) == s.window {
			copy(sr.prices, sr.prices[1:])
			sr.prices = sr.prices[:s.window-1]
		}
		sr.prices = append(sr.prices, float64(q.Price))
	}
	sr.last = q
}

// Conditions returns the latest conditions of asset.
func (s *Sampler) Conditions(ctx context.Context, asset uint32) (domain.MarketConditions, error) {
	if err := ctx.Err(); err != nil {
		return domain.MarketConditions{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.assets[asset]
	if !ok {
		return domain.MarketConditions{}, fmt.Errorf("no quotes for asset %d", asset)
	}

	q := sr.last
	m := domain.MarketConditions{
		Volatility: volatilityBps(sr.prices),
		Liquidity:  min(q.BidSize, q.AskSize),
		Volume24h:  q.Volume24h,
		MidPrice:   q.Price,
	}
	if q.Bid > 0 && q.Ask >= q.Bid {
		m.Spread = q.Ask - q.Bid
		m.MidPrice = quant.Mid(q.Bid, q.Ask)
	}
	return m, nil
}

// volatilityBps is the population standard deviation of prices in bps of their mean.
func volatilityBps(prices []float64) int64 {
	n := len(prices)
	if n < 2 {
		return 0
	}
	sd := talib.StdDev(prices, n, 1.0)
	mean := talib.Sma(prices, n)
	if mean[n-1] <= 0 {
		return 0
	}
	return int64(sd[n-1] / mean[n-1] * quant.BpsScale)
}
