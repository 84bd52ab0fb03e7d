// Package adaptive sizes and spaces slices from current market conditions.
// Every function here is pure: same inputs, same outputs.
package adaptive

import (
	"encoding/binary"
	"time"

	"stealth_twap/internal/domain"
	"stealth_twap/pkg/quant"
	"stealth_twap/pkg/safe"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Config holds thresholds and bounds. Percentages are integers on a base of 100.
type Config struct {
	HighVolatility          int64 // bps of mean price
	LiquidityThreshold      int64 // base units at top of book
	SpreadThresholdBps      int64 // normalized spread/volume
	MinSizeFactorPct        int64
	MaxSizeFactorPct        int64
	LowLiquidityIntervalPct int64
	LowActivityStartHour    int // UTC, inclusive
	LowActivityEndHour      int // UTC, exclusive
	MinInterval             time.Duration
	MinSpreadFloorBps       int64
	MaxImpactBps            int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HighVolatility:          500,
		LiquidityThreshold:      1_000,
		SpreadThresholdBps:      50,
		MinSizeFactorPct:        25,
		MaxSizeFactorPct:        200,
		LowLiquidityIntervalPct: 150,
		LowActivityStartHour:    0,
		LowActivityEndHour:      6,
		MinInterval:             30 * time.Second,
		MinSpreadFloorBps:       10,
		MaxImpactBps:            1000,
	}
}

// Controller computes slice sizes, intervals and impact estimates.
type Controller struct {
	cfg Config
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// Config returns the active configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// SizeFactorPct returns the composed slice factor before it is applied.
// The adjustments compose in a fixed order: volatility, liquidity, spread, then clamp.
func (c *Controller) SizeFactorPct(m domain.MarketConditions) int64 {
	factor := int64(100)

	if m.Volatility > c.cfg.HighVolatility {
		factor = factor * 50 / 100
	} else if m.Volatility < c.cfg.HighVolatility/2 {
		factor = factor * 150 / 100
	}

	if m.Liquidity < c.cfg.LiquidityThreshold {
		factor = factor * 40 / 100
	}

	if m.Volume24h > 0 && m.Spread > 0 {
		normalized := safe.MulDiv(int64(m.Spread), quant.BpsScale, m.Volume24h)
		if normalized > c.cfg.SpreadThresholdBps {
			factor = factor * 60 / 100
		}
	}

	return safe.Clamp(factor, c.cfg.MinSizeFactorPct, c.cfg.MaxSizeFactorPct)
}

// SliceSize returns the adaptive slice size: base * factor, capped by the
// remaining size and floored at one unit.
func (c *Controller) SliceSize(m domain.MarketConditions, base, remaining int64) int64 {
	size := safe.MulDiv(base, c.SizeFactorPct(m), 100)
	if size > remaining {
		size = remaining
	}
	if size < 1 {
		size = 1
	}
	return size
}

// Interval returns the adaptive wait before the next slice, never below MinInterval.
func (c *Controller) Interval(m domain.MarketConditions, base time.Duration, now time.Time) time.Duration {
	mult := int64(100)

	if m.Volatility > c.cfg.HighVolatility {
		mult = 60
	}
	if m.Liquidity < c.cfg.LiquidityThreshold {
		mult = mult * c.cfg.LowLiquidityIntervalPct / 100
	}
	if c.lowActivity(now) {
		mult = mult * 120 / 100
	}

	interval := time.Duration(safe.MulDiv(int64(base), mult, 100))
	if interval < c.cfg.MinInterval {
		interval = c.cfg.MinInterval
	}
	return interval
}

func (c *Controller) lowActivity(now time.Time) bool {
	h := now.UTC().Hour()
	start, end := c.cfg.LowActivityStartHour, c.cfg.LowActivityEndHour
	if start == end {
		return false
	}
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// MarketImpactBps estimates (orderSize/liquidity) * max(spread, floor), capped.
// The spread is taken in bps of the mid price.
func (c *Controller) MarketImpactBps(orderSize int64, m domain.MarketConditions) quant.Bps {
	if orderSize <= 0 {
		return 0
	}
	if m.Liquidity <= 0 {
		return quant.Bps(c.cfg.MaxImpactBps)
	}
	spread := max(int64(m.SpreadBps()), c.cfg.MinSpreadFloorBps)
	impact := safe.MulDiv(orderSize, spread, m.Liquidity)
	return quant.Bps(min(impact, c.cfg.MaxImpactBps))
}

// OptimalDelay is a scheduling hint, not a guarantee: a pseudo-random delay
// derived from the order id and the volatility bucket, in a range that widens
// with volatility.
func (c *Controller) OptimalDelay(orderID common.Hash, volatility int64) time.Duration {
	lo, hi := 15*time.Second, 120*time.Second
	switch {
	case volatility > c.cfg.HighVolatility:
		lo, hi = 60*time.Second, 300*time.Second
	case volatility < c.cfg.HighVolatility/2:
		lo, hi = 5*time.Second, 30*time.Second
	}

	var bucket [8]byte
	binary.BigEndian.PutUint64(bucket[:], uint64(max(volatility, 0)/100))
	h := crypto.Keccak256(orderID[:], bucket[:])

	span := uint64((hi - lo) / time.Second)
	return lo + time.Duration(binary.BigEndian.Uint64(h[:8])%span)*time.Second
}
