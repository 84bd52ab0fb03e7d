package analytics

import (
	"context"
	"testing"
)

func TestSampler_Conditions(t *testing.T) {
	s := NewSampler(4)

	if _, err := s.Conditions(context.Background(), 1); err == nil {
		t.Error("Expected error for unknown asset")
	}

	s.Observe(Quote{Asset: 1, Price: 100, Bid: 99, Ask: 101, BidSize: 500, AskSize: 300, Volume24h: 10_000})
	m, err := s.Conditions(context.Background(), 1)
	if err != nil {
		t.Fatalf("Conditions failed: %v", err)
	}
	if m.Volatility != 0 {
		t.Errorf("Expected zero volatility with one sample, got %d", m.Volatility)
	}
	if m.Liquidity != 300 {
		t.Errorf("Expected liquidity 300, got %d", m.Liquidity)
	}
	if m.Spread != 2 || m.MidPrice != 100 {
		t.Errorf("Expected spread 2 mid 100, got %d / %d", m.Spread, m.MidPrice)
	}
	if m.Volume24h != 10_000 {
		t.Errorf("Expected volume 10000, got %d", m.Volume24h)
	}

	// prices 90 and 110: stddev 10 around mean 100 is 1000 bps
	s2 := NewSampler(2)
	s2.Observe(Quote{Asset: 2, Price: 90})
	s2.Observe(Quote{Asset: 2, Price: 110})
	m, _ = s2.Conditions(context.Background(), 2)
	if m.Volatility < 999 || m.Volatility > 1000 {
		t.Errorf("Expected volatility ~1000 bps, got %d", m.Volatility)
	}

	// window rolls: only the last two prices remain
	s2.Observe(Quote{Asset: 2, Price: 110})
	m, _ = s2.Conditions(context.Background(), 2)
	if m.Volatility != 0 {
		t.Errorf("Expected zero volatility for flat window, got %d", m.Volatility)
	}
}

func TestSampler_CancelledContext(t *testing.T) {
	s := NewSampler(3)
	s.Observe(Quote{Asset: 1, Price: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Conditions(ctx, 1); err == nil {
		t.Error("Expected context error")
	}
}
