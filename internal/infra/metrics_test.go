package infra

import (
	"testing"

	"stealth_twap/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_SliceExecuted(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SliceExecuted(1, 20)
	m.SliceExecuted(1, 30)
	m.SliceExecuted(2, 5)

	if got := testutil.ToFloat64(m.slices.WithLabelValues("1")); got != 2 {
		t.Errorf("Expected 2 slices for asset 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.volume.WithLabelValues("1")); got != 50 {
		t.Errorf("Expected volume 50 for asset 1, got %v", got)
	}
	if snap := m.Snapshot(); snap.SlicesExecuted != 3 {
		t.Errorf("Expected 3 slices, got %d", snap.SlicesExecuted)
	}
}

func TestMetrics_Rejections(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Rejected(domain.KindTiming)
	m.Rejected(domain.KindTiming)
	m.Rejected(domain.KindAuthorization)
	m.Deferred()
	m.Alert("SLIPPAGE")

	if got := testutil.ToFloat64(m.rejections.WithLabelValues(domain.KindTiming.String())); got != 2 {
		t.Errorf("Expected 2 timing rejections, got %v", got)
	}
	if got := testutil.ToFloat64(m.deferrals); got != 1 {
		t.Errorf("Expected 1 deferral, got %v", got)
	}

	snap := m.Snapshot()
	if snap.Rejections != 3 || snap.Deferrals != 1 || snap.Alerts != 1 {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()
	m.DecrementConnections()

	if snap := m.Snapshot(); snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
	if got := testutil.ToFloat64(m.connections); got != 2 {
		t.Errorf("Expected gauge 2, got %v", got)
	}
}

func TestMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	NewMetrics(reg)
}
