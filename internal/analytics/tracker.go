// Package analytics tracks execution quality per order, asset and owner, and
// samples market conditions for adaptive sizing.
package analytics

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"stealth_twap/internal/domain"
	"stealth_twap/pkg/quant"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ErrUnknownOrder is returned for orders that were never initialized.
var ErrUnknownOrder = errors.New("order not tracked")

// Config holds the alert ceilings and the scoring reference.
type Config struct {
	SlippageAlertBps         quant.Bps
	CostCeilingBps           quant.Bps
	ElapsedCeiling           time.Duration
	ExpectedIntervalPerSlice time.Duration
}

func DefaultConfig() Config {
	return Config{
		SlippageAlertBps:         200,
		CostCeilingBps:           50,
		ElapsedCeiling:           5 * time.Second,
		ExpectedIntervalPerSlice: 5 * time.Minute,
	}
}

// AlertKind classifies an informational alert.
type AlertKind uint8

const (
	AlertSlippage AlertKind = iota + 1
	AlertCost
	AlertLatency
)

func (k AlertKind) String() string {
	switch k {
	case AlertSlippage:
		return "SLIPPAGE"
	case AlertCost:
		return "COST"
	case AlertLatency:
		return "LATENCY"
	default:
		return "UNKNOWN"
	}
}

// Alert never blocks execution.
type Alert struct {
	OrderID   common.Hash
	Kind      AlertKind
	Value     int64
	Timestamp time.Time
}

// Execution is one recorded slice.
type Execution struct {
	Amount      int64
	Price       quant.Price
	MarketPrice quant.Price
	SlippageBps quant.Bps
	CostBps     quant.Bps
	Elapsed     time.Duration
	Timestamp   time.Time
}

type record struct {
	orderID   common.Hash
	owner     common.Address
	asset     uint32
	totalSize int64

	executed      int64
	avgPrice      decimal.Decimal
	totalSlippage quant.Bps
	totalCost     quant.Bps
	executions    []Execution
	alerts        []Alert

	start     time.Time
	end       time.Time
	benchmark quant.Price
	score     quant.Bps
	completed bool
}

// OrderReport is a read-only snapshot of one order's performance.
type OrderReport struct {
	OrderID          common.Hash
	Owner            common.Address
	Asset            uint32
	TotalSize        int64
	ExecutedSize     int64
	AveragePrice     quant.Price
	TotalSlippageBps quant.Bps
	AvgSlippageBps   quant.Bps
	AvgCostBps       quant.Bps
	Executions       []Execution
	Alerts           []Alert
	StartTime        time.Time
	EndTime          time.Time
	BenchmarkPrice   quant.Price
	Score            quant.Bps
	Completed        bool
}

// AssetMetrics aggregates executions of one asset.
type AssetMetrics struct {
	Asset          uint32
	Executions     int64
	Failures       int64
	Volume         int64
	AvgSlippageBps decimal.Decimal
	AvgCostBps     decimal.Decimal
	AvgSliceSize   decimal.Decimal
}

// SuccessRateBps is executions / attempts in bps; 0 without attempts.
func (m AssetMetrics) SuccessRateBps() quant.Bps {
	attempts := m.Executions + m.Failures
	if attempts == 0 {
		return 0
	}
	return quant.Bps(m.Executions * quant.BpsScale / attempts)
}

// OwnerStats aggregates the orders of one owner.
type OwnerStats struct {
	Owner     common.Address
	Orders    int
	Completed int
	Volume    int64
	AvgScore  quant.Bps
}

// GlobalStats are process-wide counters.
type GlobalStats struct {
	Orders     int64
	Completed  int64
	Executions int64
	Failures   int64
	Volume     int64
	Alerts     int64
}

type assetState struct {
	n        int64
	failures int64
	volume   int64
	slippage decimal.Decimal
	cost     decimal.Decimal
	size     decimal.Decimal
}

// Tracker is the performance tracker. Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	cfg     Config
	clock   domain.Clock
	orders  map[common.Hash]*record
	byOwner map[common.Address][]common.Hash
	assets  map[uint32]*assetState
	global  GlobalStats
	onAlert func(Alert)
	logger  *slog.Logger
}

func NewTracker(cfg Config, clock domain.Clock) *Tracker {
	return &Tracker{
		cfg:     cfg,
		clock:   clock,
		orders:  make(map[common.Hash]*record),
		byOwner: make(map[common.Address][]common.Hash),
		assets:  make(map[uint32]*assetState),
		logger:  slog.Default().With("module", "tracker"),
	}
}

// OnAlert registers a hook called for every alert, outside the tracker lock.
func (t *Tracker) OnAlert(fn func(Alert)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAlert = fn
}

// Initialize creates a zeroed record. Re-initializing a known order is a no-op.
func (t *Tracker) Initialize(orderID common.Hash, owner common.Address, asset uint32, totalSize int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.orders[orderID]; ok {
		return
	}
	t.orders[orderID] = &record{
		orderID:   orderID,
		owner:     owner,
		asset:     asset,
		totalSize: totalSize,
		avgPrice:  decimal.Zero,
		start:     t.clock.Now(),
	}
	t.byOwner[owner] = append(t.byOwner[owner], orderID)
	t.global.Orders++
}

// RecordExecution stores one slice and returns its slippage.
func (t *Tracker) RecordExecution(orderID common.Hash, asset uint32, amount int64, price, marketPrice quant.Price, cost quant.Bps, elapsed time.Duration) (quant.Bps, error) {
	slippage := quant.DeviationBps(price, marketPrice, marketPrice)

	t.mu.Lock()
	r, ok := t.orders[orderID]
	if !ok {
		t.mu.Unlock()
		return slippage, ErrUnknownOrder
	}

	now := t.clock.Now()
	oldTotal := decimal.NewFromInt(r.executed)
	amt := decimal.NewFromInt(amount)
	if r.executed+amount > 0 {
		r.avgPrice = r.avgPrice.Mul(oldTotal).
			Add(decimal.NewFromInt(int64(price)).Mul(amt)).
			Div(oldTotal.Add(amt))
	}
	r.executed += amount
	r.totalSlippage += slippage
	r.totalCost += cost
	r.executions = append(r.executions, Execution{
		Amount:      amount,
		Price:       price,
		MarketPrice: marketPrice,
		SlippageBps: slippage,
		CostBps:     cost,
		Elapsed:     elapsed,
		Timestamp:   now,
	})

	a := t.asset(asset)
	a.n++
	a.volume += amount
	a.slippage = runningAvg(a.slippage, int64(slippage), a.n)
	a.cost = runningAvg(a.cost, int64(cost), a.n)
	a.size = runningAvg(a.size, amount, a.n)

	t.global.Executions++
	t.global.Volume += amount

	var fired []Alert
	if slippage > t.cfg.SlippageAlertBps {
		fired = append(fired, Alert{OrderID: orderID, Kind: AlertSlippage, Value: int64(slippage), Timestamp: now})
	}
	if t.cfg.CostCeilingBps > 0 && cost > t.cfg.CostCeilingBps {
		fired = append(fired, Alert{OrderID: orderID, Kind: AlertCost, Value: int64(cost), Timestamp: now})
	}
	if t.cfg.ElapsedCeiling > 0 && elapsed > t.cfg.ElapsedCeiling {
		fired = append(fired, Alert{OrderID: orderID, Kind: AlertLatency, Value: elapsed.Milliseconds(), Timestamp: now})
	}
	r.alerts = append(r.alerts, fired...)
	t.global.Alerts += int64(len(fired))
	hook := t.onAlert
	t.mu.Unlock()

	for _, al := range fired {
		t.logger.Warn("⚠️ Execution alert",
			slog.String("order", al.OrderID.Hex()),
			slog.String("kind", al.Kind.String()),
			slog.Int64("value", al.Value))
		if hook != nil {
			hook(al)
		}
	}
	return slippage, nil
}

// RecordFailure counts a failed slice attempt against the asset.
func (t *Tracker) RecordFailure(asset uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.asset(asset).failures++
	t.global.Failures++
}

// CompleteOrder closes the record and computes the performance score.
func (t *Tracker) CompleteOrder(orderID common.Hash, benchmark quant.Price) (quant.Bps, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.orders[orderID]
	if !ok {
		return 0, ErrUnknownOrder
	}
	if r.completed {
		return r.score, domain.ErrAlreadyCompleted
	}

	r.completed = true
	r.end = t.clock.Now()
	r.benchmark = benchmark
	r.score = t.score(r)
	t.global.Completed++

	t.logger.Info("✅ Order performance closed",
		slog.String("order", orderID.Hex()),
		slog.Int64("score", int64(r.score)),
		slog.Int("slices", len(r.executions)))
	return r.score, nil
}

func (t *Tracker) score(r *record) quant.Bps {
	score := decimal.NewFromInt(quant.BpsScale)
	n := int64(len(r.executions))

	if n > 0 {
		switch {
		case r.totalSlippage > 100:
			score = score.Mul(decimal.RequireFromString("0.80"))
		case r.totalSlippage > 50:
			score = score.Mul(decimal.RequireFromString("0.90"))
		}

		if t.cfg.CostCeilingBps > 0 && int64(r.totalCost)/n > int64(t.cfg.CostCeilingBps) {
			score = score.Mul(decimal.RequireFromString("0.90"))
		}

		if r.end.Sub(r.start) <= time.Duration(n)*t.cfg.ExpectedIntervalPerSlice {
			score = score.Mul(decimal.RequireFromString("1.10"))
		}
	}

	if r.benchmark > 0 {
		avg := quant.Price(r.avgPrice.Round(0).IntPart())
		switch dev := quant.DeviationBps(avg, r.benchmark, r.benchmark); {
		case dev > 200:
			score = score.Mul(decimal.RequireFromString("0.70"))
		case dev > 100:
			score = score.Mul(decimal.RequireFromString("0.85"))
		}
	}

	s := score.Round(0).IntPart()
	return quant.Bps(max(0, min(s, quant.BpsScale)))
}

// OrderReport returns a snapshot of one order.
func (t *Tracker) OrderReport(orderID common.Hash) (OrderReport, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.orders[orderID]
	if !ok {
		return OrderReport{}, false
	}
	return r.report(), true
}

func (r *record) report() OrderReport {
	rep := OrderReport{
		OrderID:          r.orderID,
		Owner:            r.owner,
		Asset:            r.asset,
		TotalSize:        r.totalSize,
		ExecutedSize:     r.executed,
		AveragePrice:     quant.Price(r.avgPrice.Round(0).IntPart()),
		TotalSlippageBps: r.totalSlippage,
		Executions:       append([]Execution(nil), r.executions...),
		Alerts:           append([]Alert(nil), r.alerts...),
		StartTime:        r.start,
		EndTime:          r.end,
		BenchmarkPrice:   r.benchmark,
		Score:            r.score,
		Completed:        r.completed,
	}
	if n := quant.Bps(len(r.executions)); n > 0 {
		rep.AvgSlippageBps = r.totalSlippage / n
		rep.AvgCostBps = r.totalCost / n
	}
	return rep
}

// AssetMetrics returns the aggregate of one asset.
func (t *Tracker) AssetMetrics(asset uint32) AssetMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := AssetMetrics{Asset: asset}
	a, ok := t.assets[asset]
	if !ok {
		return m
	}
	m.Executions = a.n
	m.Failures = a.failures
	m.Volume = a.volume
	m.AvgSlippageBps = a.slippage
	m.AvgCostBps = a.cost
	m.AvgSliceSize = a.size
	return m
}

// OwnerStats aggregates every order of owner.
func (t *Tracker) OwnerStats(owner common.Address) OwnerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := OwnerStats{Owner: owner}
	var scoreSum int64
	for _, id := range t.byOwner[owner] {
		r := t.orders[id]
		st.Orders++
		st.Volume += r.executed
		if r.completed {
			st.Completed++
			scoreSum += int64(r.score)
		}
	}
	if st.Completed > 0 {
		st.AvgScore = quant.Bps(scoreSum / int64(st.Completed))
	}
	return st
}

// GlobalStats returns the process-wide counters.
func (t *Tracker) GlobalStats() GlobalStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.global
}

func (t *Tracker) asset(asset uint32) *assetState {
	a, ok := t.assets[asset]
	if !ok {
		a = &assetState{slippage: decimal.Zero, cost: decimal.Zero, size: decimal.Zero}
		t.assets[asset] = a
	}
	return a
}

// runningAvg returns (avg*(n-1) + x) / n; n is already incremented.
func runningAvg(avg decimal.Decimal, x, n int64) decimal.Decimal {
	prev := decimal.NewFromInt(n - 1)
	return avg.Mul(prev).Add(decimal.NewFromInt(x)).Div(decimal.NewFromInt(n))
}
