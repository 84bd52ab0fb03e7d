// Package engine runs the slice-execution state machine on top of the order
// store, the privacy gate and the external collaborators.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stealth_twap/internal/adaptive"
	"stealth_twap/internal/analytics"
	"stealth_twap/internal/domain"
	"stealth_twap/internal/event"
	"stealth_twap/internal/orders"
	"stealth_twap/internal/privacy"
	"stealth_twap/internal/venue"
	"stealth_twap/pkg/quant"

	"github.com/ethereum/go-ethereum/common"
)

// Config tunes the timing of slice attempts.
type Config struct {
	// MEVWindow bounds the secondary delay of the deferral check.
	MEVWindow time.Duration
	// JitterMax bounds the jitter added to every rescheduled slice.
	JitterMax   time.Duration
	TimeInForce venue.TimeInForce
}

func DefaultConfig() Config {
	return Config{
		MEVWindow:   12 * time.Second,
		JitterMax:   30 * time.Second,
		TimeInForce: venue.TIFImmediateOrCancel,
	}
}

// Metrics receives execution counters. infra.Metrics implements it.
type Metrics interface {
	SliceExecuted(asset uint32, size int64)
	Deferred()
	Rejected(kind domain.Kind)
}

type noopMetrics struct{}

func (noopMetrics) SliceExecuted(uint32, int64) {}
func (noopMetrics) Deferred()                   {}
func (noopMetrics) Rejected(domain.Kind)        {}

// Deps are the components a Coordinator is composed of.
// Conditions, Verifier, Tracker, Events and Metrics are optional.
type Deps struct {
	Store      *orders.Store
	Gate       *privacy.Gate
	Adaptive   *adaptive.Controller
	Tracker    *analytics.Tracker
	Oracle     domain.Oracle
	Margin     domain.Margin
	Venue      domain.Venue
	Conditions domain.ConditionsSource
	Verifier   domain.ProofVerifier
	Events     event.Sink
	Metrics    Metrics
	Clock      domain.Clock
}

// Coordinator drives orders through Active, Completed and Cancelled.
// Calls on the same order are serialized; different orders run in parallel.
type Coordinator struct {
	cfg   Config
	deps  Deps
	locks *orderLocks

	logger *slog.Logger
}

func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Events == nil {
		deps.Events = event.NewBus()
	}
	if deps.Adaptive == nil {
		deps.Adaptive = adaptive.NewController(adaptive.DefaultConfig())
	}
	return &Coordinator{
		cfg:    cfg,
		deps:   deps,
		locks:  newOrderLocks(),
		logger: slog.Default().With("module", "coordinator"),
	}
}

// ======================================================================================
// Slice execution
// ======================================================================================

// ExecuteSlice attempts one slice of id. secret must open the order's secret
// commitment; revealNonce is only read when a commitment is pending.
// A deferred attempt returns a result with Deferred set and a nil error.
func (c *Coordinator) ExecuteSlice(ctx context.Context, caller common.Address, id, secret, revealNonce common.Hash) (res domain.ExecutionResult, err error) {
	unlock := c.locks.Lock(id)
	defer unlock()
	defer c.recoverPanic(id, &err)

	o := c.deps.Store.Get(id)
	if !o.Active {
		return res, c.reject(domain.ErrNotActive)
	}
	if !c.deps.Gate.VerifySecret(o.SecretCommitment, secret) {
		return res, c.reject(domain.ErrInvalidSecret)
	}
	return c.execute(ctx, caller, o, revealNonce, nil)
}

// ExecuteSliceWithProof is ExecuteSlice gated by a proof of knowledge of the
// secret instead of the secret itself. The nullifier is spent only when the
// slice is sent to the venue.
func (c *Coordinator) ExecuteSliceWithProof(ctx context.Context, caller common.Address, id common.Hash, proof []byte, nullifier, revealNonce common.Hash) (res domain.ExecutionResult, err error) {
	unlock := c.locks.Lock(id)
	defer unlock()
	defer c.recoverPanic(id, &err)

	if c.deps.Verifier == nil {
		return res, domain.NewCollaboratorError("verifier", "Verify", fmt.Errorf("no proof verifier configured"))
	}

	o := c.deps.Store.Get(id)
	if !o.Active {
		return res, c.reject(domain.ErrNotActive)
	}

	ticket, err := c.deps.Gate.ReserveNullifier(nullifier)
	if err != nil {
		return res, c.reject(err)
	}
	defer ticket.Abort()

	ok, err := c.deps.Verifier.Verify(ctx, proof, []common.Hash{o.SecretCommitment, o.ID, nullifier})
	if err != nil {
		return res, c.reject(domain.NewCollaboratorError("verifier", "Verify", err))
	}
	if !ok {
		return res, c.reject(domain.ErrInvalidProof)
	}
	return c.execute(ctx, caller, o, revealNonce, ticket)
}

// execute runs the checks after authorization. Nothing is written until the
// venue accepted the action, except the deferral which only moves the schedule.
func (c *Coordinator) execute(ctx context.Context, caller common.Address, o domain.Order, revealNonce common.Hash, ticket *privacy.NullifierTicket) (domain.ExecutionResult, error) {
	var res domain.ExecutionResult
	start := c.deps.Clock.Now()

	// 1. Pending commitment must be revealed in this call
	_, pending := c.deps.Gate.Pending(o.ID)
	if pending {
		if err := c.deps.Gate.CheckReveal(o.ID, revealNonce); err != nil {
			return res, c.reject(err)
		}
	}

	// 2. Schedule
	if start.Before(o.NextExecutionTime) {
		return res, c.reject(domain.ErrTooEarly)
	}

	delay := c.deps.Gate.Jitter(o.ID, caller, c.cfg.MEVWindow)
	if start.Before(o.NextExecutionTime.Add(delay)) {
		next, err := c.deps.Store.Defer(o.ID, start.Add(delay))
		if err != nil {
			return res, c.reject(err)
		}
		c.deps.Metrics.Deferred()
		c.deps.Events.Publish(event.MEVDeferral{ID: o.ID, NewDelay: delay, NewExecutionTime: next})
		c.logger.Info("Slice deferred",
			slog.String("order", o.ID.Hex()),
			slog.Duration("delay", delay))
		res.Deferred = true
		return res, nil
	}

	// 3. Price
	oraclePrice, err := c.deps.Oracle.GetPrice(ctx, o.Asset)
	if err != nil {
		return res, c.fail(o.Asset, domain.NewCollaboratorError("oracle", "GetPrice", err))
	}
	bid, ask, err := c.deps.Oracle.GetBBO(ctx, o.Asset)
	if err != nil {
		return res, c.fail(o.Asset, domain.NewCollaboratorError("oracle", "GetBBO", err))
	}
	price := executionPrice(o.IsBuy, oraclePrice, bid, ask)
	if price < o.MinPrice || price > o.MaxPrice {
		return res, c.fail(o.Asset, domain.ErrPriceOutOfRange)
	}

	// 4. Size
	size := min(o.BaseSliceSize, o.Remaining())
	var conditions domain.MarketConditions
	haveConditions := false
	if c.deps.Conditions != nil {
		m, err := c.deps.Conditions.Conditions(ctx, o.Asset)
		switch {
		case err == nil:
			conditions, haveConditions = m, true
		case o.Adaptive:
			return res, c.fail(o.Asset, domain.NewCollaboratorError("conditions", "Conditions", err))
		default:
			c.logger.Debug("Conditions unavailable", slog.Any("error", err))
		}
	}
	if o.Adaptive && haveConditions {
		size = c.deps.Adaptive.SliceSize(conditions, o.BaseSliceSize, o.Remaining())
	}
	// Unknown depth gives no estimate; the cap applies only to a known thin book.
	var impact quant.Bps
	if haveConditions && conditions.Liquidity > 0 {
		impact = c.deps.Adaptive.MarketImpactBps(size, conditions)
	}

	// 5. Margin
	value, err := c.deps.Margin.GetAccountValue(ctx, o.Owner)
	if err != nil {
		return res, c.fail(o.Asset, domain.NewCollaboratorError("margin", "GetAccountValue", err))
	}
	if value <= 0 {
		return res, c.fail(o.Asset, domain.ErrInsufficientMargin)
	}

	// 6. Venue
	action := venue.LimitOrder{
		Asset:         o.Asset,
		IsBuy:         o.IsBuy,
		LimitPrice:    uint64(price),
		Size:          uint64(size),
		TimeInForce:   c.cfg.TimeInForce,
		ClientOrderID: venue.ClientOrderID(o.ID, o.ExecutedSize),
	}
	if err := c.deps.Venue.SendAction(ctx, action.Encode()); err != nil {
		return res, c.fail(o.Asset, domain.NewCollaboratorError("venue", "SendAction", err))
	}

	// The slice is committed from here on.
	if ticket != nil {
		ticket.Commit()
	}
	if pending {
		c.deps.Gate.ConsumeCommitment(o.ID)
		c.deps.Store.ClearCommit(o.ID)
	}

	interval := o.BaseInterval
	if o.Adaptive && haveConditions {
		interval = c.deps.Adaptive.Interval(conditions, o.BaseInterval, start)
	}
	next := start.Add(interval + c.deps.Gate.Jitter(o.ID, caller, c.cfg.JitterMax))

	updated, err := c.deps.Store.ApplyFill(o.ID, size, price, next)
	if err != nil {
		c.logger.Error("RECONCILIATION_REQUIRED: venue accepted a slice the store rejected",
			slog.String("order", o.ID.Hex()),
			slog.Int64("size", size),
			slog.Any("error", err))
		return res, domain.NewCollaboratorError("store", "ApplyFill", err)
	}

	now := c.deps.Clock.Now()
	slippage := c.track(o, size, price, oraclePrice, impact, now.Sub(start))
	c.deps.Metrics.SliceExecuted(o.Asset, size)
	c.deps.Events.Publish(event.SliceExecuted{
		ID:           o.ID,
		ExecutedSize: size,
		Price:        price,
		Timestamp:    now,
		MarketImpact: impact,
	})

	res = domain.ExecutionResult{
		Success:         true,
		ExecutedAmount:  size,
		AveragePrice:    orders.AveragePrice(updated),
		SlippageBps:     slippage,
		MarketImpactBps: impact,
	}

	if !updated.Active {
		res.Completed = true
		c.complete(updated, oraclePrice)
	}

	c.logger.Info("✅ Slice executed",
		slog.String("order", o.ID.Hex()),
		slog.Int64("size", size),
		slog.String("price", price.String()),
		slog.Int64("executed", updated.ExecutedSize),
		slog.Int64("total", updated.TotalSize))
	return res, nil
}

// executionPrice is the ask for buys and the bid for sells, falling back to
// the oracle price when that side of the book is empty.
func executionPrice(isBuy bool, oracle, bid, ask quant.Price) quant.Price {
	if isBuy && ask > 0 {
		return ask
	}
	if !isBuy && bid > 0 {
		return bid
	}
	return oracle
}

func (c *Coordinator) track(o domain.Order, size int64, price, oraclePrice quant.Price, impact quant.Bps, elapsed time.Duration) quant.Bps {
	if c.deps.Tracker == nil {
		return quant.DeviationBps(price, oraclePrice, oraclePrice)
	}
	slippage, err := c.deps.Tracker.RecordExecution(o.ID, o.Asset, size, price, oraclePrice, impact, elapsed)
	if err != nil {
		c.logger.Warn("Execution not tracked", slog.String("order", o.ID.Hex()), slog.Any("error", err))
	}
	return slippage
}

func (c *Coordinator) complete(o domain.Order, benchmark quant.Price) {
	var totalSlippage quant.Bps
	if c.deps.Tracker != nil {
		if _, err := c.deps.Tracker.CompleteOrder(o.ID, benchmark); err != nil {
			c.logger.Warn("Completion not tracked", slog.String("order", o.ID.Hex()), slog.Any("error", err))
		}
		if rep, ok := c.deps.Tracker.OrderReport(o.ID); ok {
			totalSlippage = rep.TotalSlippageBps
		}
	}

	avg := orders.AveragePrice(o)
	c.deps.Events.Publish(event.OrderCompleted{
		ID:            o.ID,
		TotalExecuted: o.ExecutedSize,
		AveragePrice:  avg,
		TotalSlippage: totalSlippage,
	})
	c.logger.Info("✅ Order completed",
		slog.String("order", o.ID.Hex()),
		slog.String("avg_price", avg.String()))
}

// ======================================================================================
// Commit-reveal and cancel
// ======================================================================================

// CommitToExecute registers a reveal commitment for id. Only the owner may
// commit, so a third party cannot lock an order behind a commitment it never reveals.
func (c *Coordinator) CommitToExecute(ctx context.Context, caller common.Address, id, commitHash common.Hash) (domain.Commitment, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	o := c.deps.Store.Get(id)
	if !o.Active {
		return domain.Commitment{}, c.reject(domain.ErrNotActive)
	}
	if o.Owner != caller {
		return domain.Commitment{}, c.reject(domain.ErrNotOwner)
	}

	cm, err := c.deps.Gate.Commit(id, commitHash, caller)
	if err != nil {
		return domain.Commitment{}, c.reject(err)
	}
	c.deps.Store.SetCommit(id, commitHash, cm.CommitTime)
	c.deps.Events.Publish(event.CommitRegistered{ID: id, CommitHash: commitHash, Timestamp: cm.CommitTime})
	return cm, nil
}

// Cancel deactivates id. If part of it was filled, one cancel action is sent
// to the venue first; a venue failure leaves the order active.
func (c *Coordinator) Cancel(ctx context.Context, owner common.Address, id common.Hash) error {
	unlock := c.locks.Lock(id)
	defer unlock()

	o := c.deps.Store.Get(id)
	needsVenue, err := c.deps.Store.CheckCancel(owner, id)
	if err != nil {
		return c.reject(err)
	}

	if needsVenue {
		action := venue.Cancel{Asset: o.Asset, OrderID: venue.VenueOrderID(id)}
		if err := c.deps.Venue.SendAction(ctx, action.Encode()); err != nil {
			return c.fail(o.Asset, domain.NewCollaboratorError("venue", "SendAction", err))
		}
	}

	if _, err := c.deps.Store.Cancel(owner, id); err != nil {
		return c.reject(err)
	}
	if _, ok := c.deps.Gate.Pending(id); ok {
		c.deps.Gate.ConsumeCommitment(id)
		c.deps.Store.ClearCommit(id)
	}

	c.deps.Events.Publish(event.OrderCancelled{ID: id, ExecutedSize: o.ExecutedSize, VenueCancel: needsVenue})
	c.logger.Info("Order cancelled",
		slog.String("order", id.Hex()),
		slog.Int64("executed", o.ExecutedSize),
		slog.Bool("venue_cancel", needsVenue))
	return nil
}

// ======================================================================================
// Helpers
// ======================================================================================

func (c *Coordinator) reject(err error) error {
	c.deps.Metrics.Rejected(domain.KindOf(err))
	return err
}

// fail is reject for attempts that reached the market checks; they count
// against the asset's success rate.
func (c *Coordinator) fail(asset uint32, err error) error {
	if c.deps.Tracker != nil {
		c.deps.Tracker.RecordFailure(asset)
	}
	return c.reject(err)
}

func (c *Coordinator) recoverPanic(id common.Hash, err *error) {
	if r := recover(); r != nil {
		c.logger.Error("CRITICAL_PANIC_DETECTED", slog.String("order", id.Hex()), slog.Any("panic", r))
		*err = domain.NewCollaboratorError("engine", "ExecuteSlice", fmt.Errorf("panic: %v", r))
	}
}
