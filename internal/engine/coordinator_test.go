package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stealth_twap/internal/adaptive"
	"stealth_twap/internal/analytics"
	"stealth_twap/internal/clock"
	"stealth_twap/internal/domain"
	"stealth_twap/internal/event"
	"stealth_twap/internal/orders"
	"stealth_twap/internal/privacy"
	"stealth_twap/internal/venue"
	"stealth_twap/pkg/quant"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alice  = common.HexToAddress("0xa11ce")
	bob    = common.HexToAddress("0xb0b")
	secret = common.HexToHash("0x5ec4e7")
)

// ----------------------------------------------------------------------------
// Fakes
// ----------------------------------------------------------------------------

type fakeOracle struct {
	mu       sync.Mutex
	price    quant.Price
	bid, ask quant.Price
	err      error
}

func (f *fakeOracle) set(p quant.Price) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p
}

func (f *fakeOracle) GetPrice(context.Context, uint32) (quant.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.err
}

func (f *fakeOracle) GetBBO(context.Context, uint32) (quant.Price, quant.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bid, f.ask, f.err
}

type fakeConditions struct {
	m   domain.MarketConditions
	err error
}

func (f fakeConditions) Conditions(context.Context, uint32) (domain.MarketConditions, error) {
	return f.m, f.err
}

type fakeVerifier struct {
	ok     bool
	err    error
	inputs []common.Hash
}

func (f *fakeVerifier) Verify(_ context.Context, _ []byte, inputs []common.Hash) (bool, error) {
	f.inputs = inputs
	return f.ok, f.err
}

// fixedEntropy makes every jitter equal to the encoded delay modulo its bound.
type fixedEntropy time.Duration

func (f fixedEntropy) Sample(common.Hash, common.Address) common.Hash {
	var h common.Hash
	binary.BigEndian.PutUint64(h[:8], uint64(f))
	return h
}

type countingMetrics struct {
	slices, deferrals atomic.Int64
	mu                sync.Mutex
	rejected          map[domain.Kind]int
}

func (m *countingMetrics) SliceExecuted(uint32, int64) { m.slices.Add(1) }
func (m *countingMetrics) Deferred()                   { m.deferrals.Add(1) }
func (m *countingMetrics) Rejected(k domain.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[k]++
}

type harness struct {
	clk      *clock.Manual
	store    *orders.Store
	gate     *privacy.Gate
	tracker  *analytics.Tracker
	oracle   *fakeOracle
	paper    *venue.PaperVenue
	events   *event.Recorder
	metrics  *countingMetrics
	verifier *fakeVerifier
	coord    *Coordinator
}

func newHarness(t *testing.T, entropy privacy.Entropy, conditions domain.ConditionsSource) *harness {
	t.Helper()
	clk := clock.NewManual(t0)
	h := &harness{
		clk:      clk,
		store:    orders.NewStore(orders.DefaultLimits(), clk),
		gate:     privacy.NewGate(privacy.Config{MinCommitDelay: 10 * time.Second, RevealWindow: time.Minute}, clk, entropy),
		tracker:  analytics.NewTracker(analytics.DefaultConfig(), clk),
		oracle:   &fakeOracle{price: 50_000},
		paper:    venue.NewPaperVenue(),
		events:   &event.Recorder{},
		metrics:  &countingMetrics{rejected: make(map[domain.Kind]int)},
		verifier: &fakeVerifier{ok: true},
	}
	h.paper.Deposit(alice, 1_000_000)
	h.coord = NewCoordinator(DefaultConfig(), Deps{
		Store:      h.store,
		Gate:       h.gate,
		Adaptive:   adaptive.NewController(adaptive.DefaultConfig()),
		Tracker:    h.tracker,
		Oracle:     h.oracle,
		Margin:     h.paper,
		Venue:      h.paper,
		Conditions: conditions,
		Verifier:   h.verifier,
		Events:     h.events,
		Metrics:    h.metrics,
		Clock:      clk,
	})
	return h
}

// newOrder creates total=100, slice=20, interval=300s, range [45000, 55000].
func (h *harness) newOrder(t *testing.T, adaptiveOrder bool) common.Hash {
	t.Helper()
	id, err := h.store.Create(domain.OrderParams{
		Owner:            alice,
		Asset:            1,
		TotalSize:        100,
		SliceSize:        20,
		Interval:         300 * time.Second,
		MinPrice:         45_000,
		MaxPrice:         55_000,
		IsBuy:            true,
		Adaptive:         adaptiveOrder,
		SecretCommitment: privacy.HashSecret(secret),
	})
	require.NoError(t, err)
	o := h.store.Get(id)
	h.tracker.Initialize(id, o.Owner, o.Asset, o.TotalSize)
	return id
}

func noJitter() privacy.Entropy { return fixedEntropy(0) }

// ----------------------------------------------------------------------------
// Scenarios
// ----------------------------------------------------------------------------

func TestExecuteSlice_FirstSlice(t *testing.T) {
	h := newHarness(t, noJitter(), nil)
	id := h.newOrder(t, false)

	res, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(20), res.ExecutedAmount)
	require.Equal(t, quant.Price(50_000), res.AveragePrice)

	o := h.store.Get(id)
	require.Equal(t, int64(20), o.ExecutedSize)
	require.Equal(t, int64(4), o.RemainingSlices())
	require.Equal(t, t0.Add(300*time.Second), o.NextExecutionTime)

	evs := h.events.OfType(event.EvSliceExecuted)
	require.Len(t, evs, 1)
	ev := evs[0].(event.SliceExecuted)
	require.Equal(t, int64(20), ev.ExecutedSize)
	require.Equal(t, quant.Price(50_000), ev.Price)

	fills := h.paper.GetFills()
	require.Len(t, fills, 1)
	require.Equal(t, uint64(20), fills[0].Order.Size)
	require.Equal(t, venue.ClientOrderID(id, 0), fills[0].Order.ClientOrderID)
	require.Equal(t, int64(1), h.metrics.slices.Load())
}

func TestExecuteSlice_WrongSecretNeverMutates(t *testing.T) {
	h := newHarness(t, noJitter(), nil)
	id := h.newOrder(t, false)

	_, err := h.coord.ExecuteSlice(context.Background(), alice, id, secret, common.Hash{})
	require.NoError(t, err)
	before := h.store.Get(id)

	h.clk.Advance(time.Hour)
	for _, caller := range []common.Address{alice, bob} {
		_, err = h.coord.ExecuteSlice(context.Background(), caller, id, common.HexToHash("0xbad"), common.Hash{})
		require.ErrorIs(t, err, domain.ErrInvalidSecret)
	}

	after := h.store.Get(id)
	require.Equal(t, int64(20), after.ExecutedSize)
	require.Equal(t, before.NextExecutionTime, after.NextExecutionTime)
	require.Equal(t, before.Prices, after.Prices)
	require.Len(t, h.paper.GetFills(), 1)
	require.Equal(t, 2, h.metrics.rejected[domain.KindAuthorization])
}

func TestExecuteSlice_RunsToCompletion(t *testing.T) {
	h := newHarness(t, noJitter(), nil)
	id := h.newOrder(t, false)

	prices := []quant.Price{50_000, 50_100, 49_900, 50_050, 50_000}
	var last domain.ExecutionResult
	for i, p := range prices {
		h.oracle.set(p)
		res, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.NoError(t, err, "slice %d", i)
		last = res
		h.clk.Advance(300 * time.Second)
	}

	require.True(t, last.Completed)
	require.Equal(t, quant.Price(50_010), last.AveragePrice)

	o := h.store.Get(id)
	require.Equal(t, int64(100), o.ExecutedSize)
	require.False(t, o.Active)
	require.Equal(t, domain.StateCompleted, o.State())

	evs := h.events.OfType(event.EvOrderCompleted)
	require.Len(t, evs, 1)
	done := evs[0].(event.OrderCompleted)
	require.Equal(t, int64(100), done.TotalExecuted)
	require.Equal(t, quant.Price(50_010), done.AveragePrice)

	rep, ok := h.tracker.OrderReport(id)
	require.True(t, ok)
	require.True(t, rep.Completed)
	require.GreaterOrEqual(t, int64(rep.Score), int64(0))
	require.LessOrEqual(t, int64(rep.Score), int64(10_000))

	_, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
	require.ErrorIs(t, err, domain.ErrNotActive)
}

func TestCancel(t *testing.T) {
	t.Run("after a fill sends one venue cancel", func(t *testing.T) {
		h := newHarness(t, noJitter(), nil)
		id := h.newOrder(t, false)

		_, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.NoError(t, err)

		require.ErrorIs(t, h.coord.Cancel(context.Background(), bob, id), domain.ErrNotOwner)
		require.NoError(t, h.coord.Cancel(context.Background(), alice, id))

		o := h.store.Get(id)
		require.False(t, o.Active)
		require.Equal(t, domain.StateCancelled, o.State())

		cancels := h.paper.GetCancels()
		require.Len(t, cancels, 1)
		require.Equal(t, venue.VenueOrderID(id), cancels[0].OrderID)

		require.ErrorIs(t, h.coord.Cancel(context.Background(), alice, id), domain.ErrNotActive)
		require.Len(t, h.paper.GetCancels(), 1)
	})

	t.Run("unfilled order needs no venue action", func(t *testing.T) {
		h := newHarness(t, noJitter(), nil)
		id := h.newOrder(t, false)

		require.NoError(t, h.coord.Cancel(context.Background(), alice, id))
		require.Empty(t, h.paper.GetCancels())
		ev := h.events.OfType(event.EvOrderCancelled)[0].(event.OrderCancelled)
		require.False(t, ev.VenueCancel)
	})

	t.Run("venue failure keeps the order active", func(t *testing.T) {
		h := newHarness(t, noJitter(), nil)
		id := h.newOrder(t, false)
		_, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.NoError(t, err)

		h.paper.FailNext(errors.New("gateway down"))
		err = h.coord.Cancel(context.Background(), alice, id)
		require.Equal(t, domain.KindInfrastructure, domain.KindOf(err))

		o := h.store.Get(id)
		require.True(t, o.Active)
	})
}

func TestExecuteSlice_AdaptiveHighVolatility(t *testing.T) {
	cond := fakeConditions{m: domain.MarketConditions{Volatility: 600, Liquidity: 5_000, MidPrice: 50_000}}
	h := newHarness(t, noJitter(), cond)
	id := h.newOrder(t, true)

	res, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
	require.NoError(t, err)
	require.Equal(t, int64(10), res.ExecutedAmount)

	o := h.store.Get(id)
	require.Equal(t, int64(10), o.ExecutedSize)
	// high volatility shortens the interval to 60%
	require.Equal(t, t0.Add(180*time.Second), o.NextExecutionTime)
}

func TestExecuteSlice_AdaptiveNeedsConditions(t *testing.T) {
	h := newHarness(t, noJitter(), fakeConditions{err: errors.New("no data")})
	id := h.newOrder(t, true)

	_, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
	require.Equal(t, domain.KindInfrastructure, domain.KindOf(err))
	require.Equal(t, int64(0), h.store.Get(id).ExecutedSize)

	// fixed-size orders do not depend on the sampler
	fixed := h.newOrder(t, false)
	_, err = h.coord.ExecuteSlice(context.Background(), bob, fixed, secret, common.Hash{})
	require.NoError(t, err)
}

func TestExecuteSlice_MarketImpact(t *testing.T) {
	t.Run("thin book is capped", func(t *testing.T) {
		cond := fakeConditions{m: domain.MarketConditions{Liquidity: 1, Spread: 5_000, MidPrice: 50_000}}
		h := newHarness(t, noJitter(), cond)
		id := h.newOrder(t, false)

		res, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.NoError(t, err)
		require.Equal(t, quant.Bps(adaptive.DefaultConfig().MaxImpactBps), res.MarketImpactBps)
	})

	t.Run("unknown depth reports none", func(t *testing.T) {
		cond := fakeConditions{m: domain.MarketConditions{Spread: 50, MidPrice: 50_000}}
		h := newHarness(t, noJitter(), cond)
		id := h.newOrder(t, false)

		res, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.NoError(t, err)
		require.Zero(t, res.MarketImpactBps)

		rep, _ := h.tracker.OrderReport(id)
		require.Empty(t, rep.Alerts)
	})
}

// ----------------------------------------------------------------------------
// Rejections
// ----------------------------------------------------------------------------

func TestExecuteSlice_Rejections(t *testing.T) {
	t.Run("too early", func(t *testing.T) {
		h := newHarness(t, noJitter(), nil)
		id := h.newOrder(t, false)
		_, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.NoError(t, err)

		h.clk.Advance(299 * time.Second)
		_, err = h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.ErrorIs(t, err, domain.ErrTooEarly)
		require.True(t, domain.IsRetriable(err))
	})

	t.Run("price out of range", func(t *testing.T) {
		h := newHarness(t, noJitter(), nil)
		id := h.newOrder(t, false)
		h.oracle.set(56_000)

		_, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.ErrorIs(t, err, domain.ErrPriceOutOfRange)
		require.Equal(t, int64(0), h.store.Get(id).ExecutedSize)
		require.Equal(t, int64(1), h.tracker.AssetMetrics(1).Failures)
	})

	t.Run("buy uses the ask", func(t *testing.T) {
		h := newHarness(t, noJitter(), nil)
		id := h.newOrder(t, false)
		h.oracle.bid, h.oracle.ask = 54_000, 55_500

		_, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.ErrorIs(t, err, domain.ErrPriceOutOfRange)

		h.oracle.ask = 50_200
		res, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.NoError(t, err)
		require.Equal(t, quant.Price(50_200), res.AveragePrice)
		require.Equal(t, quant.Bps(40), res.SlippageBps)
	})

	t.Run("insufficient margin", func(t *testing.T) {
		h := newHarness(t, noJitter(), nil)
		id := h.newOrder(t, false)
		h.paper.Deposit(alice, -1_000_000)

		_, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.ErrorIs(t, err, domain.ErrInsufficientMargin)
		require.Empty(t, h.paper.GetFills())
	})

	t.Run("oracle failure", func(t *testing.T) {
		h := newHarness(t, noJitter(), nil)
		id := h.newOrder(t, false)
		boom := errors.New("oracle offline")
		h.oracle.err = boom

		_, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.ErrorIs(t, err, boom)
		var ce *domain.CollaboratorError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, "oracle", ce.Collaborator)
	})

	t.Run("venue failure leaves no trace", func(t *testing.T) {
		h := newHarness(t, noJitter(), nil)
		id := h.newOrder(t, false)
		before := h.store.Get(id)

		boom := errors.New("venue timeout")
		h.coord.deps.Venue = failingVenue{err: boom}

		_, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		require.ErrorIs(t, err, boom)
		require.True(t, domain.IsRetriable(err))

		after := h.store.Get(id)
		require.Equal(t, before.ExecutedSize, after.ExecutedSize)
		require.Equal(t, before.NextExecutionTime, after.NextExecutionTime)
		require.Empty(t, after.Prices)
		require.Empty(t, h.events.OfType(event.EvSliceExecuted))
	})
}

type failingVenue struct{ err error }

func (f failingVenue) SendAction(context.Context, []byte) error { return f.err }

// ----------------------------------------------------------------------------
// Deferral, commit-reveal, proofs
// ----------------------------------------------------------------------------

func TestExecuteSlice_Deferral(t *testing.T) {
	h := newHarness(t, fixedEntropy(5*time.Second), nil)
	id := h.newOrder(t, false)

	res, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.True(t, res.Deferred)

	o := h.store.Get(id)
	require.Equal(t, int64(0), o.ExecutedSize)
	require.Equal(t, t0.Add(5*time.Second), o.NextExecutionTime)

	evs := h.events.OfType(event.EvMEVDeferral)
	require.Len(t, evs, 1)
	def := evs[0].(event.MEVDeferral)
	require.Equal(t, 5*time.Second, def.NewDelay)
	require.Equal(t, t0.Add(5*time.Second), def.NewExecutionTime)

	// past next + window the attempt goes through
	h.clk.Advance(DefaultConfig().MEVWindow + 5*time.Second)
	res, err = h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(1), h.metrics.deferrals.Load())

	// jitter is added to the next slot
	now := h.clk.Now()
	require.Equal(t, now.Add(300*time.Second+5*time.Second), h.store.Get(id).NextExecutionTime)
}

func TestCommitReveal(t *testing.T) {
	h := newHarness(t, noJitter(), nil)
	id := h.newOrder(t, false)
	nonce := common.HexToHash("0x0e0e")
	commit := privacy.RevealHash(id, nonce)

	_, err := h.coord.CommitToExecute(context.Background(), bob, id, commit)
	require.ErrorIs(t, err, domain.ErrNotOwner)

	cm, err := h.coord.CommitToExecute(context.Background(), alice, id, commit)
	require.NoError(t, err)
	require.Equal(t, t0, cm.CommitTime)
	require.Equal(t, commit, h.store.Get(id).CommitHash)
	require.Len(t, h.events.OfType(event.EvCommitRegistered), 1)

	_, err = h.coord.CommitToExecute(context.Background(), alice, id, commit)
	require.ErrorIs(t, err, domain.ErrAlreadyCommitted)

	_, err = h.coord.ExecuteSlice(context.Background(), bob, id, secret, nonce)
	require.ErrorIs(t, err, domain.ErrRevealTooEarly)

	h.clk.Advance(10 * time.Second)
	_, err = h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.HexToHash("0x0f0f"))
	require.ErrorIs(t, err, domain.ErrInvalidReveal)

	res, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, nonce)
	require.NoError(t, err)
	require.True(t, res.Success)

	_, pending := h.gate.Pending(id)
	require.False(t, pending)
	require.Equal(t, common.Hash{}, h.store.Get(id).CommitHash)
}

func TestCommitReveal_Expired(t *testing.T) {
	h := newHarness(t, noJitter(), nil)
	id := h.newOrder(t, false)
	nonce := common.HexToHash("0x0e0e")

	_, err := h.coord.CommitToExecute(context.Background(), alice, id, privacy.RevealHash(id, nonce))
	require.NoError(t, err)

	h.clk.Advance(2 * time.Minute)
	_, err = h.coord.ExecuteSlice(context.Background(), bob, id, secret, nonce)
	require.ErrorIs(t, err, domain.ErrRevealExpired)

	// an expired commitment can be replaced
	_, err = h.coord.CommitToExecute(context.Background(), alice, id, privacy.RevealHash(id, nonce))
	require.NoError(t, err)
}

func TestExecuteSliceWithProof(t *testing.T) {
	t.Run("valid proof spends the nullifier", func(t *testing.T) {
		h := newHarness(t, noJitter(), nil)
		id := h.newOrder(t, false)
		nullifier := common.HexToHash("0x4e11")

		res, err := h.coord.ExecuteSliceWithProof(context.Background(), bob, id, []byte("proof"), nullifier, common.Hash{})
		require.NoError(t, err)
		require.True(t, res.Success)
		require.True(t, h.gate.IsNullifierSpent(nullifier))
		require.Equal(t, []common.Hash{privacy.HashSecret(secret), id, nullifier}, h.verifier.inputs)

		h.clk.Advance(time.Hour)
		_, err = h.coord.ExecuteSliceWithProof(context.Background(), bob, id, []byte("proof"), nullifier, common.Hash{})
		require.ErrorIs(t, err, domain.ErrNullifierReused)
	})

	t.Run("rejected proof keeps the nullifier", func(t *testing.T) {
		h := newHarness(t, noJitter(), nil)
		id := h.newOrder(t, false)
		nullifier := common.HexToHash("0x4e12")
		h.verifier.ok = false

		_, err := h.coord.ExecuteSliceWithProof(context.Background(), bob, id, nil, nullifier, common.Hash{})
		require.ErrorIs(t, err, domain.ErrInvalidProof)
		require.False(t, h.gate.IsNullifierSpent(nullifier))

		h.verifier.ok = true
		_, err = h.coord.ExecuteSliceWithProof(context.Background(), bob, id, nil, nullifier, common.Hash{})
		require.NoError(t, err)
	})

	t.Run("market rejection keeps the nullifier", func(t *testing.T) {
		h := newHarness(t, noJitter(), nil)
		id := h.newOrder(t, false)
		nullifier := common.HexToHash("0x4e13")
		h.paper.Deposit(alice, -1_000_000)

		_, err := h.coord.ExecuteSliceWithProof(context.Background(), bob, id, nil, nullifier, common.Hash{})
		require.ErrorIs(t, err, domain.ErrInsufficientMargin)
		require.False(t, h.gate.IsNullifierSpent(nullifier))
	})
}

// ----------------------------------------------------------------------------
// Concurrency
// ----------------------------------------------------------------------------

func TestExecuteSlice_SameOrderSerializes(t *testing.T) {
	h := newHarness(t, noJitter(), nil)
	id := h.newOrder(t, false)

	var wg sync.WaitGroup
	var ok, early atomic.Int64
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrTooEarly):
				early.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), ok.Load())
	require.Equal(t, int64(15), early.Load())
	require.Equal(t, int64(20), h.store.Get(id).ExecutedSize)
	require.Equal(t, 0, h.coord.locks.size())
}

// blockingVenue parks the first limit order until release is closed and
// forwards everything else to the paper venue.
type blockingVenue struct {
	*venue.PaperVenue
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingVenue(p *venue.PaperVenue) *blockingVenue {
	return &blockingVenue{PaperVenue: p, entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingVenue) SendAction(ctx context.Context, action []byte) error {
	if a, err := venue.Decode(action); err == nil {
		if _, ok := a.(venue.LimitOrder); ok {
			first := false
			b.once.Do(func() { first = true })
			if first {
				close(b.entered)
				<-b.release
			}
		}
	}
	return b.PaperVenue.SendAction(ctx, action)
}

func TestExecuteSlice_DifferentOrdersInParallel(t *testing.T) {
	h := newHarness(t, noJitter(), nil)
	bv := newBlockingVenue(h.paper)
	h.coord.deps.Venue = bv

	slow := h.newOrder(t, false)
	fast := h.newOrder(t, false)

	done := make(chan error, 1)
	go func() {
		_, err := h.coord.ExecuteSlice(context.Background(), bob, slow, secret, common.Hash{})
		done <- err
	}()
	<-bv.entered

	// the slow order is parked inside the venue call
	res, err := h.coord.ExecuteSlice(context.Background(), bob, fast, secret, common.Hash{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(20), h.store.Get(fast).ExecutedSize)
	require.Equal(t, int64(0), h.store.Get(slow).ExecutedSize)

	close(bv.release)
	require.NoError(t, <-done)
	require.Equal(t, int64(20), h.store.Get(slow).ExecutedSize)
	require.Len(t, h.paper.GetFills(), 2)
}

func TestCancel_WaitsForInFlightSlice(t *testing.T) {
	h := newHarness(t, noJitter(), nil)
	bv := newBlockingVenue(h.paper)
	h.coord.deps.Venue = bv
	id := h.newOrder(t, false)

	sliceDone := make(chan error, 1)
	go func() {
		_, err := h.coord.ExecuteSlice(context.Background(), bob, id, secret, common.Hash{})
		sliceDone <- err
	}()
	<-bv.entered

	cancelDone := make(chan error, 1)
	go func() {
		cancelDone <- h.coord.Cancel(context.Background(), alice, id)
	}()

	select {
	case err := <-cancelDone:
		t.Fatalf("cancel returned while a slice was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	require.True(t, h.store.Get(id).Active)

	close(bv.release)
	require.NoError(t, <-sliceDone)
	require.NoError(t, <-cancelDone)

	// the cancel saw the fill and sent a venue cancel after it
	o := h.store.Get(id)
	require.Equal(t, int64(20), o.ExecutedSize)
	require.Equal(t, domain.StateCancelled, o.State())
	require.Len(t, h.paper.GetFills(), 1)
	require.Len(t, h.paper.GetCancels(), 1)

	evs := h.events.Events()
	require.Equal(t, event.EvSliceExecuted, evs[len(evs)-2].GetType())
	require.Equal(t, event.EvOrderCancelled, evs[len(evs)-1].GetType())
}
