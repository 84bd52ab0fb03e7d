// Package service is the caller-facing operations surface of the engine.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"stealth_twap/internal/adaptive"
	"stealth_twap/internal/analytics"
	"stealth_twap/internal/domain"
	"stealth_twap/internal/engine"
	"stealth_twap/internal/event"
	"stealth_twap/internal/infra/storage"
	"stealth_twap/internal/orders"
	"stealth_twap/internal/privacy"
	"stealth_twap/internal/venue"
	"stealth_twap/pkg/quant"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotInBatch is returned by BatchProof for an id outside the batch.
	ErrNotInBatch = errors.New("order not in batch")
	ErrNoArchive  = errors.New("no archive configured")
	ErrNoVenue    = errors.New("no venue configured")
)

// Archive is the persisted event log and report archive. storage.Journal implements it.
type Archive interface {
	EventsFor(ctx context.Context, key string) ([]storage.EventRecord, error)
	GetReport(ctx context.Context, orderID string) (*storage.ReportRecord, error)
	ReportsForOwner(ctx context.Context, owner string) ([]storage.ReportRecord, error)
}

// Batch groups orders of one owner under a merkle root.
type Batch struct {
	ID         uuid.UUID
	Owner      common.Address
	OrderIDs   []common.Hash
	MerkleRoot common.Hash
	CreatedAt  time.Time
	Executions int
}

// MemberResult is the outcome of one order inside a batch pass.
type MemberResult struct {
	OrderID common.Hash
	Result  domain.ExecutionResult
	Err     error
}

// MemberCredentials open one batch member: its secret, and the reveal nonce
// when the order has a pending commitment.
type MemberCredentials struct {
	Secret      common.Hash
	RevealNonce common.Hash
}

// BatchResult is the outcome of one ExecuteBatch call.
type BatchResult struct {
	BatchID       uuid.UUID
	Members       []MemberResult
	ExecutedCount int
}

// OrderStatus is the read model returned by GetOrderStatus.
type OrderStatus struct {
	Order           domain.Order
	State           domain.State
	RemainingSlices int64
	AveragePrice    quant.Price
	PendingCommit   bool
	// SuggestedDelay is a scheduling hint only.
	SuggestedDelay time.Duration
}

// MarketAnalytics is the read model returned by GetMarketAnalytics.
type MarketAnalytics struct {
	Asset      uint32
	Metrics    analytics.AssetMetrics
	Conditions domain.MarketConditions
	Global     analytics.GlobalStats
}

// Deps wires the service. Conditions, Events, Archive and Venue are optional.
type Deps struct {
	Store       *orders.Store
	Coordinator *engine.Coordinator
	Gate        *privacy.Gate
	Tracker     *analytics.Tracker
	Adaptive    *adaptive.Controller
	Conditions  domain.ConditionsSource
	Events      event.Sink
	Archive     Archive
	Venue       domain.Venue
	Clock       domain.Clock
}

// TWAPService exposes order creation, execution, batching and analytics.
type TWAPService struct {
	deps             Deps
	batchConcurrency int

	mu      sync.RWMutex
	batches map[uuid.UUID]*Batch

	logger *slog.Logger
}

// NewTWAPService creates the service. batchConcurrency bounds the goroutines
// of one ExecuteBatch call; zero or less means unbounded.
func NewTWAPService(deps Deps, batchConcurrency int) *TWAPService {
	if deps.Events == nil {
		deps.Events = event.NewBus()
	}
	if deps.Adaptive == nil {
		deps.Adaptive = adaptive.NewController(adaptive.DefaultConfig())
	}
	return &TWAPService{
		deps:             deps,
		batchConcurrency: batchConcurrency,
		batches:          make(map[uuid.UUID]*Batch),
		logger:           slog.Default().With("module", "twap_service"),
	}
}

// ======================================================================================
// Orders
// ======================================================================================

// CreateOrder validates and stores a new order and starts tracking it.
func (s *TWAPService) CreateOrder(ctx context.Context, p domain.OrderParams) (common.Hash, error) {
	id, err := s.deps.Store.Create(p)
	if err != nil {
		return common.Hash{}, err
	}

	s.deps.Tracker.Initialize(id, p.Owner, p.Asset, p.TotalSize)
	s.deps.Events.Publish(event.OrderCreated{
		ID:        id,
		Owner:     p.Owner,
		Asset:     p.Asset,
		TotalSize: p.TotalSize,
		Adaptive:  p.Adaptive,
	})
	s.logger.Info("✅ Order created",
		slog.String("order", id.Hex()),
		slog.Uint64("asset", uint64(p.Asset)),
		slog.Int64("total", p.TotalSize),
		slog.Bool("adaptive", p.Adaptive))
	return id, nil
}

func (s *TWAPService) ExecuteSlice(ctx context.Context, caller common.Address, id, secret, revealNonce common.Hash) (domain.ExecutionResult, error) {
	return s.deps.Coordinator.ExecuteSlice(ctx, caller, id, secret, revealNonce)
}

func (s *TWAPService) ExecuteSliceWithProof(ctx context.Context, caller common.Address, id common.Hash, proof []byte, nullifier, revealNonce common.Hash) (domain.ExecutionResult, error) {
	return s.deps.Coordinator.ExecuteSliceWithProof(ctx, caller, id, proof, nullifier, revealNonce)
}

func (s *TWAPService) CommitToExecute(ctx context.Context, caller common.Address, id, commitHash common.Hash) (domain.Commitment, error) {
	return s.deps.Coordinator.CommitToExecute(ctx, caller, id, commitHash)
}

func (s *TWAPService) CancelOrder(ctx context.Context, owner common.Address, id common.Hash) error {
	return s.deps.Coordinator.Cancel(ctx, owner, id)
}

// GetOrderStatus returns the order snapshot. ok is false for unknown ids.
func (s *TWAPService) GetOrderStatus(ctx context.Context, id common.Hash) (OrderStatus, bool) {
	if !s.deps.Store.Exists(id) {
		return OrderStatus{}, false
	}

	o := s.deps.Store.Get(id)
	st := OrderStatus{
		Order:           o,
		State:           o.State(),
		RemainingSlices: o.RemainingSlices(),
		AveragePrice:    orders.AveragePrice(o),
	}
	if s.deps.Gate != nil {
		_, st.PendingCommit = s.deps.Gate.Pending(id)
	}

	var volatility int64
	if s.deps.Conditions != nil {
		if m, err := s.deps.Conditions.Conditions(ctx, o.Asset); err == nil {
			volatility = m.Volatility
		}
	}
	st.SuggestedDelay = s.deps.Adaptive.OptimalDelay(id, volatility)
	return st, true
}

// GetUserOrders lists the owner's order ids in creation order.
func (s *TWAPService) GetUserOrders(owner common.Address) []common.Hash {
	return slices.Collect(s.deps.Store.ListForOwner(owner))
}

func (s *TWAPService) GetMarketAnalytics(ctx context.Context, asset uint32) MarketAnalytics {
	ma := MarketAnalytics{
		Asset:   asset,
		Metrics: s.deps.Tracker.AssetMetrics(asset),
		Global:  s.deps.Tracker.GlobalStats(),
	}
	if s.deps.Conditions != nil {
		if m, err := s.deps.Conditions.Conditions(ctx, asset); err == nil {
			ma.Conditions = m
		}
	}
	return ma
}

func (s *TWAPService) GetOrderAnalytics(id common.Hash) (analytics.OrderReport, bool) {
	return s.deps.Tracker.OrderReport(id)
}

func (s *TWAPService) GetOwnerAnalytics(owner common.Address) analytics.OwnerStats {
	return s.deps.Tracker.OwnerStats(owner)
}

// ======================================================================================
// History
// ======================================================================================

// GetOrderHistory returns the journaled events of one order in emission order.
func (s *TWAPService) GetOrderHistory(ctx context.Context, id common.Hash) ([]storage.EventRecord, error) {
	if s.deps.Archive == nil {
		return nil, ErrNoArchive
	}
	return s.deps.Archive.EventsFor(ctx, id.Hex())
}

// GetArchivedReport returns the persisted report of a completed order, nil when absent.
func (s *TWAPService) GetArchivedReport(ctx context.Context, id common.Hash) (*storage.ReportRecord, error) {
	if s.deps.Archive == nil {
		return nil, ErrNoArchive
	}
	return s.deps.Archive.GetReport(ctx, id.Hex())
}

// GetArchivedReports returns the owner's persisted reports, newest first.
func (s *TWAPService) GetArchivedReports(ctx context.Context, owner common.Address) ([]storage.ReportRecord, error) {
	if s.deps.Archive == nil {
		return nil, ErrNoArchive
	}
	return s.deps.Archive.ReportsForOwner(ctx, owner.Hex())
}

// ======================================================================================
// Account
// ======================================================================================

// TransferBalance moves amount between the spot and perp balances of the
// executing account.
func (s *TWAPService) TransferBalance(ctx context.Context, amount uint64, towardPerp bool) error {
	if s.deps.Venue == nil {
		return ErrNoVenue
	}
	if amount == 0 {
		return domain.ErrInvalidSize
	}
	action := venue.Transfer{Amount: amount, TowardPerp: towardPerp}
	if err := s.deps.Venue.SendAction(ctx, action.Encode()); err != nil {
		return domain.NewCollaboratorError("venue", "SendAction", err)
	}
	s.logger.Info("Balance transferred",
		slog.Uint64("amount", amount),
		slog.Bool("toward_perp", towardPerp))
	return nil
}

// ======================================================================================
// Batches
// ======================================================================================

// CreateBatch registers ids under one merkle root. Every id must be an
// active order of owner.
func (s *TWAPService) CreateBatch(owner common.Address, ids []common.Hash) (Batch, error) {
	if len(ids) == 0 {
		return Batch{}, domain.ErrEmptyBatch
	}
	for _, id := range ids {
		o := s.deps.Store.Get(id)
		if !o.Active {
			return Batch{}, domain.ErrNotActive
		}
		if o.Owner != owner {
			return Batch{}, domain.ErrNotOwner
		}
	}

	b := &Batch{
		ID:         uuid.New(),
		Owner:      owner,
		OrderIDs:   slices.Clone(ids),
		MerkleRoot: privacy.MerkleRoot(ids),
		CreatedAt:  s.deps.Clock.Now(),
	}

	s.mu.Lock()
	s.batches[b.ID] = b
	s.mu.Unlock()

	s.deps.Events.Publish(event.BatchCreated{BatchID: b.ID, MerkleRoot: b.MerkleRoot, Count: len(ids)})
	s.logger.Info("Batch created",
		slog.String("batch", b.ID.String()),
		slog.String("root", b.MerkleRoot.Hex()),
		slog.Int("count", len(ids)))
	return s.snapshot(b), nil
}

// GetBatch returns a copy of the batch.
func (s *TWAPService) GetBatch(batchID uuid.UUID) (Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[batchID]
	if !ok {
		return Batch{}, false
	}
	return s.snapshot(b), true
}

// BatchProof returns the inclusion proof of id in the batch root.
func (s *TWAPService) BatchProof(batchID uuid.UUID, id common.Hash) ([]privacy.ProofStep, error) {
	b, ok := s.GetBatch(batchID)
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	idx := slices.Index(b.OrderIDs, id)
	proof, ok := privacy.MerkleProof(b.OrderIDs, idx)
	if !ok {
		return nil, ErrNotInBatch
	}
	return proof, nil
}

// ExecuteBatch makes one slice attempt per member concurrently. creds maps
// order id to its credentials; a member without an entry fails with ErrInvalidSecret.
// Member failures are reported per member and never abort the others.
func (s *TWAPService) ExecuteBatch(ctx context.Context, caller common.Address, batchID uuid.UUID, creds map[common.Hash]MemberCredentials) (BatchResult, error) {
	b, ok := s.GetBatch(batchID)
	if !ok {
		return BatchResult{}, domain.ErrBatchNotFound
	}

	members := make([]MemberResult, len(b.OrderIDs))
	var g errgroup.Group
	if s.batchConcurrency > 0 {
		g.SetLimit(s.batchConcurrency)
	}
	for i, id := range b.OrderIDs {
		g.Go(func() error {
			members[i].OrderID = id
			cred, ok := creds[id]
			if !ok {
				members[i].Err = domain.ErrInvalidSecret
				return nil
			}
			members[i].Result, members[i].Err = s.deps.Coordinator.ExecuteSlice(ctx, caller, id, cred.Secret, cred.RevealNonce)
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{BatchID: batchID, Members: members}
	for _, m := range members {
		if m.Err == nil && m.Result.Success {
			res.ExecutedCount++
		}
	}

	s.mu.Lock()
	if stored, ok := s.batches[batchID]; ok {
		stored.Executions++
	}
	s.mu.Unlock()

	s.deps.Events.Publish(event.BatchExecuted{BatchID: batchID, ExecutedCount: res.ExecutedCount})
	s.logger.Info("Batch executed",
		slog.String("batch", batchID.String()),
		slog.Int("executed", res.ExecutedCount),
		slog.Int("members", len(members)))
	return res, nil
}

func (s *TWAPService) snapshot(b *Batch) Batch {
	c := *b
	c.OrderIDs = slices.Clone(b.OrderIDs)
	return c
}
