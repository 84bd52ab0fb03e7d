// Package orders owns every Order record. Other components refer to orders
// by id only and mutate them through the methods here.
package orders

import (
	"encoding/binary"
	"iter"
	"slices"
	"sync"
	"time"

	"stealth_twap/internal/domain"
	"stealth_twap/pkg/quant"
	"stealth_twap/pkg/safe"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// Limits are the creation-time validation bounds.
type Limits struct {
	MinInterval time.Duration
	MaxSlices   int64
}

// DefaultLimits returns the production bounds.
func DefaultLimits() Limits {
	return Limits{MinInterval: 30 * time.Second, MaxSlices: 100}
}

// Store is an in-memory arena of orders keyed by opaque id. Thread-safe.
type Store struct {
	limits Limits
	clock  domain.Clock

	mu      sync.RWMutex
	orders  map[common.Hash]*domain.Order
	byOwner map[common.Address][]common.Hash
	counter uint64
}

// NewStore creates an empty store.
func NewStore(limits Limits, clock domain.Clock) *Store {
	return &Store{
		limits:  limits,
		clock:   clock,
		orders:  make(map[common.Hash]*domain.Order),
		byOwner: make(map[common.Address][]common.Hash),
	}
}

// Validate checks creation parameters without touching the store.
func (s *Store) Validate(p domain.OrderParams) error {
	if p.TotalSize <= 0 || p.SliceSize <= 0 {
		return domain.ErrInvalidSize
	}
	if p.SliceSize > p.TotalSize {
		return domain.ErrSliceTooLarge
	}
	if p.Interval < s.limits.MinInterval {
		return domain.ErrIntervalTooShort
	}
	if p.TotalSize/p.SliceSize > s.limits.MaxSlices {
		return domain.ErrTooManySlices
	}
	if p.MinPrice >= p.MaxPrice {
		return domain.ErrInvalidPriceRange
	}
	return nil
}

// Create validates p and stores a new active order, returning its id.
// The id mixes a monotonic counter in, so identical parameters never collide.
func (s *Store) Create(p domain.OrderParams) (common.Hash, error) {
	if err := s.Validate(p); err != nil {
		return common.Hash{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id := orderID(p, s.counter)
	now := s.clock.Now()

	s.orders[id] = &domain.Order{
		ID:                id,
		Owner:             p.Owner,
		Asset:             p.Asset,
		TotalSize:         p.TotalSize,
		BaseSliceSize:     p.SliceSize,
		MinPrice:          p.MinPrice,
		MaxPrice:          p.MaxPrice,
		BaseInterval:      p.Interval,
		NextExecutionTime: now,
		IsBuy:             p.IsBuy,
		Active:            true,
		SecretCommitment:  p.SecretCommitment,
		Adaptive:          p.Adaptive,
		CreatedAt:         now,
		CreatedSeq:        s.counter,
	}
	s.byOwner[p.Owner] = append(s.byOwner[p.Owner], id)
	return id, nil
}

func orderID(p domain.OrderParams, counter uint64) common.Hash {
	var buf [20]byte
	binary.BigEndian.PutUint32(buf[0:4], p.Asset)
	binary.BigEndian.PutUint64(buf[4:12], uint64(p.TotalSize))
	binary.BigEndian.PutUint64(buf[12:20], counter)
	return crypto.Keccak256Hash(p.Owner[:], buf[0:4], buf[4:12], buf[12:20], p.SecretCommitment[:])
}

// Get returns a snapshot of the order, or the zero Order (inactive, sizes 0)
// when id is unknown.
func (s *Store) Get(id common.Hash) domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}
	}
	return o.Clone()
}

// Exists reports whether id was ever created.
func (s *Store) Exists(id common.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.orders[id]
	return ok
}

// CheckCancel reports whether owner may cancel id and whether a venue cancel
// would be needed, without mutating anything.
func (s *Store) CheckCancel(owner common.Address, id common.Hash) (needsVenueCancel bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkCancelLocked(owner, id)
}

func (s *Store) checkCancelLocked(owner common.Address, id common.Hash) (bool, error) {
	o, ok := s.orders[id]
	if !ok {
		return false, domain.ErrNotActive
	}
	if o.Owner != owner {
		return false, domain.ErrNotOwner
	}
	if !o.Active {
		return false, domain.ErrNotActive
	}
	return o.ExecutedSize > 0, nil
}

// Cancel deactivates id. It returns whether part of the order was already
// filled, in which case the caller owes the venue a cancel action.
func (s *Store) Cancel(owner common.Address, id common.Hash) (needsVenueCancel bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needs, err := s.checkCancelLocked(owner, id)
	if err != nil {
		return false, err
	}
	o := s.orders[id]
	o.Active = false
	o.Cancelled = true
	return needs, nil
}

// ListForOwner yields the owner's order ids in creation order. The sequence
// is a snapshot and can be iterated more than once.
func (s *Store) ListForOwner(owner common.Address) iter.Seq[common.Hash] {
	s.mu.RLock()
	ids := slices.Clone(s.byOwner[owner])
	s.mu.RUnlock()
	return slices.Values(ids)
}

// ======================================================================================
// Coordinator mutations
// ======================================================================================

// ApplyFill records an executed slice and schedules the next one. When the
// order becomes fully executed it is deactivated. Returns the updated snapshot.
func (s *Store) ApplyFill(id common.Hash, size int64, price quant.Price, next time.Time) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || !o.Active {
		return domain.Order{}, domain.ErrNotActive
	}
	if size <= 0 || size > o.Remaining() {
		return domain.Order{}, domain.ErrInvalidSize
	}

	o.ExecutedSize = safe.Add(o.ExecutedSize, size)
	o.Prices = append(o.Prices, price)
	o.Sizes = append(o.Sizes, size)
	if next.After(o.NextExecutionTime) {
		o.NextExecutionTime = next
	}
	if o.ExecutedSize >= o.TotalSize {
		o.Active = false
	}
	return o.Clone(), nil
}

// Defer pushes the next execution time forward. Earlier times are ignored.
func (s *Store) Defer(id common.Hash, next time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || !o.Active {
		return time.Time{}, domain.ErrNotActive
	}
	if next.After(o.NextExecutionTime) {
		o.NextExecutionTime = next
	}
	return o.NextExecutionTime, nil
}

// SetCommit mirrors a pending commitment onto the order record.
func (s *Store) SetCommit(id, hash common.Hash, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.CommitHash = hash
		o.CommitTime = at
	}
}

// ClearCommit removes the mirrored commitment after it was consumed.
func (s *Store) ClearCommit(id common.Hash) {
	s.SetCommit(id, common.Hash{}, time.Time{})
}

// AveragePrice returns the size-weighted average execution price.
func AveragePrice(o domain.Order) quant.Price {
	notional := decimal.Zero
	var total int64
	for i, p := range o.Prices {
		notional = notional.Add(decimal.NewFromInt(int64(p)).Mul(decimal.NewFromInt(o.Sizes[i])))
		total = safe.Add(total, o.Sizes[i])
	}
	if total == 0 {
		return 0
	}
	return quant.Price(notional.Div(decimal.NewFromInt(total)).IntPart())
}
