package domain

import (
	"time"

	"stealth_twap/pkg/quant"

	"github.com/ethereum/go-ethereum/common"
)

// State is the lifecycle state of an order.
type State int

const (
	StateActive State = iota
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCompleted:
		return "COMPLETED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// OrderParams are the caller-supplied creation parameters.
// SecretCommitment is keccak256(secret); the secret itself never reaches the store.
type OrderParams struct {
	Owner            common.Address
	Asset            uint32
	TotalSize        int64
	SliceSize        int64
	Interval         time.Duration
	MinPrice         quant.Price
	MaxPrice         quant.Price
	IsBuy            bool
	Adaptive         bool
	SecretCommitment common.Hash
}

// Order is a time-sliced execution order.
// Invariants: 0 <= ExecutedSize <= TotalSize, Active goes true->false once,
// SecretCommitment never changes, NextExecutionTime never decreases.
type Order struct {
	ID                common.Hash
	Owner             common.Address
	Asset             uint32
	TotalSize         int64
	ExecutedSize      int64
	BaseSliceSize     int64
	MinPrice          quant.Price
	MaxPrice          quant.Price
	BaseInterval      time.Duration
	NextExecutionTime time.Time
	IsBuy             bool
	Active            bool
	Cancelled         bool
	SecretCommitment  common.Hash
	CommitHash        common.Hash // zero when no commitment is pending
	CommitTime        time.Time
	Adaptive          bool
	CreatedAt         time.Time
	CreatedSeq        uint64

	// Prices and Sizes are parallel: one entry per executed slice.
	Prices []quant.Price
	Sizes  []int64
}

// State derives the lifecycle state.
func (o *Order) State() State {
	switch {
	case o.Active:
		return StateActive
	case o.Cancelled:
		return StateCancelled
	default:
		return StateCompleted
	}
}

// Remaining returns the unexecuted size.
func (o *Order) Remaining() int64 {
	return o.TotalSize - o.ExecutedSize
}

// RemainingSlices estimates slices left at the base slice size.
func (o *Order) RemainingSlices() int64 {
	if o.BaseSliceSize <= 0 {
		return 0
	}
	return (o.Remaining() + o.BaseSliceSize - 1) / o.BaseSliceSize
}

// Clone returns a deep copy safe to hand to callers.
func (o *Order) Clone() Order {
	c := *o
	c.Prices = append([]quant.Price(nil), o.Prices...)
	c.Sizes = append([]int64(nil), o.Sizes...)
	return c
}

// Commitment is a pending commit-reveal entry for one order.
type Commitment struct {
	Hash           common.Hash
	CommitTime     time.Time
	RevealDeadline time.Time
	Revealed       bool
	Committer      common.Address
}

// ExecutionResult is returned by a slice execution attempt. Success is false
// for the deferred outcome, in which case only NextExecutionTime moved.
type ExecutionResult struct {
	Success         bool
	Deferred        bool
	ExecutedAmount  int64
	AveragePrice    quant.Price
	SlippageBps     quant.Bps
	MarketImpactBps quant.Bps
	Completed       bool
}
