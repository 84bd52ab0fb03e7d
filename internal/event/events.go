package event

import (
	"time"

	"stealth_twap/pkg/quant"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Type defines the type of event.
type Type uint16

const (
	EvOrderCreated Type = iota + 1
	EvSliceExecuted
	EvOrderCompleted
	EvCommitRegistered
	EvMEVDeferral
	EvBatchCreated
	EvBatchExecuted
	EvOrderCancelled
)

func (t Type) String() string {
	switch t {
	case EvOrderCreated:
		return "OrderCreated"
	case EvSliceExecuted:
		return "SliceExecuted"
	case EvOrderCompleted:
		return "OrderCompleted"
	case EvCommitRegistered:
		return "CommitRegistered"
	case EvMEVDeferral:
		return "MEVDeferral"
	case EvBatchCreated:
		return "BatchCreated"
	case EvBatchExecuted:
		return "BatchExecuted"
	case EvOrderCancelled:
		return "OrderCancelled"
	default:
		return "Unknown"
	}
}

// Event is the interface for all emitted events.
type Event interface {
	GetType() Type
	// Key is the order id, or the batch id for batch events.
	Key() string
}

// OrderCreated is emitted once per successful creation.
type OrderCreated struct {
	ID        common.Hash    `json:"id"`
	Owner     common.Address `json:"owner"`
	Asset     uint32         `json:"asset"`
	TotalSize int64          `json:"totalSize"`
	Adaptive  bool           `json:"adaptive"`
}

func (e OrderCreated) GetType() Type { return EvOrderCreated }
func (e OrderCreated) Key() string   { return e.ID.Hex() }

// SliceExecuted is emitted after the venue accepted a slice.
type SliceExecuted struct {
	ID           common.Hash `json:"id"`
	ExecutedSize int64       `json:"executedSize"`
	Price        quant.Price `json:"price"`
	Timestamp    time.Time   `json:"timestamp"`
	MarketImpact quant.Bps   `json:"marketImpact"`
}

func (e SliceExecuted) GetType() Type { return EvSliceExecuted }
func (e SliceExecuted) Key() string   { return e.ID.Hex() }

// OrderCompleted is emitted when executed size reaches total size.
type OrderCompleted struct {
	ID            common.Hash `json:"id"`
	TotalExecuted int64       `json:"totalExecuted"`
	AveragePrice  quant.Price `json:"averagePrice"`
	TotalSlippage quant.Bps   `json:"totalSlippage"`
}

func (e OrderCompleted) GetType() Type { return EvOrderCompleted }
func (e OrderCompleted) Key() string   { return e.ID.Hex() }

// CommitRegistered is emitted by commitToExecute.
type CommitRegistered struct {
	ID         common.Hash `json:"id"`
	CommitHash common.Hash `json:"commitHash"`
	Timestamp  time.Time   `json:"timestamp"`
}

func (e CommitRegistered) GetType() Type { return EvCommitRegistered }
func (e CommitRegistered) Key() string   { return e.ID.Hex() }

// MEVDeferral is emitted when an attempt was rescheduled without filling.
type MEVDeferral struct {
	ID               common.Hash   `json:"id"`
	NewDelay         time.Duration `json:"newDelay"`
	NewExecutionTime time.Time     `json:"newExecutionTime"`
}

func (e MEVDeferral) GetType() Type { return EvMEVDeferral }
func (e MEVDeferral) Key() string   { return e.ID.Hex() }

// BatchCreated is emitted when a batch of orders is registered.
type BatchCreated struct {
	BatchID    uuid.UUID   `json:"batchId"`
	MerkleRoot common.Hash `json:"merkleRoot"`
	Count      int         `json:"count"`
}

func (e BatchCreated) GetType() Type { return EvBatchCreated }
func (e BatchCreated) Key() string   { return e.BatchID.String() }

// BatchExecuted is emitted after one pass over a batch.
type BatchExecuted struct {
	BatchID       uuid.UUID `json:"batchId"`
	ExecutedCount int       `json:"executedCount"`
}

func (e BatchExecuted) GetType() Type { return EvBatchExecuted }
func (e BatchExecuted) Key() string   { return e.BatchID.String() }

// OrderCancelled is emitted by an owner cancel.
type OrderCancelled struct {
	ID           common.Hash `json:"id"`
	ExecutedSize int64       `json:"executedSize"`
	VenueCancel  bool        `json:"venueCancel"`
}

func (e OrderCancelled) GetType() Type { return EvOrderCancelled }
func (e OrderCancelled) Key() string   { return e.ID.Hex() }
