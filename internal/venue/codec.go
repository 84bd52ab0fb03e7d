// Package venue encodes venue actions and provides Venue implementations.
//
// Wire layout of every action:
//
//	[version:1][reserved:2][actionId:1][payload]
//
// Payload integers are little-endian; bools are one byte (0/1).
package venue

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const (
	Version = 1

	ActionLimitOrder uint8 = 1
	ActionTransfer   uint8 = 7
	ActionCancel     uint8 = 10

	headerLen = 4
)

// TimeInForce of a limit order.
type TimeInForce uint8

const (
	TIFAddLiquidityOnly  TimeInForce = 1
	TIFGoodTillCancel    TimeInForce = 2
	TIFImmediateOrCancel TimeInForce = 3
)

var (
	ErrShortAction   = errors.New("action too short")
	ErrUnknownAction = errors.New("unknown action id")
	ErrBadVersion    = errors.New("unsupported action version")
)

// LimitOrder is action 1, one slice execution.
type LimitOrder struct {
	Asset         uint32
	IsBuy         bool
	LimitPrice    uint64
	Size          uint64
	ReduceOnly    bool
	TimeInForce   TimeInForce
	ClientOrderID uuid.UUID // u128, big-endian in memory
}

// Transfer is action 7, a balance move between spot and perp.
type Transfer struct {
	Amount     uint64
	TowardPerp bool
}

// Cancel is action 10.
type Cancel struct {
	Asset   uint32
	OrderID uint64
}

func header(id uint8, payloadLen int) []byte {
	b := make([]byte, headerLen, headerLen+payloadLen)
	b[0] = Version
	b[3] = id
	return b
}

func putBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

// Encode serializes the limit order action.
func (o LimitOrder) Encode() []byte {
	b := header(ActionLimitOrder, 4+1+8+8+1+1+16)
	b = binary.LittleEndian.AppendUint32(b, o.Asset)
	b = putBool(b, o.IsBuy)
	b = binary.LittleEndian.AppendUint64(b, o.LimitPrice)
	b = binary.LittleEndian.AppendUint64(b, o.Size)
	b = putBool(b, o.ReduceOnly)
	b = append(b, byte(o.TimeInForce))
	for i := 15; i >= 0; i-- {
		b = append(b, o.ClientOrderID[i])
	}
	return b
}

// Encode serializes the transfer action.
func (t Transfer) Encode() []byte {
	b := header(ActionTransfer, 9)
	b = binary.LittleEndian.AppendUint64(b, t.Amount)
	return putBool(b, t.TowardPerp)
}

// Encode serializes the cancel action.
func (c Cancel) Encode() []byte {
	b := header(ActionCancel, 12)
	b = binary.LittleEndian.AppendUint32(b, c.Asset)
	return binary.LittleEndian.AppendUint64(b, c.OrderID)
}

// Decode parses an encoded action into LimitOrder, Transfer or Cancel.
func Decode(b []byte) (any, error) {
	if len(b) < headerLen {
		return nil, ErrShortAction
	}
	if b[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, b[0])
	}
	p := b[headerLen:]

	switch b[3] {
	case ActionLimitOrder:
		if len(p) != 39 {
			return nil, ErrShortAction
		}
		o := LimitOrder{
			Asset:       binary.LittleEndian.Uint32(p[0:4]),
			IsBuy:       p[4] == 1,
			LimitPrice:  binary.LittleEndian.Uint64(p[5:13]),
			Size:        binary.LittleEndian.Uint64(p[13:21]),
			ReduceOnly:  p[21] == 1,
			TimeInForce: TimeInForce(p[22]),
		}
		for i := 0; i < 16; i++ {
			o.ClientOrderID[15-i] = p[23+i]
		}
		return o, nil
	case ActionTransfer:
		if len(p) != 9 {
			return nil, ErrShortAction
		}
		return Transfer{Amount: binary.LittleEndian.Uint64(p[0:8]), TowardPerp: p[8] == 1}, nil
	case ActionCancel:
		if len(p) != 12 {
			return nil, ErrShortAction
		}
		return Cancel{Asset: binary.LittleEndian.Uint32(p[0:4]), OrderID: binary.LittleEndian.Uint64(p[4:12])}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAction, b[3])
	}
}

var clientOrderNamespace = uuid.MustParse("6f1c0b52-2a39-4d77-9a8e-1b4c0e3f5d21")

// ClientOrderID derives a stable u128 id for the slice of orderID that starts
// at executedSize, so a resubmitted slice reuses the same id.
func ClientOrderID(orderID common.Hash, executedSize int64) uuid.UUID {
	data := binary.BigEndian.AppendUint64(orderID.Bytes(), uint64(executedSize))
	return uuid.NewSHA1(clientOrderNamespace, data)
}

// VenueOrderID is the u64 venue-side handle of an order: the first 8 bytes of its id.
func VenueOrderID(orderID common.Hash) uint64 {
	return binary.BigEndian.Uint64(orderID[:8])
}
