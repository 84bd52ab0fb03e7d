package domain

import (
	"context"
	"time"

	"stealth_twap/pkg/quant"

	"github.com/ethereum/go-ethereum/common"
)

// Oracle provides read-only prices with 8 decimals.
type Oracle interface {
	GetPrice(ctx context.Context, asset uint32) (quant.Price, error)
	GetBBO(ctx context.Context, asset uint32) (bid, ask quant.Price, err error)
}

// Margin reports the account value of a user; execution requires a positive value.
type Margin interface {
	GetAccountValue(ctx context.Context, user common.Address) (int64, error)
}

// Venue accepts one encoded action per call.
type Venue interface {
	SendAction(ctx context.Context, action []byte) error
}

// ProofVerifier checks a zero-knowledge proof of knowledge against public inputs.
// Its construction lives outside this module.
type ProofVerifier interface {
	Verify(ctx context.Context, proof []byte, publicInputs []common.Hash) (bool, error)
}

// ConditionsSource supplies market conditions for adaptive sizing.
type ConditionsSource interface {
	Conditions(ctx context.Context, asset uint32) (MarketConditions, error)
}

// Clock is the external monotonic time source.
type Clock interface {
	Now() time.Time
}
