package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stealth_twap/pkg/quant"

	"github.com/ethereum/go-ethereum/common"
)

// Fill represents a simulated slice fill.
type Fill struct {
	Order        LimitOrder
	TsUnixMicros int64
}

// PaperVenue simulates the venue and the margin service in memory.
// Every limit order fills in full at its limit price.
// This is used for dry runs and tests.
type PaperVenue struct {
	mu       sync.Mutex
	fills    []Fill
	cancels  []Cancel
	transfer []Transfer
	accounts map[common.Address]int64
	dflt     int64
	failNext error
	logger   *slog.Logger
}

// NewPaperVenue creates an empty paper venue.
func NewPaperVenue() *PaperVenue {
	return &PaperVenue{
		accounts: make(map[common.Address]int64),
		logger:   slog.Default().With("module", "paper_venue"),
	}
}

// Deposit credits a user's account value.
func (p *PaperVenue) Deposit(user common.Address, amount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[user] += amount
}

// SetDefaultAccountValue sets the value reported for users that never deposited.
func (p *PaperVenue) SetDefaultAccountValue(amount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dflt = amount
}

// FailNext makes the next SendAction or GetAccountValue call return err.
func (p *PaperVenue) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

func (p *PaperVenue) takeFailure() error {
	err := p.failNext
	p.failNext = nil
	return err
}

// SendAction decodes and applies one action.
func (p *PaperVenue) SendAction(ctx context.Context, action []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return err
	}

	decoded, err := Decode(action)
	if err != nil {
		return fmt.Errorf("paper venue: %w", err)
	}

	switch a := decoded.(type) {
	case LimitOrder:
		p.fills = append(p.fills, Fill{Order: a, TsUnixMicros: time.Now().UnixMicro()})
		p.logger.Info("PAPER EXECUTION: Slice Filled",
			slog.Uint64("asset", uint64(a.Asset)),
			slog.Bool("buy", a.IsBuy),
			slog.String("price", quant.Price(a.LimitPrice).String()),
			slog.Uint64("size", a.Size),
			slog.String("cloid", a.ClientOrderID.String()))
	case Cancel:
		p.cancels = append(p.cancels, a)
		p.logger.Info("PAPER EXECUTION: Order Canceled", slog.Uint64("oid", a.OrderID))
	case Transfer:
		p.transfer = append(p.transfer, a)
	}
	return nil
}

// GetAccountValue implements the margin collaborator.
func (p *PaperVenue) GetAccountValue(ctx context.Context, user common.Address) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.takeFailure(); err != nil {
		return 0, err
	}
	if v, ok := p.accounts[user]; ok {
		return v, nil
	}
	return p.dflt, nil
}

// GetFills returns all simulated fills.
func (p *PaperVenue) GetFills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Fill(nil), p.fills...)
}

// GetCancels returns all received cancel actions.
func (p *PaperVenue) GetCancels() []Cancel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Cancel(nil), p.cancels...)
}

// GetTransfers returns all received transfer actions.
func (p *PaperVenue) GetTransfers() []Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Transfer(nil), p.transfer...)
}
