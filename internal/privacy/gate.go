// Package privacy implements the secret gate, commit-reveal bookkeeping,
// nullifier tracking, timing jitter and merkle batching.
package privacy

import (
	"crypto/subtle"
	"encoding/binary"
	"sync"
	"time"

	"stealth_twap/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds the commit-reveal timing window.
type Config struct {
	MinCommitDelay time.Duration // earliest reveal after commit
	RevealWindow   time.Duration // commit time + window = reveal deadline
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinCommitDelay: 12 * time.Second,
		RevealWindow:   10 * time.Minute,
	}
}

type nullifierState uint8

const (
	nullifierPending nullifierState = iota + 1
	nullifierSpent
)

// Gate owns commitments and the nullifier set. Thread-safe.
type Gate struct {
	cfg     Config
	clock   domain.Clock
	entropy Entropy

	mu          sync.Mutex
	commitments map[common.Hash]*domain.Commitment
	nullifiers  map[common.Hash]nullifierState
}

// NewGate creates a gate. A nil entropy falls back to ObservableEntropy.
func NewGate(cfg Config, clock domain.Clock, entropy Entropy) *Gate {
	if entropy == nil {
		entropy = NewObservableEntropy(clock)
	}
	return &Gate{
		cfg:         cfg,
		clock:       clock,
		entropy:     entropy,
		commitments: make(map[common.Hash]*domain.Commitment),
		nullifiers:  make(map[common.Hash]nullifierState),
	}
}

// VerifySecret reports whether candidate opens commitment.
func (g *Gate) VerifySecret(commitment, candidate common.Hash) bool {
	return VerifySecret(commitment, candidate)
}

// ======================================================================================
// Commit-reveal
// ======================================================================================

// Commit registers commitHash for orderID. A commitment past its reveal
// deadline is no longer live and may be replaced.
func (g *Gate) Commit(orderID, commitHash common.Hash, committer common.Address) (domain.Commitment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if c, ok := g.commitments[orderID]; ok && !c.Revealed && !now.After(c.RevealDeadline) {
		return domain.Commitment{}, domain.ErrAlreadyCommitted
	}

	c := &domain.Commitment{
		Hash:           commitHash,
		CommitTime:     now,
		RevealDeadline: now.Add(g.cfg.RevealWindow),
		Committer:      committer,
	}
	g.commitments[orderID] = c
	return *c, nil
}

// Pending returns the unrevealed commitment of orderID, expired or not.
func (g *Gate) Pending(orderID common.Hash) (domain.Commitment, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.commitments[orderID]
	if !ok || c.Revealed {
		return domain.Commitment{}, false
	}
	return *c, true
}

// CheckReveal validates nonce against the pending commitment without consuming it.
func (g *Gate) CheckReveal(orderID, nonce common.Hash) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkRevealLocked(orderID, nonce)
}

func (g *Gate) checkRevealLocked(orderID, nonce common.Hash) error {
	c, ok := g.commitments[orderID]
	if !ok || c.Revealed {
		return domain.ErrInvalidReveal
	}

	now := g.clock.Now()
	if now.Before(c.CommitTime.Add(g.cfg.MinCommitDelay)) {
		return domain.ErrRevealTooEarly
	}
	if now.After(c.RevealDeadline) {
		return domain.ErrRevealExpired
	}

	h := RevealHash(orderID, nonce)
	if subtle.ConstantTimeCompare(h[:], c.Hash[:]) != 1 {
		return domain.ErrInvalidReveal
	}
	return nil
}

// ConsumeCommitment clears the commitment of orderID so a new one can be registered.
func (g *Gate) ConsumeCommitment(orderID common.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.commitments, orderID)
}

// Reveal checks nonce and, on success, consumes the commitment (single use).
func (g *Gate) Reveal(orderID, nonce common.Hash) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkRevealLocked(orderID, nonce); err != nil {
		return err
	}
	delete(g.commitments, orderID)
	return nil
}

// ======================================================================================
// Nullifiers
// ======================================================================================

// NullifierTicket holds a reserved nullifier until the guarded action commits or aborts.
type NullifierTicket struct {
	gate *Gate
	hash common.Hash
	once sync.Once
}

// Commit marks the nullifier spent for good.
func (t *NullifierTicket) Commit() {
	t.once.Do(func() {
		t.gate.mu.Lock()
		t.gate.nullifiers[t.hash] = nullifierSpent
		t.gate.mu.Unlock()
	})
}

// Abort releases the reservation so the nullifier can be presented again.
func (t *NullifierTicket) Abort() {
	t.once.Do(func() {
		t.gate.mu.Lock()
		if t.gate.nullifiers[t.hash] == nullifierPending {
			delete(t.gate.nullifiers, t.hash)
		}
		t.gate.mu.Unlock()
	})
}

// ReserveNullifier atomically checks and reserves h. Reserved and spent
// nullifiers are both rejected with ErrNullifierReused.
func (g *Gate) ReserveNullifier(h common.Hash) (*NullifierTicket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, seen := g.nullifiers[h]; seen {
		return nil, domain.ErrNullifierReused
	}
	g.nullifiers[h] = nullifierPending
	return &NullifierTicket{gate: g, hash: h}, nil
}

// UseNullifier spends h immediately.
func (g *Gate) UseNullifier(h common.Hash) error {
	t, err := g.ReserveNullifier(h)
	if err != nil {
		return err
	}
	t.Commit()
	return nil
}

// IsNullifierSpent reports whether h was spent.
func (g *Gate) IsNullifierSpent(h common.Hash) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nullifiers[h] == nullifierSpent
}

// ======================================================================================
// Jitter
// ======================================================================================

// Jitter returns a pseudo-random delay in [0, maxDelay). It is only as
// unpredictable as the configured Entropy.
func (g *Gate) Jitter(seed common.Hash, caller common.Address, maxDelay time.Duration) time.Duration {
	if maxDelay <= 0 {
		return 0
	}
	h := g.entropy.Sample(seed, caller)
	return time.Duration(binary.BigEndian.Uint64(h[:8]) % uint64(maxDelay))
}
