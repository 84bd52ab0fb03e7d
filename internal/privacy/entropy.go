package privacy

import (
	"encoding/binary"
	"sync/atomic"

	"stealth_twap/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Entropy produces the pseudo-random words behind jitter.
// Implementations backed by a verifiable random function can be plugged in
// where predictability matters.
type Entropy interface {
	Sample(seed common.Hash, caller common.Address) common.Hash
}

// ObservableEntropy hashes the seed, wall-clock time, caller and a monotonic
// counter. Every input is observable by a motivated party, so its output is
// NOT cryptographically unpredictable: it only makes timing harder to guess
// for a casual observer.
type ObservableEntropy struct {
	clock   domain.Clock
	counter atomic.Uint64
}

// NewObservableEntropy creates the default entropy source.
func NewObservableEntropy(clock domain.Clock) *ObservableEntropy {
	return &ObservableEntropy{clock: clock}
}

func (e *ObservableEntropy) Sample(seed common.Hash, caller common.Address) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(e.clock.Now().UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], e.counter.Add(1))
	return crypto.Keccak256Hash(seed[:], buf[:8], caller[:], buf[8:])
}
