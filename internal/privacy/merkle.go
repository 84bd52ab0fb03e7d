package privacy

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func hashPair(a, b common.Hash) common.Hash {
	return crypto.Keccak256Hash(a[:], b[:])
}

// MerkleRoot folds leaves pairwise, bottom-up. An unpaired last node is carried
// to the next level unchanged (not re-hashed). Empty input yields the zero hash.
func MerkleRoot(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return common.Hash{}
	}

	level := append([]common.Hash(nil), leaves...)
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Sibling common.Hash
	Left    bool // sibling is on the left
}

// MerkleProof returns the inclusion path of leaves[index]. Levels where the
// node is carried forward contribute no step. ok is false for a bad index.
func MerkleProof(leaves []common.Hash, index int) (proof []ProofStep, ok bool) {
	if index < 0 || index >= len(leaves) {
		return nil, false
	}

	level := append([]common.Hash(nil), leaves...)
	for len(level) > 1 {
		switch {
		case index%2 == 1:
			proof = append(proof, ProofStep{Sibling: level[index-1], Left: true})
		case index+1 < len(level):
			proof = append(proof, ProofStep{Sibling: level[index+1]})
		}

		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
		index /= 2
	}
	return proof, true
}

// VerifyMerkleProof recomputes the root from leaf and proof.
func VerifyMerkleProof(root, leaf common.Hash, proof []ProofStep) bool {
	node := leaf
	for _, step := range proof {
		if step.Left {
			node = hashPair(step.Sibling, node)
		} else {
			node = hashPair(node, step.Sibling)
		}
	}
	return node == root
}
