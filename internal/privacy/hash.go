package privacy

import (
	"crypto/subtle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashSecret returns the secret commitment stored with an order.
func HashSecret(secret common.Hash) common.Hash {
	return crypto.Keccak256Hash(secret[:])
}

// RevealHash returns the commit hash a caller must register before revealing nonce.
func RevealHash(orderID, nonce common.Hash) common.Hash {
	return crypto.Keccak256Hash(orderID[:], nonce[:])
}

// VerifySecret reports whether candidate hashes to commitment.
// The comparison is constant-time so a mismatch leaks nothing about where it differs.
func VerifySecret(commitment, candidate common.Hash) bool {
	h := HashSecret(candidate)
	return subtle.ConstantTimeCompare(h[:], commitment[:]) == 1
}
