package fairness

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// GenerateSeed creates a cryptographically secure random server seed,
// hex-encoded (32 bytes of entropy).
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment returns the SHA-256 commitment hash of a seed. The hash is
// published before the epoch accepts any spins; the seed is revealed after
// close so anyone can check the commitment held.
func HashCommitment(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// VerifyCommitment reports whether seed hashes to the published commitment.
func VerifyCommitment(seed, commitment string) bool {
	return HashCommitment(seed) == commitment
}
