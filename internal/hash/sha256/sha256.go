// Package sha256 fingerprints page bodies.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher returns hex SHA-256 digests.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Sum returns the hex digest of body.
func (Hasher) Sum(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
