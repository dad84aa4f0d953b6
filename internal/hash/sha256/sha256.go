// Package sha256 fingerprints page snapshots.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher, optionally truncating the hex digest.
type Hasher struct {
	length int
}

// New returns a hasher producing the full 64-character digest.
func New() *Hasher {
	return &Hasher{}
}

// Truncated returns a hasher keeping the first n hex characters.
// Values outside (0, 64) keep the full digest.
func Truncated(n int) *Hasher {
	return &Hasher{length: n}
}

// Hash returns the hex SHA-256 digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.length > 0 && h.length < len(digest) {
		digest = digest[:h.length]
	}
	return digest, nil
}
