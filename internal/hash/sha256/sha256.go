// Package sha256 digests page snapshots for content-addressed blob names.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

var _ scrape.Hasher = (*Hasher)(nil)

// Hasher implements scrape.Hasher using SHA-256.
type Hasher struct {
	// Length truncates the hex digest when > 0.
	Length int
}

// New returns a SHA-256 hasher producing full 64 character digests.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.Length > 0 && h.Length < len(digest) {
		digest = digest[:h.Length]
	}
	return digest, nil
}
