// Package random provides cryptographic seed generation helpers.
//
// Match seeds must be unpredictable when the caller omits one, but the
// engine itself only ever consumes them as deterministic PRNG seeds, so
// a single high-entropy int64 draw is all that is needed here.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
)

// NewSeed generates a non-negative random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}

	seed := int64(binary.LittleEndian.Uint64(b[:]))
	if seed < 0 {
		seed = -seed
	}
	return seed, nil
}
