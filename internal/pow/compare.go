package pow

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// CompareReversed compares a and b as unsigned magnitudes whose most
// significant byte is the last one, returning -1, 0 or 1. Digests and
// targets are both kept in this order, so no reversal happens per attempt.
//
// Buffers of different length are a programming error and panic.
func CompareReversed(a, b []byte) int {
	if len(a) != len(b) {
		panic(fmt.Sprintf("pow: CompareReversed length mismatch (%d != %d)", len(a), len(b)))
	}

	for i := len(a) - 1; i >= 0; i-- {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// HashMeetsTarget reports whether hash is numerically at or below target.
func HashMeetsTarget(hash chainhash.Hash, target Target) bool {
	return CompareReversed(hash[:], target[:]) <= 0
}
