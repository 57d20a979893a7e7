// Package pow implements compact target arithmetic, the reverse byte-order
// comparator and the fixed 80-byte header layout shared by every network.
package pow

import (
	"encoding/hex"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"

	"github.com/bardlex/lifpow/pkg/errors"
)

const (
	// TargetSize is the width of a target and of every pipeline digest.
	TargetSize = 32

	// referenceShift and referenceMantissa describe the difficulty-1 target
	// (compact 0x1d00ffff) that DifficultyRatio measures against.
	referenceShift    = 29
	referenceMantissa = 0x00ffff

	compactSignBit  = 0x00800000
	compactMantissa = 0x00ffffff
)

// Target is a 256-bit proof-of-work threshold stored in digest byte order:
// index 31 is the most significant byte. A digest d satisfies t when
// CompareReversed(d, t) <= 0.
type Target [TargetSize]byte

// MaxTarget is the difficulty-1 target.
var MaxTarget = DecodeTarget(0x1d00ffff)

// DecodeTarget expands compact bits into a target. A set sign bit yields the
// zero target, which no digest other than all zeros can satisfy. Exponents
// below 3 shift the mantissa right, and bytes beyond the digest width are
// dropped.
func DecodeTarget(bits uint32) Target {
	var t Target
	if bits&compactSignBit != 0 {
		return t
	}

	shift := int(bits >> 24)
	mantissa := bits & compactMantissa

	if shift <= 3 {
		mantissa >>= 8 * uint(3-shift)
		t[0] = byte(mantissa)
		t[1] = byte(mantissa >> 8)
		t[2] = byte(mantissa >> 16)
		return t
	}

	for i := range 3 {
		pos := shift - 3 + i
		if pos < TargetSize {
			t[pos] = byte(mantissa >> (8 * i))
		}
	}
	return t
}

// ParseCompact decodes bits and reports the encodings DecodeTarget silently
// clamps: negative mantissas and magnitudes wider than 256 bits.
func ParseCompact(bits uint32) (Target, error) {
	if bits&compactSignBit != 0 && bits&compactMantissa != compactSignBit {
		return Target{}, errors.New(errors.ErrorTypeValidation, "parse_compact",
			"compact target is negative").WithContext("bits", bits)
	}

	shift := int(bits >> 24)
	mantissa := bits & compactMantissa
	if mantissa != 0 && shift > 3 {
		width := shift
		switch {
		case mantissa <= 0xff:
			width = shift - 2
		case mantissa <= 0xffff:
			width = shift - 1
		}
		if width > TargetSize {
			return Target{}, errors.New(errors.ErrorTypeValidation, "parse_compact",
				"compact target overflows 256 bits").WithContext("bits", bits)
		}
	}

	return DecodeTarget(bits), nil
}

// TargetToCompact encodes t in compact form. Precision below the top three
// significant bytes is lost.
func TargetToCompact(t Target) uint32 {
	return blockchain.BigToCompact(t.Big())
}

// DifficultyRatio returns how much harder bits is than the difficulty-1
// target. Targets that can never be met report +Inf.
func DifficultyRatio(bits uint32) float64 {
	mantissa := bits & compactMantissa
	if mantissa == 0 || bits&compactSignBit != 0 {
		return math.Inf(1)
	}

	shift := int(bits >> 24)
	diff := float64(referenceMantissa) / float64(mantissa)

	for shift < referenceShift {
		diff *= 256.0
		shift++
	}
	for shift > referenceShift {
		diff /= 256.0
		shift--
	}
	return diff
}

// DifficultyToTarget converts a pool-style difficulty to a target relative to
// MaxTarget. Non-positive difficulties map to MaxTarget.
func DifficultyToTarget(difficulty float64) Target {
	if difficulty <= 0 || math.IsNaN(difficulty) {
		return MaxTarget
	}

	maxTarget := new(big.Float).SetInt(MaxTarget.Big())
	quo := new(big.Float).Quo(maxTarget, new(big.Float).SetFloat64(difficulty))

	n, _ := quo.Int(nil)
	if n.BitLen() > TargetSize*8 {
		return MaxTarget
	}
	return TargetFromBig(n)
}

// TargetFromBig converts a non-negative integer into a target, keeping only
// the low 256 bits.
func TargetFromBig(n *big.Int) Target {
	var t Target
	if n.Sign() <= 0 {
		return t
	}
	be := n.Bytes()
	if len(be) > TargetSize {
		be = be[len(be)-TargetSize:]
	}
	for i, b := range be {
		t[len(be)-1-i] = b
	}
	return t
}

// Big returns the target's magnitude.
func (t Target) Big() *big.Int {
	var be [TargetSize]byte
	for i := range TargetSize {
		be[i] = t[TargetSize-1-i]
	}
	return new(big.Int).SetBytes(be[:])
}

// IsZero reports whether the target can only be met by an all-zero digest.
func (t Target) IsZero() bool {
	return t == Target{}
}

// String renders the target most significant byte first, the same way block
// hashes are displayed.
func (t Target) String() string {
	var be [TargetSize]byte
	for i := range TargetSize {
		be[i] = t[TargetSize-1-i]
	}
	return hex.EncodeToString(be[:])
}
