package hashing

import (
	"encoding/binary"
	"math/bits"
)

const (
	chunkSize = 64
	digestLen = 32
)

// variant selects the round function used by lifSum.
type variant uint8

const (
	// variantLif replaces the Σ1 and σ1 rotation amounts of SHA-256.
	variantLif variant = iota
	// variantBranchy adds a data-dependent product to every round on top
	// of variantLif. Its timing depends on the state, so it is not a
	// constant-time primitive.
	variantBranchy
)

var initState = [8]uint32{
	0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
	0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
}

var roundK = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5, 0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
	0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3, 0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
	0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc, 0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7, 0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
	0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13, 0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
	0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3, 0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5, 0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
	0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208, 0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

// lifSum hashes data with the modified compression function. Padding and
// length encoding are the standard SHA-256 ones.
func lifSum(data []byte, v variant) [digestLen]byte {
	state := initState

	full := len(data) &^ (chunkSize - 1)
	lifBlocks(&state, data[:full], v)

	var tail [2 * chunkSize]byte
	rem := copy(tail[:], data[full:])
	tail[rem] = 0x80
	tailLen := chunkSize
	if rem >= chunkSize-8 {
		tailLen = 2 * chunkSize
	}
	binary.BigEndian.PutUint64(tail[tailLen-8:], uint64(len(data))<<3)
	lifBlocks(&state, tail[:tailLen], v)

	var out [digestLen]byte
	for i, s := range state {
		binary.BigEndian.PutUint32(out[i*4:], s)
	}
	return out
}

func lifBlocks(state *[8]uint32, p []byte, v variant) {
	var w [64]uint32

	for len(p) >= chunkSize {
		for i := range 16 {
			w[i] = binary.BigEndian.Uint32(p[i*4:])
		}
		for i := 16; i < 64; i++ {
			x := w[i-2]
			s1 := bits.RotateLeft32(x, -10) ^ bits.RotateLeft32(x, -19) ^ (x >> 17)
			y := w[i-15]
			s0 := bits.RotateLeft32(y, -7) ^ bits.RotateLeft32(y, -18) ^ (y >> 3)
			w[i] = s1 + w[i-7] + s0 + w[i-16]
		}

		a, b, c, d := state[0], state[1], state[2], state[3]
		e, f, g, h := state[4], state[5], state[6], state[7]

		for i := range 64 {
			sigma1 := bits.RotateLeft32(e, -6) ^ bits.RotateLeft32(e, -17) ^ bits.RotateLeft32(e, -25)
			t1 := h + sigma1 + ((e & f) ^ (^e & g)) + roundK[i] + w[i]

			if v == variantBranchy {
				if bits.LeadingZeros32(e)%2 == 0 {
					t1 += f * g
				} else {
					t1 += b * c
				}
			}

			sigma0 := bits.RotateLeft32(a, -2) ^ bits.RotateLeft32(a, -13) ^ bits.RotateLeft32(a, -22)
			t2 := sigma0 + ((a & b) ^ (a & c) ^ (b & c))

			h = g
			g = f
			f = e
			e = d + t1
			d = c
			c = b
			b = a
			a = t1 + t2
		}

		state[0] += a
		state[1] += b
		state[2] += c
		state[3] += d
		state[4] += e
		state[5] += f
		state[6] += g
		state[7] += h

		p = p[chunkSize:]
	}
}
