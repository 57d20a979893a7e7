package pow

import (
	"math"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func TestDecodeTarget(t *testing.T) {
	tests := []struct {
		name string
		bits uint32
		want string
	}{
		{
			name: "difficulty one",
			bits: 0x1d00ffff,
			want: "00000000ffff" + strings.Repeat("0", 52),
		},
		{
			name: "regression network",
			bits: 0x207fffff,
			want: "7fffff" + strings.Repeat("0", 58),
		},
		{
			name: "lif main",
			bits: 0x1f00ffff,
			want: "0000ffff" + strings.Repeat("0", 56),
		},
		{
			name: "small exponent shifts mantissa right",
			bits: 0x02123456,
			want: strings.Repeat("0", 60) + "1234",
		},
		{
			name: "exponent three keeps mantissa",
			bits: 0x03123456,
			want: strings.Repeat("0", 58) + "123456",
		},
		{
			name: "zero exponent yields zero target",
			bits: 0x00123456,
			want: strings.Repeat("0", 64),
		},
		{
			name: "negative mantissa is never satisfiable",
			bits: 0x1d800001,
			want: strings.Repeat("0", 64),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeTarget(tt.bits).String(); got != tt.want {
				t.Errorf("DecodeTarget(%#x) = %s, want %s", tt.bits, got, tt.want)
			}
		})
	}
}

func TestDecodeTargetMatchesCompactToBig(t *testing.T) {
	for _, bits := range []uint32{0x1d00ffff, 0x1b0404cb, 0x207fffff, 0x1f00ffff, 0x170331db, 0x04123456} {
		want := blockchain.CompactToBig(bits)
		if got := DecodeTarget(bits).Big(); got.Cmp(want) != 0 {
			t.Errorf("DecodeTarget(%#x) = %x, want %x", bits, got, want)
		}
	}
}

func TestDecodeTargetMonotonic(t *testing.T) {
	// Ordered from easiest to hardest.
	ordered := []uint32{0x207fffff, 0x2000ffff, 0x1f00ffff, 0x1e7fffff, 0x1d00ffff, 0x1c7fff80, 0x1b0404cb, 0x1a00ffff, 0x03000001}

	for i := 1; i < len(ordered); i++ {
		prev := DecodeTarget(ordered[i-1])
		next := DecodeTarget(ordered[i])
		if CompareReversed(next[:], prev[:]) > 0 {
			t.Errorf("target for %#x exceeds easier target %#x", ordered[i], ordered[i-1])
		}
		if DifficultyRatio(ordered[i]) < DifficultyRatio(ordered[i-1]) {
			t.Errorf("difficulty for %#x is below easier %#x", ordered[i], ordered[i-1])
		}
	}
}

func TestParseCompact(t *testing.T) {
	tests := []struct {
		name    string
		bits    uint32
		wantErr bool
	}{
		{"valid", 0x1d00ffff, false},
		{"negative", 0x1d800001, true},
		{"overflow", 0x2300ffff, true},
		{"wide but representable", 0x2100ffff, false},
		{"zero mantissa with large exponent", 0xff000000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCompact(tt.bits)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCompact(%#x) error = %v, wantErr %v", tt.bits, err, tt.wantErr)
			}
		})
	}
}

func TestTargetToCompact(t *testing.T) {
	for _, bits := range []uint32{0x1d00ffff, 0x207fffff, 0x1f00ffff, 0x1b0404cb} {
		if got := TargetToCompact(DecodeTarget(bits)); got != bits {
			t.Errorf("TargetToCompact(DecodeTarget(%#x)) = %#x", bits, got)
		}
	}
}

func TestDifficultyRatio(t *testing.T) {
	tests := []struct {
		bits uint32
		want float64
	}{
		{0x1d00ffff, 1},
		{0x1b0404cb, 16307.420938523983},
		{0x1f00ffff, 1.0 / 65536},
		{0x207fffff, 65535.0 / 8388607 / (256 * 256 * 256)},
	}

	for _, tt := range tests {
		got := DifficultyRatio(tt.bits)
		if math.Abs(got-tt.want) > tt.want*1e-9 {
			t.Errorf("DifficultyRatio(%#x) = %v, want %v", tt.bits, got, tt.want)
		}
	}

	if !math.IsInf(DifficultyRatio(0x1d000000), 1) {
		t.Error("zero mantissa should report infinite difficulty")
	}
	if !math.IsInf(DifficultyRatio(0x1d800001), 1) {
		t.Error("negative target should report infinite difficulty")
	}
}

func TestDifficultyToTarget(t *testing.T) {
	if got := DifficultyToTarget(1); got != MaxTarget {
		t.Errorf("DifficultyToTarget(1) = %s, want %s", got, MaxTarget)
	}
	if got := DifficultyToTarget(0); got != MaxTarget {
		t.Errorf("DifficultyToTarget(0) = %s, want %s", got, MaxTarget)
	}

	easy := DifficultyToTarget(16)
	hard := DifficultyToTarget(1024)
	if CompareReversed(hard[:], easy[:]) >= 0 {
		t.Errorf("higher difficulty must produce a smaller target: %s >= %s", hard, easy)
	}
}

func TestCompareReversed(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want int
	}{
		{"equal", []byte{1, 2, 3}, []byte{1, 2, 3}, 0},
		{"last byte dominates", []byte{0xff, 0xff, 0x01}, []byte{0x00, 0x00, 0x02}, -1},
		{"first byte breaks tie", []byte{0x02, 0x00, 0x05}, []byte{0x01, 0x00, 0x05}, 1},
		{"empty", []byte{}, []byte{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareReversed(tt.a, tt.b); got != tt.want {
				t.Errorf("CompareReversed() = %d, want %d", got, tt.want)
			}
			if got := CompareReversed(tt.b, tt.a); got != -tt.want {
				t.Errorf("CompareReversed() reversed = %d, want %d", got, -tt.want)
			}
		})
	}
}

func TestCompareReversedLengthMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on length mismatch")
		}
	}()
	CompareReversed(make([]byte, 32), make([]byte, 31))
}

func TestHashMeetsTarget(t *testing.T) {
	genesis := *chaincfg.MainNetParams.GenesisHash
	if !HashMeetsTarget(genesis, DecodeTarget(0x1d00ffff)) {
		t.Error("main genesis hash should meet its target")
	}
	if HashMeetsTarget(genesis, DecodeTarget(0x1b0404cb)) {
		t.Error("main genesis hash should not meet a harder target")
	}

	var zero chainhash.Hash
	if !HashMeetsTarget(zero, Target{}) {
		t.Error("zero hash should meet the zero target")
	}
}

func TestHeaderFromWire(t *testing.T) {
	gen := chaincfg.MainNetParams.GenesisBlock.Header
	h, err := HeaderFromWire(&gen)
	if err != nil {
		t.Fatalf("HeaderFromWire() error = %v", err)
	}

	if h.Version() != 1 {
		t.Errorf("Version() = %d, want 1", h.Version())
	}
	if h.Time() != 1231006505 {
		t.Errorf("Time() = %d, want 1231006505", h.Time())
	}
	if h.Bits() != 0x1d00ffff {
		t.Errorf("Bits() = %#x, want 0x1d00ffff", h.Bits())
	}
	if h.Nonce() != 2083236893 {
		t.Errorf("Nonce() = %d, want 2083236893", h.Nonce())
	}
	if h.MerkleRoot() != gen.MerkleRoot {
		t.Errorf("MerkleRoot() = %s, want %s", h.MerkleRoot(), gen.MerkleRoot)
	}
	if h.PrevBlock() != (chainhash.Hash{}) {
		t.Errorf("PrevBlock() = %s, want zero", h.PrevBlock())
	}
	if got := chainhash.DoubleHashH(h[:]); got != *chaincfg.MainNetParams.GenesisHash {
		t.Errorf("header hash = %s, want genesis hash", got)
	}

	h.SetNonce(0xdeadbeef)
	if h.Nonce() != 0xdeadbeef {
		t.Errorf("SetNonce did not round-trip: %#x", h.Nonce())
	}
	if h[NonceOffset] != 0xef || h[HeaderSize-1] != 0xde {
		t.Errorf("nonce not little-endian at offset %d: % x", NonceOffset, h[NonceOffset:])
	}

	back, err := h.Wire()
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	if back.Nonce != 0xdeadbeef || back.Bits != gen.Bits {
		t.Errorf("Wire() = %+v", back)
	}
}

func TestParseHeader(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 79)); err == nil {
		t.Error("expected error for short header")
	}
	if _, err := ParseHeaderHex("zz"); err == nil {
		t.Error("expected error for invalid hex")
	}
	if _, err := ParseHeader(make([]byte, HeaderSize)); err != nil {
		t.Errorf("ParseHeader() unexpected error = %v", err)
	}
}

func BenchmarkCompareReversed(b *testing.B) {
	target := DecodeTarget(0x1d00ffff)
	hash := chaincfg.MainNetParams.GenesisHash

	b.ReportAllocs()
	for b.Loop() {
		CompareReversed(hash[:], target[:])
	}
}

func BenchmarkDecodeTarget(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		DecodeTarget(0x1b0404cb)
	}
}
