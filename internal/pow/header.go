package pow

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/lifpow/pkg/errors"
)

// Header layout offsets. They are identical on every network regardless of
// the hash pipeline in use.
const (
	HeaderSize       = 80
	VersionOffset    = 0
	PrevBlockOffset  = 4
	MerkleRootOffset = 36
	TimeOffset       = 68
	BitsOffset       = 72
	NonceOffset      = 76
)

// Header is a serialized block header. Searches mutate only the nonce field.
type Header [HeaderSize]byte

// HeaderFromWire serializes a wire header into its fixed 80-byte form.
func HeaderFromWire(bh *wire.BlockHeader) (Header, error) {
	var h Header
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	if err := bh.Serialize(buf); err != nil {
		return h, errors.Wrap(err, errors.ErrorTypeInternal, "serialize_header", "failed to serialize block header")
	}
	if buf.Len() != HeaderSize {
		return h, errors.New(errors.ErrorTypeInternal, "serialize_header", "unexpected header length").
			WithContext("length", buf.Len())
	}
	copy(h[:], buf.Bytes())
	return h, nil
}

// ParseHeader copies raw into a Header. raw must be exactly 80 bytes.
func ParseHeader(raw []byte) (Header, error) {
	var h Header
	if len(raw) != HeaderSize {
		return h, errors.New(errors.ErrorTypeValidation, "parse_header", "block header must be 80 bytes").
			WithContext("length", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// ParseHeaderHex decodes a hex-encoded header.
func ParseHeaderHex(s string) (Header, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Header{}, errors.Wrap(err, errors.ErrorTypeValidation, "parse_header", "invalid header hex")
	}
	return ParseHeader(raw)
}

// Wire decodes the header back into its structured form.
func (h *Header) Wire() (*wire.BlockHeader, error) {
	var bh wire.BlockHeader
	if err := bh.Deserialize(bytes.NewReader(h[:])); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "decode_header", "failed to decode block header")
	}
	return &bh, nil
}

func (h *Header) Version() int32 {
	return int32(binary.LittleEndian.Uint32(h[VersionOffset:]))
}

func (h *Header) PrevBlock() chainhash.Hash {
	var ph chainhash.Hash
	copy(ph[:], h[PrevBlockOffset:MerkleRootOffset])
	return ph
}

func (h *Header) MerkleRoot() chainhash.Hash {
	var mr chainhash.Hash
	copy(mr[:], h[MerkleRootOffset:TimeOffset])
	return mr
}

func (h *Header) Time() uint32 {
	return binary.LittleEndian.Uint32(h[TimeOffset:])
}

// SetTime rewrites the timestamp, used when a template is rolled forward.
func (h *Header) SetTime(ts uint32) {
	binary.LittleEndian.PutUint32(h[TimeOffset:], ts)
}

func (h *Header) Bits() uint32 {
	return binary.LittleEndian.Uint32(h[BitsOffset:])
}

func (h *Header) Nonce() uint32 {
	return binary.LittleEndian.Uint32(h[NonceOffset:])
}

func (h *Header) SetNonce(nonce uint32) {
	binary.LittleEndian.PutUint32(h[NonceOffset:], nonce)
}

// Target decodes the header's own bits field.
func (h *Header) Target() Target {
	return DecodeTarget(h.Bits())
}

func (h *Header) String() string {
	return hex.EncodeToString(h[:])
}
