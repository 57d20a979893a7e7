// Package bitcoin talks to a node over JSON-RPC and ZMQ and turns the node's
// block templates into jobs the nonce search can work on.
package bitcoin

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/lifpow/internal/mining"
	"github.com/bardlex/lifpow/internal/pow"
	"github.com/bardlex/lifpow/pkg/errors"
)

// DefaultCoinbaseTag is appended to every coinbase signature script.
const DefaultCoinbaseTag = "/lifpow/"

// ExtraNonceSize is the width of the extra nonce pushed in the coinbase.
const ExtraNonceSize = 8

var (
	// bufferPool holds serialization buffers for block hex encoding.
	bufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 1024*1024))
		},
	}

	// hashSlicePool holds merkle tree levels.
	hashSlicePool = sync.Pool{
		New: func() any {
			return make([]chainhash.Hash, 0, 4000)
		},
	}
)

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() < 10*1024*1024 {
		bufferPool.Put(buf)
	}
}

func getHashSlice() []chainhash.Hash {
	return hashSlicePool.Get().([]chainhash.Hash)[:0]
}

func putHashSlice(slice []chainhash.Hash) {
	if cap(slice) < 10000 {
		hashSlicePool.Put(slice)
	}
}

// JobTemplate is a node block template with our coinbase filled in. Only
// the coinbase changes when the extra nonce rolls; the merkle branch of the
// other transactions is kept so the root can be recomputed cheaply.
type JobTemplate struct {
	Height       int64
	Version      int32
	PrevBlock    chainhash.Hash
	Time         uint32
	Bits         uint32
	Target       pow.Target
	Coinbase     *wire.MsgTx
	Transactions []*wire.MsgTx
	Branch       []chainhash.Hash
	ExtraNonce   uint64

	tag string
}

// DecodePayoutAddress decodes addr and checks that it belongs to params.
func DecodePayoutAddress(addr string, params *chaincfg.Params) (btcutil.Address, error) {
	if addr == "" {
		return nil, errors.New(errors.ErrorTypeConfiguration, "decode_payout", "payout address is required")
	}
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "decode_payout", "invalid payout address").
			WithContext("address", addr)
	}
	if !decoded.IsForNet(params) {
		return nil, errors.New(errors.ErrorTypeConfiguration, "decode_payout", "payout address belongs to another network").
			WithContext("address", addr).
			WithContext("network", params.Name)
	}
	return decoded, nil
}

// CoinbaseScript returns the BIP 34 signature script: the height, the
// extra nonce and the tag.
func CoinbaseScript(height int64, extraNonce uint64, tag string) ([]byte, error) {
	var en [ExtraNonceSize]byte
	binary.LittleEndian.PutUint64(en[:], extraNonce)

	return txscript.NewScriptBuilder().
		AddInt64(height).
		AddData(en[:]).
		AddData([]byte(tag)).
		Script()
}

// CreateCoinbaseTransaction builds the coinbase paying value to payScript.
// A non-empty witnessCommitment adds the segwit commitment output and the
// reserved witness value.
func CreateCoinbaseTransaction(height, value int64, extraNonce uint64, tag string, payScript []byte, witnessCommitment string) (*wire.MsgTx, error) {
	sigScript, err := CoinbaseScript(height, extraNonce, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to create coinbase script: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	in := wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), sigScript, nil)
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(value, payScript))

	if witnessCommitment != "" {
		commitment, err := hex.DecodeString(witnessCommitment)
		if err != nil {
			return nil, fmt.Errorf("invalid witness commitment: %w", err)
		}
		in.Witness = wire.TxWitness{make([]byte, 32)}
		tx.AddTxOut(wire.NewTxOut(0, commitment))
	}

	return tx, nil
}

// BuildJobTemplate turns a getblocktemplate result into a JobTemplate
// paying to payout.
func BuildJobTemplate(tmpl *btcjson.GetBlockTemplateResult, payout btcutil.Address, extraNonce uint64, tag string) (*JobTemplate, error) {
	if tmpl == nil {
		return nil, errors.New(errors.ErrorTypeContract, "build_job_template", "nil block template")
	}
	if tmpl.CoinbaseValue == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "build_job_template", "template has no coinbase value").
			WithContext("height", tmpl.Height)
	}

	prev, err := chainhash.NewHashFromStr(tmpl.PreviousHash)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "build_job_template", "invalid previous block hash").
			WithContext("previous_hash", tmpl.PreviousHash)
	}

	bits64, err := strconv.ParseUint(tmpl.Bits, 16, 32)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "build_job_template", "invalid bits").
			WithContext("bits", tmpl.Bits)
	}
	bits := uint32(bits64)
	target, err := pow.ParseCompact(bits)
	if err != nil {
		return nil, err
	}

	payScript, err := txscript.PayToAddrScript(payout)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "build_job_template", "unsupported payout address")
	}

	txs := make([]*wire.MsgTx, 0, len(tmpl.Transactions))
	for i, t := range tmpl.Transactions {
		raw, err := hex.DecodeString(t.Data)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "build_job_template", "invalid transaction hex").
				WithContext("index", i)
		}
		tx := &wire.MsgTx{}
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "build_job_template", "failed to deserialize transaction").
				WithContext("index", i)
		}
		txs = append(txs, tx)
	}

	coinbase, err := CreateCoinbaseTransaction(tmpl.Height, *tmpl.CoinbaseValue, extraNonce, tag, payScript, tmpl.DefaultWitnessCommitment)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "build_job_template", "failed to build coinbase")
	}

	hashes := make([]chainhash.Hash, 0, len(txs)+1)
	hashes = append(hashes, coinbase.TxHash())
	for _, tx := range txs {
		hashes = append(hashes, tx.TxHash())
	}

	curTime := tmpl.CurTime
	if curTime == 0 {
		curTime = time.Now().Unix()
	}

	return &JobTemplate{
		Height:       tmpl.Height,
		Version:      tmpl.Version,
		PrevBlock:    *prev,
		Time:         uint32(curTime),
		Bits:         bits,
		Target:       target,
		Coinbase:     coinbase,
		Transactions: txs,
		Branch:       GetMerkleBranch(hashes, 0),
		ExtraNonce:   extraNonce,
		tag:          tag,
	}, nil
}

// MerkleRoot returns the root committing to the current coinbase.
func (t *JobTemplate) MerkleRoot() chainhash.Hash {
	return MerkleRootFromBranch(t.Coinbase.TxHash(), t.Branch)
}

// RollExtraNonce replaces the coinbase extra nonce, giving a fresh header
// once the nonce space is exhausted.
func (t *JobTemplate) RollExtraNonce(extraNonce uint64) error {
	script, err := CoinbaseScript(t.Height, extraNonce, t.tag)
	if err != nil {
		return fmt.Errorf("failed to roll extra nonce: %w", err)
	}
	t.Coinbase.TxIn[0].SignatureScript = script
	t.ExtraNonce = extraNonce
	return nil
}

// WireHeader returns the header for the current coinbase with nonce set.
func (t *JobTemplate) WireHeader(nonce uint32) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:    t.Version,
		PrevBlock:  t.PrevBlock,
		MerkleRoot: t.MerkleRoot(),
		Timestamp:  time.Unix(int64(t.Time), 0),
		Bits:       t.Bits,
		Nonce:      nonce,
	}
}

// Header returns the 80-byte header with a zero nonce.
func (t *JobTemplate) Header() (pow.Header, error) {
	return pow.HeaderFromWire(t.WireHeader(0))
}

// Job converts the template into a full nonce range search job.
func (t *JobTemplate) Job(id, networkID string) (*mining.Job, error) {
	header, err := t.Header()
	if err != nil {
		return nil, err
	}
	return mining.CreateFullRangeJob(id, networkID, t.Height, header)
}

// Block assembles the complete block for a winning nonce.
func (t *JobTemplate) Block(nonce uint32) *wire.MsgBlock {
	block := wire.NewMsgBlock(t.WireHeader(nonce))
	block.Transactions = make([]*wire.MsgTx, 0, len(t.Transactions)+1)
	block.Transactions = append(block.Transactions, t.Coinbase.Copy())
	block.Transactions = append(block.Transactions, t.Transactions...)
	return block
}

// SerializeBlock returns block's wire encoding as hex.
func SerializeBlock(block *wire.MsgBlock) (string, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := block.Serialize(buf); err != nil {
		return "", fmt.Errorf("failed to serialize block: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func hashPair(left, right *chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}

// CalculateMerkleRoot computes the merkle root of txHashes, duplicating the
// last hash of odd-length levels.
func CalculateMerkleRoot(txHashes []chainhash.Hash) chainhash.Hash {
	if len(txHashes) == 0 {
		return chainhash.Hash{}
	}
	if len(txHashes) == 1 {
		return txHashes[0]
	}

	level := getHashSlice()
	level = append(level, txHashes...)

	for len(level) > 1 {
		next := getHashSlice()
		for i := 0; i < len(level); i += 2 {
			right := &level[i]
			if i+1 < len(level) {
				right = &level[i+1]
			}
			next = append(next, hashPair(&level[i], right))
		}
		putHashSlice(level)
		level = next
	}

	root := level[0]
	putHashSlice(level)
	return root
}

// GetMerkleBranch returns the sibling hashes needed to recompute the root
// from the transaction at txIndex.
func GetMerkleBranch(txHashes []chainhash.Hash, txIndex int) []chainhash.Hash {
	if len(txHashes) <= 1 || txIndex < 0 || txIndex >= len(txHashes) {
		return []chainhash.Hash{}
	}

	level := getHashSlice()
	level = append(level, txHashes...)
	index := txIndex

	var branch []chainhash.Hash
	for len(level) > 1 {
		sibling := index ^ 1
		if sibling >= len(level) {
			sibling = index
		}
		branch = append(branch, level[sibling])

		next := getHashSlice()
		for i := 0; i < len(level); i += 2 {
			right := &level[i]
			if i+1 < len(level) {
				right = &level[i+1]
			}
			next = append(next, hashPair(&level[i], right))
		}
		putHashSlice(level)
		level = next
		index /= 2
	}
	putHashSlice(level)

	return branch
}

// MerkleRootFromBranch folds the leftmost leaf up through branch.
func MerkleRootFromBranch(leaf chainhash.Hash, branch []chainhash.Hash) chainhash.Hash {
	acc := leaf
	for i := range branch {
		acc = hashPair(&acc, &branch[i])
	}
	return acc
}
