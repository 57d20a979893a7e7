// Package genesis builds each network's genesis block from its profile and
// checks the result against the network's canonical reference record.
package genesis

import (
	"bytes"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/lifpow/internal/network"
	"github.com/bardlex/lifpow/internal/pow"
	"github.com/bardlex/lifpow/pkg/errors"
)

// CoinbaseScript returns the genesis signature script: the compact bits
// constant, a one-byte extra-nonce marker and the flags message.
//
// The marker is pushed with an explicit OP_DATA_1 so that small values are
// not rewritten as OP_1..OP_16.
func CoinbaseScript(marker byte, flags string) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddInt64(network.CoinbaseBits).
		AddOps([]byte{txscript.OP_DATA_1, marker}).
		AddData([]byte(flags)).
		Script()
}

// PayToPubKeyScript returns <pubkey> OP_CHECKSIG.
func PayToPubKeyScript(pubKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(pubKey).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// CoinbaseTx assembles the single genesis transaction.
func CoinbaseTx(g network.GenesisParams) (*wire.MsgTx, error) {
	sigScript, err := CoinbaseScript(g.ExtraNonceMarker, g.Flags)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "build_coinbase", "failed to build coinbase script")
	}

	key, err := hex.DecodeString(g.OutputKey)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "build_coinbase", "invalid output key").
			WithContext("key", g.OutputKey)
	}
	pkScript, err := PayToPubKeyScript(key)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "build_coinbase", "failed to build output script")
	}

	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), sigScript, nil))
	tx.AddTxOut(wire.NewTxOut(g.Reward, pkScript))
	return tx, nil
}

// Build assembles the genesis block for g.
func Build(g network.GenesisParams) (*wire.MsgBlock, error) {
	tx, err := CoinbaseTx(g)
	if err != nil {
		return nil, err
	}

	merkle := tx.TxHash()
	block := wire.NewMsgBlock(&wire.BlockHeader{
		Version:    g.Version,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: merkle,
		Timestamp:  time.Unix(int64(g.Time), 0),
		Bits:       g.Bits,
		Nonce:      g.Nonce,
	})
	if err := block.AddTransaction(tx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "build_genesis", "failed to add coinbase")
	}
	return block, nil
}

// Serialize returns the block's wire encoding as hex.
func Serialize(block *wire.MsgBlock) (string, error) {
	var buf bytes.Buffer
	buf.Grow(block.SerializeSize())
	if err := block.Serialize(&buf); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "serialize_genesis", "failed to serialize block")
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// Header returns the block header in its fixed 80-byte form.
func Header(block *wire.MsgBlock) (pow.Header, error) {
	return pow.HeaderFromWire(&block.Header)
}
