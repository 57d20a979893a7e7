package bitcoin

import (
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/atomic"
)

// TemplateBuilder turns successive node templates into job templates for a
// fixed payout address. Each template gets a fresh extra nonce so no two
// jobs share a coinbase.
//
// TemplateBuilder is safe for concurrent use.
type TemplateBuilder struct {
	params     *chaincfg.Params
	payout     btcutil.Address
	tag        string
	extraNonce atomic.Uint64
}

// NewTemplateBuilder creates a builder paying to payoutAddr on params.
func NewTemplateBuilder(params *chaincfg.Params, payoutAddr, tag string) (*TemplateBuilder, error) {
	payout, err := DecodePayoutAddress(payoutAddr, params)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		tag = DefaultCoinbaseTag
	}
	return &TemplateBuilder{
		params: params,
		payout: payout,
		tag:    tag,
	}, nil
}

// Params returns the chain parameters the builder was created for.
func (b *TemplateBuilder) Params() *chaincfg.Params {
	return b.params
}

// Build converts tmpl using the next extra nonce.
func (b *TemplateBuilder) Build(tmpl *btcjson.GetBlockTemplateResult) (*JobTemplate, error) {
	return BuildJobTemplate(tmpl, b.payout, b.NextExtraNonce(), b.tag)
}

// NextExtraNonce reserves an extra nonce, for rolling an existing template.
func (b *TemplateBuilder) NextExtraNonce() uint64 {
	return b.extraNonce.Inc()
}
