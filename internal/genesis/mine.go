package genesis

import (
	"context"
	"math"

	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/lifpow/internal/hashing"
	"github.com/bardlex/lifpow/internal/mining"
	"github.com/bardlex/lifpow/internal/network"
	"github.com/bardlex/lifpow/pkg/errors"
)

// Mine searches for a nonce that makes g's genesis block meet its own bits,
// starting from startNonce. The configured nonce in g is ignored. On success
// the returned block carries the winning nonce.
func Mine(ctx context.Context, g network.GenesisParams, fn hashing.HashFunc, coord *mining.Coordinator, startNonce uint32) (*wire.MsgBlock, mining.Result, error) {
	block, err := Build(g)
	if err != nil {
		return nil, mining.Result{}, err
	}
	header, err := Header(block)
	if err != nil {
		return nil, mining.Result{}, err
	}

	job, err := mining.CreateJob("genesis", "", 0, header, startNonce, math.MaxUint32)
	if err != nil {
		return nil, mining.Result{}, err
	}

	res, err := coord.Run(ctx, job, fn)
	if err != nil {
		return nil, res, err
	}
	if !res.Found {
		return nil, res, errors.New(errors.ErrorTypeValidation, "mine_genesis", "nonce space exhausted; change the time or flags").
			WithContext("start_nonce", startNonce)
	}

	block.Header.Nonce = res.Nonce
	return block, res, nil
}
