package bitcoin

import (
	"context"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/wire"
)

// NodeClient is the subset of node RPC a miner needs. Services depend on
// this rather than *RPCClient so tests can supply a fake node.
type NodeClient interface {
	// GetBlockTemplate retrieves a template to mine on.
	GetBlockTemplate(ctx context.Context) (*btcjson.GetBlockTemplateResult, error)

	// GetBlockCount returns the current chain height.
	GetBlockCount(ctx context.Context) (int64, error)

	// GetBestBlockHash returns the hash of the current tip.
	GetBestBlockHash(ctx context.Context) (string, error)

	// GetBlockchainInfo returns chain state, including the chain name.
	GetBlockchainInfo(ctx context.Context) (*btcjson.GetBlockChainInfoResult, error)

	// SubmitBlock submits a solved block.
	SubmitBlock(ctx context.Context, block *wire.MsgBlock) error

	// Ping tests connectivity.
	Ping(ctx context.Context) error

	// Close releases the client.
	Close()
}

// ZMQInterface is a node ZMQ subscription.
type ZMQInterface interface {
	Subscribe(topic string) error
	Connect() error
	// Listen delivers each message to handler until ctx is done.
	Listen(ctx context.Context, handler func(topic string, data []byte) error) error
	Close() error
}

// Compile-time interface compliance checks
var (
	_ NodeClient   = (*RPCClient)(nil)
	_ ZMQInterface = (*ZMQNotifier)(nil)
)
