package bitcoin

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/lifpow/pkg/circuit"
	"github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
	"github.com/bardlex/lifpow/pkg/retry"
)

// RPCClient is a circuit-broken, retrying wrapper around btcd's JSON-RPC
// client, limited to the calls a solo miner needs.
type RPCClient struct {
	client  *rpcclient.Client
	breaker *circuit.Breaker
	reads   *retry.Retrier
	submits *retry.Retrier
}

// NewRPCClient creates a node RPC client in HTTP POST mode without TLS.
// No connection is made until the first call.
func NewRPCClient(host string, port int, username, password string, logger *log.Logger) (*RPCClient, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         fmt.Sprintf("%s:%d", host, port),
		User:         username,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBitcoin, "rpc_client_creation",
			"failed to create node RPC client").
			WithContext("host", host).
			WithContext("port", port)
	}

	logger = logger.WithComponent("node_rpc")
	breaker := circuit.New(circuit.Config{
		Name:            "node_rpc",
		MaxFailures:     3,
		SuccessRequired: 2,
		Cooldown:        10 * time.Second,
		FailureWindow:   30 * time.Second,
	}, logger)

	return &RPCClient{
		client:  client,
		breaker: breaker,
		reads:   retry.New(retry.NodePolicy, logger),
		submits: retry.New(retry.SubmitPolicy, logger),
	}, nil
}

// Breaker exposes the client's circuit breaker for metrics.
func (c *RPCClient) Breaker() *circuit.Breaker {
	return c.breaker
}

// Close shuts down the RPC client.
func (c *RPCClient) Close() {
	c.client.Shutdown()
}

// GetBlockTemplate retrieves a segwit-aware block template.
func (c *RPCClient) GetBlockTemplate(ctx context.Context) (*btcjson.GetBlockTemplateResult, error) {
	return circuit.Call(ctx, c.breaker, func() (*btcjson.GetBlockTemplateResult, error) {
		return retry.Value(ctx, c.reads, "get_block_template", func() (*btcjson.GetBlockTemplateResult, error) {
			req := &btcjson.TemplateRequest{
				Mode:         "template",
				Capabilities: []string{"coinbasetxn", "workid", "coinbase/append"},
				Rules:        []string{"segwit"},
			}

			template, err := c.client.GetBlockTemplateAsync(req).Receive()
			if err != nil {
				return nil, classify(err, "get_block_template", "failed to retrieve block template")
			}
			return template, nil
		})
	})
}

// GetBlockCount returns the height of the node's best chain.
func (c *RPCClient) GetBlockCount(ctx context.Context) (int64, error) {
	return circuit.Call(ctx, c.breaker, func() (int64, error) {
		return retry.Value(ctx, c.reads, "get_block_count", func() (int64, error) {
			count, err := c.client.GetBlockCountAsync().Receive()
			if err != nil {
				return 0, classify(err, "get_block_count", "failed to retrieve current block height")
			}
			return count, nil
		})
	})
}

// GetBestBlockHash returns the hash of the node's tip.
func (c *RPCClient) GetBestBlockHash(ctx context.Context) (string, error) {
	return circuit.Call(ctx, c.breaker, func() (string, error) {
		return retry.Value(ctx, c.reads, "get_best_block_hash", func() (string, error) {
			hash, err := c.client.GetBestBlockHashAsync().Receive()
			if err != nil {
				return "", classify(err, "get_best_block_hash", "failed to retrieve best block hash")
			}
			return hash.String(), nil
		})
	})
}

// GetBlockchainInfo returns chain state, used to confirm the node runs the
// expected network.
func (c *RPCClient) GetBlockchainInfo(ctx context.Context) (*btcjson.GetBlockChainInfoResult, error) {
	return circuit.Call(ctx, c.breaker, func() (*btcjson.GetBlockChainInfoResult, error) {
		return retry.Value(ctx, c.reads, "get_blockchain_info", func() (*btcjson.GetBlockChainInfoResult, error) {
			info, err := c.client.GetBlockChainInfoAsync().Receive()
			if err != nil {
				return nil, classify(err, "get_blockchain_info", "failed to retrieve blockchain information")
			}
			return info, nil
		})
	})
}

// SubmitBlock submits a solved block. A rejection by the node comes back as
// a non-retryable validation error carrying the node's reason.
func (c *RPCClient) SubmitBlock(ctx context.Context, block *wire.MsgBlock) error {
	return c.breaker.Execute(ctx, func() error {
		return c.submits.Do(ctx, "submit_block", func() error {
			err := c.client.SubmitBlockAsync(btcutil.NewBlock(block), nil).Receive()
			if err != nil {
				return classify(err, "submit_block", "node did not accept block").
					WithContext("block_hash", block.BlockHash().String())
			}
			return nil
		})
	})
}

// Ping tests connectivity to the node.
func (c *RPCClient) Ping(ctx context.Context) error {
	return c.breaker.Execute(ctx, func() error {
		return c.reads.Do(ctx, "ping", func() error {
			if err := c.client.PingAsync().Receive(); err != nil {
				return errors.Wrap(err, errors.ErrorTypeNetwork, "ping", "node connectivity check failed")
			}
			return nil
		})
	})
}

// classify maps a btcd client error onto the service error types: transport
// failures are network errors, JSON-RPC errors are node errors and anything
// else is a verdict returned in the result field, such as a block rejection.
func classify(err error, operation, message string) *errors.ServiceError {
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		se := errors.Wrap(err, errors.ErrorTypeNetwork, operation, message)
		se.Retryable = true
		return se
	}
	var rpcErr *btcjson.RPCError
	if stderrors.As(err, &rpcErr) {
		return errors.Wrap(err, errors.ErrorTypeBitcoin, operation, message).
			WithContext("rpc_code", int(rpcErr.Code))
	}
	if stderrors.Is(err, rpcclient.ErrClientShutdown) {
		return errors.Wrap(err, errors.ErrorTypeInternal, operation, message)
	}
	se := errors.Wrap(err, errors.ErrorTypeValidation, operation, message).
		WithContext("reason", err.Error())
	se.Retryable = false
	return se
}
