package bitcoin

import (
	"context"
	"errors"
	"sync"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/wire"
)

// MockNodeClient is an in-memory NodeClient for tests.
type MockNodeClient struct {
	mu sync.Mutex

	// Control mock behavior
	ShouldError bool
	ErrorMsg    string
	RejectBlock error

	// Mock data
	BlockTemplate *btcjson.GetBlockTemplateResult
	BlockCount    int64
	BestBlockHash string
	Chain         string

	Submitted []*wire.MsgBlock
	Closed    bool
}

// NewMockNodeClient returns a regtest node with an empty mempool.
func NewMockNodeClient() *MockNodeClient {
	value := int64(5000000000)
	return &MockNodeClient{
		BlockTemplate: &btcjson.GetBlockTemplateResult{
			Version:       0x20000000,
			PreviousHash:  "0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206",
			Bits:          "207fffff",
			CurTime:       1700000000,
			Height:        101,
			CoinbaseValue: &value,
			Transactions:  []btcjson.GetBlockTemplateResultTx{},
		},
		BlockCount:    100,
		BestBlockHash: "0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206",
		Chain:         "regtest",
	}
}

func (m *MockNodeClient) err() error {
	if m.ShouldError {
		return errors.New(m.ErrorMsg)
	}
	return nil
}

// GetBlockTemplate returns the configured template.
func (m *MockNodeClient) GetBlockTemplate(_ context.Context) (*btcjson.GetBlockTemplateResult, error) {
	if err := m.err(); err != nil {
		return nil, err
	}
	return m.BlockTemplate, nil
}

// GetBlockCount returns the configured height.
func (m *MockNodeClient) GetBlockCount(_ context.Context) (int64, error) {
	if err := m.err(); err != nil {
		return 0, err
	}
	return m.BlockCount, nil
}

// GetBestBlockHash returns the configured tip.
func (m *MockNodeClient) GetBestBlockHash(_ context.Context) (string, error) {
	if err := m.err(); err != nil {
		return "", err
	}
	return m.BestBlockHash, nil
}

// GetBlockchainInfo reports the configured chain.
func (m *MockNodeClient) GetBlockchainInfo(_ context.Context) (*btcjson.GetBlockChainInfoResult, error) {
	if err := m.err(); err != nil {
		return nil, err
	}
	return &btcjson.GetBlockChainInfoResult{
		Chain:         m.Chain,
		Blocks:        int32(m.BlockCount),
		BestBlockHash: m.BestBlockHash,
	}, nil
}

// SubmitBlock records block, or returns RejectBlock when set.
func (m *MockNodeClient) SubmitBlock(_ context.Context, block *wire.MsgBlock) error {
	if err := m.err(); err != nil {
		return err
	}
	if m.RejectBlock != nil {
		return m.RejectBlock
	}
	m.mu.Lock()
	m.Submitted = append(m.Submitted, block)
	m.mu.Unlock()
	return nil
}

// Ping succeeds unless ShouldError is set.
func (m *MockNodeClient) Ping(_ context.Context) error {
	return m.err()
}

// Close marks the client closed.
func (m *MockNodeClient) Close() {
	m.Closed = true
}

var _ NodeClient = (*MockNodeClient)(nil)
