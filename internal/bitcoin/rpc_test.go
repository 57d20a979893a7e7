package bitcoin

import (
	stderrors "errors"
	"fmt"
	"net"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/rpcclient"

	"github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
)

func TestNewRPCClient(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		username string
		password string
	}{
		{
			name:     "valid connection parameters",
			host:     "localhost",
			port:     8332,
			username: "user",
			password: "pass",
		},
		{
			// Creation succeeds; the connection would fail on first use.
			name:     "invalid port zero",
			host:     "localhost",
			port:     0,
			username: "user",
			password: "pass",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewRPCClient(tt.host, tt.port, tt.username, tt.password, log.Nop())
			if err != nil {
				t.Fatalf("NewRPCClient() unexpected error: %v", err)
			}
			if client == nil {
				t.Fatal("NewRPCClient() returned nil client")
			}
			if name := client.Breaker().Stats().Name; name != "node_rpc" {
				t.Errorf("breaker name = %q, want node_rpc", name)
			}
			client.Close()
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantType      errors.ErrorType
		wantRetryable bool
	}{
		{
			name:          "transport failure",
			err:           &net.OpError{Op: "dial", Net: "tcp", Err: stderrors.New("connection refused")},
			wantType:      errors.ErrorTypeNetwork,
			wantRetryable: true,
		},
		{
			name:     "json-rpc error",
			err:      &btcjson.RPCError{Code: btcjson.ErrRPCInvalidParameter, Message: "bad param"},
			wantType: errors.ErrorTypeBitcoin,
		},
		{
			name:     "client shut down",
			err:      fmt.Errorf("request: %w", rpcclient.ErrClientShutdown),
			wantType: errors.ErrorTypeInternal,
		},
		{
			name:          "block rejected",
			err:           stderrors.New("high-hash"),
			wantType:      errors.ErrorTypeValidation,
			wantRetryable: false,
		},
		{
			name:          "rejection mentioning a connection",
			err:           stderrors.New("connection-related rejection"),
			wantType:      errors.ErrorTypeValidation,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, "op", "msg")
			if got.Type != tt.wantType {
				t.Errorf("classify() type = %v, want %v", got.Type, tt.wantType)
			}
			if !stderrors.Is(got, tt.err) {
				t.Error("classify() should wrap the original error")
			}
			if tt.wantType == errors.ErrorTypeNetwork || tt.wantType == errors.ErrorTypeValidation {
				if got.Retryable != tt.wantRetryable {
					t.Errorf("classify() retryable = %v, want %v", got.Retryable, tt.wantRetryable)
				}
			}
		})
	}
}

func TestClassifyContext(t *testing.T) {
	rpcErr := &btcjson.RPCError{Code: btcjson.ErrRPCVerify, Message: "rejected"}
	got := classify(rpcErr, "submit_block", "rejected")
	if code, ok := got.Context["rpc_code"]; !ok || code != int(btcjson.ErrRPCVerify) {
		t.Errorf("rpc_code context = %v", got.Context["rpc_code"])
	}

	verdict := classify(stderrors.New("bad-txnmrklroot"), "submit_block", "rejected")
	if verdict.Context["reason"] != "bad-txnmrklroot" {
		t.Errorf("reason context = %v", verdict.Context["reason"])
	}
}
