package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-trade/internal/testutil"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{Name: "test", URL: url, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(ClientConfig{URL: "https://node.example.com"}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := NewClient(ClientConfig{Name: "p", URL: "::bad"}); err == nil {
		t.Error("expected error for invalid URL")
	}

	c, err := NewClient(ClientConfig{Name: "p", URL: "https://eth.example.com/v2/secret-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Endpoint() != "https://eth.example.com" {
		t.Errorf("expected redacted endpoint, got %q", c.Endpoint())
	}
	if c.config.Timeout != ClientConfigDefaults().Timeout {
		t.Errorf("expected default timeout, got %v", c.config.Timeout)
	}
}

func TestClient_ReadMethods(t *testing.T) {
	node := testutil.StartMockNode(t, func(method string, params []json.RawMessage) (any, *testutil.RPCErrorObject) {
		switch method {
		case "eth_blockNumber":
			return "0x10", nil
		case "eth_getBalance":
			return "0xde0b6b3a7640000", nil
		case "eth_estimateGas":
			var arg map[string]string
			_ = json.Unmarshal(params[0], &arg)
			if arg["data"] != "0x01020304" {
				return nil, &testutil.RPCErrorObject{Code: -32602, Message: "bad data " + arg["data"]}
			}
			return "0x5208", nil
		case "eth_getTransactionCount":
			var tag string
			_ = json.Unmarshal(params[1], &tag)
			if tag != "pending" {
				return nil, &testutil.RPCErrorObject{Code: -32602, Message: "expected pending tag"}
			}
			return "0x7", nil
		case "eth_gasPrice":
			return "0x3b9aca00", nil
		case "eth_maxPriorityFeePerGas":
			return "0x77359400", nil
		}
		return nil, &testutil.RPCErrorObject{Code: -32601, Message: "method not found"}
	})
	c := newTestClient(t, node.URL)
	ctx := context.Background()

	if n, err := c.BlockNumber(ctx); err != nil || n != 16 {
		t.Errorf("BlockNumber = %d, %v", n, err)
	}
	if b, err := c.BalanceAt(ctx, common.HexToAddress("0x1")); err != nil || b.Cmp(big.NewInt(1e18)) != 0 {
		t.Errorf("BalanceAt = %v, %v", b, err)
	}
	to := common.HexToAddress("0x2")
	if g, err := c.EstimateGas(ctx, ethereum.CallMsg{To: &to, Data: []byte{1, 2, 3, 4}}); err != nil || g != 21000 {
		t.Errorf("EstimateGas = %d, %v", g, err)
	}
	if n, err := c.PendingNonceAt(ctx, common.HexToAddress("0x1")); err != nil || n != 7 {
		t.Errorf("PendingNonceAt = %d, %v", n, err)
	}
	if p, err := c.SuggestGasPrice(ctx); err != nil || p.Int64() != 1_000_000_000 {
		t.Errorf("SuggestGasPrice = %v, %v", p, err)
	}
	if p, err := c.SuggestGasTipCap(ctx); err != nil || p.Int64() != 2_000_000_000 {
		t.Errorf("SuggestGasTipCap = %v, %v", p, err)
	}
}

func TestClient_TransactionLookups(t *testing.T) {
	minedHash := common.HexToHash("0xaa")
	pendingHash := common.HexToHash("0xbb")
	transferTopic := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

	node := testutil.StartMockNode(t, func(method string, params []json.RawMessage) (any, *testutil.RPCErrorObject) {
		var hash common.Hash
		_ = json.Unmarshal(params[0], &hash)
		switch method {
		case "eth_getTransactionByHash":
			switch hash {
			case minedHash:
				return map[string]any{"hash": minedHash, "blockNumber": "0x64"}, nil
			case pendingHash:
				return map[string]any{"hash": pendingHash, "blockNumber": nil}, nil
			}
			return nil, nil
		case "eth_getTransactionReceipt":
			if hash != minedHash {
				return nil, nil
			}
			return map[string]any{
				"transactionHash": minedHash,
				"blockNumber":     "0x64",
				"status":          "0x1",
				"gasUsed":         "0x1d4c0",
				"logs": []map[string]any{{
					"address": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
					"topics":  []common.Hash{transferTopic},
					"data":    "0x0f",
				}},
			}, nil
		}
		return nil, &testutil.RPCErrorObject{Code: -32601, Message: "method not found"}
	})
	c := newTestClient(t, node.URL)
	ctx := context.Background()

	if found, pending, err := c.TransactionByHash(ctx, minedHash); err != nil || !found || pending {
		t.Errorf("mined: found=%v pending=%v err=%v", found, pending, err)
	}
	if found, pending, err := c.TransactionByHash(ctx, pendingHash); err != nil || !found || !pending {
		t.Errorf("pending: found=%v pending=%v err=%v", found, pending, err)
	}
	if found, _, err := c.TransactionByHash(ctx, common.HexToHash("0xcc")); err != nil || found {
		t.Errorf("unknown: found=%v err=%v", found, err)
	}

	receipt, err := c.TransactionReceipt(ctx, minedHash)
	if err != nil {
		t.Fatalf("TransactionReceipt: %v", err)
	}
	if !receipt.Succeeded() || receipt.BlockNumber != 100 || receipt.GasUsed != 120000 {
		t.Errorf("unexpected receipt %+v", receipt)
	}
	if len(receipt.Logs) != 1 || receipt.Logs[0].Topics[0] != transferTopic || receipt.Logs[0].Data[0] != 0x0f {
		t.Errorf("unexpected logs %+v", receipt.Logs)
	}

	if r, err := c.TransactionReceipt(ctx, pendingHash); err != nil || r != nil {
		t.Errorf("expected nil receipt for unmined tx, got %+v, %v", r, err)
	}
}

func TestClient_SendRawTransaction(t *testing.T) {
	want := common.HexToHash("0x1234")
	node := testutil.StartMockNode(t, func(method string, params []json.RawMessage) (any, *testutil.RPCErrorObject) {
		var raw string
		_ = json.Unmarshal(params[0], &raw)
		if raw != "0xc0ffee" {
			return nil, &testutil.RPCErrorObject{Code: -32602, Message: "unexpected payload " + raw}
		}
		return want, nil
	})
	c := newTestClient(t, node.URL)

	got, err := c.SendRawTransaction(context.Background(), []byte{0xc0, 0xff, 0xee})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	nodeWith := func(code int, message string) string {
		return testutil.StartMockNode(t, func(string, []json.RawMessage) (any, *testutil.RPCErrorObject) {
			return nil, &testutil.RPCErrorObject{Code: code, Message: message}
		}).URL
	}
	nullNode := testutil.StartMockNode(t, func(string, []json.RawMessage) (any, *testutil.RPCErrorObject) {
		return nil, nil
	}).URL
	garbageNode := testutil.StartMockNode(t, func(string, []json.RawMessage) (any, *testutil.RPCErrorObject) {
		return map[string]string{"unexpected": "object"}, nil
	}).URL

	tests := []struct {
		name  string
		url   string
		check func(error) bool
	}{
		{"connection refused is not sent", testutil.ClosedURL(t), func(err error) bool { return errors.Is(err, ErrRequestNotSent) }},
		{"dropped after write is lost", testutil.StartDroppingNode(t).URL, func(err error) bool { return errors.Is(err, ErrResponseLost) }},
		{"HTTP 502 is lost", testutil.StartStatusNode(t, http.StatusBadGateway).URL, func(err error) bool { return errors.Is(err, ErrResponseLost) }},
		{"HTTP 429 is rate limited", testutil.StartStatusNode(t, http.StatusTooManyRequests).URL, func(err error) bool { return errors.Is(err, ErrRateLimited) }},
		{"HTTP 401 is refused", testutil.StartStatusNode(t, http.StatusUnauthorized).URL, func(err error) bool { return errors.Is(err, ErrRequestNotSent) }},
		{"null result is malformed", nullNode, func(err error) bool { return errors.Is(err, ErrMalformedResponse) }},
		{"wrong type is malformed", garbageNode, func(err error) bool { return errors.Is(err, ErrMalformedResponse) }},
		{"node error is RPCError", nodeWith(-32000, "header not found"), func(err error) bool {
			var rpcErr *RPCError
			return errors.As(err, &rpcErr) && rpcErr.Code == -32000
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.url)
			_, err := c.BlockNumber(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected classification: %v", err)
			}
		})
	}
}

func TestIsExecutionReverted(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&RPCError{Code: 3, Message: "execution reverted: UniswapV2Router: EXCESSIVE_INPUT_AMOUNT"}, true},
		{&RPCError{Code: -32000, Message: "execution reverted"}, true},
		{&RPCError{Code: -32000, Message: "insufficient funds for gas"}, false},
		{ErrResponseLost, false},
	}
	for _, tt := range tests {
		if got := IsExecutionReverted(tt.err); got != tt.want {
			t.Errorf("IsExecutionReverted(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsAlreadyKnown(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&RPCError{Code: -32000, Message: "already known"}, true},
		{&RPCError{Code: -32000, Message: "nonce too low: next nonce 8, tx nonce 7"}, true},
		{&RPCError{Code: -32000, Message: "Known transaction"}, true},
		{&RPCError{Code: -32000, Message: "replacement transaction underpriced"}, false},
		{ErrRequestNotSent, false},
	}
	for _, tt := range tests {
		if got := IsAlreadyKnown(tt.err); got != tt.want {
			t.Errorf("IsAlreadyKnown(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
