// Package jsonrpc is an Ethereum JSON-RPC client for a single HTTP node endpoint.
//
// Every call is a single attempt. Failover and retries belong to the provider
// pool, which needs to know exactly how each attempt failed: errors are
// classified as not sent, rate limited, lost after sending, malformed, or an
// explicit node error (*RPCError).
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.RPCProvider
var _ outbound.RPCProvider = (*Client)(nil)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// ClientConfig holds configuration for the HTTP JSON-RPC client.
type ClientConfig struct {
	// Name identifies the provider in logs and health reports.
	Name string

	// URL is the HTTP JSON-RPC endpoint. It may embed an API key.
	URL string

	// Timeout is the maximum time to wait for a single HTTP request.
	Timeout time.Duration
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		Timeout: 10 * time.Second,
	}
}

// Client implements outbound.RPCProvider over HTTP.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	endpoint   string
	nextID     atomic.Int64
}

// NewClient creates a new JSON-RPC client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Name == "" {
		return nil, errors.New("name is required")
	}
	u, err := url.Parse(config.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid URL for provider %s", config.Name)
	}
	if config.Timeout == 0 {
		config.Timeout = ClientConfigDefaults().Timeout
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		endpoint:   u.Scheme + "://" + u.Host,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return c.config.Name }

// Endpoint returns the scheme and host of the provider URL. Paths often carry API keys.
func (c *Client) Endpoint() string { return c.endpoint }

// BlockNumber fetches the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.callInto(ctx, &result, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// BalanceAt fetches the latest native balance of account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	var result hexutil.Big
	if err := c.callInto(ctx, &result, "eth_getBalance", account, "latest"); err != nil {
		return nil, err
	}
	return result.ToInt(), nil
}

// EstimateGas estimates the gas needed to execute msg against the latest state.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var result hexutil.Uint64
	if err := c.callInto(ctx, &result, "eth_estimateGas", toCallArg(msg)); err != nil {
		return 0, err
	}
	if result == 0 {
		return 0, fmt.Errorf("%w: eth_estimateGas returned zero", ErrMalformedResponse)
	}
	return uint64(result), nil
}

// PendingNonceAt returns the next nonce of account including pending transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var result hexutil.Uint64
	if err := c.callInto(ctx, &result, "eth_getTransactionCount", account, "pending"); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// SuggestGasPrice returns the node's gas price suggestion.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := c.callInto(ctx, &result, "eth_gasPrice"); err != nil {
		return nil, err
	}
	return result.ToInt(), nil
}

// SuggestGasTipCap returns the node's priority fee suggestion.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := c.callInto(ctx, &result, "eth_maxPriorityFeePerGas"); err != nil {
		return nil, err
	}
	return result.ToInt(), nil
}

// TransactionByHash reports whether the node knows hash and whether it is still pending.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (bool, bool, error) {
	raw, err := c.call(ctx, "eth_getTransactionByHash", hash)
	if err != nil {
		return false, false, err
	}
	if isNull(raw) {
		return false, false, nil
	}
	var tx rpcTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return false, false, fmt.Errorf("%w: eth_getTransactionByHash: %w", ErrMalformedResponse, err)
	}
	return true, tx.BlockNumber == nil, nil
}

// TransactionReceipt returns the receipt for hash, or nil if it is not mined yet.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*entity.Receipt, error) {
	raw, err := c.call(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var r rpcReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: eth_getTransactionReceipt: %w", ErrMalformedResponse, err)
	}
	if r.Status == nil {
		return nil, fmt.Errorf("%w: eth_getTransactionReceipt: missing status", ErrMalformedResponse)
	}
	return r.toEntity(), nil
}

// SendRawTransaction broadcasts a signed, RLP-encoded transaction.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx []byte) (common.Hash, error) {
	var result common.Hash
	if err := c.callInto(ctx, &result, "eth_sendRawTransaction", hexutil.Bytes(rawTx)); err != nil {
		return common.Hash{}, err
	}
	return result, nil
}

// callInto makes a call and decodes a non-null result into out.
func (c *Client) callInto(ctx context.Context, out any, method string, params ...any) error {
	raw, err := c.call(ctx, method, params...)
	if err != nil {
		return err
	}
	if isNull(raw) {
		return fmt.Errorf("%w: %s: missing result", ErrMalformedResponse, method)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedResponse, method, err)
	}
	return nil
}

// call makes a single HTTP JSON-RPC call and classifies how it failed.
func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	reqBytes, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshalling %s: %w", ErrRequestNotSent, method, err)
	}

	var wrote atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				wrote.Store(true)
			}
		},
	}

	httpReq, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodPost, c.config.URL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s request: %w", ErrRequestNotSent, method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if wrote.Load() {
			return nil, fmt.Errorf("%w: %s: %w", ErrResponseLost, method, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestNotSent, method, err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s: HTTP 429", ErrRateLimited, method)
	case httpResp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrResponseLost, method, httpResp.StatusCode)
	}

	respBytes, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", ErrResponseLost, method, err)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		if httpResp.StatusCode >= 400 {
			return nil, fmt.Errorf("%w: %s: HTTP %d", ErrRequestNotSent, method, httpResp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedResponse, method, err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func toCallArg(msg ethereum.CallMsg) map[string]any {
	arg := map[string]any{
		"from": msg.From,
	}
	if msg.To != nil {
		arg["to"] = msg.To
	}
	if len(msg.Data) > 0 {
		arg["data"] = hexutil.Bytes(msg.Data)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	if msg.Gas != 0 {
		arg["gas"] = hexutil.Uint64(msg.Gas)
	}
	return arg
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
