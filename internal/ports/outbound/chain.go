package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/stl-trade/internal/domain/entity"
)

// ChainReader is the read surface shared by a single node endpoint and a provider pool.
type ChainReader interface {
	// BlockNumber returns the latest block height.
	BlockNumber(ctx context.Context) (uint64, error)

	// BalanceAt returns the native balance of account at the latest block.
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)

	// EstimateGas estimates the gas needed to execute msg.
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)

	// PendingNonceAt returns the next nonce for account including pending transactions.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// SuggestGasPrice returns the node's legacy gas price suggestion.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// SuggestGasTipCap returns the node's priority fee suggestion.
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	// TransactionByHash reports whether the node knows the transaction and whether it is still pending.
	TransactionByHash(ctx context.Context, hash common.Hash) (found bool, pending bool, err error)

	// TransactionReceipt returns the receipt of a mined transaction, or nil if it is not mined yet.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*entity.Receipt, error)
}

// RPCProvider is a single remote node endpoint.
type RPCProvider interface {
	ChainReader

	// Name identifies the provider in logs and health reports.
	Name() string

	// Endpoint returns the provider URL with credentials redacted.
	Endpoint() string

	// SendRawTransaction broadcasts an RLP-encoded signed transaction.
	SendRawTransaction(ctx context.Context, rawTx []byte) (common.Hash, error)
}

// Chain is a logical blockchain endpoint backed by one or more providers.
type Chain interface {
	ChainReader

	// ChainID returns the chain this endpoint serves.
	ChainID() int64

	// SendTransaction broadcasts tx. Errors wrap entity.ErrAllProvidersUnavailable,
	// entity.ErrSubmissionRejected, or carry an *entity.AmbiguousSubmissionError.
	// Any error that is not ambiguous means no provider accepted tx.
	SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)

	// HealthStatus returns a read-only snapshot of provider health.
	HealthStatus() entity.PoolHealth

	// BlockNumberOnce makes a single best-effort block height query without failover.
	BlockNumberOnce(ctx context.Context) (uint64, error)
}

// ChainRegistry resolves a Chain by id.
type ChainRegistry interface {
	// Chain returns the endpoint for chainID or entity.ErrUnknownChain.
	Chain(chainID int64) (Chain, error)

	// ChainIDs lists the configured chains in ascending order.
	ChainIDs() []int64
}

// TxSigner signs transactions for a single wallet.
type TxSigner interface {
	// Address returns the wallet address.
	Address() common.Address

	// SignTx returns a signed copy of tx for chainID.
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}
