package testutil

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

var (
	_ outbound.Chain         = (*MockChain)(nil)
	_ outbound.ChainRegistry = (*MockChainRegistry)(nil)
	_ outbound.QuoteProvider = (*MockQuoteProvider)(nil)
)

// MockChain implements outbound.Chain as a single in-memory node with a mempool.
// Behavior is controlled through the exported fields, which must be set before
// the chain is shared with concurrent callers or changed under Lock/Unlock.
type MockChain struct {
	mu sync.Mutex

	ID           int64
	Height       uint64
	GasEstimate  uint64
	GasPrice     *big.Int
	TipCap       *big.Int
	PendingNonce uint64

	// ReadErr fails BlockNumber, PendingNonceAt and the fee suggestions.
	ReadErr error
	// EstimateErr fails EstimateGas.
	EstimateErr error
	// SendErr is returned by SendTransaction. With SendAmbiguous it is wrapped
	// in an *entity.AmbiguousSubmissionError carrying the transaction hash.
	// With SendLands the transaction still reaches the mempool.
	SendErr       error
	SendAmbiguous bool
	SendLands     bool
	// LookupErr fails TransactionByHash.
	LookupErr error
	// ReceiptErr fails TransactionReceipt.
	ReceiptErr error

	// AutoMine gives every transaction in the mempool a receipt on first lookup.
	AutoMine bool
	// Revert mines receipts with status 0.
	Revert bool
	// Logs builds receipt logs for an auto-mined transaction.
	Logs func(tx *types.Transaction) []entity.ReceiptLog

	Health entity.PoolHealth

	sends    int
	sent     []*types.Transaction
	mempool  map[common.Hash]*types.Transaction
	receipts map[common.Hash]*entity.Receipt
}

// NewMockChain creates a chain with sensible gas defaults.
func NewMockChain(chainID int64) *MockChain {
	return &MockChain{
		ID:          chainID,
		Height:      100,
		GasEstimate: 150_000,
		GasPrice:    big.NewInt(20_000_000_000),
		TipCap:      big.NewInt(1_000_000_000),
		Health: entity.PoolHealth{
			ChainID:         chainID,
			ActiveProvider:  "mock",
			HealthyCount:    1,
			TotalCount:      1,
			FailedProviders: []string{},
		},
		mempool:  make(map[common.Hash]*types.Transaction),
		receipts: make(map[common.Hash]*entity.Receipt),
	}
}

// Lock and Unlock guard field changes made while the chain is in use.
func (m *MockChain) Lock()   { m.mu.Lock() }
func (m *MockChain) Unlock() { m.mu.Unlock() }

func (m *MockChain) ChainID() int64 { return m.ID }

func (m *MockChain) BlockNumber(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	return m.Height, nil
}

func (m *MockChain) BlockNumberOnce(ctx context.Context) (uint64, error) {
	return m.BlockNumber(ctx)
}

func (m *MockChain) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	return big.NewInt(0), nil
}

func (m *MockChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EstimateErr != nil {
		return 0, m.EstimateErr
	}
	return m.GasEstimate, nil
}

func (m *MockChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	return m.PendingNonce, nil
}

func (m *MockChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	return new(big.Int).Set(m.GasPrice), nil
}

func (m *MockChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	return new(big.Int).Set(m.TipCap), nil
}

func (m *MockChain) SendTransaction(_ context.Context, tx *types.Transaction) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends++
	m.sent = append(m.sent, tx)
	if m.SendErr != nil {
		if m.SendLands {
			m.mempool[tx.Hash()] = tx
		}
		if m.SendAmbiguous {
			return common.Hash{}, &entity.AmbiguousSubmissionError{Provider: "mock", TxHash: tx.Hash(), Err: m.SendErr}
		}
		return common.Hash{}, m.SendErr
	}
	m.mempool[tx.Hash()] = tx
	return tx.Hash(), nil
}

func (m *MockChain) TransactionByHash(_ context.Context, hash common.Hash) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LookupErr != nil {
		return false, false, m.LookupErr
	}
	if _, ok := m.receipts[hash]; ok {
		return true, false, nil
	}
	_, ok := m.mempool[hash]
	return ok, ok, nil
}

func (m *MockChain) TransactionReceipt(_ context.Context, hash common.Hash) (*entity.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReceiptErr != nil {
		return nil, m.ReceiptErr
	}
	if r, ok := m.receipts[hash]; ok {
		return r, nil
	}
	tx, ok := m.mempool[hash]
	if !ok || !m.AutoMine {
		return nil, nil
	}
	m.mineLocked(tx)
	return m.receipts[hash], nil
}

func (m *MockChain) HealthStatus() entity.PoolHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Health
}

// Mine produces a receipt for a transaction already in the mempool.
func (m *MockChain) Mine(hash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.mempool[hash]
	if !ok {
		return fmt.Errorf("transaction %s not in mempool", hash)
	}
	m.mineLocked(tx)
	return nil
}

func (m *MockChain) mineLocked(tx *types.Transaction) {
	m.Height++
	status := uint64(1)
	if m.Revert {
		status = 0
	}
	var logs []entity.ReceiptLog
	if m.Logs != nil && status == 1 {
		logs = m.Logs(tx)
	}
	m.receipts[tx.Hash()] = &entity.Receipt{
		TxHash:      tx.Hash(),
		BlockNumber: m.Height,
		Status:      status,
		GasUsed:     tx.Gas() / 2,
		Logs:        logs,
	}
	delete(m.mempool, tx.Hash())
}

// Sends returns how many times SendTransaction was called.
func (m *MockChain) Sends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends
}

// Sent returns every transaction passed to SendTransaction, in call order.
func (m *MockChain) Sent() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// Transactions returns every transaction that reached the mempool or was mined.
func (m *MockChain) Transactions() []common.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hashes []common.Hash
	for h := range m.mempool {
		hashes = append(hashes, h)
	}
	for h := range m.receipts {
		hashes = append(hashes, h)
	}
	return hashes
}

// MockChainRegistry implements outbound.ChainRegistry over MockChains.
type MockChainRegistry struct {
	Chains map[int64]*MockChain
}

// NewMockChainRegistry creates a registry holding chains.
func NewMockChainRegistry(chains ...*MockChain) *MockChainRegistry {
	r := &MockChainRegistry{Chains: make(map[int64]*MockChain)}
	for _, c := range chains {
		r.Chains[c.ID] = c
	}
	return r
}

func (r *MockChainRegistry) Chain(chainID int64) (outbound.Chain, error) {
	c, ok := r.Chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", entity.ErrUnknownChain, chainID)
	}
	return c, nil
}

func (r *MockChainRegistry) ChainIDs() []int64 {
	ids := make([]int64, 0, len(r.Chains))
	for id := range r.Chains {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// MockQuoteProvider returns a settable price.
type MockQuoteProvider struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
	calls int
}

// NewMockQuoteProvider creates a provider quoting price.
func NewMockQuoteProvider(price string) *MockQuoteProvider {
	return &MockQuoteProvider{price: decimal.RequireFromString(price)}
}

// Set changes the quoted price and error.
func (q *MockQuoteProvider) Set(price string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.price = decimal.RequireFromString(price)
	q.err = err
}

// Calls returns how many prices were requested.
func (q *MockQuoteProvider) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func (q *MockQuoteProvider) Name() string { return "mock-quotes" }

func (q *MockQuoteProvider) Price(context.Context, int64, *entity.Token, *entity.Token) (decimal.Decimal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	return q.price, q.err
}
