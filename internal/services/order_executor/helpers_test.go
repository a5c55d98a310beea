package order_executor

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-trade/internal/adapters/outbound/memory"
	"github.com/archon-research/stl-trade/internal/adapters/outbound/signer"
	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/pkg/abis"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
	"github.com/archon-research/stl-trade/internal/testutil"
)

const (
	testChainID = int64(1)
	// Hardhat development account #0.
	testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

var (
	testRouter = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	testWETH   = &entity.Token{ChainID: testChainID, Symbol: "WETH", Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18}
	testUSDC   = &entity.Token{ChainID: testChainID, Symbol: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6}
	testPair   = entity.Pair{Base: testWETH, Quote: testUSDC}
)

// fastConfig keeps every wait in the millisecond range.
func fastConfig() Config {
	return Config{
		Concurrency:         4,
		PollInterval:        5 * time.Millisecond,
		MaxRetries:          3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     5 * time.Millisecond,
		ConfirmTimeout:      50 * time.Millisecond,
		ReceiptPollInterval: 2 * time.Millisecond,
		ReconcileAttempts:   3,
		ReconcileInterval:   time.Millisecond,
		LeaseTTL:            2 * time.Minute,
		GasMultiplier:       1.2,
		SwapDeadline:        10 * time.Minute,
		AlertCooldown:       time.Hour,
		InstanceID:          "test-instance",
	}
}

type fixture struct {
	store  *memory.OrderStore
	leases *memory.LeaseStore
	alerts *memory.AlertSink
	chain  *testutil.MockChain
	chains *testutil.MockChainRegistry
	quotes *testutil.MockQuoteProvider
	tokens *entity.TokenRegistry
	signer *signer.LocalSigner

	// orders is what the engine and service talk to; it defaults to store.
	orders outbound.OrderStore
}

func newFixture(t *testing.T, price string) *fixture {
	t.Helper()
	tokens, err := entity.NewTokenRegistry([]*entity.Token{testWETH, testUSDC})
	if err != nil {
		t.Fatalf("NewTokenRegistry: %v", err)
	}
	s, err := signer.NewLocalSigner(testKey)
	if err != nil {
		t.Fatalf("NewLocalSigner: %v", err)
	}
	chain := testutil.NewMockChain(testChainID)
	chain.AutoMine = true
	store := memory.NewOrderStore()
	return &fixture{
		store:  store,
		orders: store,
		leases: memory.NewLeaseStore(),
		alerts: memory.NewAlertSink(nil),
		chain:  chain,
		chains: testutil.NewMockChainRegistry(chain),
		quotes: testutil.NewMockQuoteProvider(price),
		tokens: tokens,
		signer: s,
	}
}

func (f *fixture) newEngine(t *testing.T, config Config) *Engine {
	t.Helper()
	builder, err := NewTxBuilder(map[int64]common.Address{testChainID: testRouter}, config.GasMultiplier, config.SwapDeadline)
	if err != nil {
		t.Fatalf("NewTxBuilder: %v", err)
	}
	e, err := NewEngine(config, EngineDeps{
		Store:   f.orders,
		Chains:  f.chains,
		Quotes:  f.quotes,
		Tokens:  f.tokens,
		Signer:  f.signer,
		Builder: builder,
		Leases:  f.leases,
		Alerts:  f.alerts,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func (f *fixture) newService(t *testing.T, config Config) *Service {
	t.Helper()
	svc, err := NewService(config, Deps{
		Store:          f.orders,
		Chains:         f.chains,
		Quotes:         f.quotes,
		Tokens:         f.tokens,
		Signer:         f.signer,
		Leases:         f.leases,
		Alerts:         f.alerts,
		Routers:        map[int64]common.Address{testChainID: testRouter},
		DefaultChainID: testChainID,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

// createOrder stores a pending order directly, bypassing service validation.
func (f *fixture) createOrder(t *testing.T, id string, side entity.OrderSide, amount, limit string) *entity.Order {
	t.Helper()
	o, err := entity.NewOrder(id, "alice", testChainID, side, "WETH", "USDC",
		decimal.RequireFromString(amount), decimal.RequireFromString(limit), time.Now().UTC())
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	if err := f.store.Create(context.Background(), o); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return o
}

func (f *fixture) get(t *testing.T, id string) *entity.Order {
	t.Helper()
	o, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	return o
}

// fillLogs makes mined swaps emit the transfers of a buy of baseUnits WETH
// paid with quoteUnits USDC.
func (f *fixture) fillLogs(t *testing.T, baseUnits, quoteUnits *big.Int) {
	t.Helper()
	wallet := f.signer.Address()
	pool := common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	f.chain.Logs = func(*types.Transaction) []entity.ReceiptLog {
		return []entity.ReceiptLog{
			transferLog(t, testUSDC.Address, wallet, pool, quoteUnits),
			transferLog(t, testWETH.Address, pool, wallet, baseUnits),
		}
	}
}

func transferLog(t *testing.T, token, from, to common.Address, value *big.Int) entity.ReceiptLog {
	t.Helper()
	erc20, err := abis.GetERC20ABI()
	if err != nil {
		t.Fatalf("GetERC20ABI: %v", err)
	}
	return entity.ReceiptLog{
		Address: token,
		Topics: []common.Hash{
			erc20.Events["Transfer"].ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(value.Bytes(), 32),
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func units(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad integer " + s)
	}
	return v
}
