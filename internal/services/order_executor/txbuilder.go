package order_executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/pkg/abis"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

const (
	methodExactOut = "swapTokensForExactTokens"
	methodExactIn  = "swapExactTokensForTokens"
)

// SwapCall is an encoded router call that enforces the order's limit price.
type SwapCall struct {
	Router common.Address
	Method string
	Data   []byte
	// AmountIn is the exact input for sells and the maximum input for buys.
	AmountIn *big.Int
	// AmountOut is the exact output for buys and the minimum output for sells.
	AmountOut *big.Int
}

// TxBuilder turns triggered orders into unsigned swap transactions and reads
// fills back out of receipts.
type TxBuilder struct {
	routerABI     *abi.ABI
	erc20ABI      *abi.ABI
	routers       map[int64]common.Address
	gasMultiplier float64
	deadline      time.Duration
	now           func() time.Time
}

// NewTxBuilder creates a builder for the given per-chain routers.
func NewTxBuilder(routers map[int64]common.Address, gasMultiplier float64, deadline time.Duration) (*TxBuilder, error) {
	if len(routers) == 0 {
		return nil, errors.New("at least one router is required")
	}
	routerABI, err := abis.GetSwapRouterABI()
	if err != nil {
		return nil, fmt.Errorf("loading router ABI: %w", err)
	}
	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("loading ERC20 ABI: %w", err)
	}
	if gasMultiplier < 1 {
		gasMultiplier = 1
	}
	return &TxBuilder{
		routerABI:     routerABI,
		erc20ABI:      erc20ABI,
		routers:       routers,
		gasMultiplier: gasMultiplier,
		deadline:      deadline,
		now:           time.Now,
	}, nil
}

// SwapCall encodes the router call for order, paying out to recipient.
//
// A buy receives exactly amount base tokens and spends at most amount*limit
// quote tokens, rounded up. A sell spends exactly amount base tokens and
// receives at least amount*limit quote tokens, rounded down.
func (b *TxBuilder) SwapCall(order *entity.Order, pair entity.Pair, recipient common.Address) (*SwapCall, error) {
	router, ok := b.routers[order.ChainID]
	if !ok {
		return nil, fmt.Errorf("%w: no router for chain %d", entity.ErrInvalidOrderParameters, order.ChainID)
	}
	deadline := big.NewInt(b.now().Add(b.deadline).Unix())
	baseUnits := pair.Base.ToBaseUnits(order.Amount, false)

	call := &SwapCall{Router: router}
	var path []common.Address
	switch order.Side {
	case entity.SideBuy:
		call.Method = methodExactOut
		call.AmountOut = baseUnits
		call.AmountIn = pair.Quote.ToBaseUnits(order.Notional(), true)
		path = []common.Address{pair.Quote.Address, pair.Base.Address}
	case entity.SideSell:
		call.Method = methodExactIn
		call.AmountIn = baseUnits
		call.AmountOut = pair.Quote.ToBaseUnits(order.Notional(), false)
		path = []common.Address{pair.Base.Address, pair.Quote.Address}
	default:
		return nil, fmt.Errorf("%w: unknown side %q", entity.ErrInvalidOrderParameters, order.Side)
	}
	if call.AmountIn.Sign() <= 0 || call.AmountOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount %s is below token precision", entity.ErrInvalidOrderParameters, order.Amount)
	}

	var (
		data []byte
		err  error
	)
	if call.Method == methodExactOut {
		data, err = b.routerABI.Pack(call.Method, call.AmountOut, call.AmountIn, path, recipient, deadline)
	} else {
		data, err = b.routerABI.Pack(call.Method, call.AmountIn, call.AmountOut, path, recipient, deadline)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", call.Method, err)
	}
	call.Data = data
	return call, nil
}

// Build returns the unsigned EIP-1559 swap transaction for order.
func (b *TxBuilder) Build(ctx context.Context, chain outbound.Chain, from common.Address, nonce uint64, order *entity.Order, pair entity.Pair) (*types.Transaction, error) {
	call, err := b.SwapCall(order, pair, from)
	if err != nil {
		return nil, err
	}

	gas, err := chain.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &call.Router, Data: call.Data})
	if err != nil {
		return nil, fmt.Errorf("estimating gas: %w", err)
	}
	tip, err := chain.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching tip cap: %w", err)
	}
	gasPrice, err := chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching gas price: %w", err)
	}

	// gasPrice approximates base fee plus tip; doubling it leaves room for base fee growth.
	feeCap := new(big.Int).Mul(gasPrice, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(chain.ChainID()),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       uint64(math.Ceil(float64(gas) * b.gasMultiplier)),
		To:        &call.Router,
		Value:     big.NewInt(0),
		Data:      call.Data,
	}), nil
}

// FillPrice derives the executed price from the ERC20 Transfer logs moving
// the pair's tokens to and from wallet. It returns false when the logs do not
// show both legs.
func (b *TxBuilder) FillPrice(receipt *entity.Receipt, order *entity.Order, pair entity.Pair, wallet common.Address) (decimal.Decimal, bool) {
	transfer := b.erc20ABI.Events["Transfer"]
	baseMoved, quoteMoved := new(big.Int), new(big.Int)

	for _, log := range receipt.Logs {
		if len(log.Topics) != 3 || log.Topics[0] != transfer.ID {
			continue
		}
		values, err := b.erc20ABI.Unpack("Transfer", log.Data)
		if err != nil || len(values) != 1 {
			continue
		}
		value, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		from := common.BytesToAddress(log.Topics[1].Bytes())
		to := common.BytesToAddress(log.Topics[2].Bytes())

		switch log.Address {
		case pair.Base.Address:
			if (order.Side == entity.SideBuy && to == wallet) || (order.Side == entity.SideSell && from == wallet) {
				baseMoved.Add(baseMoved, value)
			}
		case pair.Quote.Address:
			if (order.Side == entity.SideBuy && from == wallet) || (order.Side == entity.SideSell && to == wallet) {
				quoteMoved.Add(quoteMoved, value)
			}
		}
	}

	if baseMoved.Sign() == 0 || quoteMoved.Sign() == 0 {
		return decimal.Zero, false
	}
	return pair.Quote.FromBaseUnits(quoteMoved).Div(pair.Base.FromBaseUnits(baseMoved)), true
}
