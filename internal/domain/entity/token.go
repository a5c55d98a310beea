package entity

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token represents an ERC20 token tradable on a chain.
type Token struct {
	ChainID  int64
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// NewToken creates a new Token entity with validation.
func NewToken(chainID int64, symbol string, address common.Address, decimals uint8) (*Token, error) {
	t := &Token{
		ChainID:  chainID,
		Symbol:   strings.TrimSpace(symbol),
		Address:  address,
		Decimals: decimals,
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Token) validate() error {
	if t.ChainID <= 0 {
		return fmt.Errorf("chainID must be positive, got %d", t.ChainID)
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if t.Address == (common.Address{}) {
		return fmt.Errorf("address must not be zero for %s", t.Symbol)
	}
	if t.Decimals > 36 {
		return fmt.Errorf("decimals must be at most 36, got %d", t.Decimals)
	}
	return nil
}

// ToBaseUnits converts a human amount into integer token units. roundUp selects
// ceiling instead of floor for amounts that do not fit the token's precision.
func (t *Token) ToBaseUnits(amount decimal.Decimal, roundUp bool) *big.Int {
	shifted := amount.Shift(int32(t.Decimals))
	if roundUp {
		shifted = shifted.Ceil()
	} else {
		shifted = shifted.Floor()
	}
	return shifted.BigInt()
}

// FromBaseUnits converts integer token units into a human amount.
func (t *Token) FromBaseUnits(units *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(units, -int32(t.Decimals))
}

// TokenRegistry resolves tokens by symbol or address per chain.
type TokenRegistry struct {
	byChain map[int64]map[string]*Token
}

// NewTokenRegistry builds a registry, rejecting duplicate symbols or addresses on a chain.
func NewTokenRegistry(tokens []*Token) (*TokenRegistry, error) {
	r := &TokenRegistry{byChain: make(map[int64]map[string]*Token)}
	for _, t := range tokens {
		if t == nil {
			continue
		}
		chain, ok := r.byChain[t.ChainID]
		if !ok {
			chain = make(map[string]*Token)
			r.byChain[t.ChainID] = chain
		}
		for _, key := range []string{strings.ToLower(t.Symbol), strings.ToLower(t.Address.Hex())} {
			if _, dup := chain[key]; dup {
				return nil, fmt.Errorf("duplicate token %q on chain %d", key, t.ChainID)
			}
			chain[key] = t
		}
	}
	return r, nil
}

// Resolve finds a token by case-insensitive symbol or 0x address.
func (r *TokenRegistry) Resolve(chainID int64, ref string) (*Token, error) {
	chain, ok := r.byChain[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	t, ok := chain[strings.ToLower(strings.TrimSpace(ref))]
	if !ok {
		return nil, fmt.Errorf("%w: %q on chain %d", ErrUnknownToken, ref, chainID)
	}
	return t, nil
}

// Pair is a resolved base/quote token pair.
type Pair struct {
	Base  *Token
	Quote *Token
}

// ResolvePair resolves both legs of an order. Unknown tokens are invalid order parameters.
func (r *TokenRegistry) ResolvePair(o *Order) (Pair, error) {
	base, err := r.Resolve(o.ChainID, o.BaseToken)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: base token: %w", ErrInvalidOrderParameters, err)
	}
	quote, err := r.Resolve(o.ChainID, o.QuoteToken)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: quote token: %w", ErrInvalidOrderParameters, err)
	}
	if base.Address == quote.Address {
		return Pair{}, fmt.Errorf("%w: base and quote resolve to the same token", ErrInvalidOrderParameters)
	}
	return Pair{Base: base, Quote: quote}, nil
}
