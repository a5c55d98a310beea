package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a limit order waiting for, or going through, on-chain execution.
type Order struct {
	ID         string           `json:"id"`
	Owner      string           `json:"owner"`
	ChainID    int64            `json:"chainId"`
	Side       OrderSide        `json:"side"`
	BaseToken  string           `json:"baseToken"`
	QuoteToken string           `json:"quoteToken"`
	Amount     decimal.Decimal  `json:"amount"`
	LimitPrice decimal.Decimal  `json:"limitPrice"`
	Status     OrderStatus      `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
	TxHash     string           `json:"txHash,omitempty"`
	FillPrice  *decimal.Decimal `json:"fillPrice,omitempty"`
	Attempts   int              `json:"attempts"`
	LastError  string           `json:"lastError,omitempty"`

	// BroadcastHash is the hash of a signed transaction recorded before it is
	// sent. It stays internal; TxHash is only set once the network has it.
	BroadcastHash string `json:"-"`
}

// NewOrder creates a pending order with validation. Callers cannot choose the
// initial status or creation time beyond what is passed here. createdAt is
// truncated to microseconds, the precision the order store keeps.
func NewOrder(id, owner string, chainID int64, side OrderSide, baseToken, quoteToken string, amount, limitPrice decimal.Decimal, createdAt time.Time) (*Order, error) {
	createdAt = createdAt.Truncate(time.Microsecond)
	o := &Order{
		ID:         id,
		Owner:      owner,
		ChainID:    chainID,
		Side:       side,
		BaseToken:  strings.TrimSpace(baseToken),
		QuoteToken: strings.TrimSpace(quoteToken),
		Amount:     amount,
		LimitPrice: limitPrice,
		Status:     StatusPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Order) validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: id must not be empty", ErrInvalidOrderParameters)
	}
	if o.Owner == "" {
		return fmt.Errorf("%w: owner must not be empty", ErrInvalidOrderParameters)
	}
	if o.ChainID <= 0 {
		return fmt.Errorf("%w: chainId must be positive, got %d", ErrInvalidOrderParameters, o.ChainID)
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("%w: side must be buy or sell, got %q", ErrInvalidOrderParameters, o.Side)
	}
	if o.BaseToken == "" || o.QuoteToken == "" {
		return fmt.Errorf("%w: baseToken and quoteToken are required", ErrInvalidOrderParameters)
	}
	if strings.EqualFold(o.BaseToken, o.QuoteToken) {
		return fmt.Errorf("%w: baseToken and quoteToken must differ", ErrInvalidOrderParameters)
	}
	if !o.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidOrderParameters, o.Amount)
	}
	if !o.LimitPrice.IsPositive() {
		return fmt.Errorf("%w: limitPrice must be positive, got %s", ErrInvalidOrderParameters, o.LimitPrice)
	}
	if o.CreatedAt.IsZero() {
		return fmt.Errorf("%w: createdAt must be set", ErrInvalidOrderParameters)
	}
	return nil
}

// IsTerminal reports whether the order reached a final status.
func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// Notional returns amount * limitPrice in quote token units.
func (o *Order) Notional() decimal.Decimal {
	return o.Amount.Mul(o.LimitPrice)
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	if o.FillPrice != nil {
		fp := *o.FillPrice
		c.FillPrice = &fp
	}
	return &c
}
