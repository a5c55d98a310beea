package outbound

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-trade/internal/domain/entity"
)

// QuoteProvider returns current market prices.
type QuoteProvider interface {
	// Name returns the provider name.
	Name() string

	// Price returns the price of one unit of base expressed in quote units.
	Price(ctx context.Context, chainID int64, base, quote *entity.Token) (decimal.Decimal, error)
}
