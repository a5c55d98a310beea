package order_executor

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-trade/internal/domain/entity"
)

// Evaluate reports whether order should execute at price. A buy fires at or
// below its limit, a sell at or above it. A fetch error or a non-positive price
// never fires and is returned as entity.ErrPriceUnavailable.
func Evaluate(order *entity.Order, price decimal.Decimal, fetchErr error) (bool, error) {
	if fetchErr != nil {
		return false, fmt.Errorf("%w: %w", entity.ErrPriceUnavailable, fetchErr)
	}
	if !price.IsPositive() {
		return false, fmt.Errorf("%w: non-positive price %s", entity.ErrPriceUnavailable, price)
	}

	switch order.Side {
	case entity.SideBuy:
		return price.LessThanOrEqual(order.LimitPrice), nil
	case entity.SideSell:
		return price.GreaterThanOrEqual(order.LimitPrice), nil
	default:
		return false, fmt.Errorf("%w: unknown side %q", entity.ErrInvalidOrderParameters, order.Side)
	}
}
