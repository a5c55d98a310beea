package entity

import (
	"fmt"
	"slices"
	"strings"
)

// OrderSide is the direction of a limit order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// ParseOrderSide parses a side case-insensitively.
func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: side must be buy or sell, got %q", ErrInvalidOrderParameters, s)
	}
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusTriggered OrderStatus = "triggered"
	StatusSubmitted OrderStatus = "submitted"
	StatusConfirmed OrderStatus = "confirmed"
	StatusFilled    OrderStatus = "filled"
	StatusFailed    OrderStatus = "failed"
	StatusCancelled OrderStatus = "cancelled"
)

// allowedTransitions lists every legal status edge. Anything absent is rejected.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusTriggered, StatusCancelled, StatusFailed},
	StatusTriggered: {StatusSubmitted, StatusCancelled, StatusFailed},
	StatusSubmitted: {StatusConfirmed, StatusFailed},
	StatusConfirmed: {StatusFilled, StatusFailed},
	StatusFilled:    {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// ActiveStatuses are the statuses the executor still has work to do for.
var ActiveStatuses = []OrderStatus{StatusPending, StatusTriggered, StatusSubmitted, StatusConfirmed}

// IsValid reports whether s is a known status.
func (s OrderStatus) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible from s.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusFailed || s == StatusCancelled
}

// ParseOrderStatus parses a persisted status value.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return status, nil
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to OrderStatus) bool {
	return slices.Contains(allowedTransitions[from], to)
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not a legal edge.
func ValidateTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
