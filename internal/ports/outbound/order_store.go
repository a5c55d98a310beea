// Package outbound contains the secondary/outbound ports.
// These interfaces define what the executor needs from external systems.
package outbound

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-trade/internal/domain/entity"
)

// OrderPatch describes the fields to change in a conditional order update.
// Nil pointers and an empty Status leave the stored value untouched.
// A non-nil empty BroadcastHash clears the stored one.
type OrderPatch struct {
	Status        entity.OrderStatus
	TxHash        *string
	BroadcastHash *string
	FillPrice     *decimal.Decimal
	Attempts      *int
	LastError     *string
}

// OrderStore persists orders and their lifecycle transitions.
type OrderStore interface {
	// Create persists a new order. Returns entity.ErrOrderExists if the id is taken.
	Create(ctx context.Context, order *entity.Order) error

	// Get loads an order. Returns entity.ErrOrderNotFound if it does not exist.
	Get(ctx context.Context, id string) (*entity.Order, error)

	// Update applies patch only if the stored status still equals expected.
	// A status change must be a legal transition. UpdatedAt is always refreshed.
	// Returns entity.ErrStatusConflict when the stored status differs and
	// entity.ErrInvalidTransition when the requested edge is illegal.
	Update(ctx context.Context, id string, expected entity.OrderStatus, patch OrderPatch) (*entity.Order, error)

	// ListActive returns up to limit orders in a non-terminal status, oldest first.
	ListActive(ctx context.Context, limit int) ([]*entity.Order, error)
}
