// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the executor exposes.
package inbound

import (
	"context"

	"github.com/archon-research/stl-trade/internal/domain/entity"
)

// PlaceOrderRequest is the caller-supplied part of a new order. Status and
// creation time are never taken from the caller.
type PlaceOrderRequest struct {
	// OrderID is set by trusted intake paths that need idempotent creation.
	// Public APIs leave it empty and a fresh id is generated.
	OrderID string `json:"-"`

	ChainID    int64  `json:"chainId,omitempty"`
	Side       string `json:"side"`
	BaseToken  string `json:"baseToken"`
	QuoteToken string `json:"quoteToken"`
	Amount     string `json:"amount"`
	LimitPrice string `json:"limitPrice"`
}

// QueueStats describes the execution queue at a point in time.
type QueueStats struct {
	Pending   int `json:"pending"`
	InFlight  int `json:"inFlight"`
	Scheduled int `json:"scheduled"`
}

// ChainStatus is the health of one chain's provider pool plus its current height.
type ChainStatus struct {
	entity.PoolHealth
	BlockHeight      uint64 `json:"blockHeight,omitempty"`
	BlockHeightError string `json:"blockHeightError,omitempty"`
}

// StatusReport is the executor status snapshot.
type StatusReport struct {
	Chains []ChainStatus `json:"chains"`
	Queue  QueueStats    `json:"queue"`
}

// OrderService defines the order use cases. Inbound adapters (HTTP handlers,
// queue consumers) call these methods.
type OrderService interface {
	// PlaceOrder validates, persists and enqueues a new pending order.
	PlaceOrder(ctx context.Context, owner string, req PlaceOrderRequest) (*entity.Order, error)

	// CancelOrder cancels a pending order owned by owner. Returns
	// entity.ErrTooLateToCancel once the order left pending.
	CancelOrder(ctx context.Context, owner, orderID string) (*entity.Order, error)

	// GetOrder returns an order owned by owner.
	GetOrder(ctx context.Context, owner, orderID string) (*entity.Order, error)

	// Status returns provider pool health and queue statistics. It makes at most
	// one block height query per chain.
	Status(ctx context.Context) StatusReport
}

// HealthChecker defines the interface for services that can report readiness and liveness.
type HealthChecker interface {
	// IsReady returns true once recovered orders are enqueued and the worker runs.
	IsReady() bool

	// IsHealthy returns true while the worker loop is running.
	IsHealthy() bool
}
