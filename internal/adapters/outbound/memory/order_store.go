// Package memory provides in-memory adapters for single-process deployments and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// Compile-time check that OrderStore implements outbound.OrderStore
var _ outbound.OrderStore = (*OrderStore)(nil)

// OrderStore keeps orders in a map. Returned orders are copies.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*entity.Order
	now    func() time.Time
}

// NewOrderStore creates an empty store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[string]*entity.Order),
		now:    time.Now,
	}
}

func (s *OrderStore) Create(_ context.Context, order *entity.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("%w: %s", entity.ErrOrderExists, order.ID)
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *OrderStore) Get(_ context.Context, id string) (*entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrOrderNotFound, id)
	}
	return o.Clone(), nil
}

func (s *OrderStore) Update(_ context.Context, id string, expected entity.OrderStatus, patch outbound.OrderPatch) (*entity.Order, error) {
	if patch.Status != "" {
		if err := entity.ValidateTransition(expected, patch.Status); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrOrderNotFound, id)
	}
	if o.Status != expected {
		return nil, fmt.Errorf("%w: order %s is %s, expected %s", entity.ErrStatusConflict, id, o.Status, expected)
	}

	if patch.Status != "" {
		o.Status = patch.Status
	}
	if patch.TxHash != nil {
		o.TxHash = *patch.TxHash
	}
	if patch.BroadcastHash != nil {
		o.BroadcastHash = *patch.BroadcastHash
	}
	if patch.FillPrice != nil {
		fp := *patch.FillPrice
		o.FillPrice = &fp
	}
	if patch.Attempts != nil {
		o.Attempts = *patch.Attempts
	}
	if patch.LastError != nil {
		o.LastError = *patch.LastError
	}
	o.UpdatedAt = s.now()
	return o.Clone(), nil
}

func (s *OrderStore) ListActive(_ context.Context, limit int) ([]*entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*entity.Order
	for _, o := range s.orders {
		if !o.IsTerminal() {
			active = append(active, o.Clone())
		}
	}
	slices.SortFunc(active, func(a, b *entity.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}
