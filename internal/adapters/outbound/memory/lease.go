package memory

import (
	"context"
	"sync"
	"time"

	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// Compile-time check that LeaseStore implements outbound.LeaseStore
var _ outbound.LeaseStore = (*LeaseStore)(nil)

type lease struct {
	owner     string
	expiresAt time.Time
}

// LeaseStore grants leases within a single process.
type LeaseStore struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewLeaseStore creates an empty lease store.
func NewLeaseStore() *LeaseStore {
	return &LeaseStore{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

func (s *LeaseStore) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if l, ok := s.leases[key]; ok && l.owner != owner && now.Before(l.expiresAt) {
		return false, nil
	}
	s.leases[key] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *LeaseStore) Release(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[key]; ok && l.owner == owner {
		delete(s.leases, key)
	}
	return nil
}
