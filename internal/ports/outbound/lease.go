package outbound

import (
	"context"
	"time"
)

// LeaseStore grants short-lived exclusive ownership of a key. It keeps an order
// owned by at most one execution attempt across executor replicas.
type LeaseStore interface {
	// Acquire takes the lease for key on behalf of owner. It returns false
	// without error when another owner holds it.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Release drops the lease if owner still holds it.
	Release(ctx context.Context, key, owner string) error
}
