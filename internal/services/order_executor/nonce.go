package order_executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// NonceTracker hands out wallet nonces per chain. The node's pending nonce lags
// behind transactions that are still propagating, so the tracker remembers the
// next nonce it gave out and uses whichever is higher.
//
// Callers serialize Next and Commit per wallet.
type NonceTracker struct {
	mu   sync.Mutex
	next map[int64]uint64
}

// NewNonceTracker creates an empty tracker.
func NewNonceTracker() *NonceTracker {
	return &NonceTracker{next: make(map[int64]uint64)}
}

// Next returns the nonce to use for the wallet's next transaction on chain.
func (n *NonceTracker) Next(ctx context.Context, chain outbound.Chain, wallet common.Address) (uint64, error) {
	pending, err := chain.PendingNonceAt(ctx, wallet)
	if err != nil {
		return 0, fmt.Errorf("fetching pending nonce: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if local, ok := n.next[chain.ChainID()]; ok && local > pending {
		return local, nil
	}
	return pending, nil
}

// Commit records that nonce may have been consumed on chainID.
func (n *NonceTracker) Commit(chainID int64, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if nonce+1 > n.next[chainID] {
		n.next[chainID] = nonce + 1
	}
}

// Reset forgets the local view for chainID so the next nonce comes from the node.
func (n *NonceTracker) Reset(chainID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.next, chainID)
}
