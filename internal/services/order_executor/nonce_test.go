package order_executor

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-trade/internal/testutil"
)

func TestNonceTracker(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewMockChain(1)
	chain.PendingNonce = 4
	wallet := common.HexToAddress("0x01")
	n := NewNonceTracker()

	next := func() uint64 {
		t.Helper()
		v, err := n.Next(ctx, chain, wallet)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		return v
	}

	if got := next(); got != 4 {
		t.Fatalf("expected chain nonce 4, got %d", got)
	}

	// The node has not seen our broadcast yet.
	n.Commit(1, 4)
	if got := next(); got != 5 {
		t.Errorf("expected local nonce 5, got %d", got)
	}

	// The node moved ahead, e.g. another sender on the same wallet.
	chain.Lock()
	chain.PendingNonce = 9
	chain.Unlock()
	if got := next(); got != 9 {
		t.Errorf("expected chain nonce 9, got %d", got)
	}

	n.Commit(1, 9)
	n.Commit(1, 3)
	if got := next(); got != 10 {
		t.Errorf("an older commit must not lower the nonce, got %d", got)
	}

	n.Reset(1)
	if got := next(); got != 9 {
		t.Errorf("expected chain nonce after reset, got %d", got)
	}

	chain.Lock()
	chain.ReadErr = errors.New("down")
	chain.Unlock()
	if _, err := n.Next(ctx, chain, wallet); err == nil {
		t.Error("expected error when the chain is unreachable")
	}
}
