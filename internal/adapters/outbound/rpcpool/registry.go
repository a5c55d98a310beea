package rpcpool

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/archon-research/stl-trade/internal/adapters/outbound/jsonrpc"
	"github.com/archon-research/stl-trade/internal/config"
	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// Compile-time check that Registry implements outbound.ChainRegistry
var _ outbound.ChainRegistry = (*Registry)(nil)

// Registry holds one Pool per chain.
type Registry struct {
	pools map[int64]*Pool
}

// NewRegistry creates a registry from pools. Chain ids must be unique.
func NewRegistry(pools ...*Pool) (*Registry, error) {
	r := &Registry{pools: make(map[int64]*Pool, len(pools))}
	for _, p := range pools {
		if _, ok := r.pools[p.ChainID()]; ok {
			return nil, fmt.Errorf("duplicate pool for chain %d", p.ChainID())
		}
		r.pools[p.ChainID()] = p
	}
	return r, nil
}

// NewRegistryFromConfig builds a JSON-RPC client per configured provider and a
// pool per chain. poolConfig supplies timings; its ChainID is ignored.
func NewRegistryFromConfig(cfg *config.Config, poolConfig Config, logger *slog.Logger, telemetry *Telemetry) (*Registry, error) {
	pools := make([]*Pool, 0, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		providers := make([]outbound.RPCProvider, 0, len(chain.Providers))
		for _, pc := range chain.Providers {
			client, err := jsonrpc.NewClient(jsonrpc.ClientConfig{
				Name:    pc.Name,
				URL:     pc.URL,
				Timeout: chain.CallTimeout,
			})
			if err != nil {
				return nil, fmt.Errorf("chain %d: %w", chain.ChainID, err)
			}
			providers = append(providers, client)
		}

		pc := poolConfig
		pc.ChainID = chain.ChainID
		if chain.CallTimeout > 0 {
			pc.CallTimeout = chain.CallTimeout
		}
		p, err := NewPool(pc, providers, logger, telemetry)
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", chain.ChainID, err)
		}
		pools = append(pools, p)
	}
	return NewRegistry(pools...)
}

// Chain returns the pool for chainID.
func (r *Registry) Chain(chainID int64) (outbound.Chain, error) {
	p, ok := r.pools[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", entity.ErrUnknownChain, chainID)
	}
	return p, nil
}

// ChainIDs lists configured chains in ascending order.
func (r *Registry) ChainIDs() []int64 {
	ids := make([]int64, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Start starts the health check loop of every pool.
func (r *Registry) Start(ctx context.Context) {
	for _, p := range r.pools {
		p.Start(ctx)
	}
}

// Stop stops every pool's health check loop.
func (r *Registry) Stop() {
	for _, p := range r.pools {
		p.Stop()
	}
}
