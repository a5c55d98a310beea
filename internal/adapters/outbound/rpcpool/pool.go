// Package rpcpool presents several JSON-RPC providers for one chain as a single
// endpoint with health tracking and failover.
//
// Providers are kept in configured order. The first healthy provider is active;
// a call that fails on it is retried on the next candidate until every provider
// was tried once. A failure demotes the provider. Demoted providers come back
// through the periodic probe, or lazily when a call has run out of healthy
// candidates and the provider's probe cooldown has elapsed.
//
// Transaction broadcast is stricter than reads: it only moves to another
// provider when the request provably never reached the previous one.
package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sourcegraph/conc/pool"

	"github.com/archon-research/stl-trade/internal/adapters/outbound/jsonrpc"
	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// Compile-time check that Pool implements outbound.Chain
var _ outbound.Chain = (*Pool)(nil)

// Config holds configuration for a provider pool.
type Config struct {
	// ChainID is the chain every provider in the pool serves.
	ChainID int64

	// CallTimeout bounds a single call against a single provider.
	CallTimeout time.Duration

	// ProbeCooldown is the minimum time between two checks of an unhealthy provider.
	ProbeCooldown time.Duration

	// HealthCheckInterval is how often Start probes unhealthy providers.
	HealthCheckInterval time.Duration
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		CallTimeout:         10 * time.Second,
		ProbeCooldown:       30 * time.Second,
		HealthCheckInterval: 15 * time.Second,
	}
}

type member struct {
	provider outbound.RPCProvider

	healthy             bool
	unhealthySince      time.Time
	lastCheckedAt       time.Time
	lastError           string
	consecutiveFailures int
}

// Pool implements outbound.Chain over an ordered list of providers.
type Pool struct {
	config    Config
	logger    *slog.Logger
	telemetry *Telemetry

	mu      sync.Mutex
	members []*member

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewPool creates a pool over providers in priority order. telemetry may be nil.
func NewPool(config Config, providers []outbound.RPCProvider, logger *slog.Logger, telemetry *Telemetry) (*Pool, error) {
	if len(providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	if config.ChainID <= 0 {
		return nil, fmt.Errorf("invalid chain id %d", config.ChainID)
	}

	defaults := ConfigDefaults()
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	if config.ProbeCooldown <= 0 {
		config.ProbeCooldown = defaults.ProbeCooldown
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[string]bool, len(providers))
	members := make([]*member, 0, len(providers))
	for _, provider := range providers {
		if provider == nil {
			return nil, errors.New("provider cannot be nil")
		}
		if seen[provider.Name()] {
			return nil, fmt.Errorf("duplicate provider name %q", provider.Name())
		}
		seen[provider.Name()] = true
		members = append(members, &member{provider: provider, healthy: true})
	}

	return &Pool{
		config:    config,
		logger:    logger.With("component", "rpcpool", "chainID", config.ChainID),
		telemetry: telemetry,
		members:   members,
	}, nil
}

// ChainID returns the chain the pool serves.
func (p *Pool) ChainID() int64 { return p.config.ChainID }

// BlockNumber returns the latest block height.
func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, p, "eth_blockNumber", readClassifier(ctx), func(ctx context.Context, r outbound.RPCProvider) (uint64, error) {
		return r.BlockNumber(ctx)
	})
}

// BalanceAt returns the native balance of account.
func (p *Pool) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return call(ctx, p, "eth_getBalance", readClassifier(ctx), func(ctx context.Context, r outbound.RPCProvider) (*big.Int, error) {
		return r.BalanceAt(ctx, account)
	})
}

// EstimateGas estimates the gas needed to execute msg. A revert is reported as
// entity.ErrOnChainRevert and any other node-reported error as
// entity.ErrSubmissionRejected; neither demotes the provider.
func (p *Pool) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return call(ctx, p, "eth_estimateGas", estimateClassifier(ctx), func(ctx context.Context, r outbound.RPCProvider) (uint64, error) {
		return r.EstimateGas(ctx, msg)
	})
}

// PendingNonceAt returns the next nonce for account including pending transactions.
func (p *Pool) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(ctx, p, "eth_getTransactionCount", readClassifier(ctx), func(ctx context.Context, r outbound.RPCProvider) (uint64, error) {
		return r.PendingNonceAt(ctx, account)
	})
}

// SuggestGasPrice returns a gas price suggestion.
func (p *Pool) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return call(ctx, p, "eth_gasPrice", readClassifier(ctx), func(ctx context.Context, r outbound.RPCProvider) (*big.Int, error) {
		return r.SuggestGasPrice(ctx)
	})
}

// SuggestGasTipCap returns a priority fee suggestion.
func (p *Pool) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return call(ctx, p, "eth_maxPriorityFeePerGas", readClassifier(ctx), func(ctx context.Context, r outbound.RPCProvider) (*big.Int, error) {
		return r.SuggestGasTipCap(ctx)
	})
}

type txLookup struct {
	found   bool
	pending bool
}

// TransactionByHash reports whether the transaction is known and still pending.
func (p *Pool) TransactionByHash(ctx context.Context, hash common.Hash) (bool, bool, error) {
	res, err := call(ctx, p, "eth_getTransactionByHash", readClassifier(ctx), func(ctx context.Context, r outbound.RPCProvider) (txLookup, error) {
		found, pending, err := r.TransactionByHash(ctx, hash)
		return txLookup{found: found, pending: pending}, err
	})
	return res.found, res.pending, err
}

// TransactionReceipt returns the receipt for hash, or nil if it is not mined yet.
func (p *Pool) TransactionReceipt(ctx context.Context, hash common.Hash) (*entity.Receipt, error) {
	return call(ctx, p, "eth_getTransactionReceipt", readClassifier(ctx), func(ctx context.Context, r outbound.RPCProvider) (*entity.Receipt, error) {
		return r.TransactionReceipt(ctx, hash)
	})
}

// SendTransaction broadcasts a signed transaction and returns its hash.
//
// The pool moves to another provider only when the request was never written
// or was refused with HTTP 429. Once a provider may have received the
// transaction, any failure is returned as *entity.AmbiguousSubmissionError
// carrying the locally computed hash and no other provider is tried.
func (p *Pool) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if tx == nil {
		return common.Hash{}, errors.New("transaction cannot be nil")
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encoding transaction: %w", err)
	}
	hash := tx.Hash()

	got, err := call(ctx, p, "eth_sendRawTransaction", sendClassifier(ctx, hash), func(ctx context.Context, r outbound.RPCProvider) (common.Hash, error) {
		return r.SendRawTransaction(ctx, raw)
	})
	if err != nil {
		return common.Hash{}, err
	}
	if got != hash {
		p.logger.Warn("provider returned unexpected transaction hash",
			"expected", hash.Hex(),
			"got", got.Hex())
	}
	return hash, nil
}

// BlockNumberOnce asks the active provider once, without failover and without
// changing health state.
func (p *Pool) BlockNumberOnce(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	target := p.members[0]
	for _, m := range p.members {
		if m.healthy {
			target = m
			break
		}
	}
	provider := target.provider
	p.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
	defer cancel()
	n, err := provider.BlockNumber(callCtx)
	if err != nil {
		return 0, fmt.Errorf("block number from %s: %w", provider.Name(), err)
	}
	return n, nil
}

// HealthStatus returns a snapshot of provider health.
func (p *Pool) HealthStatus() entity.PoolHealth {
	p.mu.Lock()
	defer p.mu.Unlock()

	health := entity.PoolHealth{
		ChainID:         p.config.ChainID,
		TotalCount:      len(p.members),
		FailedProviders: []string{},
		Providers:       make([]entity.ProviderState, 0, len(p.members)),
	}
	for _, m := range p.members {
		if m.healthy {
			health.HealthyCount++
			if health.ActiveProvider == "" {
				health.ActiveProvider = m.provider.Name()
			}
		} else {
			health.FailedProviders = append(health.FailedProviders, m.provider.Name())
		}
		health.Providers = append(health.Providers, entity.ProviderState{
			Name:                m.provider.Name(),
			Endpoint:            m.provider.Endpoint(),
			ChainID:             p.config.ChainID,
			Healthy:             m.healthy,
			UnhealthySince:      m.unhealthySince,
			LastError:           m.lastError,
			LastCheckedAt:       m.lastCheckedAt,
			ConsecutiveFailures: m.consecutiveFailures,
		})
	}
	return health
}

// Probe checks every unhealthy provider with eth_blockNumber and promotes the
// ones that answer.
func (p *Pool) Probe(ctx context.Context) {
	p.mu.Lock()
	var targets []int
	for i, m := range p.members {
		if !m.healthy {
			targets = append(targets, i)
		}
	}
	p.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	wp := pool.New().WithMaxGoroutines(len(targets))
	for _, idx := range targets {
		wp.Go(func() {
			provider := p.members[idx].provider
			callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
			defer cancel()

			if _, err := provider.BlockNumber(callCtx); err != nil {
				if ctx.Err() == nil {
					p.markFailure(ctx, idx, err)
				}
				return
			}
			p.markSuccess(ctx, idx)
		})
	}
	wp.Wait()
}

// Start runs the periodic health check until Stop is called or ctx is done.
func (p *Pool) Start(ctx context.Context) {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.config.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Probe(ctx)
			}
		}
	}()
}

// Stop ends the health check loop and waits for it to exit.
func (p *Pool) Stop() {
	p.lifecycleMu.Lock()
	cancel := p.cancel
	p.lifecycleMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

// next picks the provider for the next attempt. The first healthy untried
// provider wins. When none is left, an unhealthy untried provider whose
// cooldown has elapsed is tried as a last resort; picking it claims the
// cooldown so concurrent calls do not pile onto it.
func (p *Pool) next(tried []bool) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, m := range p.members {
		if !tried[i] && m.healthy {
			return i, true
		}
	}
	now := time.Now()
	for i, m := range p.members {
		if !tried[i] && now.Sub(m.lastCheckedAt) >= p.config.ProbeCooldown {
			m.lastCheckedAt = now
			return i, true
		}
	}
	return 0, false
}

func (p *Pool) markFailure(ctx context.Context, idx int, err error) {
	p.mu.Lock()
	m := p.members[idx]
	m.consecutiveFailures++
	m.lastError = err.Error()
	m.lastCheckedAt = time.Now()
	demoted := m.healthy
	if demoted {
		m.healthy = false
		m.unhealthySince = m.lastCheckedAt
	}
	name := m.provider.Name()
	p.mu.Unlock()

	if demoted {
		p.logger.Warn("provider marked unhealthy", "provider", name, "error", err)
		p.telemetry.RecordDemotion(ctx, p.config.ChainID, name)
	}
}

func (p *Pool) markSuccess(ctx context.Context, idx int) {
	p.mu.Lock()
	m := p.members[idx]
	m.consecutiveFailures = 0
	m.lastError = ""
	m.lastCheckedAt = time.Now()
	promoted := !m.healthy
	var downFor time.Duration
	if promoted {
		downFor = m.lastCheckedAt.Sub(m.unhealthySince)
		m.healthy = true
		m.unhealthySince = time.Time{}
	}
	name := m.provider.Name()
	p.mu.Unlock()

	if promoted {
		p.logger.Info("provider recovered", "provider", name, "unhealthyFor", downFor)
		p.telemetry.RecordPromotion(ctx, p.config.ChainID, name)
	}
}

// disposition tells call what to do with a failed attempt.
type disposition int

const (
	// failover demotes the provider and tries the next candidate.
	failover disposition = iota
	// stop returns the error and leaves the provider's health alone.
	stop
	// stopAndDemote demotes the provider and returns the error.
	stopAndDemote
)

// classifier maps a failed attempt on provider to a disposition and the error
// returned to the caller when the call stops there.
type classifier func(provider string, err error) (disposition, error)

// call runs fn against successive candidates until it succeeds, the classifier
// stops it, or every provider was tried.
func call[T any](ctx context.Context, p *Pool, method string, classify classifier, fn func(context.Context, outbound.RPCProvider) (T, error)) (result T, err error) {
	ctx, span := p.telemetry.StartSpan(ctx, p.config.ChainID, method)
	defer func() { p.telemetry.EndSpan(span, err) }()

	var zero T
	tried := make([]bool, len(p.members))
	var lastErr error

	for {
		idx, ok := p.next(tried)
		if !ok {
			break
		}
		tried[idx] = true
		provider := p.members[idx].provider

		callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
		start := time.Now()
		res, callErr := fn(callCtx, provider)
		cancel()
		p.telemetry.RecordRequest(ctx, p.config.ChainID, provider.Name(), method, time.Since(start), callErr)

		if callErr == nil {
			p.markSuccess(ctx, idx)
			return res, nil
		}

		d, stopErr := classify(provider.Name(), callErr)
		switch d {
		case stop:
			return zero, stopErr
		case stopAndDemote:
			p.markFailure(ctx, idx, callErr)
			return zero, stopErr
		}

		p.markFailure(ctx, idx, callErr)
		p.telemetry.RecordFailover(ctx, p.config.ChainID, provider.Name(), method)
		p.logger.Debug("provider call failed, failing over",
			"provider", provider.Name(),
			"method", method,
			"error", callErr)
		lastErr = callErr
	}

	p.telemetry.RecordExhausted(ctx, p.config.ChainID, method)
	if lastErr == nil {
		return zero, fmt.Errorf("%w: chain %d: %s: no eligible provider", entity.ErrAllProvidersUnavailable, p.config.ChainID, method)
	}
	return zero, fmt.Errorf("%w: chain %d: %s: %w", entity.ErrAllProvidersUnavailable, p.config.ChainID, method, lastErr)
}

// readClassifier fails over on everything except caller cancellation, a revert
// and malformed requests, which would fail the same way on every provider.
func readClassifier(ctx context.Context) classifier {
	return func(provider string, err error) (disposition, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stop, fmt.Errorf("%s: %w", provider, ctxErr)
		}
		if jsonrpc.IsExecutionReverted(err) {
			return stop, fmt.Errorf("%w: %w", entity.ErrOnChainRevert, err)
		}
		if isInvalidRequest(err) {
			return stop, err
		}
		return failover, nil
	}
}

// estimateClassifier treats any node-reported error as a verdict on the call
// itself. Transport failures and malformed gas values still fail over.
func estimateClassifier(ctx context.Context) classifier {
	read := readClassifier(ctx)
	return func(provider string, err error) (disposition, error) {
		d, stopErr := read(provider, err)
		if d != failover {
			return d, stopErr
		}
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && !isProviderSpecific(rpcErr) {
			return stop, fmt.Errorf("%w: gas estimation: %w", entity.ErrSubmissionRejected, err)
		}
		return failover, nil
	}
}

// sendClassifier implements the broadcast rules described on SendTransaction.
func sendClassifier(ctx context.Context, hash common.Hash) classifier {
	return func(provider string, err error) (disposition, error) {
		ambiguous := &entity.AmbiguousSubmissionError{Provider: provider, TxHash: hash, Err: err}

		switch {
		case errors.Is(err, jsonrpc.ErrRequestNotSent), errors.Is(err, jsonrpc.ErrRateLimited):
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stop, fmt.Errorf("%s: %w", provider, ctxErr)
			}
			return failover, nil
		case errors.Is(err, jsonrpc.ErrResponseLost), errors.Is(err, jsonrpc.ErrMalformedResponse):
			if ctx.Err() != nil {
				return stop, ambiguous
			}
			return stopAndDemote, ambiguous
		case jsonrpc.IsAlreadyKnown(err):
			return stop, ambiguous
		}

		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return stop, fmt.Errorf("%w: %s: %w", entity.ErrSubmissionRejected, provider, err)
		}
		return stop, ambiguous
	}
}

func isInvalidRequest(err error) bool {
	var rpcErr *jsonrpc.RPCError
	return errors.As(err, &rpcErr) && (rpcErr.Code == -32600 || rpcErr.Code == -32602)
}

// isProviderSpecific reports node errors that depend on the provider rather
// than the request: unsupported methods, node-side limits and lagging state.
func isProviderSpecific(rpcErr *jsonrpc.RPCError) bool {
	switch rpcErr.Code {
	case -32601, -32005, -32603:
		return true
	}
	return rpcErr.Message == "header not found"
}
