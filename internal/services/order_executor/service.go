package order_executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/ports/inbound"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

var (
	_ inbound.OrderService  = (*Service)(nil)
	_ inbound.HealthChecker = (*Service)(nil)
)

// Deps are the collaborators of a Service.
type Deps struct {
	Store  outbound.OrderStore
	Chains outbound.ChainRegistry
	Quotes outbound.QuoteProvider
	Tokens *entity.TokenRegistry
	Signer outbound.TxSigner
	Leases outbound.LeaseStore

	// Routers maps chain id to the swap router orders are executed through.
	Routers map[int64]common.Address

	// Alerts is optional. Without it provider outages are only logged.
	Alerts outbound.AlertSink

	// Telemetry is optional.
	Telemetry *Telemetry

	// DefaultChainID is used for orders that do not name a chain.
	DefaultChainID int64
}

// Service is the order executor: it accepts orders and runs them to completion.
type Service struct {
	config         Config
	store          outbound.OrderStore
	chains         outbound.ChainRegistry
	tokens         *entity.TokenRegistry
	engine         *Engine
	queue          *Queue
	defaultChainID int64

	ready atomic.Bool
	now   func() time.Time
	newID func() string

	logger *slog.Logger
}

// NewService wires an engine and a queue around deps.
func NewService(config Config, deps Deps) (*Service, error) {
	if deps.DefaultChainID <= 0 {
		return nil, errors.New("default chain id must be positive")
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	config = config.withDefaults()

	builder, err := NewTxBuilder(deps.Routers, config.GasMultiplier, config.SwapDeadline)
	if err != nil {
		return nil, fmt.Errorf("creating tx builder: %w", err)
	}
	engine, err := NewEngine(config, EngineDeps{
		Store:     deps.Store,
		Chains:    deps.Chains,
		Quotes:    deps.Quotes,
		Tokens:    deps.Tokens,
		Signer:    deps.Signer,
		Builder:   builder,
		Leases:    deps.Leases,
		Alerts:    deps.Alerts,
		Telemetry: deps.Telemetry,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		config:         config,
		store:          deps.Store,
		chains:         deps.Chains,
		tokens:         deps.Tokens,
		engine:         engine,
		queue:          NewQueue(config, engine),
		defaultChainID: deps.DefaultChainID,
		now:            time.Now,
		newID:          uuid.NewString,
		logger:         config.Logger.With("component", "order-executor"),
	}, nil
}

// Start re-enqueues every active order and starts the worker loop.
func (s *Service) Start(ctx context.Context) error {
	orders, err := s.store.ListActive(ctx, s.config.RecoveryLimit)
	if err != nil {
		return fmt.Errorf("recovering active orders: %w", err)
	}
	recovered := 0
	for _, o := range orders {
		if s.queue.Enqueue(o) {
			recovered++
		}
	}
	if len(orders) == s.config.RecoveryLimit {
		s.logger.Warn("recovery limit reached, some active orders were not reloaded", "limit", s.config.RecoveryLimit)
	}

	s.queue.Start(ctx)
	s.ready.Store(true)
	s.logger.Info("order executor started", "recovered", recovered, "instanceID", s.config.InstanceID)
	return nil
}

// Stop stops accepting work and drains in-flight attempts.
func (s *Service) Stop(ctx context.Context) error {
	s.ready.Store(false)
	return s.queue.Stop(ctx)
}

// PlaceOrder validates req, persists a pending order and enqueues it.
func (s *Service) PlaceOrder(ctx context.Context, owner string, req inbound.PlaceOrderRequest) (*entity.Order, error) {
	chainID := req.ChainID
	if chainID == 0 {
		chainID = s.defaultChainID
	}
	side, err := entity.ParseOrderSide(req.Side)
	if err != nil {
		return nil, err
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	limitPrice, err := parseDecimal("limitPrice", req.LimitPrice)
	if err != nil {
		return nil, err
	}

	id := req.OrderID
	if id == "" {
		id = s.newID()
	}
	order, err := entity.NewOrder(id, owner, chainID, side, req.BaseToken, req.QuoteToken, amount, limitPrice, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if _, err := s.chains.Chain(chainID); err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrInvalidOrderParameters, err)
	}
	if _, err := s.tokens.ResolvePair(order); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, order); err != nil {
		return nil, err
	}
	s.queue.Enqueue(order)
	s.logger.Info("order placed",
		"orderID", order.ID,
		"owner", owner,
		"chainID", chainID,
		"side", side,
		"amount", amount,
		"limitPrice", limitPrice,
	)
	return order, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: %s is required", entity.ErrInvalidOrderParameters, field)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a decimal", entity.ErrInvalidOrderParameters, field, raw)
	}
	return d, nil
}

// CancelOrder cancels a pending order. Cancelling an already cancelled order
// succeeds. For an order past pending it returns the order together with
// entity.ErrTooLateToCancel.
func (s *Service) CancelOrder(ctx context.Context, owner, orderID string) (*entity.Order, error) {
	order, err := s.GetOrder(ctx, owner, orderID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case entity.StatusCancelled:
		return order, nil
	case entity.StatusPending:
		cancelled, err := s.store.Update(ctx, orderID, entity.StatusPending, outbound.OrderPatch{Status: entity.StatusCancelled})
		if errors.Is(err, entity.ErrStatusConflict) {
			// Lost to the engine or a concurrent cancel.
			return s.CancelOrder(ctx, owner, orderID)
		}
		if err != nil {
			return nil, fmt.Errorf("cancelling order %s: %w", orderID, err)
		}
		s.logger.Info("order cancelled", "orderID", orderID, "owner", owner)
		return cancelled, nil
	default:
		return order, fmt.Errorf("%w: order %s is %s", entity.ErrTooLateToCancel, orderID, order.Status)
	}
}

// GetOrder returns the order if owner owns it. Orders of other owners are reported as not found.
func (s *Service) GetOrder(ctx context.Context, owner, orderID string) (*entity.Order, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Owner != owner {
		return nil, fmt.Errorf("%w: %s", entity.ErrOrderNotFound, orderID)
	}
	return order, nil
}

// Status reports pool health per chain with one block height query each, plus queue depth.
func (s *Service) Status(ctx context.Context) inbound.StatusReport {
	report := inbound.StatusReport{Queue: s.queue.Stats()}
	for _, id := range s.chains.ChainIDs() {
		chain, err := s.chains.Chain(id)
		if err != nil {
			continue
		}
		status := inbound.ChainStatus{PoolHealth: chain.HealthStatus()}
		height, err := chain.BlockNumberOnce(ctx)
		if err != nil {
			status.BlockHeightError = err.Error()
		} else {
			status.BlockHeight = height
		}
		report.Chains = append(report.Chains, status)
	}
	return report
}

// IsReady returns true once recovery finished and the worker loop runs.
func (s *Service) IsReady() bool {
	return s.ready.Load() && s.queue.IsRunning()
}

// IsHealthy returns true while the worker loop runs.
func (s *Service) IsHealthy() bool {
	return s.queue.IsRunning()
}
