package order_executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// Outcome tells the queue what to do with an order after a processing attempt.
type Outcome int

const (
	// OutcomeDone means the order needs no further scheduling: it reached a
	// terminal status, vanished, or was taken over by a concurrent change.
	OutcomeDone Outcome = iota
	// OutcomeNotTriggered means the price has not crossed the limit yet.
	OutcomeNotTriggered
	// OutcomeRetry means a retryable error interrupted the attempt.
	OutcomeRetry
	// OutcomeDeferred means another attempt holds the order's lease.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeNotTriggered:
		return "not_triggered"
	case OutcomeRetry:
		return "retry"
	case OutcomeDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Result is the outcome of one processing attempt. Err carries the error that
// ended the attempt, if any; a Done result with an error means the order failed.
type Result struct {
	Outcome Outcome
	Err     error
}

// EngineDeps are the collaborators of an Engine.
type EngineDeps struct {
	Store     outbound.OrderStore
	Chains    outbound.ChainRegistry
	Quotes    outbound.QuoteProvider
	Tokens    *entity.TokenRegistry
	Signer    outbound.TxSigner
	Builder   *TxBuilder
	Leases    outbound.LeaseStore
	Alerts    outbound.AlertSink
	Telemetry *Telemetry
}

// Engine drives single orders through their lifecycle. Every status change is
// a compare-and-set on the order store, so a cancel that lands first wins.
type Engine struct {
	config    Config
	store     outbound.OrderStore
	chains    outbound.ChainRegistry
	quotes    outbound.QuoteProvider
	tokens    *entity.TokenRegistry
	signer    outbound.TxSigner
	builder   *TxBuilder
	leases    outbound.LeaseStore
	alerts    outbound.AlertSink
	telemetry *Telemetry
	nonces    *NonceTracker

	// submitMu serializes nonce assignment, signing and broadcast for the wallet.
	submitMu sync.Mutex

	alertMu   sync.Mutex
	lastAlert map[int64]time.Time

	// attemptSeq makes every attempt a distinct lease owner, so attempts in
	// the same process exclude each other too.
	attemptSeq atomic.Uint64

	now    func() time.Time
	logger *slog.Logger
}

// NewEngine creates an engine. Config defaults are applied.
func NewEngine(config Config, deps EngineDeps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("order store cannot be nil")
	}
	if deps.Chains == nil {
		return nil, errors.New("chain registry cannot be nil")
	}
	if deps.Quotes == nil {
		return nil, errors.New("quote provider cannot be nil")
	}
	if deps.Tokens == nil {
		return nil, errors.New("token registry cannot be nil")
	}
	if deps.Signer == nil {
		return nil, errors.New("signer cannot be nil")
	}
	if deps.Builder == nil {
		return nil, errors.New("tx builder cannot be nil")
	}
	if deps.Leases == nil {
		return nil, errors.New("lease store cannot be nil")
	}
	if config.InstanceID == "" {
		return nil, errors.New("instance id is required")
	}
	config = config.withDefaults()

	return &Engine{
		config:    config,
		store:     deps.Store,
		chains:    deps.Chains,
		quotes:    deps.Quotes,
		tokens:    deps.Tokens,
		signer:    deps.Signer,
		builder:   deps.Builder,
		leases:    deps.Leases,
		alerts:    deps.Alerts,
		telemetry: deps.Telemetry,
		nonces:    NewNonceTracker(),
		lastAlert: make(map[int64]time.Time),
		now:       time.Now,
		logger:    config.Logger.With("component", "order-engine"),
	}, nil
}

func leaseKey(orderID string) string { return "order:" + orderID }

// Process runs one attempt for the order. It is safe to call concurrently for
// different orders; the lease keeps concurrent attempts on the same order out.
func (e *Engine) Process(ctx context.Context, orderID string) Result {
	start := e.now()
	res := e.process(ctx, orderID)
	e.telemetry.RecordAttempt(ctx, res.Outcome, e.now().Sub(start))
	return res
}

func (e *Engine) process(ctx context.Context, orderID string) Result {
	order, err := e.store.Get(ctx, orderID)
	if errors.Is(err, entity.ErrOrderNotFound) {
		e.logger.Warn("dropping unknown order", "orderID", orderID)
		return Result{Outcome: OutcomeDone, Err: err}
	}
	if err != nil {
		return Result{Outcome: OutcomeRetry, Err: err}
	}
	if order.IsTerminal() {
		return Result{Outcome: OutcomeDone}
	}

	release, held, err := e.acquire(ctx, orderID)
	if err != nil {
		return Result{Outcome: OutcomeRetry, Err: err}
	}
	if !held {
		e.logger.Debug("order leased elsewhere", "orderID", orderID)
		return Result{Outcome: OutcomeDeferred}
	}
	defer release()

	// Reload under the lease; the previous read may predate another replica's work.
	order, err = e.store.Get(ctx, orderID)
	if err != nil {
		return Result{Outcome: OutcomeRetry, Err: err}
	}
	return e.advance(ctx, order)
}

func (e *Engine) acquire(ctx context.Context, orderID string) (func(), bool, error) {
	key := leaseKey(orderID)
	owner := e.config.InstanceID + "/" + strconv.FormatUint(e.attemptSeq.Add(1), 10)
	held, err := e.leases.Acquire(ctx, key, owner, e.config.LeaseTTL)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lease for %s: %w", orderID, err)
	}
	if !held {
		return nil, false, nil
	}
	release := func() {
		if err := e.leases.Release(context.WithoutCancel(ctx), key, owner); err != nil {
			e.logger.Warn("failed to release lease", "orderID", orderID, "error", err)
		}
	}
	return release, true, nil
}

func (e *Engine) advance(ctx context.Context, order *entity.Order) Result {
	switch order.Status {
	case entity.StatusPending:
		return e.evaluate(ctx, order)
	case entity.StatusTriggered:
		pair, chain, res, ok := e.resolve(ctx, order)
		if !ok {
			return res
		}
		if order.BroadcastHash != "" {
			return e.reconcile(ctx, chain, order, pair, common.HexToHash(order.BroadcastHash), decimal.Zero)
		}
		return e.execute(ctx, chain, order, pair, decimal.Zero)
	case entity.StatusSubmitted:
		pair, chain, res, ok := e.resolve(ctx, order)
		if !ok {
			return res
		}
		return e.awaitConfirmation(ctx, chain, order, pair, decimal.Zero)
	case entity.StatusConfirmed:
		pair, chain, res, ok := e.resolve(ctx, order)
		if !ok {
			return res
		}
		return e.finishFill(ctx, chain, order, pair, nil, decimal.Zero)
	default:
		return Result{Outcome: OutcomeDone}
	}
}

// resolve looks up the order's chain and tokens. Failure fails the order.
func (e *Engine) resolve(ctx context.Context, order *entity.Order) (entity.Pair, outbound.Chain, Result, bool) {
	chain, err := e.chains.Chain(order.ChainID)
	if err != nil {
		return entity.Pair{}, nil, e.fail(ctx, order, fmt.Errorf("%w: %w", entity.ErrInvalidOrderParameters, err)), false
	}
	pair, err := e.tokens.ResolvePair(order)
	if err != nil {
		return entity.Pair{}, nil, e.fail(ctx, order, err), false
	}
	return pair, chain, Result{}, true
}

func (e *Engine) evaluate(ctx context.Context, order *entity.Order) Result {
	pair, chain, res, ok := e.resolve(ctx, order)
	if !ok {
		return res
	}

	price, fetchErr := e.quotes.Price(ctx, order.ChainID, pair.Base, pair.Quote)
	fire, err := Evaluate(order, price, fetchErr)
	if err != nil {
		if errors.Is(err, entity.ErrInvalidOrderParameters) {
			return e.fail(ctx, order, err)
		}
		return e.retry(ctx, order, err)
	}
	if !fire {
		e.logger.Debug("order not triggered", "orderID", order.ID, "price", price, "limit", order.LimitPrice, "side", order.Side)
		return Result{Outcome: OutcomeNotTriggered}
	}

	triggered, err := e.transition(ctx, order, outbound.OrderPatch{Status: entity.StatusTriggered})
	if errors.Is(err, entity.ErrStatusConflict) {
		e.logger.Info("order changed before trigger", "orderID", order.ID, "error", err)
		return Result{Outcome: OutcomeDone}
	}
	if err != nil {
		return Result{Outcome: OutcomeRetry, Err: err}
	}
	e.logger.Info("order triggered", "orderID", order.ID, "price", price, "limit", order.LimitPrice, "side", order.Side)
	return e.execute(ctx, chain, triggered, pair, price)
}

func (e *Engine) execute(ctx context.Context, chain outbound.Chain, order *entity.Order, pair entity.Pair, triggerPrice decimal.Decimal) Result {
	order, hash, err := e.submit(ctx, chain, order, pair)

	var ambiguous *entity.AmbiguousSubmissionError
	switch {
	case err == nil:
	case errors.Is(err, errBroadcastNotRecorded):
		if errors.Is(err, entity.ErrStatusConflict) {
			e.logger.Info("order changed before broadcast", "orderID", order.ID, "error", err)
			return Result{Outcome: OutcomeDone}
		}
		return e.retry(ctx, order, err)
	case errors.As(err, &ambiguous):
		e.logger.Warn("ambiguous submission, reconciling by hash",
			"orderID", order.ID,
			"txHash", ambiguous.TxHash.Hex(),
			"provider", ambiguous.Provider,
			"error", ambiguous.Err,
		)
		return e.reconcile(ctx, chain, order, pair, ambiguous.TxHash, triggerPrice)
	case entity.IsRetryable(err) || ctx.Err() != nil:
		return e.retry(ctx, order, err)
	default:
		return e.fail(ctx, order, err)
	}

	txHash := hash.Hex()
	submitted, err := e.transition(ctx, order, outbound.OrderPatch{Status: entity.StatusSubmitted, TxHash: &txHash})
	if err != nil {
		// The broadcast hash is already stored; the next attempt reconciles it.
		e.logger.Error("failed to record submission", "orderID", order.ID, "txHash", txHash, "error", err)
		return Result{Outcome: OutcomeRetry, Err: err}
	}
	e.logger.Info("order submitted", "orderID", order.ID, "txHash", txHash, "chainID", order.ChainID)
	return e.awaitConfirmation(ctx, chain, submitted, pair, triggerPrice)
}

var errBroadcastNotRecorded = errors.New("broadcast hash not recorded")

// submit assigns a nonce, builds and signs the swap, records its hash on the
// order and only then broadcasts it. The returned order carries the latest
// stored state.
func (e *Engine) submit(ctx context.Context, chain outbound.Chain, order *entity.Order, pair entity.Pair) (*entity.Order, common.Hash, error) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	wallet := e.signer.Address()
	nonce, err := e.nonces.Next(ctx, chain, wallet)
	if err != nil {
		return order, common.Hash{}, err
	}
	tx, err := e.builder.Build(ctx, chain, wallet, nonce, order, pair)
	if err != nil {
		return order, common.Hash{}, err
	}
	signed, err := e.signer.SignTx(tx, big.NewInt(chain.ChainID()))
	if err != nil {
		return order, common.Hash{}, err
	}

	broadcastHash := signed.Hash().Hex()
	recorded, err := e.store.Update(ctx, order.ID, order.Status, outbound.OrderPatch{BroadcastHash: &broadcastHash})
	if err != nil {
		return order, common.Hash{}, fmt.Errorf("%w: %w", errBroadcastNotRecorded, err)
	}

	hash, err := chain.SendTransaction(ctx, signed)
	switch {
	case err == nil, errors.Is(err, entity.ErrAmbiguousSubmission):
		e.nonces.Commit(chain.ChainID(), nonce)
	case errors.Is(err, entity.ErrSubmissionRejected):
		e.nonces.Reset(chain.ChainID())
	}
	if err != nil {
		if neverSent(err) {
			recorded = e.clearBroadcast(ctx, recorded)
		}
		return recorded, common.Hash{}, fmt.Errorf("sending transaction: %w", err)
	}
	return recorded, hash, nil
}

// neverSent reports whether a send error proves no provider accepted the
// transaction. Only ambiguous errors leave that open.
func neverSent(err error) bool {
	return !errors.Is(err, entity.ErrAmbiguousSubmission)
}

// clearBroadcast drops the recorded hash of a transaction the network refused,
// so the next attempt builds a new one. If the store is down the hash stays and
// the next attempt reconciles it to absence instead.
func (e *Engine) clearBroadcast(ctx context.Context, order *entity.Order) *entity.Order {
	empty := ""
	updated, err := e.store.Update(context.WithoutCancel(ctx), order.ID, order.Status, outbound.OrderPatch{BroadcastHash: &empty})
	if err != nil {
		e.logger.Warn("failed to clear broadcast hash", "orderID", order.ID, "broadcastHash", order.BroadcastHash, "error", err)
		return order
	}
	return updated
}

// releaseNonce forgets the local nonce floor after a transaction turned out
// never to have reached the network. Holding submitMu keeps a concurrent
// submission from committing a nonce above the gap afterwards.
func (e *Engine) releaseNonce(chainID int64) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()
	e.nonces.Reset(chainID)
}

// reconcile looks the hash up until the node knows it. Definitive absence fails
// the order; lookups that only errored leave it triggered for the next attempt.
func (e *Engine) reconcile(ctx context.Context, chain outbound.Chain, order *entity.Order, pair entity.Pair, hash common.Hash, triggerPrice decimal.Decimal) Result {
	var lastErr error
	for attempt := 1; attempt <= e.config.ReconcileAttempts; attempt++ {
		found, _, err := chain.TransactionByHash(ctx, hash)
		switch {
		case err != nil:
			lastErr = err
			e.logger.Warn("transaction lookup failed", "orderID", order.ID, "txHash", hash.Hex(), "attempt", attempt, "error", err)
		case found:
			txHash := hash.Hex()
			submitted, err := e.transition(ctx, order, outbound.OrderPatch{Status: entity.StatusSubmitted, TxHash: &txHash})
			if err != nil {
				return Result{Outcome: OutcomeRetry, Err: err}
			}
			e.logger.Info("ambiguous submission reconciled", "orderID", order.ID, "txHash", txHash)
			return e.awaitConfirmation(ctx, chain, submitted, pair, triggerPrice)
		default:
			lastErr = nil
		}

		if attempt < e.config.ReconcileAttempts {
			if err := sleep(ctx, e.config.ReconcileInterval); err != nil {
				return Result{Outcome: OutcomeRetry, Err: err}
			}
		}
	}

	if lastErr != nil {
		return e.retry(ctx, order, fmt.Errorf("reconciling %s: %w", hash.Hex(), lastErr))
	}
	e.releaseNonce(chain.ChainID())
	return e.fail(ctx, order, fmt.Errorf("%w: transaction %s unknown to the network after %d lookups",
		entity.ErrAmbiguousSubmission, hash.Hex(), e.config.ReconcileAttempts))
}

func (e *Engine) awaitConfirmation(ctx context.Context, chain outbound.Chain, order *entity.Order, pair entity.Pair, triggerPrice decimal.Decimal) Result {
	hash := common.HexToHash(order.TxHash)
	deadline := e.now().Add(e.config.ConfirmTimeout)

	var receipt *entity.Receipt
	for {
		r, err := chain.TransactionReceipt(ctx, hash)
		if err != nil {
			e.logger.Warn("receipt lookup failed", "orderID", order.ID, "txHash", order.TxHash, "error", err)
		} else if r != nil {
			receipt = r
			break
		}

		if !e.now().Before(deadline) {
			return e.retry(ctx, order, fmt.Errorf("%w: %s not mined within %s", entity.ErrConfirmationTimeout, order.TxHash, e.config.ConfirmTimeout))
		}
		if err := sleep(ctx, e.config.ReceiptPollInterval); err != nil {
			return Result{Outcome: OutcomeRetry, Err: err}
		}
	}

	if !receipt.Succeeded() {
		return e.fail(ctx, order, fmt.Errorf("%w: %s in block %d", entity.ErrOnChainRevert, order.TxHash, receipt.BlockNumber))
	}

	confirmed, err := e.transition(ctx, order, outbound.OrderPatch{Status: entity.StatusConfirmed})
	if err != nil {
		return Result{Outcome: OutcomeRetry, Err: err}
	}
	e.logger.Info("order confirmed", "orderID", order.ID, "txHash", order.TxHash, "block", receipt.BlockNumber)
	return e.finishFill(ctx, chain, confirmed, pair, receipt, triggerPrice)
}

func (e *Engine) finishFill(ctx context.Context, chain outbound.Chain, order *entity.Order, pair entity.Pair, receipt *entity.Receipt, triggerPrice decimal.Decimal) Result {
	if receipt == nil {
		r, err := chain.TransactionReceipt(ctx, common.HexToHash(order.TxHash))
		if err != nil {
			return e.retry(ctx, order, fmt.Errorf("loading receipt: %w", err))
		}
		if r == nil {
			return e.retry(ctx, order, fmt.Errorf("%w: receipt for %s disappeared", entity.ErrConfirmationTimeout, order.TxHash))
		}
		receipt = r
	}

	fillPrice, ok := e.builder.FillPrice(receipt, order, pair, e.signer.Address())
	if !ok {
		fillPrice = order.LimitPrice
		if triggerPrice.IsPositive() {
			fillPrice = triggerPrice
		}
		e.logger.Warn("fill not visible in logs, using fallback price", "orderID", order.ID, "fillPrice", fillPrice)
	}

	filled, err := e.transition(ctx, order, outbound.OrderPatch{Status: entity.StatusFilled, FillPrice: &fillPrice})
	if err != nil {
		return Result{Outcome: OutcomeRetry, Err: err}
	}
	e.logger.Info("order filled", "orderID", filled.ID, "fillPrice", fillPrice, "txHash", filled.TxHash)
	return Result{Outcome: OutcomeDone}
}

// FailOrder marks an active order failed with cause. Terminal orders are left alone.
func (e *Engine) FailOrder(ctx context.Context, orderID string, cause error) error {
	release, held, err := e.acquire(ctx, orderID)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("order %s is leased elsewhere", orderID)
	}
	defer release()

	order, err := e.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsTerminal() {
		return nil
	}
	res := e.fail(ctx, order, cause)
	if res.Outcome == OutcomeRetry {
		return res.Err
	}
	e.telemetry.RecordBudgetExhausted(ctx)
	return nil
}

// fail moves order to failed. A lost CAS means someone else finished it.
func (e *Engine) fail(ctx context.Context, order *entity.Order, cause error) Result {
	msg := cause.Error()
	_, err := e.transition(ctx, order, outbound.OrderPatch{Status: entity.StatusFailed, LastError: &msg})
	if errors.Is(err, entity.ErrStatusConflict) {
		return Result{Outcome: OutcomeDone}
	}
	if err != nil {
		e.logger.Error("failed to record order failure", "orderID", order.ID, "cause", cause, "error", err)
		return Result{Outcome: OutcomeRetry, Err: cause}
	}
	e.logger.Error("order failed", "orderID", order.ID, "status", order.Status, "error", cause)
	return Result{Outcome: OutcomeDone, Err: cause}
}

// retry records cause on the order without changing its status.
func (e *Engine) retry(ctx context.Context, order *entity.Order, cause error) Result {
	msg := cause.Error()
	attempts := order.Attempts + 1
	if _, err := e.store.Update(ctx, order.ID, order.Status, outbound.OrderPatch{Attempts: &attempts, LastError: &msg}); err != nil {
		e.logger.Warn("failed to record retryable error", "orderID", order.ID, "error", err)
	}
	e.logger.Warn("order attempt failed, will retry", "orderID", order.ID, "status", order.Status, "attempts", attempts, "error", cause)

	if errors.Is(cause, entity.ErrAllProvidersUnavailable) {
		e.alertProvidersDown(ctx, order.ChainID, cause)
	}
	return Result{Outcome: OutcomeRetry, Err: cause}
}

func (e *Engine) transition(ctx context.Context, order *entity.Order, patch outbound.OrderPatch) (*entity.Order, error) {
	updated, err := e.store.Update(ctx, order.ID, order.Status, patch)
	if err != nil {
		return nil, fmt.Errorf("moving order %s from %s to %s: %w", order.ID, order.Status, patch.Status, err)
	}
	e.telemetry.RecordTransition(ctx, order.ChainID, order.Status, patch.Status)
	return updated, nil
}

func (e *Engine) alertProvidersDown(ctx context.Context, chainID int64, cause error) {
	if e.alerts == nil {
		return
	}
	now := e.now()
	e.alertMu.Lock()
	if last, ok := e.lastAlert[chainID]; ok && now.Sub(last) < e.config.AlertCooldown {
		e.alertMu.Unlock()
		return
	}
	e.lastAlert[chainID] = now
	e.alertMu.Unlock()

	alert := outbound.Alert{
		Kind:       outbound.AlertKindProvidersUnavailable,
		Severity:   outbound.AlertSeverityCritical,
		ChainID:    chainID,
		Message:    cause.Error(),
		OccurredAt: now.UTC(),
	}
	if err := e.alerts.Alert(context.WithoutCancel(ctx), alert); err != nil {
		e.logger.Error("failed to send alert", "chainID", chainID, "error", err)
		return
	}
	e.telemetry.RecordAlert(ctx, chainID, string(alert.Kind))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
