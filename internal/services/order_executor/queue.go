package order_executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc/pool"

	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/pkg/retry"
	"github.com/archon-research/stl-trade/internal/ports/inbound"
)

// Processor runs processing attempts for the queue.
type Processor interface {
	Process(ctx context.Context, orderID string) Result
	FailOrder(ctx context.Context, orderID string, cause error) error
}

// Queue schedules orders for processing. Each order id is in at most one of
// the pending list, the in-flight set or the scheduled timers at any time.
type Queue struct {
	config    Config
	processor Processor
	retryCfg  retry.Config
	logger    *slog.Logger

	mu        sync.Mutex
	pending   []string
	queued    map[string]struct{}
	inFlight  map[string]struct{}
	scheduled map[string]*time.Timer
	retries   map[string]int
	backoffs  map[string]*backoff.ExponentialBackOff
	stopped   bool

	wake      chan struct{}
	startOnce sync.Once
	running   atomic.Bool
	done      chan struct{}

	loopCancel context.CancelFunc
	workCtx    context.Context
	workCancel context.CancelFunc
	workers    *pool.Pool
}

// NewQueue creates a stopped queue. Config defaults are applied.
func NewQueue(config Config, processor Processor) *Queue {
	config = config.withDefaults()
	return &Queue{
		config:    config,
		processor: processor,
		retryCfg: retry.Config{
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.RetryInitialBackoff,
			MaxBackoff:     config.RetryMaxBackoff,
			BackoffFactor:  2.0,
			Jitter:         true,
		},
		logger:    config.Logger.With("component", "order-queue"),
		queued:    make(map[string]struct{}),
		inFlight:  make(map[string]struct{}),
		scheduled: make(map[string]*time.Timer),
		retries:   make(map[string]int),
		backoffs:  make(map[string]*backoff.ExponentialBackOff),
		wake:      make(chan struct{}, 1),
		workers:   pool.New().WithMaxGoroutines(config.Concurrency),
	}
}

// Enqueue adds order for processing. It returns false when the order is
// terminal, already known to the queue, or the queue is stopped.
func (q *Queue) Enqueue(order *entity.Order) bool {
	if order == nil || order.IsTerminal() {
		return false
	}
	q.mu.Lock()
	if q.stopped || q.knownLocked(order.ID) {
		q.mu.Unlock()
		return false
	}
	q.pushLocked(order.ID)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *Queue) knownLocked(id string) bool {
	if _, ok := q.queued[id]; ok {
		return true
	}
	if _, ok := q.inFlight[id]; ok {
		return true
	}
	_, ok := q.scheduled[id]
	return ok
}

func (q *Queue) pushLocked(id string) {
	q.pending = append(q.pending, id)
	q.queued[id] = struct{}{}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start launches the dispatch loop. Only the first call has an effect.
// Attempts run under a context detached from ctx's cancellation; Stop ends them.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return
		}
		loopCtx, loopCancel := context.WithCancel(ctx)
		q.loopCancel = loopCancel
		q.workCtx, q.workCancel = context.WithCancel(context.WithoutCancel(ctx))
		q.done = make(chan struct{})
		q.mu.Unlock()

		q.running.Store(true)
		go q.run(loopCtx)
		q.signal()
		q.logger.Info("order queue started", "concurrency", q.config.Concurrency)
	})
}

// IsRunning reports whether the dispatch loop is alive.
func (q *Queue) IsRunning() bool {
	return q.running.Load()
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	defer q.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}

		for ctx.Err() == nil {
			id, ok := q.dequeue()
			if !ok {
				break
			}
			q.workers.Go(func() { q.process(id) })
		}
	}
}

func (q *Queue) dequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending[0] = ""
	q.pending = q.pending[1:]
	delete(q.queued, id)
	q.inFlight[id] = struct{}{}
	return id, true
}

func (q *Queue) process(id string) {
	res := q.processor.Process(q.workCtx, id)

	q.mu.Lock()
	delete(q.inFlight, id)
	if q.stopped {
		q.mu.Unlock()
		return
	}

	switch res.Outcome {
	case OutcomeDone:
		q.forgetLocked(id)
		q.mu.Unlock()
		return
	case OutcomeNotTriggered:
		q.forgetLocked(id)
		q.scheduleLocked(id, q.config.PollInterval)
		q.mu.Unlock()
		return
	case OutcomeDeferred:
		q.scheduleLocked(id, q.config.PollInterval)
		q.mu.Unlock()
		return
	}

	q.retries[id]++
	attempt := q.retries[id]
	if attempt > q.config.MaxRetries {
		q.forgetLocked(id)
		q.mu.Unlock()
		q.exhaust(id, attempt, res.Err)
		return
	}

	b, ok := q.backoffs[id]
	if !ok {
		b = q.retryCfg.NewBackOff()
		q.backoffs[id] = b
	}
	delay := b.NextBackOff()
	q.scheduleLocked(id, delay)
	q.mu.Unlock()

	q.logger.Debug("order retry scheduled", "orderID", id, "attempt", attempt, "delay", delay, "error", res.Err)
}

func (q *Queue) exhaust(id string, attempts int, cause error) {
	q.logger.Warn("retry budget exhausted", "orderID", id, "attempts", attempts, "error", cause)
	failure := fmt.Errorf("retry budget exhausted after %d attempts", attempts)
	if cause != nil {
		failure = fmt.Errorf("retry budget exhausted after %d attempts: %w", attempts, cause)
	}
	if err := q.processor.FailOrder(q.workCtx, id, failure); err != nil {
		q.logger.Error("failed to fail order, rescheduling", "orderID", id, "error", err)
		q.mu.Lock()
		if !q.stopped && !q.knownLocked(id) {
			q.retries[id] = q.config.MaxRetries
			q.scheduleLocked(id, q.config.RetryMaxBackoff)
		}
		q.mu.Unlock()
	}
}

func (q *Queue) forgetLocked(id string) {
	delete(q.retries, id)
	delete(q.backoffs, id)
}

func (q *Queue) scheduleLocked(id string, delay time.Duration) {
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.scheduled[id] != t {
			q.mu.Unlock()
			return
		}
		delete(q.scheduled, id)
		if q.stopped {
			q.mu.Unlock()
			return
		}
		q.pushLocked(id)
		q.mu.Unlock()
		q.signal()
	})
	q.scheduled[id] = t
}

// Stop stops dispatching, cancels scheduled re-checks and waits for in-flight
// attempts. If ctx ends first, in-flight attempts are cancelled and Stop still
// waits for them to return before reporting ctx's error.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	for id, t := range q.scheduled {
		t.Stop()
		delete(q.scheduled, id)
	}
	q.pending = nil
	clear(q.queued)
	loopCancel, done := q.loopCancel, q.done
	q.mu.Unlock()

	if loopCancel == nil {
		return nil
	}
	loopCancel()
	<-done

	drained := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		q.workCancel()
		q.logger.Info("order queue stopped")
		return nil
	case <-ctx.Done():
		q.workCancel()
		<-drained
		q.logger.Warn("order queue stopped before in-flight attempts drained", "error", ctx.Err())
		return ctx.Err()
	}
}

// Stats returns queue depth counters.
func (q *Queue) Stats() inbound.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return inbound.QueueStats{
		Pending:   len(q.pending),
		InFlight:  len(q.inFlight),
		Scheduled: len(q.scheduled),
	}
}
