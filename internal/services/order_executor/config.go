// Package order_executor holds pending limit orders, watches their trigger
// prices and executes them on chain through the provider pools.
//
// A Service owns one Queue and one Engine. The Queue decides when an order is
// looked at; the Engine decides what happens to it on each look.
package order_executor

import (
	"log/slog"
	"time"
)

// Config holds configuration for the executor.
type Config struct {
	// Concurrency is the maximum number of orders processed at once.
	Concurrency int

	// PollInterval is how long an untriggered or deferred order waits before
	// its next evaluation.
	PollInterval time.Duration

	// MaxRetries is the retry budget for retryable failures. Exceeding it fails the order.
	MaxRetries int

	// RetryInitialBackoff and RetryMaxBackoff bound the per-order retry schedule.
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	// ConfirmTimeout is how long a submitted transaction may stay unmined per attempt.
	ConfirmTimeout time.Duration

	// ReceiptPollInterval is the delay between receipt lookups.
	ReceiptPollInterval time.Duration

	// ReconcileAttempts and ReconcileInterval govern lookups of an ambiguously
	// submitted transaction.
	ReconcileAttempts int
	ReconcileInterval time.Duration

	// LeaseTTL bounds how long one processing attempt may own an order. It is
	// raised to MinLeaseTTL when shorter.
	LeaseTTL time.Duration

	// GasMultiplier pads the node's gas estimate.
	GasMultiplier float64

	// SwapDeadline is added to the current time for the router deadline argument.
	SwapDeadline time.Duration

	// RecoveryLimit caps how many active orders are reloaded on start.
	RecoveryLimit int

	// AlertCooldown suppresses repeated provider alerts per chain.
	AlertCooldown time.Duration

	// InstanceID identifies this process as a lease owner. Generated when empty.
	InstanceID string

	Logger *slog.Logger
}

// ConfigDefaults returns the default executor configuration.
func ConfigDefaults() Config {
	return Config{
		Concurrency:         8,
		PollInterval:        5 * time.Second,
		MaxRetries:          5,
		RetryInitialBackoff: time.Second,
		RetryMaxBackoff:     time.Minute,
		ConfirmTimeout:      3 * time.Minute,
		ReceiptPollInterval: 2 * time.Second,
		ReconcileAttempts:   5,
		ReconcileInterval:   3 * time.Second,
		LeaseTTL:            5 * time.Minute,
		GasMultiplier:       1.2,
		SwapDeadline:        10 * time.Minute,
		RecoveryLimit:       10_000,
		AlertCooldown:       5 * time.Minute,
		Logger:              slog.Default(),
	}
}

// leaseHeadroom covers quoting, gas estimation, signing and broadcast.
const leaseHeadroom = time.Minute

// MinLeaseTTL is the longest one attempt can run: reconciling an ambiguous
// submission, then waiting out the confirmation timeout.
func (c Config) MinLeaseTTL() time.Duration {
	return c.ConfirmTimeout + time.Duration(c.ReconcileAttempts)*c.ReconcileInterval + leaseHeadroom
}

func (c Config) withDefaults() Config {
	d := ConfigDefaults()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryInitialBackoff <= 0 {
		c.RetryInitialBackoff = d.RetryInitialBackoff
	}
	if c.RetryMaxBackoff <= 0 {
		c.RetryMaxBackoff = d.RetryMaxBackoff
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = d.ReceiptPollInterval
	}
	if c.ReconcileAttempts <= 0 {
		c.ReconcileAttempts = d.ReconcileAttempts
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = d.ReconcileInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}
	if c.GasMultiplier < 1 {
		c.GasMultiplier = d.GasMultiplier
	}
	if c.SwapDeadline <= 0 {
		c.SwapDeadline = d.SwapDeadline
	}
	if c.RecoveryLimit <= 0 {
		c.RecoveryLimit = d.RecoveryLimit
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = d.AlertCooldown
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if minTTL := c.MinLeaseTTL(); c.LeaseTTL < minTTL {
		c.Logger.Warn("lease ttl shorter than one attempt, raising it",
			"configured", c.LeaseTTL,
			"ttl", minTTL)
		c.LeaseTTL = minTTL
	}
	return c
}
