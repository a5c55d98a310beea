package entity

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Execution error taxonomy. Callers match these with errors.Is.
var (
	// ErrAllProvidersUnavailable is returned when every provider in a pool failed
	// within a single call. Retryable.
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")

	// ErrAmbiguousSubmission marks a broadcast whose outcome is unknown: the
	// request reached a provider but no usable answer came back. The transaction
	// must be reconciled by hash and never blindly resubmitted.
	ErrAmbiguousSubmission = errors.New("ambiguous transaction submission")

	// ErrPriceUnavailable is returned when the current price could not be obtained
	// or was not positive. Retryable.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrTooLateToCancel is returned when a cancel arrives after the order left pending.
	ErrTooLateToCancel = errors.New("too late to cancel")

	// ErrInvalidOrderParameters is returned for malformed orders. Fatal.
	ErrInvalidOrderParameters = errors.New("invalid order parameters")

	// ErrOnChainRevert is returned when the node reports a revert, either during gas
	// estimation or in a mined receipt. Fatal.
	ErrOnChainRevert = errors.New("transaction reverted on chain")

	// ErrSubmissionRejected is returned when a node definitively refused a transaction.
	ErrSubmissionRejected = errors.New("transaction rejected by node")

	// ErrConfirmationTimeout is returned when no receipt appeared in time. Retryable.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderExists       = errors.New("order already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStatusConflict    = errors.New("order status changed concurrently")
	ErrUnknownChain      = errors.New("unknown chain")
	ErrUnknownToken      = errors.New("unknown token")
)

// AmbiguousSubmissionError carries the locally computed hash of a transaction whose
// broadcast outcome is unknown.
type AmbiguousSubmissionError struct {
	Provider string
	TxHash   common.Hash
	Err      error
}

func (e *AmbiguousSubmissionError) Error() string {
	return fmt.Sprintf("ambiguous submission of %s via %s: %v", e.TxHash.Hex(), e.Provider, e.Err)
}

// Unwrap exposes both the sentinel and the underlying transport error.
func (e *AmbiguousSubmissionError) Unwrap() []error {
	return []error{ErrAmbiguousSubmission, e.Err}
}

// IsRetryable reports whether err is transient from the order's point of view.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAllProvidersUnavailable) ||
		errors.Is(err, ErrPriceUnavailable) ||
		errors.Is(err, ErrConfirmationTimeout)
}
