package jsonrpc

import (
	"errors"
	"fmt"
	"strings"
)

// Transport outcomes. The distinction between "not sent" and "lost" is what
// makes a failed broadcast safe or unsafe to repeat elsewhere.
var (
	// ErrRequestNotSent means the request was never fully written to the provider,
	// or the provider refused it at the HTTP layer before processing.
	ErrRequestNotSent = errors.New("request not sent")

	// ErrRateLimited means the provider refused the request with HTTP 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrResponseLost means the request was written but no usable response arrived.
	ErrResponseLost = errors.New("response lost")

	// ErrMalformedResponse means the provider answered with something unparseable.
	ErrMalformedResponse = errors.New("malformed response")
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// IsExecutionReverted reports whether the node rejected a call because the EVM reverted.
func IsExecutionReverted(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == 3 || strings.Contains(strings.ToLower(rpcErr.Message), "execution reverted")
}

// IsAlreadyKnown reports whether the node refused a transaction because it, or
// another one with the same nonce, was already accepted.
func IsAlreadyKnown(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	for _, marker := range []string{"already known", "known transaction", "already imported", "nonce too low"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
