package entity

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProviderState is a point-in-time view of one RPC provider's health.
type ProviderState struct {
	Name                string    `json:"name"`
	Endpoint            string    `json:"endpoint"`
	ChainID             int64     `json:"chainId"`
	Healthy             bool      `json:"healthy"`
	UnhealthySince      time.Time `json:"unhealthySince,omitzero"`
	LastError           string    `json:"lastError,omitempty"`
	LastCheckedAt       time.Time `json:"lastCheckedAt,omitzero"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

// PoolHealth summarizes a provider pool for one chain.
type PoolHealth struct {
	ChainID         int64           `json:"chainId"`
	ActiveProvider  string          `json:"activeProvider"`
	HealthyCount    int             `json:"healthyCount"`
	TotalCount      int             `json:"totalCount"`
	FailedProviders []string        `json:"failedProviders"`
	Providers       []ProviderState `json:"providers"`
}

// Receipt is the subset of a transaction receipt the executor needs.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64
	GasUsed     uint64
	Logs        []ReceiptLog
}

// ReceiptLog is an event log emitted by a mined transaction.
type ReceiptLog struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r.Status == 1
}
