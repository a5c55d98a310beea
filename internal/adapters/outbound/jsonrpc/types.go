package jsonrpc

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/archon-research/stl-trade/internal/domain/entity"
)

// jsonRPCRequest represents a JSON-RPC 2.0 request.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// jsonRPCResponse represents a JSON-RPC 2.0 response.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// rpcTransaction is the part of eth_getTransactionByHash we read.
type rpcTransaction struct {
	Hash        common.Hash  `json:"hash"`
	BlockNumber *hexutil.Big `json:"blockNumber"`
}

type rpcLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

type rpcReceipt struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	BlockNumber     hexutil.Uint64  `json:"blockNumber"`
	Status          *hexutil.Uint64 `json:"status"`
	GasUsed         hexutil.Uint64  `json:"gasUsed"`
	Logs            []rpcLog        `json:"logs"`
}

func (r *rpcReceipt) toEntity() *entity.Receipt {
	receipt := &entity.Receipt{
		TxHash:      r.TransactionHash,
		BlockNumber: uint64(r.BlockNumber),
		GasUsed:     uint64(r.GasUsed),
		Logs:        make([]entity.ReceiptLog, 0, len(r.Logs)),
	}
	if r.Status != nil {
		receipt.Status = uint64(*r.Status)
	}
	for _, l := range r.Logs {
		receipt.Logs = append(receipt.Logs, entity.ReceiptLog{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
		})
	}
	return receipt
}
