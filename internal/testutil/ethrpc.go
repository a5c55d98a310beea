package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// RPCErrorObject is a JSON-RPC error a handler can answer with.
type RPCErrorObject struct {
	Code    int
	Message string
}

// RPCHandler answers a single JSON-RPC call. Returning a non-nil error object
// sends an error response, otherwise result is encoded as the result field.
type RPCHandler func(method string, params []json.RawMessage) (result any, rpcErr *RPCErrorObject)

// MockNode is an httptest JSON-RPC node that records calls per method.
type MockNode struct {
	*httptest.Server

	mu    sync.Mutex
	calls map[string]int
}

// StartMockNode starts a mock node served by handler. It is closed on test cleanup.
func StartMockNode(t *testing.T, handler RPCHandler) *MockNode {
	t.Helper()

	n := &MockNode{calls: make(map[string]int)}
	n.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")

		var req JSONRPCRequest
		if err := json.Unmarshal(body, &req); err != nil {
			WriteRPCError(w, json.RawMessage(`1`), -32700, "parse error")
			return
		}

		n.mu.Lock()
		n.calls[req.Method]++
		n.mu.Unlock()

		result, rpcErr := handler(req.Method, req.Params)
		if rpcErr != nil {
			WriteRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
			return
		}
		resultJSON, err := json.Marshal(result)
		if err != nil {
			WriteRPCError(w, req.ID, -32603, err.Error())
			return
		}
		WriteRPCResult(w, req.ID, resultJSON)
	}))
	t.Cleanup(n.Server.Close)
	return n
}

// Calls returns how many times method was called.
func (n *MockNode) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (n *MockNode) TotalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

// StartDroppingNode starts a server that reads each request fully and then
// closes the connection without answering.
func StartDroppingNode(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("response writer does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		_ = conn.Close()
	}))
	t.Cleanup(server.Close)
	return server
}

// StartStatusNode starts a server that answers every request with status.
func StartStatusNode(t *testing.T, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server
}

// ClosedURL returns the URL of a server that is no longer listening.
func ClosedURL(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	return url
}

// WriteRPCResult writes a JSON-RPC success response.
func WriteRPCResult(w http.ResponseWriter, id, result json.RawMessage) {
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"result":  result,
	})
}

// WriteRPCError writes a JSON-RPC error response.
func WriteRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	errJSON, _ := json.Marshal(map[string]any{"code": code, "message": message})
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"error":   json.RawMessage(errJSON),
	})
}
