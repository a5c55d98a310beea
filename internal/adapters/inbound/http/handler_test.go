package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/ports/inbound"
)

type mockOrderService struct {
	placeErr  error
	getErr    error
	cancel    *entity.Order
	cancelErr error

	lastOwner string
	lastReq   inbound.PlaceOrderRequest
	lastID    string
}

func (m *mockOrderService) PlaceOrder(_ context.Context, owner string, req inbound.PlaceOrderRequest) (*entity.Order, error) {
	m.lastOwner, m.lastReq = owner, req
	if m.placeErr != nil {
		return nil, m.placeErr
	}
	return &entity.Order{ID: "order-1", Owner: owner, Status: entity.StatusPending}, nil
}

func (m *mockOrderService) GetOrder(_ context.Context, owner, id string) (*entity.Order, error) {
	m.lastOwner, m.lastID = owner, id
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &entity.Order{
		ID: id, Owner: owner, ChainID: 1, Side: entity.SideBuy,
		BaseToken: "WETH", QuoteToken: "USDC",
		Amount: decimal.RequireFromString("0.1"), LimitPrice: decimal.RequireFromString("1600"),
		Status: entity.StatusFailed, LastError: "transaction reverted on chain",
	}, nil
}

func (m *mockOrderService) CancelOrder(_ context.Context, owner, id string) (*entity.Order, error) {
	m.lastOwner, m.lastID = owner, id
	return m.cancel, m.cancelErr
}

func (m *mockOrderService) Status(context.Context) inbound.StatusReport {
	return inbound.StatusReport{
		Chains: []inbound.ChainStatus{{
			PoolHealth:  entity.PoolHealth{ChainID: 1, ActiveProvider: "alchemy", HealthyCount: 2, TotalCount: 3, FailedProviders: []string{"infura"}},
			BlockHeight: 21000000,
		}},
		Queue: inbound.QueueStats{Pending: 4, InFlight: 1},
	}
}

func serve(t *testing.T, svc inbound.OrderService, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(svc, nil).RegisterRoutes(mux)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHandler_PlaceOrder(t *testing.T) {
	svc := &mockOrderService{}
	body := `{"side":"buy","baseToken":"WETH","quoteToken":"USDC","amount":"0.1","limitPrice":"1600","chainId":1}`

	w := serve(t, svc, http.MethodPost, "/v1/orders", "alice", body)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body)
	}
	resp := decodeBody(t, w)
	if resp["id"] != "order-1" || resp["status"] != "pending" {
		t.Errorf("unexpected response %v", resp)
	}
	if svc.lastOwner != "alice" || svc.lastReq.Amount != "0.1" || svc.lastReq.ChainID != 1 || svc.lastReq.OrderID != "" {
		t.Errorf("unexpected request passed to service: owner=%q req=%+v", svc.lastOwner, svc.lastReq)
	}
}

func TestHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		svc        *mockOrderService
		method     string
		path       string
		owner      string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name: "missing owner", svc: &mockOrderService{},
			method: http.MethodPost, path: "/v1/orders", body: `{}`,
			wantStatus: http.StatusUnauthorized, wantCode: codeUnauthorized,
		},
		{
			name: "malformed json", svc: &mockOrderService{},
			method: http.MethodPost, path: "/v1/orders", owner: "alice", body: `{"side":`,
			wantStatus: http.StatusBadRequest, wantCode: codeBadRequest,
		},
		{
			name: "client supplied status", svc: &mockOrderService{},
			method: http.MethodPost, path: "/v1/orders", owner: "alice", body: `{"status":"filled"}`,
			wantStatus: http.StatusBadRequest, wantCode: codeBadRequest,
		},
		{
			name: "invalid order", svc: &mockOrderService{placeErr: fmt.Errorf("%w: amount must be positive", entity.ErrInvalidOrderParameters)},
			method: http.MethodPost, path: "/v1/orders", owner: "alice", body: `{"side":"buy"}`,
			wantStatus: http.StatusBadRequest, wantCode: codeInvalidOrder,
		},
		{
			name: "store failure", svc: &mockOrderService{placeErr: errors.New("connection reset")},
			method: http.MethodPost, path: "/v1/orders", owner: "alice", body: `{"side":"buy"}`,
			wantStatus: http.StatusInternalServerError, wantCode: codeInternal,
		},
		{
			name: "get unknown", svc: &mockOrderService{getErr: entity.ErrOrderNotFound},
			method: http.MethodGet, path: "/v1/orders/nope", owner: "alice",
			wantStatus: http.StatusNotFound, wantCode: codeNotFound,
		},
		{
			name: "cancel unknown", svc: &mockOrderService{cancelErr: entity.ErrOrderNotFound},
			method: http.MethodPost, path: "/v1/orders/nope/cancel", owner: "alice",
			wantStatus: http.StatusNotFound, wantCode: codeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, tt.svc, tt.method, tt.path, tt.owner, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body)
			}
			if got := decodeBody(t, w)["error"]; got != tt.wantCode {
				t.Errorf("expected error code %q, got %v", tt.wantCode, got)
			}
		})
	}
}

func TestHandler_GetOrder(t *testing.T) {
	svc := &mockOrderService{}
	w := serve(t, svc, http.MethodGet, "/v1/orders/order-9", "alice", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.lastID != "order-9" || svc.lastOwner != "alice" {
		t.Errorf("unexpected lookup id=%q owner=%q", svc.lastID, svc.lastOwner)
	}
	resp := decodeBody(t, w)
	if resp["status"] != "failed" || resp["lastError"] != "transaction reverted on chain" || resp["amount"] != "0.1" {
		t.Errorf("unexpected order body %v", resp)
	}
}

func TestHandler_CancelOrder(t *testing.T) {
	tests := []struct {
		name          string
		svc           *mockOrderService
		wantStatus    int
		wantCancelled bool
		wantState     string
		wantCode      string
	}{
		{
			name:          "pending",
			svc:           &mockOrderService{cancel: &entity.Order{ID: "o", Status: entity.StatusCancelled}},
			wantStatus:    http.StatusOK,
			wantCancelled: true,
			wantState:     "cancelled",
		},
		{
			name: "too late",
			svc: &mockOrderService{
				cancel:    &entity.Order{ID: "o", Status: entity.StatusSubmitted},
				cancelErr: fmt.Errorf("%w: order o is submitted", entity.ErrTooLateToCancel),
			},
			wantStatus: http.StatusConflict,
			wantState:  "submitted",
			wantCode:   codeTooLate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, tt.svc, http.MethodPost, "/v1/orders/o/cancel", "alice", "")
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body)
			}
			resp := decodeBody(t, w)
			if resp["cancelled"] != tt.wantCancelled || resp["status"] != tt.wantState {
				t.Errorf("unexpected response %v", resp)
			}
			if tt.wantCode != "" && resp["error"] != tt.wantCode {
				t.Errorf("expected error code %q, got %v", tt.wantCode, resp["error"])
			}
		})
	}
}

func TestHandler_Status(t *testing.T) {
	w := serve(t, &mockOrderService{}, http.MethodGet, "/v1/status", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var report inbound.StatusReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if len(report.Chains) != 1 || report.Chains[0].ActiveProvider != "alchemy" || report.Chains[0].BlockHeight != 21000000 {
		t.Errorf("unexpected chains %+v", report.Chains)
	}
	if report.Queue.Pending != 4 || report.Queue.InFlight != 1 {
		t.Errorf("unexpected queue stats %+v", report.Queue)
	}
}
