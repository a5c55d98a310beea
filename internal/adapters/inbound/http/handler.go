// Package http exposes the order API and orchestration probes over HTTP.
//
// Routes:
//   - POST /v1/orders              place an order (202)
//   - GET  /v1/orders/{id}         read an order
//   - POST /v1/orders/{id}/cancel  cancel a pending order
//   - GET  /v1/status              provider pool health and queue depth
//
// Order routes identify the caller by the X-Owner-ID header.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/archon-research/stl-trade/internal/domain/entity"
	"github.com/archon-research/stl-trade/internal/ports/inbound"
)

// OwnerHeader carries the caller identity. Authentication happens upstream.
const OwnerHeader = "X-Owner-ID"

const maxBodyBytes = 64 << 10

// Error codes returned in the "error" field of failed responses.
const (
	codeBadRequest   = "bad_request"
	codeInvalidOrder = "invalid_order"
	codeUnauthorized = "missing_owner"
	codeNotFound     = "not_found"
	codeOrderExists  = "order_exists"
	codeTooLate      = "too_late_to_cancel"
	codeInternal     = "internal_error"
)

type placeOrderResponse struct {
	ID     string             `json:"id"`
	Status entity.OrderStatus `json:"status"`
}

type cancelOrderResponse struct {
	Cancelled bool               `json:"cancelled"`
	Status    entity.OrderStatus `json:"status"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Handler serves the order API.
type Handler struct {
	orders inbound.OrderService
	logger *slog.Logger
}

// NewHandler creates a handler for orders.
func NewHandler(orders inbound.OrderService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orders: orders,
		logger: logger.With("component", "order-api"),
	}
}

// RegisterRoutes registers the order API routes with mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/orders", h.PlaceOrder)
	mux.HandleFunc("GET /v1/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /v1/orders/{id}/cancel", h.CancelOrder)
	mux.HandleFunc("GET /v1/status", h.Status)
}

// PlaceOrder accepts an order and returns as soon as it is persisted.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req inbound.PlaceOrderRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), owner, req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, placeOrderResponse{ID: order.ID, Status: order.Status})
}

// GetOrder returns the full order record.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, order)
}

// CancelOrder cancels a pending order.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	order, err := h.orders.CancelOrder(r.Context(), owner, r.PathValue("id"))
	if errors.Is(err, entity.ErrTooLateToCancel) && order != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		h.encode(w, struct {
			errorResponse
			cancelOrderResponse
		}{
			errorResponse{Error: codeTooLate, Message: err.Error()},
			cancelOrderResponse{Cancelled: false, Status: order.Status},
		})
		return
	}
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cancelOrderResponse{Cancelled: true, Status: order.Status})
}

// Status reports provider pool health per chain and queue statistics.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.orders.Status(r.Context()))
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	if owner == "" {
		h.respondError(w, http.StatusUnauthorized, codeUnauthorized, OwnerHeader+" header is required")
		return "", false
	}
	return owner, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrInvalidOrderParameters):
		h.respondError(w, http.StatusBadRequest, codeInvalidOrder, err.Error())
	case errors.Is(err, entity.ErrOrderNotFound):
		h.respondError(w, http.StatusNotFound, codeNotFound, "order not found")
	case errors.Is(err, entity.ErrOrderExists):
		h.respondError(w, http.StatusConflict, codeOrderExists, err.Error())
	case errors.Is(err, entity.ErrTooLateToCancel):
		h.respondError(w, http.StatusConflict, codeTooLate, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, codeInternal, "")
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	h.encode(w, data)
}

func (h *Handler) encode(w io.Writer, data any) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, errorResponse{Error: code, Message: message})
}
