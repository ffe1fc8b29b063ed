package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/service"
)

type OrdersAPI interface {
	ListForUser(ctx context.Context, userID int64, page service.Page) (*service.OrderList, error)
	ListAll(ctx context.Context, status string, page service.Page) (*service.OrderList, error)
	GetForUser(ctx context.Context, actor service.Actor, orderID int64) (*domain.Order, error)
	UpdateStatus(ctx context.Context, adminID, orderID int64, next domain.OrderStatus) (*domain.Order, error)
	CancelByUser(ctx context.Context, userID, orderID int64) (*domain.Order, error)
	BulkUpdate(ctx context.Context, adminID int64, req service.BulkRequest) (*service.BulkResult, error)
}

var _ OrdersAPI = (*service.OrderService)(nil)

type OrdersHandler struct {
	orders OrdersAPI
	log    *slog.Logger
}

func NewOrdersHandler(orders OrdersAPI, log *slog.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, log: log}
}

type UpdateStatusRequestDTO struct {
	Status domain.OrderStatus `json:"status"`
}

// GET /api/orders/user
func (h *OrdersHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	list, err := h.orders.ListForUser(r.Context(), p.UserID, page)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, list, "")
}

// GET /api/orders/user/{id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.orders.GetForUser(r.Context(), service.Actor{UserID: p.UserID, Admin: p.IsAdmin()}, orderID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, order, "")
}

// PUT /api/orders/user/{id}/cancel
func (h *OrdersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.orders.CancelByUser(r.Context(), p.UserID, orderID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, order, "Order cancelled")
}

// GET /api/orders (admin)
func (h *OrdersHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	list, err := h.orders.ListAll(r.Context(), r.URL.Query().Get("status"), page)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, list, "")
}

// PUT /api/orders/{id}/status (admin)
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateStatusRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := h.orders.UpdateStatus(r.Context(), p.UserID, orderID, req.Status)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, order, "Order status updated")
}

// PUT /api/orders/bulk (admin)
func (h *OrdersHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req service.BulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.orders.BulkUpdate(r.Context(), p.UserID, req)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, result, "Orders updated")
}
