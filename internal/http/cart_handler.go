package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/service"
)

type CartAPI interface {
	GetCart(ctx context.Context, userID int64) (*domain.Cart, error)
	AddItem(ctx context.Context, userID, productID int64, qty int) (*domain.CartLine, error)
	UpdateItem(ctx context.Context, userID, lineID int64, qty int) (*domain.CartLine, error)
	RemoveItem(ctx context.Context, userID, lineID int64) error
	Clear(ctx context.Context, userID int64) error
}

var _ CartAPI = (*service.CartService)(nil)

type CartHandler struct {
	carts CartAPI
	log   *slog.Logger
}

func NewCartHandler(carts CartAPI, log *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, log: log}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

// GET /api/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.GetCart(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, cart, "")
}

// POST /api/cart
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	line, err := h.carts.AddItem(r.Context(), p.UserID, req.ProductID, req.Quantity)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusCreated, line, "Item added to cart")
}

// PUT /api/cart/{id}
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	line, err := h.carts.UpdateItem(r.Context(), p.UserID, lineID, req.Quantity)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	if line == nil {
		respondOK(w, http.StatusOK, nil, "Item removed from cart")
		return
	}
	respondOK(w, http.StatusOK, line, "Cart updated")
}

// DELETE /api/cart/{id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.carts.RemoveItem(r.Context(), p.UserID, lineID); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, nil, "Item removed from cart")
}

// DELETE /api/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.carts.Clear(r.Context(), p.UserID); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, nil, "Cart cleared")
}

func requireUser(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, ok := principalFrom(r.Context())
	if !ok || p.UserID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return Principal{}, false
	}
	return p, true
}
