package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/service"
)

type CheckoutAPI interface {
	Validate(ctx context.Context, userID int64) (*service.CheckoutPreview, error)
	Process(ctx context.Context, userID int64, req service.CheckoutRequest) (*service.CheckoutResult, error)
}

var _ CheckoutAPI = (*service.CheckoutService)(nil)

type CheckoutHandler struct {
	checkout CheckoutAPI
	log      *slog.Logger
}

func NewCheckoutHandler(checkout CheckoutAPI, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, log: log}
}

// GET /api/checkout/validate
func (h *CheckoutHandler) Validate(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	preview, err := h.checkout.Validate(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, preview, "Cart is ready for checkout")
}

// POST /api/checkout/process
func (h *CheckoutHandler) Process(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req service.CheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.checkout.Process(r.Context(), p.UserID, req)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondOK(w, http.StatusCreated, result, "Order placed successfully")
}
