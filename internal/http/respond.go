package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/media"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/go-chi/chi/v5"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Envelope is the body of every JSON response.
type Envelope struct {
	Success      bool               `json:"success"`
	Data         any                `json:"data,omitempty"`
	Message      string             `json:"message,omitempty"`
	Errors       any                `json:"errors,omitempty"`
	InvalidItems []domain.LineIssue `json:"invalidItems,omitempty"`
	Code         string             `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondOK(w http.ResponseWriter, status int, data any, message string) {
	respondJSON(w, status, Envelope{Success: true, Data: data, Message: message})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, Envelope{Success: false, Code: code, Message: message})
}

// handleServiceError translates service errors into HTTP responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var (
		verr *service.ValidationError
		perr *service.PaymentError
	)
	switch {
	case errors.As(err, &verr):
		body := Envelope{Code: "validation_failed", Message: verr.Message, InvalidItems: verr.Lines}
		switch {
		case len(verr.Fields) > 0:
			body.Errors = verr.Fields
		case len(verr.Orders) > 0:
			body.Errors = verr.Orders
		}
		respondJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &perr):
		respondError(w, http.StatusBadRequest, "payment_failed", perr.Error())
	case errors.Is(err, service.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.Is(err, service.ErrInsufficientStock):
		respondError(w, http.StatusBadRequest, "insufficient_stock", err.Error())
	case errors.Is(err, service.ErrInventoryChanged):
		respondError(w, http.StatusBadRequest, "inventory_changed", "inventory changed during checkout, please review your cart")
	case errors.Is(err, service.ErrInvalidTransition):
		respondError(w, http.StatusBadRequest, "invalid_transition", err.Error())
	case errors.Is(err, service.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", "access denied")
	case errors.Is(err, service.ErrNotFound), errors.Is(err, media.ErrImageNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrDuplicate):
		respondError(w, http.StatusConflict, "conflict", "request conflicts with a concurrent change, retry")
	case errors.Is(err, service.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "busy", "resource is busy, retry shortly")
	case errors.Is(err, media.ErrNotConfigured):
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "image storage is not configured")
	default:
		log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_"+name, fmt.Sprintf("%s must be a positive integer", name))
		return 0, false
	}
	return id, true
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func parsePage(r *http.Request) (service.Page, error) {
	page := service.Page{Limit: defaultPageSize}
	var fields []service.FieldError
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			fields = append(fields, service.FieldError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxPageSize)})
		}
		page.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fields = append(fields, service.FieldError{Field: "offset", Message: "must not be negative"})
		}
		page.Offset = n
	}
	if len(fields) > 0 {
		return page, &service.ValidationError{Message: "invalid pagination", Fields: fields}
	}
	return page, nil
}
