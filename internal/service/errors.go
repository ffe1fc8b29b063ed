package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository"
)

// The first four share identity with the repository errors so a storage failure
// surfaces unchanged through errors.Is.
var (
	ErrNotFound          = repository.ErrNotFound
	ErrInsufficientStock = repository.ErrInsufficientStock
	ErrLockTimeout       = repository.ErrLockTimeout
	ErrDuplicate         = repository.ErrDuplicate

	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrForbidden         = errors.New("forbidden")
	ErrInventoryChanged  = errors.New("inventory changed during checkout")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// OrderIssue explains why one order of a bulk update was refused.
type OrderIssue struct {
	OrderID int64              `json:"order_id"`
	Status  domain.OrderStatus `json:"status,omitempty"`
	Reason  string             `json:"reason"`
}

// ValidationError carries every problem found, never only the first one.
type ValidationError struct {
	Message string             `json:"message"`
	Fields  []FieldError       `json:"fields,omitempty"`
	Lines   []domain.LineIssue `json:"lines,omitempty"`
	Orders  []OrderIssue       `json:"orders,omitempty"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields)+len(e.Lines)+len(e.Orders))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	for _, l := range e.Lines {
		parts = append(parts, fmt.Sprintf("cart item %d: %s", l.LineID, l.Kind))
	}
	for _, o := range e.Orders {
		parts = append(parts, fmt.Sprintf("order %d: %s", o.OrderID, o.Reason))
	}
	if len(parts) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

func fieldError(field, message string) *ValidationError {
	return &ValidationError{
		Message: "validation failed",
		Fields:  []FieldError{{Field: field, Message: message}},
	}
}

type PaymentError struct {
	Reason string
}

func (e *PaymentError) Error() string {
	return "payment failed: " + e.Reason
}
