package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const EventCheckoutCompleted = "checkout.completed"

type CheckoutResult struct {
	CheckoutID uuid.UUID             `json:"checkout_id"`
	Orders     []*domain.Order       `json:"orders"`
	Payment    domain.PaymentReceipt `json:"payment"`
	Summary    domain.CartSummary    `json:"summary"`
}

type CheckoutService struct {
	store    repository.Store
	carts    *CartService
	payments payment.Processor
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewCheckoutService(
	store repository.Store,
	carts *CartService,
	payments payment.Processor,
	m *metrics.Metrics,
	log *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		store:    store,
		carts:    carts,
		payments: payments,
		validate: newCheckoutValidator(time.Now),
		metrics:  m,
		log:      log,
	}
}

// Validate is the pre-checkout check behind GET /checkout/validate.
func (s *CheckoutService) Validate(ctx context.Context, userID int64) (*CheckoutPreview, error) {
	return s.carts.ValidateForCheckout(ctx, userID)
}

// Process runs one checkout attempt: input validation, cart validation, payment,
// then order materialization and cart clear in a single transaction. The charge happens
// outside any transaction so no row lock is held during the payment delay; the
// materialization step re-locks and re-checks every product and refunds on failure.
func (s *CheckoutService) Process(ctx context.Context, userID int64, req CheckoutRequest) (*CheckoutResult, error) {
	result, err := s.process(ctx, userID, req)
	s.metrics.CheckoutOutcome(outcomeLabel(err))
	return result, err
}

func (s *CheckoutService) process(ctx context.Context, userID int64, req CheckoutRequest) (*CheckoutResult, error) {
	if err := validateCheckoutRequest(s.validate, &req); err != nil {
		return nil, err
	}

	preview, err := s.carts.ValidateForCheckout(ctx, userID)
	if err != nil {
		return nil, err
	}

	charge, err := s.payments.Charge(ctx, payment.Charge{
		UserID: userID,
		Method: req.PaymentMethod,
		Amount: preview.Summary.Total,
	})
	if err != nil {
		return nil, fmt.Errorf("charge payment: %w", err)
	}
	s.metrics.PaymentResult(string(req.PaymentMethod), charge.Approved)
	if !charge.Approved {
		s.log.InfoContext(ctx, "payment declined", "user_id", userID, "reason", charge.Reason.String())
		return nil, &PaymentError{Reason: charge.Reason.String()}
	}

	checkout := &domain.Checkout{
		ID:            uuid.New(),
		UserID:        userID,
		PaymentMethod: req.PaymentMethod,
		PaymentID:     charge.TransactionID,
		Subtotal:      preview.Summary.Subtotal,
		Tax:           preview.Summary.Tax,
		Total:         preview.Summary.Total,
	}
	shipping := domain.Shipping{Name: req.Name, Email: req.Email, Phone: req.Phone, Address: req.Address}

	var orders []*domain.Order
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		var errMat error
		orders, errMat = materialize(ctx, tx, checkout, shipping, preview)
		return errMat
	})
	if err != nil {
		s.refund(ctx, charge.TransactionID, err)
		if errors.Is(err, ErrInsufficientStock) {
			err = fmt.Errorf("%w: %v", ErrInventoryChanged, err)
		}
		return nil, err
	}

	s.carts.invalidate(userID)
	s.log.InfoContext(ctx, "checkout completed",
		"user_id", userID,
		"checkout_id", checkout.ID,
		"orders", len(orders),
		"total", checkout.Total.StringFixed(2),
	)

	return &CheckoutResult{
		CheckoutID: checkout.ID,
		Orders:     orders,
		Payment: domain.PaymentReceipt{
			Method:        req.PaymentMethod,
			TransactionID: charge.TransactionID,
			Total:         checkout.Total,
			PaidAt:        charge.ProcessedAt,
		},
		Summary: preview.Summary,
	}, nil
}

// materialize turns the validated cart into orders. Every line is re-checked under its
// row lock: the cart, stock and price must still match what was charged.
func materialize(
	ctx context.Context,
	tx repository.Tx,
	checkout *domain.Checkout,
	shipping domain.Shipping,
	preview *CheckoutPreview,
) ([]*domain.Order, error) {
	lines, err := tx.ListCartLines(ctx, checkout.UserID)
	if err != nil {
		return nil, err
	}
	if !sameLines(lines, preview.Items) {
		return nil, fmt.Errorf("%w: cart was modified during checkout", ErrInventoryChanged)
	}

	products, err := lockProducts(ctx, tx, lines)
	if err != nil {
		return nil, err
	}

	if err := tx.CreateCheckout(ctx, checkout); err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, 0, len(lines))
	for _, line := range lines {
		p, ok := products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %d is no longer available", ErrInventoryChanged, line.ProductID)
		}
		if p.Stock < line.Quantity {
			return nil, fmt.Errorf("%w: %s has %d in stock, %d requested", ErrInventoryChanged, p.Name, p.Stock, line.Quantity)
		}
		if !p.Price.Equal(line.Price) {
			return nil, fmt.Errorf("%w: price of %s changed", ErrInventoryChanged, p.Name)
		}

		order := &domain.Order{
			CheckoutID:  checkout.ID,
			UserID:      checkout.UserID,
			Shipping:    shipping,
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    line.Quantity,
			TotalPrice:  p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))),
			Status:      domain.OrderStatusPending,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return nil, err
		}
		if err := tx.CreateTransaction(ctx, &domain.Transaction{
			UserID:    checkout.UserID,
			ProductID: p.ID,
			OrderID:   order.ID,
			PaymentID: checkout.PaymentID,
			Amount:    order.TotalPrice,
		}); err != nil {
			return nil, err
		}
		if err := tx.DecrementStock(ctx, p.ID, line.Quantity); err != nil {
			return nil, err
		}
		if err := tx.IncrementSold(ctx, p.ID, line.Quantity); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if _, err := tx.ClearCart(ctx, checkout.UserID); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(checkoutEvent{
		CheckoutID:    checkout.ID,
		UserID:        checkout.UserID,
		PaymentMethod: checkout.PaymentMethod,
		PaymentID:     checkout.PaymentID,
		Total:         checkout.Total,
		Orders:        orders,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal checkout event: %w", err)
	}
	if err := tx.InsertEvent(ctx, &repository.OutboxEvent{
		AggregateID: checkout.ID.String(),
		EventType:   EventCheckoutCompleted,
		Payload:     payload,
	}); err != nil {
		return nil, err
	}

	return orders, nil
}

type checkoutEvent struct {
	CheckoutID    uuid.UUID            `json:"checkout_id"`
	UserID        int64                `json:"user_id"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	PaymentID     string               `json:"payment_id"`
	Total         decimal.Decimal      `json:"total"`
	Orders        []*domain.Order      `json:"orders"`
}

func sameLines(lines []domain.CartLine, validated []domain.CartLineView) bool {
	if len(lines) != len(validated) {
		return false
	}
	byID := make(map[int64]domain.CartLine, len(validated))
	for _, v := range validated {
		byID[v.ID] = v.CartLine
	}
	for _, l := range lines {
		v, ok := byID[l.ID]
		if !ok || v.ProductID != l.ProductID || v.Quantity != l.Quantity || !v.Price.Equal(l.Price) {
			return false
		}
	}
	return true
}

func (s *CheckoutService) refund(ctx context.Context, transactionID string, cause error) {
	// the request context may already be done, the refund must still go out
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.payments.Refund(refundCtx, transactionID); err != nil {
		s.log.ErrorContext(ctx, "refund failed after aborted checkout",
			"transaction_id", transactionID,
			"cause", cause,
			"error", err,
		)
		return
	}
	s.log.WarnContext(ctx, "checkout aborted after payment, refunded",
		"transaction_id", transactionID,
		"cause", cause,
	)
}

func outcomeLabel(err error) string {
	var (
		verr *ValidationError
		perr *PaymentError
	)
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.As(err, &verr):
		return "validation_failed"
	case errors.As(err, &perr):
		return "payment_failed"
	case errors.Is(err, ErrInventoryChanged):
		return "inventory_changed"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	default:
		return "error"
	}
}
