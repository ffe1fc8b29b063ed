package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/repository"
)

const EventOrderStatusChanged = "order.status_changed"

// Actor is the authenticated caller of an order operation.
type Actor struct {
	UserID int64
	Admin  bool
}

type Page struct {
	Limit  int
	Offset int
}

type OrderList struct {
	Orders []*domain.Order `json:"orders"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type BulkRequest struct {
	OrderIDs []int64           `json:"orderIds"`
	Action   domain.BulkAction `json:"action"`
	// Force applies the action even to orders in a terminal state.
	Force bool `json:"force"`
}

type BulkResult struct {
	Status  domain.OrderStatus `json:"status"`
	Updated []*domain.Order    `json:"updated"`
	Skipped []int64            `json:"skipped,omitempty"`
}

type OrderService struct {
	store   repository.Store
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewOrderService(store repository.Store, m *metrics.Metrics, log *slog.Logger) *OrderService {
	return &OrderService{store: store, metrics: m, log: log}
}

func (s *OrderService) ListForUser(ctx context.Context, userID int64, page Page) (*OrderList, error) {
	if userID <= 0 {
		return nil, ErrForbidden
	}
	return s.list(ctx, repository.OrderFilter{UserID: userID, Limit: page.Limit, Offset: page.Offset})
}

// ListAll is the admin listing across every user, optionally narrowed by status.
func (s *OrderService) ListAll(ctx context.Context, status string, page Page) (*OrderList, error) {
	filter := repository.OrderFilter{Limit: page.Limit, Offset: page.Offset}
	if status != "" {
		st, err := domain.ParseOrderStatus(status)
		if err != nil {
			return nil, fieldError("status", err.Error())
		}
		filter.Status = st
	}
	return s.list(ctx, filter)
}

func (s *OrderService) list(ctx context.Context, filter repository.OrderFilter) (*OrderList, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fieldError("limit", "must not be negative")
	}
	out := &OrderList{Limit: filter.Limit, Offset: filter.Offset}
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		out.Orders, out.Total, err = tx.ListOrders(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.Orders == nil {
		out.Orders = []*domain.Order{}
	}
	return out, nil
}

// GetForUser returns the order if the actor owns it; admins may read any order.
func (s *OrderService) GetForUser(ctx context.Context, actor Actor, orderID int64) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", orderID, err)
	}
	if !actor.Admin && order.UserID != actor.UserID {
		return nil, ErrForbidden
	}
	return order, nil
}

// UpdateStatus is the admin single-order transition. Setting the current status again
// is a no-op unless the order is terminal; anything out of a terminal state is refused.
func (s *OrderService) UpdateStatus(ctx context.Context, adminID, orderID int64, next domain.OrderStatus) (*domain.Order, error) {
	if !next.Valid() {
		return nil, fieldError("status", fmt.Sprintf("unknown order status %q", next))
	}

	var (
		order   *domain.Order
		changed bool
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("order %d: %w", orderID, err)
		}
		order = o
		if !allowed(o.Status, next) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.Status, next)
		}
		if o.Status == next {
			return nil
		}
		changed = true
		return s.transition(ctx, tx, o, next, &adminID)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.StatusChanged(string(next))
	}
	return order, nil
}

// CancelByUser lets the owner cancel an order that has not been picked up yet.
func (s *OrderService) CancelByUser(ctx context.Context, userID, orderID int64) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("order %d: %w", orderID, err)
		}
		if o.UserID != userID {
			return ErrForbidden
		}
		if o.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: only pending orders can be cancelled, order is %s", ErrInvalidTransition, o.Status)
		}
		order = o
		return s.transition(ctx, tx, o, domain.OrderStatusCancelled, nil)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.StatusChanged(string(domain.OrderStatusCancelled))
	return order, nil
}

// BulkUpdate applies one action to a set of orders atomically. Without Force every order
// must accept the transition or nothing changes and the refusals are reported per order.
func (s *OrderService) BulkUpdate(ctx context.Context, adminID int64, req BulkRequest) (*BulkResult, error) {
	target, ok := req.Action.Target()
	if !ok {
		return nil, fieldError("action", "must be one of: approve, ship, deliver, cancel")
	}
	ids := uniqueSorted(req.OrderIDs)
	if len(ids) == 0 {
		return nil, fieldError("orderIds", "must contain at least one order id")
	}

	result := &BulkResult{Status: target}
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		orders := make([]*domain.Order, 0, len(ids))
		var issues []OrderIssue
		for _, id := range ids {
			o, err := tx.LockOrder(ctx, id)
			if errors.Is(err, repository.ErrNotFound) {
				issues = append(issues, OrderIssue{OrderID: id, Reason: "order not found"})
				continue
			}
			if err != nil {
				return err
			}
			if !req.Force && !allowed(o.Status, target) {
				issues = append(issues, OrderIssue{
					OrderID: id,
					Status:  o.Status,
					Reason:  fmt.Sprintf("cannot move from %s to %s", o.Status, target),
				})
				continue
			}
			orders = append(orders, o)
		}
		if len(issues) > 0 {
			return &ValidationError{Message: "bulk update rejected", Orders: issues}
		}

		for _, o := range orders {
			if o.Status == target {
				result.Skipped = append(result.Skipped, o.ID)
				continue
			}
			if err := s.transition(ctx, tx, o, target, &adminID); err != nil {
				return err
			}
			result.Updated = append(result.Updated, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for range result.Updated {
		s.metrics.StatusChanged(string(target))
	}
	if req.Force {
		s.log.WarnContext(ctx, "forced bulk status update",
			"admin_id", adminID,
			"status", target,
			"orders", len(result.Updated),
		)
	}
	return result, nil
}

// transition writes the new status, applies the stock compensation and records the outbox
// event, all inside tx. Entering cancelled returns the quantity to stock; leaving it (only
// possible with a forced bulk update) takes it out again.
func (s *OrderService) transition(ctx context.Context, tx repository.Tx, o *domain.Order, next domain.OrderStatus, adminID *int64) error {
	prev := o.Status
	switch {
	case next == domain.OrderStatusCancelled:
		if err := s.restock(ctx, tx, o, o.Quantity); err != nil {
			return err
		}
	case prev == domain.OrderStatusCancelled:
		if err := s.restock(ctx, tx, o, -o.Quantity); err != nil {
			return err
		}
	}

	if err := tx.UpdateOrderStatus(ctx, o.ID, next); err != nil {
		return err
	}
	o.Status = next

	payload, err := json.Marshal(statusEvent{
		OrderID:    o.ID,
		CheckoutID: o.CheckoutID.String(),
		UserID:     o.UserID,
		From:       prev,
		To:         next,
		AdminID:    adminID,
	})
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	if err := tx.InsertEvent(ctx, &repository.OutboxEvent{
		AggregateID: strconv.FormatInt(o.ID, 10),
		EventType:   EventOrderStatusChanged,
		Payload:     payload,
	}); err != nil {
		return err
	}
	return nil
}

// restock moves qty back into stock and out of sold under the product row lock.
// A negative qty reverses a cancellation.
func (s *OrderService) restock(ctx context.Context, tx repository.Tx, o *domain.Order, qty int) error {
	if _, err := tx.LockProduct(ctx, o.ProductID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.WarnContext(ctx, "product of order was deleted, stock not adjusted",
				"order_id", o.ID,
				"product_id", o.ProductID,
			)
			return nil
		}
		return err
	}
	if err := tx.IncrementStock(ctx, o.ProductID, qty); err != nil {
		return fmt.Errorf("restock product %d: %w", o.ProductID, err)
	}
	if err := tx.IncrementSold(ctx, o.ProductID, -qty); err != nil {
		return fmt.Errorf("adjust sold of product %d: %w", o.ProductID, err)
	}
	return nil
}

type statusEvent struct {
	OrderID    int64              `json:"order_id"`
	CheckoutID string             `json:"checkout_id"`
	UserID     int64              `json:"user_id"`
	From       domain.OrderStatus `json:"from"`
	To         domain.OrderStatus `json:"to"`
	AdminID    *int64             `json:"admin_id,omitempty"`
}

// allowed is CanTransitionTo plus idempotent re-application of a non-terminal status.
func allowed(from, to domain.OrderStatus) bool {
	if from == to {
		return !from.IsTerminal()
	}
	return from.CanTransitionTo(to)
}

func uniqueSorted(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
