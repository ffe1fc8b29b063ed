package domain

import "fmt"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusShipped:    2,
	OrderStatusDelivered:  3,
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == OrderStatusCancelled
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether an order may move from s to next.
// Terminal states accept nothing; otherwise the lifecycle only moves forward,
// and cancelled is reachable from every non-terminal state.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	return statusRank[next] > statusRank[s]
}

func (s OrderStatus) String() string {
	return string(s)
}

type BulkAction string

const (
	BulkApprove BulkAction = "approve"
	BulkShip    BulkAction = "ship"
	BulkDeliver BulkAction = "deliver"
	BulkCancel  BulkAction = "cancel"
)

// Target maps a bulk action to the status it applies.
func (a BulkAction) Target() (OrderStatus, bool) {
	switch a {
	case BulkApprove:
		return OrderStatusProcessing, true
	case BulkShip:
		return OrderStatusShipped, true
	case BulkDeliver:
		return OrderStatusDelivered, true
	case BulkCancel:
		return OrderStatusCancelled, true
	default:
		return "", false
	}
}
