package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Shipping is the contact block snapshotted onto every order row of a checkout.
type Shipping struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Order is one purchased cart line. A checkout with three products yields three orders
// sharing the same CheckoutID.
type Order struct {
	ID             int64           `json:"id"`
	CheckoutID     uuid.UUID       `json:"checkout_id"`
	UserID         int64           `json:"user_id"`
	Shipping       Shipping        `json:"shipping"`
	ProductID      int64           `json:"product_id"`
	ProductName    string          `json:"product_name"`
	Quantity       int             `json:"quantity"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	Status         OrderStatus     `json:"status"`
	Notes          string          `json:"notes,omitempty"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Transaction is the payment/fulfillment audit row written next to each order.
type Transaction struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	ProductID int64           `json:"product_id"`
	OrderID   int64           `json:"order_id"`
	AdminID   *int64          `json:"admin_id,omitempty"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Checkout groups the orders created by one successful checkout request.
type Checkout struct {
	ID            uuid.UUID       `json:"id"`
	UserID        int64           `json:"user_id"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentID     string          `json:"payment_id"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	CreatedAt     time.Time       `json:"created_at"`
}
