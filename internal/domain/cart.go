package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaxRate is applied to the cart subtotal.
var TaxRate = decimal.NewFromFloat(0.10)

// CartLine is one (user, product) pairing. Price is the unit price stored when the
// line was last added or updated, not necessarily the live catalog price.
type CartLine struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	AddedAt   time.Time       `json:"added_at"`
}

// CartLineView is a cart line joined with live product data for display.
type CartLineView struct {
	CartLine
	Name     string          `json:"name"`
	Subtitle string          `json:"subtitle"`
	Live     decimal.Decimal `json:"live_price"`
	Stock    int             `json:"stock"`
	ImageURL string          `json:"image_url,omitempty"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type CartSummary struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
	LineCount int             `json:"line_count"`
}

type Cart struct {
	UserID  int64          `json:"user_id"`
	Lines   []CartLineView `json:"items"`
	Summary CartSummary    `json:"summary"`
}

// Summarize computes the cart summary. price picks the unit price used for each line,
// which lets callers choose between the stored cart price and the live catalog price.
func Summarize[T any](lines []T, quantity func(T) int, price func(T) decimal.Decimal) CartSummary {
	s := CartSummary{Subtotal: decimal.Zero, LineCount: len(lines)}
	for _, l := range lines {
		q := quantity(l)
		s.Subtotal = s.Subtotal.Add(price(l).Mul(decimal.NewFromInt(int64(q))))
		s.ItemCount += q
	}
	s.Tax = s.Subtotal.Mul(TaxRate).Round(2)
	s.Total = s.Subtotal.Add(s.Tax)
	return s
}

type IssueKind string

const (
	IssueNoLongerAvailable IssueKind = "no_longer_available"
	IssueInsufficientStock IssueKind = "insufficient_stock"
	IssuePriceChanged      IssueKind = "price_changed"
)

// LineIssue describes one problem found on a cart line during checkout validation.
type LineIssue struct {
	LineID      int64            `json:"cart_item_id"`
	ProductID   int64            `json:"product_id"`
	ProductName string           `json:"product_name,omitempty"`
	Kind        IssueKind        `json:"issue"`
	Requested   int              `json:"requested,omitempty"`
	Available   int              `json:"available,omitempty"`
	OldPrice    *decimal.Decimal `json:"old_price,omitempty"`
	NewPrice    *decimal.Decimal `json:"new_price,omitempty"`
}
