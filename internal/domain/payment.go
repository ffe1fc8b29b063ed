package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCreditCard   PaymentMethod = "credit_card"
	PaymentPayPal       PaymentMethod = "paypal"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCOD          PaymentMethod = "cod"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCreditCard, PaymentPayPal, PaymentBankTransfer, PaymentCOD:
		return true
	}
	return false
}

// PaymentReceipt is returned to the client after a successful checkout.
type PaymentReceipt struct {
	Method        PaymentMethod   `json:"method"`
	TransactionID string          `json:"transaction_id"`
	Total         decimal.Decimal `json:"total"`
	PaidAt        time.Time       `json:"paid_at"`
}
