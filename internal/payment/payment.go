package payment

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// Reason is why a charge was refused.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonNoFunds
	ReasonCardDeclined
	ReasonGatewayTimeout
	ReasonFraudSuspected
	ReasonLimitExceeded
)

var reasonText = map[Reason]string{
	ReasonUnknown:        "payment was declined for an unknown reason",
	ReasonNoFunds:        "insufficient funds",
	ReasonCardDeclined:   "payment declined by issuer",
	ReasonGatewayTimeout: "payment gateway timed out",
	ReasonFraudSuspected: "payment flagged as suspicious",
	ReasonLimitExceeded:  "transaction limit exceeded",
}

func (r Reason) String() string {
	if s, ok := reasonText[r]; ok {
		return s
	}
	return reasonText[ReasonUnknown]
}

type Charge struct {
	UserID int64
	Method domain.PaymentMethod
	Amount decimal.Decimal
}

type Result struct {
	Approved      bool
	TransactionID string
	Reason        Reason
	ProcessedAt   time.Time
}

type Processor interface {
	Charge(ctx context.Context, c Charge) (*Result, error)
	Refund(ctx context.Context, transactionID string) error
}

// Outcome decides whether a simulated charge goes through.
type Outcome interface {
	Next() (bool, Reason)
}

// RandomOutcome approves 95% of charges and spreads refusals over the known reasons.
type RandomOutcome struct{}

func (RandomOutcome) Next() (bool, Reason) {
	return outcomeFor(rand.Intn(100))
}

// outcomeFor maps a draw in [0, 100): 0-94 approve, 95-99 pick one refusal reason each.
// ReasonUnknown is only reported for draws outside that range.
func outcomeFor(n int) (bool, Reason) {
	if n >= 0 && n < 95 {
		return true, ReasonUnknown
	}
	r := Reason(n - 94)
	if r < ReasonNoFunds || r > ReasonLimitExceeded {
		return false, ReasonUnknown
	}
	return false, r
}

// FixedOutcome always returns the same answer. Handy in tests and demos.
type FixedOutcome struct {
	Approved bool
	Reason   Reason
}

func (f FixedOutcome) Next() (bool, Reason) { return f.Approved, f.Reason }

type Simulator struct {
	delay   time.Duration
	outcome Outcome
	now     func() time.Time
}

func NewSimulator(delay time.Duration, outcome Outcome) *Simulator {
	if outcome == nil {
		outcome = RandomOutcome{}
	}
	return &Simulator{delay: delay, outcome: outcome, now: time.Now}
}

func (s *Simulator) Charge(ctx context.Context, c Charge) (*Result, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	now := s.now()
	approved, reason := s.outcome.Next()
	return &Result{
		Approved:      approved,
		TransactionID: NewTransactionID(now),
		Reason:        reason,
		ProcessedAt:   now,
	}, nil
}

// Refund is always a success for the simulator.
func (*Simulator) Refund(context.Context, string) error {
	return nil
}

// NewTransactionID renders TX, the four digit year, the two digit month and ten random digits.
func NewTransactionID(t time.Time) string {
	return fmt.Sprintf("TX%04d%02d%010d", t.Year(), int(t.Month()), rand.Int63n(10_000_000_000))
}
