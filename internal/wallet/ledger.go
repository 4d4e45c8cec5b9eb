package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Reason is the ledger reason code recorded on every entry.
type Reason string

const (
	ReasonOrderPayment        Reason = "order_payment"
	ReasonOrderShortageCredit Reason = "order_shortage_credit"
	ReasonOrderRefund         Reason = "order_refund"
)

// EntryType is the direction of a ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// ErrInsufficientFunds is returned by Debit when the balance cannot cover the amount.
var ErrInsufficientFunds = errors.New("insufficient wallet balance")

// Entry is one balance movement.
type Entry struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Type          EntryType       `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Reason        Reason          `json:"reason"`
	Correlation   string          `json:"correlation,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Allocation attributes part of an entry to one order.
type Allocation struct {
	OrderID string          `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// Ledger is the balance contract used by checkout and fulfillment flows.
type Ledger interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal, reason Reason, correlation string) (*Entry, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal, reason Reason, correlation string) (*Entry, error)
}

// Backfiller links a committed entry to the orders it paid for.
type Backfiller interface {
	AttachOrders(ctx context.Context, entryID string, allocations []Allocation) error
}
