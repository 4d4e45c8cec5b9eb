package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-order-settlement/internal/money"
)

// Method is a payment method tag.
type Method string

const (
	MethodWallet       Method = "wallet"
	MethodCash         Method = "cash"
	MethodBankTransfer Method = "bank_transfer"
	MethodGateway      Method = "gateway"
	MethodCard         Method = "card"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodWallet, MethodCash, MethodBankTransfer, MethodGateway, MethodCard:
		return true
	}
	return false
}

// ViaGateway reports whether m is settled through the external gateway.
func (m Method) ViaGateway() bool {
	return m == MethodGateway || m == MethodCard
}

// Synchronous reports whether the gateway confirms m at order creation.
func (m Method) Synchronous() bool {
	return m == MethodCard
}

// TxStatus is the status of one settlement leg.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

// Upgrade returns the status a stored leg should take when an event reports
// incoming. A completed leg is never downgraded.
func Upgrade(current, incoming TxStatus) TxStatus {
	if current == TxCompleted {
		return TxCompleted
	}
	if incoming == "" {
		return current
	}
	return incoming
}

// Transaction is one settlement leg for one order.
type Transaction struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	Method            Method          `json:"payment_method"`
	TransactionID     string          `json:"transaction_id"`
	ExternalReference string          `json:"external_reference,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Status            TxStatus        `json:"status"`
	Data              PaymentData     `json:"payment_data"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CompletedTotal sums the completed legs.
func CompletedTotal(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.Status == TxCompleted {
			total = total.Add(tx.Amount)
		}
	}
	return money.Round(total)
}
