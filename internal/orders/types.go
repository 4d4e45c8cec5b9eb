package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-order-settlement/internal/money"
	"github.com/imrishuroy/go-order-settlement/internal/tax"
)

// Status is the fulfillment status of an order.
type Status string

// Order statuses
const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusCompleted      Status = "completed"
	StatusInTransit      Status = "in_transit"
	StatusDeliveryFailed Status = "delivery_failed"
	StatusDelivered      Status = "delivered"
	StatusReturned       Status = "returned"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
)

// PaymentStatus tracks settlement of an order independently of fulfillment.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefundPending     PaymentStatus = "refund_pending"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Totals holds the monetary breakdown of an order.
type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxTotal    decimal.Decimal `json:"tax_total"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Discount    decimal.Decimal `json:"discount"`
	Tip         decimal.Decimal `json:"tip"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
}

// NewTotals rounds every component to the minor unit and derives GrandTotal
// from the rounded components.
func NewTotals(subtotal, taxTotal, deliveryFee, discount, tip decimal.Decimal) Totals {
	t := Totals{
		Subtotal:    money.Round(subtotal),
		TaxTotal:    money.Round(taxTotal),
		DeliveryFee: money.Round(deliveryFee),
		Discount:    money.Round(discount),
		Tip:         money.Round(tip),
	}
	t.GrandTotal = t.Subtotal.Add(t.TaxTotal).Add(t.DeliveryFee).Sub(t.Discount).Add(t.Tip)
	return t
}

// Balanced reports whether GrandTotal equals its components exactly.
func (t Totals) Balanced() bool {
	return t.GrandTotal.Equal(t.Subtotal.Add(t.TaxTotal).Add(t.DeliveryFee).Sub(t.Discount).Add(t.Tip))
}

// Address is the delivery address copied onto the order at checkout.
type Address struct {
	AddressID string  `json:"address_id"`
	Text      string  `json:"text"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Contact is the customer contact snapshot used for receipts and gateway orders.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Milestones are stamped by status transitions.
type Milestones struct {
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	InTransitAt      *time.Time `json:"in_transit_at,omitempty"`
	DeliveryFailedAt *time.Time `json:"delivery_failed_at,omitempty"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	ReturnedAt       *time.Time `json:"returned_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt       *time.Time `json:"refunded_at,omitempty"`
}

// Order is one fulfillment unit's share of a checkout.
type Order struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	FulfillmentUnitID string        `json:"fulfillment_unit_id"`
	OrderGroupID      string        `json:"order_group_id"`
	Status            Status        `json:"status"`
	PaymentMethod     string        `json:"payment_method"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	Totals

	Address       Address    `json:"delivery_address"`
	Customer      Contact    `json:"customer"`
	DeliveryNotes string     `json:"delivery_notes,omitempty"`
	Milestones    Milestones `json:"milestones"`

	CancellationReason       string `json:"cancellation_reason,omitempty"`
	EstimatedDeliveryMinutes *int   `json:"estimated_delivery_minutes,omitempty"`
	ActualDeliveryMinutes    *int   `json:"actual_delivery_minutes,omitempty"`

	Items     []Item    `json:"items,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item snapshots a catalog product at checkout time. OriginalQuantity is
// set once at creation and never updated.
type Item struct {
	ID                  string          `json:"id"`
	OrderID             string          `json:"order_id"`
	ProductID           string          `json:"product_id"`
	Name                string          `json:"name"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	Quantity            int             `json:"quantity"`
	OriginalQuantity    int             `json:"original_quantity"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
	TaxBreakdown        tax.Breakdown   `json:"tax_breakdown"`
	CreatedAt           time.Time       `json:"created_at"`
}

// HistoryEntry is an immutable record of one status change.
type HistoryEntry struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	PreviousStatus Status    `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	Actor          string    `json:"actor"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NotesMarker is the reference embedded in delivery notes at checkout so
// webhook payloads without correlation metadata can still be matched.
func NotesMarker(sentOrderNumber string) string {
	return "[ref:" + sentOrderNumber + "]"
}
