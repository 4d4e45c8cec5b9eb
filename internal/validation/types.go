package validation

import "github.com/shopspring/decimal"

// WalletPayment selects how much wallet balance to spend.
type WalletPayment struct {
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	UseFullBalance bool             `json:"use_full_balance,omitempty"`
}

// PaymentRequest is the optional payment block of a checkout.
type PaymentRequest struct {
	Method          string           `json:"method" validate:"required,oneof=wallet cash bank_transfer gateway card"`
	Wallet          *WalletPayment   `json:"wallet,omitempty"`
	SecondaryMethod string           `json:"secondary_method,omitempty" validate:"omitempty,oneof=cash bank_transfer gateway card"`
	SecondaryAmount *decimal.Decimal `json:"secondary_amount,omitempty"`
}

// CheckoutRequest is the payload for POST /checkout. Amounts accept JSON
// numbers or decimal strings.
type CheckoutRequest struct {
	DeliveryAddressID string          `json:"delivery_address_id" validate:"required,max=64"`
	DeliveryNotes     string          `json:"delivery_notes,omitempty" validate:"max=500"`
	TipAmount         decimal.Decimal `json:"tip_amount"`
	DeliveryFee       decimal.Decimal `json:"delivery_fee"`
	Payment           *PaymentRequest `json:"payment,omitempty"`
}

// StatusUpdateRequest is the payload for PATCH /orders/:id/status.
type StatusUpdateRequest struct {
	Status                   string `json:"status" validate:"required,oneof=pending confirmed completed in_transit delivery_failed delivered returned cancelled refunded"`
	Reason                   string `json:"reason,omitempty" validate:"max=500"`
	EstimatedDeliveryMinutes *int   `json:"estimated_delivery_minutes,omitempty" validate:"omitempty,min=0,max=1440"`
}
