package payments

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// GatewayData cross-references the remote gateway order.
type GatewayData struct {
	SentOrderNumber string `json:"sent_order_number,omitempty"`
	GatewayOrderID  string `json:"gateway_order_id,omitempty"`
	PaymentURL      string `json:"payment_url,omitempty"`
	Mode            string `json:"mode,omitempty"`
}

// CardData is card metadata reported by the gateway.
type CardData struct {
	Type         string `json:"card_type,omitempty"`
	Network      string `json:"card_network,omitempty"`
	Holder       string `json:"card_holder,omitempty"`
	LastFour     string `json:"last_four,omitempty"`
	BankName     string `json:"bank_name,omitempty"`
	BankCode     string `json:"bank_code,omitempty"`
	Installments string `json:"installments,omitempty"`
}

// SettlementData describes how the gateway settled the payment.
type SettlementData struct {
	ReferenceNumber string              `json:"reference_number,omitempty"`
	PaymentDate     string              `json:"payment_date,omitempty"`
	PaymentMethod   string              `json:"payment_method,omitempty"`
	PaymentForm     string              `json:"payment_form,omitempty"`
	Promotion       string              `json:"promotion,omitempty"`
	TotalPayment    decimal.NullDecimal `json:"total_payment"`
	OriginalAmount  decimal.NullDecimal `json:"original_amount"`
	Commissions     decimal.NullDecimal `json:"commissions"`
}

// WalletData links a leg to its ledger entry.
type WalletData struct {
	LedgerEntryID string              `json:"ledger_entry_id,omitempty"`
	BalanceBefore decimal.NullDecimal `json:"balance_before"`
	BalanceAfter  decimal.NullDecimal `json:"balance_after"`
}

// PaymentData is the method-specific metadata stored on a transaction.
// Unknown vendor fields are kept in Extra.
type PaymentData struct {
	Gateway    *GatewayData    `json:"gateway,omitempty"`
	Card       *CardData       `json:"card,omitempty"`
	Settlement *SettlementData `json:"settlement,omitempty"`
	Wallet     *WalletData     `json:"wallet,omitempty"`
	Extra      map[string]any  `json:"extra,omitempty"`
}

// Merge layers newer on top of d. Fields present in newer win; fields
// absent from newer are kept, so a merge never drops stored data.
func (d PaymentData) Merge(newer PaymentData) PaymentData {
	out := PaymentData{
		Gateway:    mergeGateway(d.Gateway, newer.Gateway),
		Card:       mergeCard(d.Card, newer.Card),
		Settlement: mergeSettlement(d.Settlement, newer.Settlement),
		Wallet:     mergeWallet(d.Wallet, newer.Wallet),
	}
	if len(d.Extra) > 0 || len(newer.Extra) > 0 {
		out.Extra = make(map[string]any, len(d.Extra)+len(newer.Extra))
		for k, v := range d.Extra {
			out.Extra[k] = v
		}
		for k, v := range newer.Extra {
			if v != nil {
				out.Extra[k] = v
			}
		}
	}
	return out
}

// Equal reports whether d and other serialize to the same document.
func (d PaymentData) Equal(other PaymentData) bool {
	a, errA := json.Marshal(d)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func str(old, newer string) string {
	if newer != "" {
		return newer
	}
	return old
}

func dec(old, newer decimal.NullDecimal) decimal.NullDecimal {
	if newer.Valid {
		return newer
	}
	return old
}

func mergeGateway(a, b *GatewayData) *GatewayData {
	if a == nil || b == nil {
		return pick(a, b)
	}
	return &GatewayData{
		SentOrderNumber: str(a.SentOrderNumber, b.SentOrderNumber),
		GatewayOrderID:  str(a.GatewayOrderID, b.GatewayOrderID),
		PaymentURL:      str(a.PaymentURL, b.PaymentURL),
		Mode:            str(a.Mode, b.Mode),
	}
}

func mergeCard(a, b *CardData) *CardData {
	if a == nil || b == nil {
		return pick(a, b)
	}
	return &CardData{
		Type:         str(a.Type, b.Type),
		Network:      str(a.Network, b.Network),
		Holder:       str(a.Holder, b.Holder),
		LastFour:     str(a.LastFour, b.LastFour),
		BankName:     str(a.BankName, b.BankName),
		BankCode:     str(a.BankCode, b.BankCode),
		Installments: str(a.Installments, b.Installments),
	}
}

func mergeSettlement(a, b *SettlementData) *SettlementData {
	if a == nil || b == nil {
		return pick(a, b)
	}
	return &SettlementData{
		ReferenceNumber: str(a.ReferenceNumber, b.ReferenceNumber),
		PaymentDate:     str(a.PaymentDate, b.PaymentDate),
		PaymentMethod:   str(a.PaymentMethod, b.PaymentMethod),
		PaymentForm:     str(a.PaymentForm, b.PaymentForm),
		Promotion:       str(a.Promotion, b.Promotion),
		TotalPayment:    dec(a.TotalPayment, b.TotalPayment),
		OriginalAmount:  dec(a.OriginalAmount, b.OriginalAmount),
		Commissions:     dec(a.Commissions, b.Commissions),
	}
}

func mergeWallet(a, b *WalletData) *WalletData {
	if a == nil || b == nil {
		return pick(a, b)
	}
	return &WalletData{
		LedgerEntryID: str(a.LedgerEntryID, b.LedgerEntryID),
		BalanceBefore: dec(a.BalanceBefore, b.BalanceBefore),
		BalanceAfter:  dec(a.BalanceAfter, b.BalanceAfter),
	}
}

func pick[T any](a, b *T) *T {
	if b != nil {
		cp := *b
		return &cp
	}
	if a != nil {
		cp := *a
		return &cp
	}
	return nil
}
