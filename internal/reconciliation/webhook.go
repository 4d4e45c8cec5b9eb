package reconciliation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-order-settlement/internal/apperr"
	"github.com/imrishuroy/go-order-settlement/internal/money"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
)

// Event is a normalized payment confirmation.
type Event struct {
	VendorOrderNumber string
	OrderGroupID      string
	Amount            decimal.NullDecimal
	Method            payments.Method
	Failed            bool
	Data              payments.PaymentData
}

type paymentInformation struct {
	OriginalAmount            *float64 `json:"originalAmount"`
	TotalPayment              *float64 `json:"totalPayment"`
	TotalCommissionToCustomer *float64 `json:"totalCommissionToCustomer"`
	TotalToDepositBusiness    *float64 `json:"totalToDepositBusiness"`
}

// webhookPayload is the vendor's confirmation body. Unknown fields are kept
// in the event's Extra map.
type webhookPayload struct {
	NumberOfOrder      string              `json:"numberOfOrder"`
	Status             string              `json:"status"`
	CardType           string              `json:"cardType"`
	PaymentDate        string              `json:"paymentDate"`
	CardDC             string              `json:"cardDC"`
	BankName           string              `json:"bankName"`
	BankCode           string              `json:"bankCode"`
	ReferenceNumber    string              `json:"referenceNumber"`
	CardHolder         string              `json:"cardHolder"`
	PostalCode         string              `json:"postalCode"`
	Meses              json.Number         `json:"meses"`
	PaymentMethod      string              `json:"paymentMethod"`
	PaymentForm        string              `json:"paymentForm"`
	Promotion          *bool               `json:"promotion"`
	LastFour           string              `json:"lastFour"`
	Additional         json.RawMessage     `json:"additional"`
	TaxData            json.RawMessage     `json:"taxData"`
	PaymentInformation *paymentInformation `json:"paymentInformation"`
}

var failedStatuses = map[string]bool{
	"failed": true, "declined": true, "rejected": true, "cancelled": true, "canceled": true, "error": true,
}

// ParseWebhook turns a raw vendor body into an Event.
func ParseWebhook(body []byte) (Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidRequest, err, "malformed webhook payload")
	}
	if strings.TrimSpace(p.NumberOfOrder) == "" {
		return Event{}, apperr.Validation(apperr.CodeInvalidRequest, "webhook payload has no numberOfOrder")
	}

	ev := Event{
		VendorOrderNumber: strings.TrimSpace(p.NumberOfOrder),
		Method:            payments.MethodGateway,
		Failed:            failedStatuses[strings.ToLower(p.Status)],
	}

	extra := map[string]any{}
	if len(p.Additional) > 0 && string(p.Additional) != "null" {
		var additional map[string]any
		if err := json.Unmarshal(p.Additional, &additional); err == nil {
			if gid, ok := additional["order_group_id"].(string); ok {
				ev.OrderGroupID = gid
			}
			extra["additional"] = additional
		} else {
			extra["additional"] = string(p.Additional)
		}
	}
	if len(p.TaxData) > 0 && string(p.TaxData) != "null" {
		var taxData any
		if err := json.Unmarshal(p.TaxData, &taxData); err == nil {
			extra["tax_data"] = taxData
		}
	}
	if p.PostalCode != "" {
		extra["postal_code"] = p.PostalCode
	}
	if len(extra) > 0 {
		ev.Data.Extra = extra
	}

	if p.CardType != "" || p.LastFour != "" || p.CardHolder != "" || p.BankName != "" {
		ev.Data.Card = &payments.CardData{
			Type:         p.CardType,
			Network:      p.CardDC,
			Holder:       p.CardHolder,
			LastFour:     p.LastFour,
			BankName:     p.BankName,
			BankCode:     p.BankCode,
			Installments: p.Meses.String(),
		}
	}

	settlement := &payments.SettlementData{
		ReferenceNumber: p.ReferenceNumber,
		PaymentDate:     p.PaymentDate,
		PaymentMethod:   p.PaymentMethod,
		PaymentForm:     p.PaymentForm,
	}
	if p.Promotion != nil {
		settlement.Promotion = fmt.Sprintf("%t", *p.Promotion)
	}
	if info := p.PaymentInformation; info != nil {
		settlement.TotalPayment = nullAmount(info.TotalPayment)
		settlement.OriginalAmount = nullAmount(info.OriginalAmount)
		settlement.Commissions = nullAmount(info.TotalCommissionToCustomer)
		switch {
		case settlement.OriginalAmount.Valid:
			ev.Amount = settlement.OriginalAmount
		case settlement.TotalPayment.Valid:
			ev.Amount = settlement.TotalPayment
		}
	}
	ev.Data.Settlement = settlement
	return ev, nil
}

func nullAmount(f *float64) decimal.NullDecimal {
	if f == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(money.Round(decimal.NewFromFloat(*f)))
}
