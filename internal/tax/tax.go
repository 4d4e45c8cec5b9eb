package tax

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-order-settlement/internal/money"
)

// RateType says how a rule's amount is derived.
type RateType string

const (
	RatePercentage RateType = "percentage"
	RateFixed      RateType = "fixed"
)

// Rule is one tax assigned to a product, with any product-level override
// already resolved by the source.
type Rule struct {
	TaxTypeID         string
	Name              string
	Code              string
	RateType          RateType
	Rate              decimal.Decimal
	FixedAmount       decimal.Decimal
	AppliesToSubtotal bool
}

// Line is one computed tax in a breakdown.
type Line struct {
	TaxTypeID string          `json:"tax_type_id"`
	Name      string          `json:"tax_name"`
	Code      string          `json:"tax_code"`
	Rate      decimal.Decimal `json:"rate"`
	RateType  RateType        `json:"rate_type"`
	Amount    decimal.Decimal `json:"amount"`
	AppliedTo string          `json:"applied_to"`
}

// Breakdown is the per-item tax result.
type Breakdown struct {
	Taxes    []Line          `json:"taxes"`
	TotalTax decimal.Decimal `json:"total_tax"`
}

// Zero is the breakdown used when tax resolution fails for a line.
func Zero() Breakdown {
	return Breakdown{Taxes: []Line{}, TotalTax: decimal.Zero}
}

// Resolver computes taxes for a product line subtotal.
type Resolver interface {
	ComputeProductTax(ctx context.Context, productID string, subtotal decimal.Decimal) (Breakdown, error)
}

// RuleSource loads the tax rules that apply to a product.
type RuleSource interface {
	ProductTaxRules(ctx context.Context, productID string) ([]Rule, error)
}

// Calculator is a Resolver backed by a RuleSource.
type Calculator struct {
	rules RuleSource
}

// NewCalculator returns a Calculator reading rules from src.
func NewCalculator(src RuleSource) *Calculator {
	return &Calculator{rules: src}
}

// ComputeProductTax applies every subtotal rule, rounding each tax and the total.
func (c *Calculator) ComputeProductTax(ctx context.Context, productID string, subtotal decimal.Decimal) (Breakdown, error) {
	rules, err := c.rules.ProductTaxRules(ctx, productID)
	if err != nil {
		return Breakdown{}, err
	}
	return Compute(rules, subtotal), nil
}

// Compute applies rules to subtotal.
func Compute(rules []Rule, subtotal decimal.Decimal) Breakdown {
	out := Zero()
	total := decimal.Zero
	for _, r := range rules {
		if !r.AppliesToSubtotal {
			continue
		}
		var amount decimal.Decimal
		switch r.RateType {
		case RatePercentage:
			amount = subtotal.Mul(r.Rate)
		default:
			amount = r.FixedAmount
		}
		amount = money.Round(amount)
		out.Taxes = append(out.Taxes, Line{
			TaxTypeID: r.TaxTypeID,
			Name:      r.Name,
			Code:      r.Code,
			Rate:      r.Rate,
			RateType:  r.RateType,
			Amount:    amount,
			AppliedTo: "subtotal",
		})
		total = total.Add(amount)
	}
	out.TotalTax = money.Round(total)
	return out
}
