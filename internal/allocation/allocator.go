package allocation

import (
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-order-settlement/internal/apperr"
	"github.com/imrishuroy/go-order-settlement/internal/money"
)

// Group is one weight in an allocation, usually a fulfillment group subtotal.
type Group struct {
	ID     string
	Weight decimal.Decimal
}

// Allocate splits charge across groups proportionally to their weights:
//
//	share_i = round(charge * weight_i / sum(weight), 2)
//
// The rounding remainder is not redistributed, so the shares may differ
// from charge by at most one minor unit per group.
func Allocate(charge decimal.Decimal, groups []Group) (map[string]decimal.Decimal, error) {
	if charge.IsNegative() {
		return nil, apperr.Validation(apperr.CodeInvalidAllocationInput, "charge cannot be negative")
	}
	if len(groups) == 0 {
		return nil, apperr.Validation(apperr.CodeInvalidAllocationInput, "no groups to allocate across")
	}

	total := decimal.Zero
	for _, g := range groups {
		if g.Weight.IsNegative() {
			return nil, apperr.Newf(apperr.KindValidation, apperr.CodeInvalidAllocationInput,
				"group %s has a negative weight", g.ID)
		}
		total = total.Add(g.Weight)
	}
	if total.IsZero() {
		return nil, apperr.Validation(apperr.CodeInvalidAllocationInput, "sum of group weights is zero")
	}

	shares := make(map[string]decimal.Decimal, len(groups))
	for _, g := range groups {
		share := money.Round(charge.Mul(g.Weight).Div(total))
		shares[g.ID] = shares[g.ID].Add(share)
	}
	return shares, nil
}

// AllocateOrZero behaves like Allocate but skips the weight check when there
// is nothing to distribute.
func AllocateOrZero(charge decimal.Decimal, groups []Group) (map[string]decimal.Decimal, error) {
	if charge.IsZero() {
		shares := make(map[string]decimal.Decimal, len(groups))
		for _, g := range groups {
			shares[g.ID] = decimal.Zero
		}
		return shares, nil
	}
	return Allocate(charge, groups)
}
