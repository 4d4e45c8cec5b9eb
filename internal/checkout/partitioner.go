package checkout

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/allocation"
	"github.com/imrishuroy/go-order-settlement/internal/apperr"
	"github.com/imrishuroy/go-order-settlement/internal/money"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/tax"
)

// Cart is a user's cart locked for checkout.
type Cart struct {
	ID     string
	UserID string
	Lines  []CartLine
}

// CartLine is one product in a cart. FulfillmentUnitID is the explicit unit
// chosen for the line; ProductUnitID is the product's owning unit.
type CartLine struct {
	ID                  string
	ProductID           string
	ProductName         string
	FulfillmentUnitID   string
	ProductUnitID       string
	Quantity            int
	UnitPrice           decimal.Decimal
	Subtotal            decimal.Decimal
	SpecialInstructions string
}

// UnitID returns the fulfillment unit that serves the line.
func (l CartLine) UnitID() string {
	if l.FulfillmentUnitID != "" {
		return l.FulfillmentUnitID
	}
	return l.ProductUnitID
}

func (l CartLine) subtotal() decimal.Decimal {
	if !l.Subtotal.IsZero() {
		return money.Round(l.Subtotal)
	}
	return money.Round(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

// Draft is the computed order for one fulfillment unit before persistence.
type Draft struct {
	FulfillmentUnitID string
	Items             []orders.Item
	Totals            orders.Totals
}

// Partitioner turns a cart into one draft per fulfillment unit.
type Partitioner struct {
	taxes tax.Resolver
	log   logrus.FieldLogger
}

// NewPartitioner returns a Partitioner using taxes for per-line taxation.
func NewPartitioner(taxes tax.Resolver, log logrus.FieldLogger) *Partitioner {
	return &Partitioner{taxes: taxes, log: log}
}

// Partition groups lines by unit, taxes each line and spreads deliveryFee
// and tip across the groups by subtotal. Groups keep the order in which
// their first line appears in the cart.
func (p *Partitioner) Partition(ctx context.Context, cart *Cart, deliveryFee, tip decimal.Decimal) ([]Draft, error) {
	if cart == nil || len(cart.Lines) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyCart, "cart is empty")
	}
	if deliveryFee.IsNegative() || tip.IsNegative() {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "delivery fee and tip cannot be negative")
	}

	index := map[string]int{}
	var drafts []Draft
	for _, line := range cart.Lines {
		unit := line.UnitID()
		i, ok := index[unit]
		if !ok {
			i = len(drafts)
			index[unit] = i
			drafts = append(drafts, Draft{FulfillmentUnitID: unit})
		}
		drafts[i].Items = append(drafts[i].Items, p.item(ctx, line))
	}
	if len(drafts) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyCart, "cart has no fulfillment groups")
	}

	groups := make([]allocation.Group, len(drafts))
	subtotals := make([]decimal.Decimal, len(drafts))
	taxTotals := make([]decimal.Decimal, len(drafts))
	for i, d := range drafts {
		for _, it := range d.Items {
			subtotals[i] = subtotals[i].Add(it.Subtotal)
			taxTotals[i] = taxTotals[i].Add(it.TaxBreakdown.TotalTax)
		}
		groups[i] = allocation.Group{ID: d.FulfillmentUnitID, Weight: subtotals[i]}
	}

	fees, err := allocation.AllocateOrZero(deliveryFee, groups)
	if err != nil {
		return nil, err
	}
	tips, err := allocation.AllocateOrZero(tip, groups)
	if err != nil {
		return nil, err
	}

	for i := range drafts {
		unit := drafts[i].FulfillmentUnitID
		drafts[i].Totals = orders.NewTotals(subtotals[i], taxTotals[i], fees[unit], decimal.Zero, tips[unit])
	}
	return drafts, nil
}

func (p *Partitioner) item(ctx context.Context, line CartLine) orders.Item {
	subtotal := line.subtotal()
	breakdown, err := p.taxes.ComputeProductTax(ctx, line.ProductID, subtotal)
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"product_id":   line.ProductID,
			"cart_line_id": line.ID,
		}).Warn("tax calculation failed, using zero tax for line")
		breakdown = tax.Zero()
	}
	return orders.Item{
		ProductID:           line.ProductID,
		Name:                line.ProductName,
		UnitPrice:           line.UnitPrice,
		Quantity:            line.Quantity,
		OriginalQuantity:    line.Quantity,
		Subtotal:            subtotal,
		SpecialInstructions: line.SpecialInstructions,
		TaxBreakdown:        breakdown,
	}
}
