package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/imrishuroy/go-order-settlement/internal/tax"
)

// TaxRules reads the active tax types attached to products.
type TaxRules struct {
	db *DB
}

func NewTaxRules(db *DB) *TaxRules {
	return &TaxRules{db: db}
}

var _ tax.RuleSource = (*TaxRules)(nil)

func (r *TaxRules) ProductTaxRules(ctx context.Context, productID string) ([]tax.Rule, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT t.id, t.name, t.code, t.rate_type, t.rate, t.fixed_amount, t.applies_to_subtotal
		FROM product_taxes pt
		JOIN tax_types t ON t.id = pt.tax_type_id
		WHERE pt.product_id = $1 AND t.active
		ORDER BY t.name, t.id`, productID)
	if err != nil {
		return nil, fmt.Errorf("query tax rules for product %s: %w", productID, err)
	}
	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tax.Rule, error) {
		var rule tax.Rule
		err := row.Scan(&rule.TaxTypeID, &rule.Name, &rule.Code, &rule.RateType, &rule.Rate,
			&rule.FixedAmount, &rule.AppliesToSubtotal)
		return rule, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan tax rules: %w", err)
	}
	return rules, nil
}
