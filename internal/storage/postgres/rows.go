package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
)

const orderColumns = `id, user_id, fulfillment_unit_id, order_group_id, status, payment_method, payment_status,
	subtotal, tax_total, delivery_fee, discount, tip, grand_total,
	delivery_address_id, delivery_address, delivery_latitude, delivery_longitude,
	customer_name, customer_email, customer_phone, delivery_notes,
	confirmed_at, completed_at, in_transit_at, delivery_failed_at, delivered_at, returned_at, cancelled_at, refunded_at,
	cancellation_reason, estimated_delivery_minutes, actual_delivery_minutes, created_at, updated_at`

const transactionColumns = `id, order_id, payment_method, transaction_id, external_reference, amount, status,
	payment_data, completed_at, created_at, updated_at`

const itemColumns = `id, order_id, product_id, name, unit_price, quantity, original_quantity, subtotal,
	special_instructions, tax_breakdown, created_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var o orders.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.FulfillmentUnitID, &o.OrderGroupID, &o.Status, &o.PaymentMethod, &o.PaymentStatus,
		&o.Subtotal, &o.TaxTotal, &o.DeliveryFee, &o.Discount, &o.Tip, &o.GrandTotal,
		&o.Address.AddressID, &o.Address.Text, &o.Address.Latitude, &o.Address.Longitude,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.DeliveryNotes,
		&o.Milestones.ConfirmedAt, &o.Milestones.CompletedAt, &o.Milestones.InTransitAt,
		&o.Milestones.DeliveryFailedAt, &o.Milestones.DeliveredAt, &o.Milestones.ReturnedAt,
		&o.Milestones.CancelledAt, &o.Milestones.RefundedAt,
		&o.CancellationReason, &o.EstimatedDeliveryMinutes, &o.ActualDeliveryMinutes, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanTransaction(row pgx.Row) (payments.Transaction, error) {
	var (
		t   payments.Transaction
		ref *string
	)
	err := row.Scan(&t.ID, &t.OrderID, &t.Method, &t.TransactionID, &ref, &t.Amount, &t.Status,
		&t.Data, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	t.ExternalReference = deref(ref)
	return t, err
}

func scanItem(row pgx.Row) (orders.Item, error) {
	var it orders.Item
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.UnitPrice, &it.Quantity,
		&it.OriginalQuantity, &it.Subtotal, &it.SpecialInstructions, &it.TaxBreakdown, &it.CreatedAt)
	return it, err
}

func queryOrders(ctx context.Context, q querier, sql string, args ...any) ([]*orders.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*orders.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	return list, nil
}

func queryTransactions(ctx context.Context, q querier, orderID string) ([]payments.Transaction, error) {
	rows, err := q.Query(ctx, `SELECT `+transactionColumns+` FROM payment_transactions
		WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (payments.Transaction, error) {
		return scanTransaction(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan transactions: %w", err)
	}
	return txs, nil
}

func queryItems(ctx context.Context, q querier, orderID string) ([]orders.Item, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.Item, error) {
		return scanItem(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}
	return items, nil
}

func insertOrder(ctx context.Context, q querier, o *orders.Order) error {
	_, err := q.Exec(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34)`,
		o.ID, o.UserID, o.FulfillmentUnitID, o.OrderGroupID, string(o.Status), o.PaymentMethod, string(o.PaymentStatus),
		o.Subtotal, o.TaxTotal, o.DeliveryFee, o.Discount, o.Tip, o.GrandTotal,
		o.Address.AddressID, o.Address.Text, o.Address.Latitude, o.Address.Longitude,
		o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.DeliveryNotes,
		o.Milestones.ConfirmedAt, o.Milestones.CompletedAt, o.Milestones.InTransitAt,
		o.Milestones.DeliveryFailedAt, o.Milestones.DeliveredAt, o.Milestones.ReturnedAt,
		o.Milestones.CancelledAt, o.Milestones.RefundedAt,
		o.CancellationReason, o.EstimatedDeliveryMinutes, o.ActualDeliveryMinutes, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func insertItems(ctx context.Context, q querier, items []orders.Item) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`INSERT INTO order_items (`+itemColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			it.ID, it.OrderID, it.ProductID, it.Name, it.UnitPrice, it.Quantity, it.OriginalQuantity,
			it.Subtotal, it.SpecialInstructions, it.TaxBreakdown, it.CreatedAt)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

// insertTransaction reports false when the (order, external reference) pair
// already exists.
func insertTransaction(ctx context.Context, q querier, t *payments.Transaction) (bool, error) {
	tag, err := q.Exec(ctx, `INSERT INTO payment_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_id, external_reference) WHERE external_reference IS NOT NULL DO NOTHING`,
		t.ID, t.OrderID, string(t.Method), t.TransactionID, nullIfEmpty(t.ExternalReference), t.Amount, string(t.Status),
		t.Data, t.CompletedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert transaction for order %s: %w", t.OrderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func updateTransaction(ctx context.Context, q querier, t *payments.Transaction) error {
	tag, err := q.Exec(ctx, `UPDATE payment_transactions
		SET status = $2, payment_data = $3, completed_at = $4, updated_at = $5
		WHERE id = $1`,
		t.ID, string(t.Status), t.Data, t.CompletedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update transaction %s: %w", t.ID, pgx.ErrNoRows)
	}
	return nil
}
