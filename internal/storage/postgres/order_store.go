package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
)

// OrderStore serves order reads, guarded status writes and history.
type OrderStore struct {
	db *DB
}

func NewOrderStore(db *DB) *OrderStore {
	return &OrderStore{db: db}
}

var (
	_ orders.Repository    = (*OrderStore)(nil)
	_ orders.HistoryWriter = (*OrderStore)(nil)
)

// GetOrder returns the order with its items, or (nil, nil) when missing.
func (s *OrderStore) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := scanOrder(s.db.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if o.Items, err = queryItems(ctx, s.db.pool, orderID); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateStatus writes the transition fields only while the stored status is
// still expected; otherwise it returns orders.ErrStatusMismatch.
func (s *OrderStore) UpdateStatus(ctx context.Context, o *orders.Order, expected orders.Status) error {
	m := o.Milestones
	tag, err := s.db.pool.Exec(ctx, `UPDATE orders SET
			status = $3, payment_status = $4,
			confirmed_at = $5, completed_at = $6, in_transit_at = $7, delivery_failed_at = $8,
			delivered_at = $9, returned_at = $10, cancelled_at = $11, refunded_at = $12,
			cancellation_reason = $13, estimated_delivery_minutes = $14, actual_delivery_minutes = $15,
			updated_at = $16
		WHERE id = $1 AND status = $2`,
		o.ID, string(expected), string(o.Status), string(o.PaymentStatus),
		m.ConfirmedAt, m.CompletedAt, m.InTransitAt, m.DeliveryFailedAt,
		m.DeliveredAt, m.ReturnedAt, m.CancelledAt, m.RefundedAt,
		o.CancellationReason, o.EstimatedDeliveryMinutes, o.ActualDeliveryMinutes, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order %s status: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrStatusMismatch
	}
	return nil
}

// AppendHistory runs on its own connection so it never joins the status write.
func (s *OrderStore) AppendHistory(ctx context.Context, e orders.HistoryEntry) error {
	_, err := s.db.pool.Exec(ctx, `INSERT INTO order_status_history
		(id, order_id, previous_status, new_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.OrderID, string(e.PreviousStatus), string(e.NewStatus), e.Actor, e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append history for order %s: %w", e.OrderID, err)
	}
	return nil
}

// History lists status changes of an order, oldest first.
func (s *OrderStore) History(ctx context.Context, orderID string) ([]orders.HistoryEntry, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT id, order_id, previous_status, new_status, actor, reason, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.HistoryEntry, error) {
		var e orders.HistoryEntry
		err := row.Scan(&e.ID, &e.OrderID, &e.PreviousStatus, &e.NewStatus, &e.Actor, &e.Reason, &e.CreatedAt)
		return e, err
	})
}

// OrdersByGroup lists the sibling orders of one checkout.
func (s *OrderStore) OrdersByGroup(ctx context.Context, orderGroupID string) ([]orders.Order, error) {
	list, err := queryOrders(ctx, s.db.pool, `SELECT `+orderColumns+` FROM orders
		WHERE order_group_id = $1 ORDER BY created_at, id`, orderGroupID)
	return values(list), err
}

func (s *OrderStore) OrdersByIDs(ctx context.Context, ids []string) ([]orders.Order, error) {
	list, err := queryOrders(ctx, s.db.pool, `SELECT `+orderColumns+` FROM orders
		WHERE id = ANY($1) ORDER BY created_at, id`, ids)
	return values(list), err
}

// Transactions lists the settlement legs of an order.
func (s *OrderStore) Transactions(ctx context.Context, orderID string) ([]payments.Transaction, error) {
	return queryTransactions(ctx, s.db.pool, orderID)
}

func values(list []*orders.Order) []orders.Order {
	out := make([]orders.Order, 0, len(list))
	for _, o := range list {
		out = append(out, *o)
	}
	return out
}
