package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
	"github.com/imrishuroy/go-order-settlement/internal/reconciliation"
)

// ReconciliationStore backs the webhook reconciliation engine. Every order
// lookup takes row locks so concurrent events for the same orders serialize.
type ReconciliationStore struct {
	db *DB
}

func NewReconciliationStore(db *DB) *ReconciliationStore {
	return &ReconciliationStore{db: db}
}

var _ reconciliation.Store = (*ReconciliationStore)(nil)

func (s *ReconciliationStore) WithinTx(ctx context.Context, fn func(reconciliation.Tx) error) error {
	return s.db.inTx(ctx, func(tx pgx.Tx) error {
		return fn(&reconciliationTx{q: tx})
	})
}

type reconciliationTx struct {
	q querier
}

func (t *reconciliationTx) OrdersByGroup(ctx context.Context, orderGroupID string) ([]*orders.Order, error) {
	return queryOrders(ctx, t.q, `SELECT `+orderColumns+` FROM orders
		WHERE order_group_id = $1 ORDER BY created_at, id FOR UPDATE`, orderGroupID)
}

func (t *reconciliationTx) OrdersByNotesMarker(ctx context.Context, marker string) ([]*orders.Order, error) {
	return queryOrders(ctx, t.q, `SELECT `+orderColumns+` FROM orders
		WHERE strpos(delivery_notes, $1) > 0 ORDER BY created_at, id FOR UPDATE`, marker)
}

func (t *reconciliationTx) OrdersByTransactionRef(ctx context.Context, ref string) ([]*orders.Order, error) {
	return queryOrders(ctx, t.q, `SELECT `+orderColumns+` FROM orders
		WHERE id IN (
			SELECT order_id FROM payment_transactions
			WHERE external_reference = $1 OR transaction_id = $1
		)
		ORDER BY created_at, id FOR UPDATE`, ref)
}

func (t *reconciliationTx) OrdersByIDs(ctx context.Context, ids []string) ([]*orders.Order, error) {
	return queryOrders(ctx, t.q, `SELECT `+orderColumns+` FROM orders
		WHERE id = ANY($1) ORDER BY created_at, id FOR UPDATE`, ids)
}

func (t *reconciliationTx) Transactions(ctx context.Context, orderID string) ([]payments.Transaction, error) {
	return queryTransactions(ctx, t.q, orderID)
}

func (t *reconciliationTx) InsertTransaction(ctx context.Context, tx *payments.Transaction) (bool, error) {
	return insertTransaction(ctx, t.q, tx)
}

func (t *reconciliationTx) UpdateTransaction(ctx context.Context, tx *payments.Transaction) error {
	return updateTransaction(ctx, t.q, tx)
}

func (t *reconciliationTx) SetPaymentStatus(ctx context.Context, orderID string, status orders.PaymentStatus) error {
	_, err := t.q.Exec(ctx, `UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(status))
	if err != nil {
		return fmt.Errorf("set payment status of order %s: %w", orderID, err)
	}
	return nil
}
