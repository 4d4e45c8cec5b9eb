package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/imrishuroy/go-order-settlement/internal/gateway"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
)

// GatewayStore records the legs written when a gateway order is opened.
type GatewayStore struct {
	db *DB
}

func NewGatewayStore(db *DB) *GatewayStore {
	return &GatewayStore{db: db}
}

var _ gateway.TransactionStore = (*GatewayStore)(nil)

// UpsertTransaction inserts t, or merges it into the leg already stored for
// the same order and external reference. Completed legs stay completed.
func (s *GatewayStore) UpsertTransaction(ctx context.Context, t *payments.Transaction) error {
	return s.db.inTx(ctx, func(tx pgx.Tx) error {
		existing, err := lockLeg(ctx, tx, t.OrderID, t.ExternalReference)
		if err != nil {
			return err
		}
		if existing == nil {
			inserted, err := insertTransaction(ctx, tx, t)
			if err != nil || inserted {
				return err
			}
			if existing, err = lockLeg(ctx, tx, t.OrderID, t.ExternalReference); err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("transaction for order %s vanished after conflict", t.OrderID)
			}
		}

		next := *existing
		next.Data = existing.Data.Merge(t.Data)
		next.Status = payments.Upgrade(existing.Status, t.Status)
		if next.Status == payments.TxCompleted && next.CompletedAt == nil {
			next.CompletedAt = t.CompletedAt
		}
		next.UpdatedAt = t.UpdatedAt
		return updateTransaction(ctx, tx, &next)
	})
}

func lockLeg(ctx context.Context, q querier, orderID, ref string) (*payments.Transaction, error) {
	if ref == "" {
		return nil, nil
	}
	t, err := scanTransaction(q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM payment_transactions
		WHERE order_id = $1 AND external_reference = $2 FOR UPDATE`, orderID, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock transaction for order %s: %w", orderID, err)
	}
	return &t, nil
}
