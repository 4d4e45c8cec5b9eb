package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-order-settlement/internal/money"
	"github.com/imrishuroy/go-order-settlement/internal/wallet"
)

// txLedger is the wallet ledger bound to an open transaction. Balance rows
// are locked for the rest of the transaction once read.
type txLedger struct {
	q       querier
	nowFunc func() time.Time
}

var _ wallet.Ledger = (*txLedger)(nil)

func (l *txLedger) lockBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := l.q.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock wallet for user %s: %w", userID, err)
	}
	return balance, nil
}

func (l *txLedger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return l.lockBalance(ctx, userID)
}

func (l *txLedger) Debit(ctx context.Context, userID string, amount decimal.Decimal, reason wallet.Reason, correlation string) (*wallet.Entry, error) {
	amount = money.Round(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("debit amount must be positive")
	}
	before, err := l.lockBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if before.LessThan(amount) {
		return nil, wallet.ErrInsufficientFunds
	}
	return l.write(ctx, userID, wallet.EntryDebit, amount, before, before.Sub(amount), reason, correlation)
}

func (l *txLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal, reason wallet.Reason, correlation string) (*wallet.Entry, error) {
	amount = money.Round(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive")
	}
	if _, err := l.q.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("ensure wallet for user %s: %w", userID, err)
	}
	before, err := l.lockBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return l.write(ctx, userID, wallet.EntryCredit, amount, before, before.Add(amount), reason, correlation)
}

func (l *txLedger) write(ctx context.Context, userID string, typ wallet.EntryType, amount, before, after decimal.Decimal, reason wallet.Reason, correlation string) (*wallet.Entry, error) {
	now := l.nowFunc().UTC()
	if _, err := l.q.Exec(ctx, `UPDATE wallets SET balance = $2, updated_at = $3 WHERE user_id = $1`, userID, after, now); err != nil {
		return nil, fmt.Errorf("update wallet balance for user %s: %w", userID, err)
	}
	entry := &wallet.Entry{
		ID:            uuid.NewString(),
		UserID:        userID,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reason:        reason,
		Correlation:   correlation,
		CreatedAt:     now,
	}
	_, err := l.q.Exec(ctx, `INSERT INTO wallet_entries
		(id, user_id, entry_type, amount, balance_before, balance_after, reason, correlation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.UserID, string(entry.Type), entry.Amount, entry.BalanceBefore, entry.BalanceAfter,
		string(entry.Reason), entry.Correlation, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert wallet entry: %w", err)
	}
	return entry, nil
}

// WalletBackfill links committed ledger entries to the orders they paid.
type WalletBackfill struct {
	db *DB
}

func NewWalletBackfill(db *DB) *WalletBackfill {
	return &WalletBackfill{db: db}
}

var _ wallet.Backfiller = (*WalletBackfill)(nil)

// AttachOrders is safe to repeat; existing links are left untouched.
func (w *WalletBackfill) AttachOrders(ctx context.Context, entryID string, allocations []wallet.Allocation) error {
	if len(allocations) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range allocations {
		batch.Queue(`INSERT INTO wallet_entry_allocations (entry_id, order_id, amount)
			VALUES ($1, $2, $3) ON CONFLICT (entry_id, order_id) DO NOTHING`,
			entryID, a.OrderID, a.Amount)
	}
	if err := w.db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("attach wallet entry %s to orders: %w", entryID, err)
	}
	return nil
}
