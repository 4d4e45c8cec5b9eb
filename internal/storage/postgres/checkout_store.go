package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/imrishuroy/go-order-settlement/internal/checkout"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
	"github.com/imrishuroy/go-order-settlement/internal/wallet"
)

// CheckoutStore backs the checkout orchestrator.
type CheckoutStore struct {
	db      *DB
	nowFunc func() time.Time
}

func NewCheckoutStore(db *DB) *CheckoutStore {
	return &CheckoutStore{db: db, nowFunc: time.Now}
}

var _ checkout.Store = (*CheckoutStore)(nil)

func (s *CheckoutStore) WithinTx(ctx context.Context, fn func(checkout.Tx) error) error {
	return s.db.inTx(ctx, func(tx pgx.Tx) error {
		return fn(&checkoutTx{q: tx, ledger: &txLedger{q: tx, nowFunc: s.nowFunc}})
	})
}

type checkoutTx struct {
	q      querier
	ledger *txLedger
}

func (t *checkoutTx) LoadCart(ctx context.Context, userID string) (*checkout.Cart, error) {
	cart := &checkout.Cart{UserID: userID}
	err := t.q.QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&cart.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock cart for user %s: %w", userID, err)
	}

	rows, err := t.q.Query(ctx, `
		SELECT cl.id, cl.product_id, p.name, COALESCE(cl.fulfillment_unit_id, ''), p.fulfillment_unit_id,
		       cl.quantity, cl.unit_price, cl.subtotal, cl.special_instructions
		FROM cart_lines cl
		JOIN products p ON p.id = cl.product_id
		WHERE cl.cart_id = $1
		ORDER BY cl.created_at, cl.id`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	cart.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (checkout.CartLine, error) {
		var l checkout.CartLine
		err := row.Scan(&l.ID, &l.ProductID, &l.ProductName, &l.FulfillmentUnitID, &l.ProductUnitID,
			&l.Quantity, &l.UnitPrice, &l.Subtotal, &l.SpecialInstructions)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan cart lines: %w", err)
	}
	return cart, nil
}

func (t *checkoutTx) LoadAddress(ctx context.Context, userID, addressID string) (*orders.Address, error) {
	var (
		a                                      orders.Address
		line, city, state, postalCode, country string
	)
	err := t.q.QueryRow(ctx, `
		SELECT id, address_line, city, state, postal_code, country, latitude, longitude
		FROM addresses WHERE id = $1 AND user_id = $2`, addressID, userID).
		Scan(&a.AddressID, &line, &city, &state, &postalCode, &country, &a.Latitude, &a.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load address %s: %w", addressID, err)
	}
	a.Text = AddressText(line, city, state, postalCode, country)
	return &a, nil
}

// AddressText joins the non-empty address parts into the snapshot stored on orders.
func AddressText(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

func (t *checkoutTx) LoadCustomer(ctx context.Context, userID string) (orders.Contact, error) {
	var c orders.Contact
	err := t.q.QueryRow(ctx, `SELECT full_name, email, phone FROM users WHERE id = $1`, userID).
		Scan(&c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("load customer %s: %w", userID, err)
	}
	return c, nil
}

func (t *checkoutTx) Ledger() wallet.Ledger { return t.ledger }

func (t *checkoutTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	return insertOrder(ctx, t.q, o)
}

func (t *checkoutTx) InsertItems(ctx context.Context, items []orders.Item) error {
	return insertItems(ctx, t.q, items)
}

func (t *checkoutTx) InsertTransaction(ctx context.Context, tx *payments.Transaction) error {
	inserted, err := insertTransaction(ctx, t.q, tx)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("transaction for order %s with reference %s already exists", tx.OrderID, tx.ExternalReference)
	}
	return nil
}

func (t *checkoutTx) DeleteCart(ctx context.Context, cartID string) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart lines: %w", err)
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
