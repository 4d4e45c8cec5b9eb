package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/allocation"
	"github.com/imrishuroy/go-order-settlement/internal/metrics"
	"github.com/imrishuroy/go-order-settlement/internal/money"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
)

// Store runs fn inside one database transaction.
type Store interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transactional view used while applying an event. Order lookups
// lock the returned rows until the transaction ends.
type Tx interface {
	OrdersByGroup(ctx context.Context, orderGroupID string) ([]*orders.Order, error)
	OrdersByNotesMarker(ctx context.Context, marker string) ([]*orders.Order, error)
	OrdersByTransactionRef(ctx context.Context, ref string) ([]*orders.Order, error)
	OrdersByIDs(ctx context.Context, ids []string) ([]*orders.Order, error)
	Transactions(ctx context.Context, orderID string) ([]payments.Transaction, error)
	// InsertTransaction reports false when a leg with the same order and
	// external reference already exists.
	InsertTransaction(ctx context.Context, tx *payments.Transaction) (bool, error)
	UpdateTransaction(ctx context.Context, tx *payments.Transaction) error
	SetPaymentStatus(ctx context.Context, orderID string, status orders.PaymentStatus) error
}

// Notifier is told about orders that just became paid.
type Notifier interface {
	OrdersPaid(ctx context.Context, orderGroupID string, orderIDs []string)
}

// Resolution names the rule that matched an event to orders.
type Resolution string

const (
	ResolvedNone    Resolution = ""
	ResolvedByGroup Resolution = "order_group_id"
	ResolvedByNotes Resolution = "notes_marker"
	ResolvedByRef   Resolution = "transaction_ref"
)

// Outcome summarizes what one Apply call changed.
type Outcome struct {
	Resolution Resolution
	OrderIDs   []string
	Inserted   int
	Updated    int
	Paid       []string
	Shortfalls map[string]decimal.Decimal
}

// Matched reports whether the event resolved to any order.
func (o *Outcome) Matched() bool { return o.Resolution != ResolvedNone }

// Engine applies payment events to orders.
type Engine struct {
	store    Store
	notifier Notifier
	metrics  metrics.Recorder
	log      logrus.FieldLogger
	nowFunc  func() time.Time
}

func NewEngine(store Store, notifier Notifier, rec metrics.Recorder, log logrus.FieldLogger) *Engine {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Engine{store: store, notifier: notifier, metrics: rec, log: log, nowFunc: time.Now}
}

// Apply matches ev to its orders, records one leg per order and promotes
// every order whose completed legs cover its grand total. Applying the same
// event twice leaves the data unchanged.
func (e *Engine) Apply(ctx context.Context, ev Event) (*Outcome, error) {
	logger := e.log.WithFields(logrus.Fields{
		"vendor_order_number": ev.VendorOrderNumber,
		"order_group_id":      ev.OrderGroupID,
	})
	if ev.Method == "" {
		ev.Method = payments.MethodGateway
	}

	out := &Outcome{Shortfalls: map[string]decimal.Decimal{}}
	var groupID string
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		list, how, err := resolve(ctx, tx, ev)
		if err != nil {
			return err
		}
		out.Resolution = how
		if len(list) == 0 {
			return nil
		}
		groupID = list[0].OrderGroupID
		for _, o := range list {
			out.OrderIDs = append(out.OrderIDs, o.ID)
		}

		legs := make(map[string][]payments.Transaction, len(list))
		for _, o := range list {
			txs, err := tx.Transactions(ctx, o.ID)
			if err != nil {
				return err
			}
			legs[o.ID] = txs
		}

		shares, err := eventShares(ev, list, legs)
		if err != nil {
			return err
		}

		now := e.nowFunc().UTC()
		for _, o := range list {
			inserted, updated, err := e.recordLeg(ctx, tx, ev, o.ID, shares[o.ID], legs[o.ID], now)
			if err != nil {
				return err
			}
			if inserted {
				out.Inserted++
			}
			if updated {
				out.Updated++
			}
		}

		paid, shortfalls, err := e.settle(ctx, tx, list, ev.Failed, logger)
		if err != nil {
			return err
		}
		out.Paid = paid
		out.Shortfalls = shortfalls
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !out.Matched() || len(out.OrderIDs) == 0 {
		out.Resolution = ResolvedNone
		logger.Warn("payment event matched no orders, ignoring")
		e.metrics.WebhookUnmatched(ctx, ev.VendorOrderNumber)
		return out, nil
	}

	logger.WithFields(logrus.Fields{
		"resolution": out.Resolution,
		"orders":     len(out.OrderIDs),
		"inserted":   out.Inserted,
		"updated":    out.Updated,
		"paid":       len(out.Paid),
	}).Info("payment event applied")
	e.afterCommit(ctx, groupID, out.Paid)
	return out, nil
}

// Reevaluate promotes any of orderIDs whose completed legs now cover the
// grand total.
func (e *Engine) Reevaluate(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	var (
		paid    []string
		groupID string
	)
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		list, err := tx.OrdersByIDs(ctx, orderIDs)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return nil
		}
		groupID = list[0].OrderGroupID
		paid, _, err = e.settle(ctx, tx, list, false, e.log.WithField("order_group_id", groupID))
		return err
	})
	if err != nil {
		return err
	}
	e.afterCommit(ctx, groupID, paid)
	return nil
}

func (e *Engine) afterCommit(ctx context.Context, groupID string, paid []string) {
	if len(paid) == 0 {
		return
	}
	e.metrics.OrdersPaid(ctx, len(paid))
	if e.notifier != nil {
		e.notifier.OrdersPaid(ctx, groupID, paid)
	}
}

// resolve applies the matching rules in priority order and stops at the
// first one that finds orders.
func resolve(ctx context.Context, tx Tx, ev Event) ([]*orders.Order, Resolution, error) {
	if ev.OrderGroupID != "" {
		list, err := tx.OrdersByGroup(ctx, ev.OrderGroupID)
		if err != nil || len(list) > 0 {
			return list, ResolvedByGroup, err
		}
	}
	list, err := tx.OrdersByNotesMarker(ctx, orders.NotesMarker(ev.VendorOrderNumber))
	if err != nil || len(list) > 0 {
		return list, ResolvedByNotes, err
	}
	list, err = tx.OrdersByTransactionRef(ctx, ev.VendorOrderNumber)
	if err != nil || len(list) > 0 {
		return list, ResolvedByRef, err
	}
	return nil, ResolvedNone, nil
}

// eventShares splits the event amount across orders by what each still owes,
// falling back to grand totals once nothing is owed. Without an amount each
// order receives its outstanding balance.
func eventShares(ev Event, list []*orders.Order, legs map[string][]payments.Transaction) (map[string]decimal.Decimal, error) {
	remaining := make(map[string]decimal.Decimal, len(list))
	owed := decimal.Zero
	for _, o := range list {
		r := o.GrandTotal.Sub(payments.CompletedTotal(legs[o.ID]))
		if r.IsNegative() {
			r = decimal.Zero
		}
		remaining[o.ID] = money.Round(r)
		owed = owed.Add(r)
	}
	if !ev.Amount.Valid {
		return remaining, nil
	}

	groups := make([]allocation.Group, 0, len(list))
	for _, o := range list {
		w := remaining[o.ID]
		if owed.IsZero() {
			w = o.GrandTotal
		}
		groups = append(groups, allocation.Group{ID: o.ID, Weight: w})
	}
	return allocation.AllocateOrZero(ev.Amount.Decimal, groups)
}

func matchesEvent(t payments.Transaction, vendorOrderNumber string) bool {
	return t.ExternalReference == vendorOrderNumber || t.TransactionID == vendorOrderNumber
}

func findLeg(txs []payments.Transaction, vendorOrderNumber string) (payments.Transaction, bool) {
	for _, t := range txs {
		if matchesEvent(t, vendorOrderNumber) {
			return t, true
		}
	}
	return payments.Transaction{}, false
}

func (e *Engine) recordLeg(ctx context.Context, tx Tx, ev Event, orderID string, share decimal.Decimal, txs []payments.Transaction, now time.Time) (inserted, updated bool, err error) {
	incoming := payments.TxCompleted
	if ev.Failed {
		incoming = payments.TxFailed
	}

	if existing, ok := findLeg(txs, ev.VendorOrderNumber); ok {
		updated, err = e.mergeLeg(ctx, tx, existing, ev, incoming, now)
		return false, updated, err
	}
	if !share.IsPositive() {
		return false, false, nil
	}

	leg := &payments.Transaction{
		ID:                uuid.NewString(),
		OrderID:           orderID,
		Method:            ev.Method,
		TransactionID:     ev.VendorOrderNumber,
		ExternalReference: ev.VendorOrderNumber,
		Amount:            share,
		Status:            incoming,
		Data:              ev.Data,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if incoming == payments.TxCompleted {
		leg.CompletedAt = &now
	}
	ok, err := tx.InsertTransaction(ctx, leg)
	if err != nil {
		return false, false, err
	}
	if ok {
		return true, false, nil
	}

	// A concurrent writer inserted the same leg first.
	txs, err = tx.Transactions(ctx, orderID)
	if err != nil {
		return false, false, err
	}
	existing, found := findLeg(txs, ev.VendorOrderNumber)
	if !found {
		return false, false, nil
	}
	updated, err = e.mergeLeg(ctx, tx, existing, ev, incoming, now)
	return false, updated, err
}

func (e *Engine) mergeLeg(ctx context.Context, tx Tx, existing payments.Transaction, ev Event, incoming payments.TxStatus, now time.Time) (bool, error) {
	next := existing
	next.Data = existing.Data.Merge(ev.Data)
	next.Status = payments.Upgrade(existing.Status, incoming)
	if next.Status == payments.TxCompleted && next.CompletedAt == nil {
		next.CompletedAt = &now
	}
	if next.Status == existing.Status && next.Data.Equal(existing.Data) {
		return false, nil
	}
	next.UpdatedAt = now
	if err := tx.UpdateTransaction(ctx, &next); err != nil {
		return false, err
	}
	return true, nil
}

// settle promotes covered orders to paid and reports shortfalls for the rest.
func (e *Engine) settle(ctx context.Context, tx Tx, list []*orders.Order, failed bool, logger logrus.FieldLogger) ([]string, map[string]decimal.Decimal, error) {
	var paid []string
	shortfalls := map[string]decimal.Decimal{}
	for _, o := range list {
		txs, err := tx.Transactions(ctx, o.ID)
		if err != nil {
			return nil, nil, err
		}
		completed := payments.CompletedTotal(txs)
		if money.Covers(completed, o.GrandTotal) {
			if !orders.CanPromotePayment(o.PaymentStatus) {
				continue
			}
			if err := tx.SetPaymentStatus(ctx, o.ID, orders.PaymentPaid); err != nil {
				return nil, nil, err
			}
			o.PaymentStatus = orders.PaymentPaid
			paid = append(paid, o.ID)
			continue
		}

		short := money.Round(o.GrandTotal.Sub(completed))
		shortfalls[o.ID] = short
		logger.WithFields(logrus.Fields{
			"order_id":    o.ID,
			"grand_total": o.GrandTotal.StringFixed(2),
			"completed":   completed.StringFixed(2),
			"shortfall":   short.StringFixed(2),
		}).Warn("completed payments do not cover order total")

		if failed && o.PaymentStatus == orders.PaymentPending {
			if err := tx.SetPaymentStatus(ctx, o.ID, orders.PaymentFailed); err != nil {
				return nil, nil, err
			}
			o.PaymentStatus = orders.PaymentFailed
		}
	}
	return paid, shortfalls, nil
}
