package checkout

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-order-settlement/internal/apperr"
	"github.com/imrishuroy/go-order-settlement/internal/gateway"
	"github.com/imrishuroy/go-order-settlement/internal/money"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
	"github.com/imrishuroy/go-order-settlement/internal/sideeffects"
	"github.com/imrishuroy/go-order-settlement/internal/tax"
	"github.com/imrishuroy/go-order-settlement/internal/wallet"
)

// memDB is the committed state. memTx stages writes and applies them only
// when the transaction function returns nil.
type memDB struct {
	carts     map[string]*Cart
	addresses map[string]*orders.Address
	balances  map[string]decimal.Decimal
	orders    []*orders.Order
	items     []orders.Item
	txs       []*payments.Transaction
	entries   []*wallet.Entry

	failItems bool
}

func newMemDB() *memDB {
	return &memDB{
		carts:     map[string]*Cart{},
		addresses: map[string]*orders.Address{},
		balances:  map[string]decimal.Decimal{},
	}
}

type memStore struct{ db *memDB }

func (s *memStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{db: s.db, balances: map[string]decimal.Decimal{}}
	for k, v := range s.db.balances {
		tx.balances[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.db.balances = tx.balances
	s.db.orders = append(s.db.orders, tx.orders...)
	s.db.items = append(s.db.items, tx.items...)
	s.db.txs = append(s.db.txs, tx.txs...)
	s.db.entries = append(s.db.entries, tx.entries...)
	for _, id := range tx.deletedCarts {
		for user, c := range s.db.carts {
			if c.ID == id {
				delete(s.db.carts, user)
			}
		}
	}
	return nil
}

type memTx struct {
	db           *memDB
	balances     map[string]decimal.Decimal
	orders       []*orders.Order
	items        []orders.Item
	txs          []*payments.Transaction
	entries      []*wallet.Entry
	deletedCarts []string
}

func (t *memTx) LoadCart(ctx context.Context, userID string) (*Cart, error) {
	return t.db.carts[userID], nil
}

func (t *memTx) LoadAddress(ctx context.Context, userID, addressID string) (*orders.Address, error) {
	return t.db.addresses[addressID], nil
}

func (t *memTx) LoadCustomer(ctx context.Context, userID string) (orders.Contact, error) {
	return orders.Contact{Name: "Ana", Email: "ana@example.com"}, nil
}

func (t *memTx) Ledger() wallet.Ledger { return t }

func (t *memTx) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return t.balances[userID], nil
}

func (t *memTx) Debit(ctx context.Context, userID string, amount decimal.Decimal, reason wallet.Reason, correlation string) (*wallet.Entry, error) {
	before := t.balances[userID]
	if before.LessThan(amount) {
		return nil, wallet.ErrInsufficientFunds
	}
	t.balances[userID] = before.Sub(amount)
	e := &wallet.Entry{ID: "entry-1", UserID: userID, Type: wallet.EntryDebit, Amount: amount,
		BalanceBefore: before, BalanceAfter: t.balances[userID], Reason: reason, Correlation: correlation}
	t.entries = append(t.entries, e)
	return e, nil
}

func (t *memTx) Credit(ctx context.Context, userID string, amount decimal.Decimal, reason wallet.Reason, correlation string) (*wallet.Entry, error) {
	t.balances[userID] = t.balances[userID].Add(amount)
	return &wallet.Entry{ID: "credit-1"}, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	t.orders = append(t.orders, o)
	return nil
}

func (t *memTx) InsertItems(ctx context.Context, items []orders.Item) error {
	if t.db.failItems {
		return errors.New("constraint violation")
	}
	t.items = append(t.items, items...)
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, tx *payments.Transaction) error {
	t.txs = append(t.txs, tx)
	return nil
}

func (t *memTx) DeleteCart(ctx context.Context, cartID string) error {
	t.deletedCarts = append(t.deletedCarts, cartID)
	return nil
}

type flatTax struct {
	rate    decimal.Decimal
	failFor string
}

func (f flatTax) ComputeProductTax(ctx context.Context, productID string, subtotal decimal.Decimal) (tax.Breakdown, error) {
	if productID == f.failFor {
		return tax.Breakdown{}, errors.New("tax service unreachable")
	}
	amount := money.Round(subtotal.Mul(f.rate))
	return tax.Breakdown{
		Taxes:    []tax.Line{{Code: "IVA", Rate: f.rate, RateType: tax.RatePercentage, Amount: amount}},
		TotalTax: amount,
	}, nil
}

type stubBridge struct {
	reqs []gateway.Request
	err  error
}

func (b *stubBridge) Open(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	b.reqs = append(b.reqs, req)
	if b.err != nil {
		return nil, b.err
	}
	return &gateway.Result{SentOrderNumber: req.SentOrderNumber, GatewayOrderID: "KP-1", PaymentURL: "https://pay/1"}, nil
}

type recordingDispatcher struct {
	jobs []sideeffects.Job
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, job sideeffects.Job) {
	d.jobs = append(d.jobs, job)
}

func (d *recordingDispatcher) kinds() []sideeffects.Kind {
	var out []sideeffects.Kind
	for _, j := range d.jobs {
		out = append(out, j.Kind)
	}
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fixture struct {
	db         *memDB
	bridge     *stubBridge
	dispatcher *recordingDispatcher
	svc        *Service
}

func newFixture(taxes tax.Resolver) *fixture {
	db := newMemDB()
	db.addresses["addr-1"] = &orders.Address{AddressID: "addr-1", Text: "Av. Juarez 10, Centro", Latitude: 19.43, Longitude: -99.13}
	db.carts["u1"] = &Cart{ID: "cart-1", UserID: "u1", Lines: []CartLine{
		{ID: "l1", ProductID: "p-taco", ProductName: "Tacos", ProductUnitID: "unit-a", Quantity: 2, UnitPrice: money.MustParse("50"), Subtotal: money.MustParse("100")},
		{ID: "l2", ProductID: "p-agua", ProductName: "Agua", ProductUnitID: "unit-b", Quantity: 1, UnitPrice: money.MustParse("50"), Subtotal: money.MustParse("50")},
	}}
	f := &fixture{db: db, bridge: &stubBridge{}, dispatcher: &recordingDispatcher{}}
	f.svc = NewService(&memStore{db: db}, NewPartitioner(taxes, quietLogger()), f.bridge, f.dispatcher, quietLogger())
	return f
}

func TestCheckout_TwoUnitsSplitDeliveryFee(t *testing.T) {
	f := newFixture(flatTax{rate: decimal.Zero})

	res, err := f.svc.Checkout(context.Background(), Request{
		UserID:            "u1",
		DeliveryAddressID: "addr-1",
		DeliveryFee:       money.MustParse("30"),
	})
	require.NoError(t, err)

	require.Len(t, res.Orders, 2)
	a, b := res.Orders[0], res.Orders[1]
	assert.Equal(t, "unit-a", a.FulfillmentUnitID)
	assert.Equal(t, "20.00", a.DeliveryFee.StringFixed(2))
	assert.Equal(t, "10.00", b.DeliveryFee.StringFixed(2))
	assert.Equal(t, "30.00", a.DeliveryFee.Add(b.DeliveryFee).StringFixed(2))
	assert.Equal(t, a.OrderGroupID, b.OrderGroupID)
	assert.Equal(t, res.OrderGroupID, a.OrderGroupID)
	assert.Equal(t, []string{b.ID}, res.SiblingOrderIDs)
	for _, o := range res.Orders {
		assert.True(t, o.Balanced())
		assert.Equal(t, orders.StatusPending, o.Status)
		assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
		assert.Equal(t, "Av. Juarez 10, Centro", o.Address.Text)
	}

	assert.Len(t, f.db.orders, 2)
	assert.Len(t, f.db.items, 2)
	assert.NotContains(t, f.db.carts, "u1", "cart is deleted on success")
	assert.Equal(t, []sideeffects.Kind{sideeffects.KindOrderConfirmationEmail}, f.dispatcher.kinds())
	assert.Empty(t, f.bridge.reqs)
}

func TestCheckout_ItemSnapshotKeepsOriginalQuantity(t *testing.T) {
	f := newFixture(flatTax{rate: money.MustParse("0.16")})

	res, err := f.svc.Checkout(context.Background(), Request{UserID: "u1", DeliveryAddressID: "addr-1"})
	require.NoError(t, err)

	it := res.Orders[0].Items[0]
	assert.Equal(t, 2, it.Quantity)
	assert.Equal(t, 2, it.OriginalQuantity)
	assert.Equal(t, "Tacos", it.Name)
	assert.Equal(t, "16.00", it.TaxBreakdown.TotalTax.StringFixed(2))
	assert.Equal(t, "16.00", res.Orders[0].TaxTotal.StringFixed(2))
	assert.Equal(t, "116.00", res.Orders[0].GrandTotal.StringFixed(2))
}

func TestCheckout_TaxFailureDegradesToZeroForThatLine(t *testing.T) {
	f := newFixture(flatTax{rate: money.MustParse("0.16"), failFor: "p-agua"})

	res, err := f.svc.Checkout(context.Background(), Request{UserID: "u1", DeliveryAddressID: "addr-1"})
	require.NoError(t, err)

	assert.Equal(t, "16.00", res.Orders[0].TaxTotal.StringFixed(2))
	assert.True(t, res.Orders[1].TaxTotal.IsZero())
	assert.Empty(t, res.Orders[1].Items[0].TaxBreakdown.Taxes)
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := newFixture(flatTax{})
	f.db.carts["u1"].Lines = nil

	_, err := f.svc.Checkout(context.Background(), Request{UserID: "u1", DeliveryAddressID: "addr-1"})
	assert.True(t, apperr.HasCode(err, apperr.CodeEmptyCart))

	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCheckout_MissingCartIsNotFound(t *testing.T) {
	f := newFixture(flatTax{})
	_, err := f.svc.Checkout(context.Background(), Request{UserID: "nobody", DeliveryAddressID: "addr-1"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.True(t, apperr.HasCode(err, apperr.CodeCartNotFound))
	assert.Empty(t, f.db.orders)
}

func TestCheckout_UnknownAddress(t *testing.T) {
	f := newFixture(flatTax{})
	_, err := f.svc.Checkout(context.Background(), Request{UserID: "u1", DeliveryAddressID: "missing"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Empty(t, f.db.orders)
}

func TestCheckout_WalletWithoutSecondaryFails(t *testing.T) {
	f := newFixture(flatTax{rate: decimal.Zero})
	f.db.carts["u1"].Lines = f.db.carts["u1"].Lines[:1] // total due 100
	f.db.balances["u1"] = money.MustParse("40")

	_, err := f.svc.Checkout(context.Background(), Request{
		UserID:            "u1",
		DeliveryAddressID: "addr-1",
		Payment: &payments.Instruction{
			Method: payments.MethodWallet,
			Wallet: &payments.WalletInstruction{UseFullBalance: true},
		},
	})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeSecondaryMethodRequired))
	assert.Empty(t, f.db.orders)
	assert.Empty(t, f.db.entries)
	assert.Equal(t, "40.00", f.db.balances["u1"].StringFixed(2))
	assert.Contains(t, f.db.carts, "u1")
	assert.Empty(t, f.dispatcher.jobs)
}

func TestCheckout_ItemFailureRollsBackWalletDebit(t *testing.T) {
	f := newFixture(flatTax{rate: decimal.Zero})
	f.db.balances["u1"] = money.MustParse("500")
	f.db.failItems = true

	_, err := f.svc.Checkout(context.Background(), Request{
		UserID:            "u1",
		DeliveryAddressID: "addr-1",
		Payment:           &payments.Instruction{Method: payments.MethodWallet},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))

	assert.Empty(t, f.db.orders)
	assert.Empty(t, f.db.items)
	assert.Empty(t, f.db.txs)
	assert.Empty(t, f.db.entries, "no debit row survives a failed checkout")
	assert.Equal(t, "500.00", f.db.balances["u1"].StringFixed(2))
	assert.Contains(t, f.db.carts, "u1")
}

func TestCheckout_WalletCoversEverything(t *testing.T) {
	f := newFixture(flatTax{rate: decimal.Zero})
	f.db.balances["u1"] = money.MustParse("500")

	res, err := f.svc.Checkout(context.Background(), Request{
		UserID:            "u1",
		DeliveryAddressID: "addr-1",
		Payment:           &payments.Instruction{Method: payments.MethodWallet},
	})
	require.NoError(t, err)

	for _, o := range res.Orders {
		assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
		assert.Equal(t, "wallet", o.PaymentMethod)
	}
	require.Len(t, f.db.txs, 2)
	byOrder := map[string]*payments.Transaction{}
	for _, tx := range f.db.txs {
		byOrder[tx.OrderID] = tx
		assert.Equal(t, payments.TxCompleted, tx.Status)
		assert.Equal(t, "entry-1", tx.TransactionID)
	}
	assert.Equal(t, "100.00", byOrder[res.Orders[0].ID].Amount.StringFixed(2))
	assert.Equal(t, "50.00", byOrder[res.Orders[1].ID].Amount.StringFixed(2))
	assert.Equal(t, "350.00", f.db.balances["u1"].StringFixed(2))

	require.Equal(t, []sideeffects.Kind{sideeffects.KindWalletBackfill, sideeffects.KindOrderConfirmationEmail}, f.dispatcher.kinds())
	backfill := f.dispatcher.jobs[0]
	assert.Equal(t, "entry-1", backfill.WalletEntryID)
	assert.Len(t, backfill.Allocations, 2)
}

func TestCheckout_SplitWalletAndGateway(t *testing.T) {
	f := newFixture(flatTax{rate: decimal.Zero})
	f.db.balances["u1"] = money.MustParse("40")
	secondary := money.MustParse("110")

	res, err := f.svc.Checkout(context.Background(), Request{
		UserID:            "u1",
		DeliveryAddressID: "addr-1",
		DeliveryNotes:     "ring twice",
		Payment: &payments.Instruction{
			Method:          payments.MethodWallet,
			Wallet:          &payments.WalletInstruction{UseFullBalance: true},
			SecondaryMethod: payments.MethodGateway,
			SecondaryAmount: &secondary,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://pay/1", res.PaymentURL)
	require.Len(t, f.bridge.reqs, 1)
	greq := f.bridge.reqs[0]
	assert.Equal(t, "110.00", greq.Amount.StringFixed(2))
	assert.Equal(t, payments.MethodGateway, greq.Method)
	assert.Len(t, greq.Orders, 2)
	for _, o := range res.Orders {
		assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
		assert.True(t, strings.HasPrefix(o.DeliveryNotes, "ring twice "))
		assert.Contains(t, o.DeliveryNotes, orders.NotesMarker(greq.SentOrderNumber))
	}
}

func TestCheckout_GatewayFailureAfterCommitSchedulesRetry(t *testing.T) {
	f := newFixture(flatTax{rate: decimal.Zero})
	f.bridge.err = errors.New("gateway down")

	res, err := f.svc.Checkout(context.Background(), Request{
		UserID:            "u1",
		DeliveryAddressID: "addr-1",
		Payment:           &payments.Instruction{Method: payments.MethodGateway},
	})
	require.NoError(t, err, "post-commit failures never fail the checkout")
	assert.Empty(t, res.PaymentURL)
	assert.Len(t, f.db.orders, 2)

	require.Equal(t, []sideeffects.Kind{sideeffects.KindGatewayOrder, sideeffects.KindOrderConfirmationEmail}, f.dispatcher.kinds())
	retry := f.dispatcher.jobs[0]
	require.NotNil(t, retry.Gateway)
	assert.Equal(t, "150.00", retry.Gateway.Amount.StringFixed(2))
	assert.Equal(t, res.OrderGroupID, retry.OrderGroupID)
}

func TestPartition_ExplicitUnitWinsAndOrderIsStable(t *testing.T) {
	p := NewPartitioner(flatTax{rate: decimal.Zero}, quietLogger())
	cart := &Cart{Lines: []CartLine{
		{ProductID: "p1", ProductUnitID: "unit-b", Quantity: 1, UnitPrice: money.MustParse("10")},
		{ProductID: "p2", ProductUnitID: "unit-b", FulfillmentUnitID: "unit-a", Quantity: 3, UnitPrice: money.MustParse("5")},
		{ProductID: "p3", ProductUnitID: "unit-b", Quantity: 1, UnitPrice: money.MustParse("2.5")},
	}}

	drafts, err := p.Partition(context.Background(), cart, money.MustParse("5"), money.MustParse("1"))
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "unit-b", drafts[0].FulfillmentUnitID)
	assert.Len(t, drafts[0].Items, 2)
	assert.Equal(t, "12.50", drafts[0].Totals.Subtotal.StringFixed(2))
	assert.Equal(t, "unit-a", drafts[1].FulfillmentUnitID)
	assert.Equal(t, "15.00", drafts[1].Totals.Subtotal.StringFixed(2))

	fee := drafts[0].Totals.DeliveryFee.Add(drafts[1].Totals.DeliveryFee)
	assert.True(t, fee.Sub(money.MustParse("5")).Abs().LessThanOrEqual(money.MustParse("0.02")))
}

func TestPartition_RejectsNegativeCharges(t *testing.T) {
	p := NewPartitioner(flatTax{}, quietLogger())
	cart := &Cart{Lines: []CartLine{{ProductID: "p1", ProductUnitID: "u", Quantity: 1, UnitPrice: money.MustParse("1")}}}
	_, err := p.Partition(context.Background(), cart, money.MustParse("-1"), decimal.Zero)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
