package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/allocation"
	"github.com/imrishuroy/go-order-settlement/internal/apperr"
	"github.com/imrishuroy/go-order-settlement/internal/gateway"
	"github.com/imrishuroy/go-order-settlement/internal/money"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
	"github.com/imrishuroy/go-order-settlement/internal/sideeffects"
	"github.com/imrishuroy/go-order-settlement/internal/wallet"
)

// Store runs fn inside one database transaction. Returning an error from fn
// rolls back every write made through tx, including the wallet debit.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view used by checkout.
type Tx interface {
	// LoadCart locks and returns the user's cart, or nil when there is none.
	LoadCart(ctx context.Context, userID string) (*Cart, error)
	// LoadAddress returns nil when the address does not belong to the user.
	LoadAddress(ctx context.Context, userID, addressID string) (*orders.Address, error)
	LoadCustomer(ctx context.Context, userID string) (orders.Contact, error)
	Ledger() wallet.Ledger
	InsertOrder(ctx context.Context, o *orders.Order) error
	InsertItems(ctx context.Context, items []orders.Item) error
	InsertTransaction(ctx context.Context, tx *payments.Transaction) error
	DeleteCart(ctx context.Context, cartID string) error
}

// Bridge opens the gateway order after commit.
type Bridge interface {
	Open(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

// Dispatcher runs post-commit jobs best-effort.
type Dispatcher interface {
	Dispatch(ctx context.Context, job sideeffects.Job)
}

// Request is a checkout of the user's current cart.
type Request struct {
	UserID            string
	DeliveryAddressID string
	DeliveryNotes     string
	TipAmount         decimal.Decimal
	DeliveryFee       decimal.Decimal
	Payment           *payments.Instruction
}

// Result is what the caller gets back from a successful checkout.
type Result struct {
	Order           *orders.Order   `json:"order"`
	Orders          []*orders.Order `json:"-"`
	OrderGroupID    string          `json:"order_group_id"`
	SiblingOrderIDs []string        `json:"sibling_order_ids"`
	PaymentURL      string          `json:"payment_url,omitempty"`
}

// Service is the checkout orchestrator.
type Service struct {
	store       Store
	partitioner *Partitioner
	bridge      Bridge
	dispatcher  Dispatcher
	log         logrus.FieldLogger
	nowFunc     func() time.Time
}

// NewService wires a checkout Service.
func NewService(store Store, partitioner *Partitioner, bridge Bridge, dispatcher Dispatcher, log logrus.FieldLogger) *Service {
	return &Service{
		store:       store,
		partitioner: partitioner,
		bridge:      bridge,
		dispatcher:  dispatcher,
		log:         log,
		nowFunc:     time.Now,
	}
}

type committed struct {
	orders     []*orders.Order
	items      map[string][]orders.Item
	customer   orders.Contact
	plan       *payments.Plan
	groupID    string
	sentNumber string
	walletAllo []wallet.Allocation
}

// Checkout converts the user's cart into one order per fulfillment unit.
// All database writes happen in one transaction; gateway and email work
// runs after commit and never fails the checkout.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "user is required")
	}
	if req.DeliveryAddressID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "delivery address is required")
	}

	var c committed
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		c, err = s.createOrders(ctx, tx, req)
		return err
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Unavailable(err, "checkout transaction")
	}

	logger := s.log.WithFields(logrus.Fields{
		"order_group_id": c.groupID,
		"user_id":        req.UserID,
		"orders":         len(c.orders),
	})
	logger.Info("checkout committed")

	res := &Result{
		Order:        c.orders[0],
		Orders:       c.orders,
		OrderGroupID: c.groupID,
	}
	for _, o := range c.orders[1:] {
		res.SiblingOrderIDs = append(res.SiblingOrderIDs, o.ID)
	}
	if res.SiblingOrderIDs == nil {
		res.SiblingOrderIDs = []string{}
	}

	s.afterCommit(ctx, c, res, logger)
	return res, nil
}

func (s *Service) createOrders(ctx context.Context, tx Tx, req Request) (committed, error) {
	var c committed

	cart, err := tx.LoadCart(ctx, req.UserID)
	if err != nil {
		return c, apperr.Unavailable(err, "load cart")
	}
	if cart == nil {
		return c, apperr.NotFound(apperr.CodeCartNotFound, "cart not found")
	}
	if len(cart.Lines) == 0 {
		return c, apperr.Validation(apperr.CodeEmptyCart, "cart is empty")
	}
	addr, err := tx.LoadAddress(ctx, req.UserID, req.DeliveryAddressID)
	if err != nil {
		return c, apperr.Unavailable(err, "load address")
	}
	if addr == nil {
		return c, apperr.Newf(apperr.KindNotFound, apperr.CodeAddressNotFound, "address %s not found", req.DeliveryAddressID)
	}
	customer, err := tx.LoadCustomer(ctx, req.UserID)
	if err != nil {
		return c, apperr.Unavailable(err, "load customer")
	}

	drafts, err := s.partitioner.Partition(ctx, cart, req.DeliveryFee, req.TipAmount)
	if err != nil {
		return c, err
	}

	c.groupID = uuid.NewString()
	c.customer = customer
	totals := make([]decimal.Decimal, len(drafts))
	for i, d := range drafts {
		totals[i] = d.Totals.GrandTotal
	}
	totalDue := money.Sum(totals...)

	plan, err := payments.SplitPlan(ctx, tx.Ledger(), req.UserID, c.groupID, totalDue, req.Payment)
	if err != nil {
		return c, err
	}
	c.plan = plan

	notes := strings.TrimSpace(req.DeliveryNotes)
	if plan.NeedsGateway() {
		c.sentNumber = gateway.NewOrderNumber(c.groupID)
		notes = strings.TrimSpace(notes + " " + orders.NotesMarker(c.sentNumber))
	}

	now := s.nowFunc().UTC()
	c.items = make(map[string][]orders.Item, len(drafts))
	for _, d := range drafts {
		o := &orders.Order{
			ID:                uuid.NewString(),
			UserID:            req.UserID,
			FulfillmentUnitID: d.FulfillmentUnitID,
			OrderGroupID:      c.groupID,
			Status:            orders.StatusPending,
			PaymentMethod:     string(plan.PrimaryMethod),
			PaymentStatus:     plan.PaymentStatus,
			Totals:            d.Totals,
			Address:           *addr,
			Customer:          customer,
			DeliveryNotes:     notes,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return c, apperr.Unavailable(err, "insert order")
		}

		items := make([]orders.Item, len(d.Items))
		for i, it := range d.Items {
			it.ID = uuid.NewString()
			it.OrderID = o.ID
			it.CreatedAt = now
			items[i] = it
		}
		if err := tx.InsertItems(ctx, items); err != nil {
			return c, apperr.Unavailable(err, "insert order items")
		}
		o.Items = items
		c.items[o.ID] = items
		c.orders = append(c.orders, o)
	}

	if plan.WalletEntry != nil {
		allocs, err := s.recordWalletLegs(ctx, tx, c.orders, plan, now)
		if err != nil {
			return c, err
		}
		c.walletAllo = allocs
	}

	if err := tx.DeleteCart(ctx, cart.ID); err != nil {
		return c, apperr.Unavailable(err, "delete cart")
	}
	return c, nil
}

// recordWalletLegs writes one completed wallet leg per order, splitting the
// debited amount by grand total.
func (s *Service) recordWalletLegs(ctx context.Context, tx Tx, list []*orders.Order, plan *payments.Plan, now time.Time) ([]wallet.Allocation, error) {
	groups := make([]allocation.Group, len(list))
	for i, o := range list {
		groups[i] = allocation.Group{ID: o.ID, Weight: o.GrandTotal}
	}
	shares, err := allocation.AllocateOrZero(plan.WalletAmount, groups)
	if err != nil {
		return nil, err
	}

	entry := plan.WalletEntry
	allocs := make([]wallet.Allocation, 0, len(list))
	for _, o := range list {
		completedAt := now
		leg := &payments.Transaction{
			ID:            uuid.NewString(),
			OrderID:       o.ID,
			Method:        payments.MethodWallet,
			TransactionID: entry.ID,
			Amount:        shares[o.ID],
			Status:        payments.TxCompleted,
			Data: payments.PaymentData{Wallet: &payments.WalletData{
				LedgerEntryID: entry.ID,
				BalanceBefore: decimal.NewNullDecimal(entry.BalanceBefore),
				BalanceAfter:  decimal.NewNullDecimal(entry.BalanceAfter),
			}},
			CompletedAt: &completedAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertTransaction(ctx, leg); err != nil {
			return nil, apperr.Unavailable(err, "insert wallet transaction")
		}
		allocs = append(allocs, wallet.Allocation{OrderID: o.ID, Amount: shares[o.ID]})
	}
	return allocs, nil
}

func (s *Service) afterCommit(ctx context.Context, c committed, res *Result, logger logrus.FieldLogger) {
	if c.plan.WalletEntry != nil {
		job := sideeffects.NewJob(sideeffects.KindWalletBackfill, c.groupID)
		job.WalletEntryID = c.plan.WalletEntry.ID
		job.Allocations = c.walletAllo
		job.OrderIDs = orderIDs(c.orders)
		s.dispatcher.Dispatch(ctx, job)
	}

	if c.plan.NeedsGateway() {
		greq := s.gatewayRequest(c)
		gres, err := s.bridge.Open(ctx, greq)
		if err != nil {
			logger.WithError(err).Warn("gateway order creation failed after commit, scheduling retry")
			job := sideeffects.NewJob(sideeffects.KindGatewayOrder, c.groupID)
			job.OrderIDs = greq.OrderIDs()
			job.Gateway = &greq
			s.dispatcher.Dispatch(ctx, job)
		} else {
			res.PaymentURL = gres.PaymentURL
		}
	}

	s.dispatcher.Dispatch(ctx, sideeffects.NewJob(sideeffects.KindOrderConfirmationEmail, c.groupID))
}

func (s *Service) gatewayRequest(c committed) gateway.Request {
	req := gateway.Request{
		OrderGroupID:    c.groupID,
		UserID:          c.orders[0].UserID,
		SentOrderNumber: c.sentNumber,
		Method:          c.plan.DeferredMethod,
		Amount:          c.plan.DeferredAmount,
		Customer:        c.customer,
	}
	for _, o := range c.orders {
		req.Orders = append(req.Orders, gateway.OrderRef{OrderID: o.ID, GrandTotal: o.GrandTotal})
		for _, it := range c.items[o.ID] {
			req.Items = append(req.Items, gateway.LineItem{
				Description: it.Name,
				Quantity:    it.Quantity,
				UnitPrice:   it.UnitPrice,
			})
		}
	}
	if c.plan.WalletAmount.IsPositive() {
		req.Items = append(req.Items, gateway.LineItem{
			Description: fmt.Sprintf("Wallet credit applied (-%s)", c.plan.WalletAmount.StringFixed(money.Places)),
			Quantity:    1,
			UnitPrice:   decimal.Zero,
		})
	}
	return req
}

func orderIDs(list []*orders.Order) []string {
	ids := make([]string, len(list))
	for i, o := range list {
		ids[i] = o.ID
	}
	return ids
}
