package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/allocation"
	"github.com/imrishuroy/go-order-settlement/internal/apperr"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
)

// orderStatusReady is the status code the gateway expects for a payable order.
const orderStatusReady = "R"

// OrderRef identifies a local order and its weight in the gateway amount.
type OrderRef struct {
	OrderID    string          `json:"order_id"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// LineItem is one product line forwarded to the gateway.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Request describes one gateway order covering every order of a checkout.
type Request struct {
	OrderGroupID    string          `json:"order_group_id"`
	UserID          string          `json:"user_id"`
	SentOrderNumber string          `json:"sent_order_number"`
	Method          payments.Method `json:"method"`
	Amount          decimal.Decimal `json:"amount"`
	Customer        orders.Contact  `json:"customer"`
	Orders          []OrderRef      `json:"orders"`
	Items           []LineItem      `json:"items"`
}

// OrderIDs lists the local orders covered by r.
func (r Request) OrderIDs() []string {
	ids := make([]string, len(r.Orders))
	for i, o := range r.Orders {
		ids[i] = o.OrderID
	}
	return ids
}

// Result carries both identifiers and the hosted payment page.
type Result struct {
	SentOrderNumber string `json:"sent_order_number"`
	GatewayOrderID  string `json:"gateway_order_id"`
	PaymentURL      string `json:"payment_url,omitempty"`
}

// OrderCreator creates remote gateway orders.
type OrderCreator interface {
	CreateOrUpdateOrder(ctx context.Context, payload OrderPayload) (*OrderResponse, error)
	Mode() string
}

// TransactionStore upserts gateway legs keyed by order and external reference.
// An existing leg keeps its data (merged) and never loses completed status.
type TransactionStore interface {
	UpsertTransaction(ctx context.Context, tx *payments.Transaction) error
}

// Settler re-evaluates payment status after legs change.
type Settler interface {
	Reevaluate(ctx context.Context, orderIDs []string) error
}

// NewOrderNumber derives the order number sent to the gateway for a checkout.
func NewOrderNumber(orderGroupID string) string {
	compact := strings.ToUpper(strings.ReplaceAll(orderGroupID, "-", ""))
	if len(compact) > 16 {
		compact = compact[:16]
	}
	return "SO-" + compact
}

// Bridge opens gateway orders and records the local legs that reconciliation
// later matches against.
type Bridge struct {
	gateway OrderCreator
	store   TransactionStore
	settler Settler
	log     logrus.FieldLogger
	nowFunc func() time.Time
}

// NewBridge wires a Bridge. settler may be nil when no synchronous methods are used.
func NewBridge(gw OrderCreator, store TransactionStore, settler Settler, log logrus.FieldLogger) *Bridge {
	return &Bridge{gateway: gw, store: store, settler: settler, log: log, nowFunc: time.Now}
}

// Open creates the gateway order for req and writes one leg per local order.
func (b *Bridge) Open(ctx context.Context, req Request) (*Result, error) {
	if len(req.Orders) == 0 || !req.Amount.IsPositive() {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "gateway request needs orders and a positive amount")
	}
	if req.SentOrderNumber == "" {
		req.SentOrderNumber = NewOrderNumber(req.OrderGroupID)
	}
	logger := b.log.WithFields(logrus.Fields{
		"order_group_id":    req.OrderGroupID,
		"sent_order_number": req.SentOrderNumber,
	})

	payload := OrderPayload{
		NumberOfOrder: req.SentOrderNumber,
		Status:        orderStatusReady,
		Total:         req.Amount.InexactFloat64(),
		Customer: Customer{
			ForeignID:   req.UserID,
			FullName:    req.Customer.Name,
			PhoneNumber: req.Customer.Phone,
			Email:       req.Customer.Email,
		},
		Operations: make([]Operation, 0, len(req.Items)),
		Additional: map[string]any{
			"order_group_id": req.OrderGroupID,
			"session_id":     req.SentOrderNumber,
		},
	}
	for _, it := range req.Items {
		payload.Operations = append(payload.Operations, Operation{
			Description: it.Description,
			Quantity:    it.Quantity,
			Price:       it.UnitPrice.InexactFloat64(),
		})
	}

	resp, err := b.gateway.CreateOrUpdateOrder(ctx, payload)
	if err != nil {
		return nil, apperr.External(apperr.CodeGatewayFailure, err, "create gateway order")
	}
	res := &Result{
		SentOrderNumber: req.SentOrderNumber,
		GatewayOrderID:  resp.ReceivedOrderID(),
		PaymentURL:      resp.URLPayment,
	}
	if res.GatewayOrderID == "" {
		res.GatewayOrderID = req.SentOrderNumber
	}

	groups := make([]allocation.Group, 0, len(req.Orders))
	for _, o := range req.Orders {
		groups = append(groups, allocation.Group{ID: o.OrderID, Weight: o.GrandTotal})
	}
	shares, err := allocation.Allocate(req.Amount, groups)
	if err != nil {
		return nil, err
	}

	status := payments.TxPending
	if req.Method.Synchronous() {
		status = payments.TxCompleted
	}
	now := b.nowFunc().UTC()
	for _, o := range req.Orders {
		tx := &payments.Transaction{
			ID:                uuid.NewString(),
			OrderID:           o.OrderID,
			Method:            req.Method,
			TransactionID:     req.SentOrderNumber,
			ExternalReference: res.GatewayOrderID,
			Amount:            shares[o.OrderID],
			Status:            status,
			Data: payments.PaymentData{Gateway: &payments.GatewayData{
				SentOrderNumber: req.SentOrderNumber,
				GatewayOrderID:  res.GatewayOrderID,
				PaymentURL:      res.PaymentURL,
				Mode:            b.gateway.Mode(),
			}},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if status == payments.TxCompleted {
			tx.CompletedAt = &now
		}
		if err := b.store.UpsertTransaction(ctx, tx); err != nil {
			return res, apperr.Unavailable(err, "record gateway transaction")
		}
	}

	if status == payments.TxCompleted && b.settler != nil {
		if err := b.settler.Reevaluate(ctx, req.OrderIDs()); err != nil {
			logger.WithError(err).Warn("re-evaluating payment status after card payment failed")
		}
	}

	logger.WithField("gateway_order_id", res.GatewayOrderID).Info("gateway legs recorded")
	return res, nil
}
