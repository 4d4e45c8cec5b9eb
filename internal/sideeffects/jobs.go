package sideeffects

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/gateway"
	"github.com/imrishuroy/go-order-settlement/internal/notify"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/wallet"
)

// Kind names a post-commit job.
type Kind string

const (
	KindGatewayOrder             Kind = "gateway_order"
	KindWalletBackfill           Kind = "wallet_backfill"
	KindOrderConfirmationEmail   Kind = "order_confirmation_email"
	KindPaymentConfirmationEmail Kind = "payment_confirmation_email"
)

// Job is the message carried from the API to the worker. Every job is safe
// to run more than once.
type Job struct {
	ID            string              `json:"id"`
	Kind          Kind                `json:"kind"`
	OrderGroupID  string              `json:"order_group_id"`
	OrderIDs      []string            `json:"order_ids,omitempty"`
	Gateway       *gateway.Request    `json:"gateway,omitempty"`
	WalletEntryID string              `json:"wallet_entry_id,omitempty"`
	Allocations   []wallet.Allocation `json:"allocations,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// NewJob returns a job with a fresh id.
func NewJob(kind Kind, orderGroupID string) Job {
	return Job{
		ID:           uuid.NewString(),
		Kind:         kind,
		OrderGroupID: orderGroupID,
		CreatedAt:    time.Now().UTC(),
	}
}

// GatewayOpener opens gateway orders.
type GatewayOpener interface {
	Open(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

// OrderReader loads orders for notifications.
type OrderReader interface {
	OrdersByGroup(ctx context.Context, orderGroupID string) ([]orders.Order, error)
	OrdersByIDs(ctx context.Context, ids []string) ([]orders.Order, error)
}

// Runner executes jobs.
type Runner struct {
	gateway  GatewayOpener
	backfill wallet.Backfiller
	orders   OrderReader
	mailer   notify.Mailer
	log      logrus.FieldLogger
}

// NewRunner wires a Runner.
func NewRunner(gw GatewayOpener, backfill wallet.Backfiller, reader OrderReader, mailer notify.Mailer, log logrus.FieldLogger) *Runner {
	return &Runner{gateway: gw, backfill: backfill, orders: reader, mailer: mailer, log: log}
}

// ErrUnknownKind is returned for jobs this runner cannot execute.
var ErrUnknownKind = errors.New("unknown job kind")

// Run executes job and returns an error when it should be retried.
func (r *Runner) Run(ctx context.Context, job Job) error {
	logger := r.log.WithFields(logrus.Fields{
		"job_id":         job.ID,
		"kind":           job.Kind,
		"order_group_id": job.OrderGroupID,
	})

	switch job.Kind {
	case KindGatewayOrder:
		if job.Gateway == nil {
			return errors.New("gateway job without request")
		}
		res, err := r.gateway.Open(ctx, *job.Gateway)
		if err != nil {
			return errors.Wrap(err, "open gateway order")
		}
		logger.WithField("gateway_order_id", res.GatewayOrderID).Info("gateway order opened")
		return nil

	case KindWalletBackfill:
		if err := r.backfill.AttachOrders(ctx, job.WalletEntryID, job.Allocations); err != nil {
			return errors.Wrap(err, "attach wallet entry to orders")
		}
		return nil

	case KindOrderConfirmationEmail, KindPaymentConfirmationEmail:
		return r.sendEmails(ctx, job, logger)
	}
	return errors.Wrapf(ErrUnknownKind, "%q", job.Kind)
}

func (r *Runner) sendEmails(ctx context.Context, job Job, logger logrus.FieldLogger) error {
	var (
		list []orders.Order
		err  error
	)
	if len(job.OrderIDs) > 0 {
		list, err = r.orders.OrdersByIDs(ctx, job.OrderIDs)
	} else {
		list, err = r.orders.OrdersByGroup(ctx, job.OrderGroupID)
	}
	if err != nil {
		return errors.Wrap(err, "load orders for email")
	}

	for _, o := range list {
		msg := notify.OrderConfirmation(o)
		if job.Kind == KindPaymentConfirmationEmail {
			msg = notify.PaymentConfirmation(o)
		}
		if err := r.mailer.Send(ctx, msg); err != nil {
			// Email is fire-and-forget; a retry would resend to the orders
			// that already succeeded.
			logger.WithError(err).WithField("order_id", o.ID).Warn("send email failed")
		}
	}
	return nil
}
