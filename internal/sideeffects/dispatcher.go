package sideeffects

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Publisher sends a JSON-encoded job to the queue.
type Publisher interface {
	SendJSON(ctx context.Context, v interface{}, attributes map[string]string) error
}

// Dispatcher hands jobs to the queue, or runs them in-process when no queue
// is configured or publishing fails. It never returns errors: the work it
// carries is post-commit and best effort.
type Dispatcher struct {
	publisher Publisher
	runner    *Runner
	log       logrus.FieldLogger
}

// NewDispatcher wires a Dispatcher. publisher may be nil.
func NewDispatcher(publisher Publisher, runner *Runner, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{publisher: publisher, runner: runner, log: log}
}

// Dispatch enqueues job or runs it inline.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) {
	logger := d.log.WithFields(logrus.Fields{
		"job_id":         job.ID,
		"kind":           job.Kind,
		"order_group_id": job.OrderGroupID,
	})

	if d.publisher != nil {
		err := d.publisher.SendJSON(ctx, job, map[string]string{
			"job_id":         job.ID,
			"kind":           string(job.Kind),
			"order_group_id": job.OrderGroupID,
		})
		if err == nil {
			logger.Debug("job enqueued")
			return
		}
		logger.WithError(err).Warn("enqueue failed, running job inline")
	}

	if err := d.runner.Run(ctx, job); err != nil {
		logger.WithError(err).Warn("side effect failed")
	}
}

// OrdersPaid schedules the payment confirmation email for newly paid orders.
func (d *Dispatcher) OrdersPaid(ctx context.Context, orderGroupID string, orderIDs []string) {
	if len(orderIDs) == 0 {
		return
	}
	job := NewJob(KindPaymentConfirmationEmail, orderGroupID)
	job.OrderIDs = orderIDs
	d.Dispatch(ctx, job)
}
