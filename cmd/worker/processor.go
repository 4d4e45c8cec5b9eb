package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/idempotency"
	"github.com/imrishuroy/go-order-settlement/internal/sideeffects"
)

// JobRunner executes one side-effect job.
type JobRunner interface {
	Run(ctx context.Context, job sideeffects.Job) error
}

// JobGuard records finished jobs so a redelivered message is skipped.
type JobGuard interface {
	Acquire(ctx context.Context, key, scope, fingerprint string) (idempotency.Decision, *idempotency.Record, error)
	MarkDone(ctx context.Context, key, resourceID, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// errJobBusy is returned when another invocation holds the job.
var errJobBusy = errors.New("job is being processed elsewhere")

// Processor handles SQS batches of side-effect jobs.
type Processor struct {
	runner JobRunner
	guard  JobGuard // optional
	log    logrus.FieldLogger
}

// NewProcessor wires a Processor. guard may be nil.
func NewProcessor(runner JobRunner, guard JobGuard, log logrus.FieldLogger) *Processor {
	return &Processor{runner: runner, guard: guard, log: log}
}

// Handle processes every record and reports the failed ones so only those
// are redelivered. After enough failures SQS moves a message to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.WithError(err).WithField("message_id", rec.MessageId).Warn("job failed")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var job sideeffects.Job
	if err := json.Unmarshal([]byte(rec.Body), &job); err != nil {
		return errors.Wrap(err, "invalid message body")
	}
	if job.ID == "" {
		return errors.New("job without id")
	}

	logger := p.log.WithFields(logrus.Fields{
		"job_id":         job.ID,
		"kind":           job.Kind,
		"order_group_id": job.OrderGroupID,
	})

	if p.guard == nil {
		return p.runner.Run(ctx, job)
	}

	key := idempotency.Key(idempotency.ScopeJob, job.ID)
	decision, _, err := p.guard.Acquire(ctx, key, idempotency.ScopeJob, string(job.Kind))
	if err != nil {
		return errors.Wrap(err, "acquire job key")
	}
	switch decision {
	case idempotency.Replay:
		logger.Info("job already done")
		return nil
	case idempotency.InProgress:
		return errJobBusy
	case idempotency.Mismatch:
		// same id, different kind: never retryable
		logger.Error("job id reused for another kind, dropping")
		return nil
	}

	if err := p.runner.Run(ctx, job); err != nil {
		if markErr := p.guard.MarkFailed(ctx, key, err.Error()); markErr != nil {
			logger.WithError(markErr).Warn("failed to release job key")
		}
		return err
	}
	if err := p.guard.MarkDone(ctx, key, job.OrderGroupID, "", 0); err != nil {
		logger.WithError(err).Warn("failed to mark job done")
	}
	logger.Info("job done")
	return nil
}
