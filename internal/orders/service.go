package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/apperr"
	"github.com/imrishuroy/go-order-settlement/internal/metrics"
)

// ErrStatusMismatch is returned by Repository.UpdateStatus when the stored
// status no longer equals the expected one.
var ErrStatusMismatch = errors.New("status mismatch")

// Repository persists order status changes.
type Repository interface {
	// GetOrder returns (nil, nil) when the order does not exist.
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	// UpdateStatus writes status, payment status, milestones and delivery
	// fields of o only while the stored status equals expected.
	UpdateStatus(ctx context.Context, o *Order, expected Status) error
}

// HistoryWriter appends status history outside the status-update write.
type HistoryWriter interface {
	AppendHistory(ctx context.Context, entry HistoryEntry) error
}

// TransitionRequest asks for a status change on one order.
type TransitionRequest struct {
	OrderID                  string
	Target                   Status
	Actor                    string
	Reason                   string
	EstimatedDeliveryMinutes *int
}

// StatusService applies guarded transitions.
type StatusService struct {
	repo    Repository
	history HistoryWriter
	metrics metrics.Recorder
	log     logrus.FieldLogger
	nowFunc func() time.Time
}

// NewStatusService wires a StatusService.
func NewStatusService(repo Repository, history HistoryWriter, rec metrics.Recorder, log logrus.FieldLogger) *StatusService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &StatusService{
		repo:    repo,
		history: history,
		metrics: rec,
		log:     log,
		nowFunc: time.Now,
	}
}

// Transition validates and persists req, then appends history best-effort.
func (s *StatusService) Transition(ctx context.Context, req TransitionRequest) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, apperr.Unavailable(err, "load order")
	}
	if o == nil {
		return nil, apperr.Newf(apperr.KindNotFound, apperr.CodeOrderNotFound, "order %s not found", req.OrderID)
	}
	if err := ValidateTransition(o, req.Target); err != nil {
		return nil, err
	}

	previous := o.Status
	now := s.nowFunc().UTC()
	ApplyTransition(o, req.Target, req.Reason, now)
	if req.EstimatedDeliveryMinutes != nil {
		o.EstimatedDeliveryMinutes = req.EstimatedDeliveryMinutes
	}

	if err := s.repo.UpdateStatus(ctx, o, previous); err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			return nil, apperr.Newf(apperr.KindConflict, apperr.CodeInvalidTransition,
				"order %s changed concurrently; expected status %s", o.ID, previous)
		}
		return nil, apperr.Unavailable(err, "update order status")
	}

	logger := s.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"from":     previous,
		"to":       o.Status,
		"actor":    req.Actor,
	})

	if o.Status == StatusDelivered && o.ActualDeliveryMinutes != nil {
		s.metrics.DeliveryElapsed(ctx, o.ID, *o.ActualDeliveryMinutes)
	}

	entry := HistoryEntry{
		ID:             uuid.NewString(),
		OrderID:        o.ID,
		PreviousStatus: previous,
		NewStatus:      o.Status,
		Actor:          req.Actor,
		Reason:         req.Reason,
		CreatedAt:      now,
	}
	if err := s.history.AppendHistory(ctx, entry); err != nil {
		logger.WithError(err).Warn("append status history failed")
	}

	logger.Info("order status updated")
	return o, nil
}
