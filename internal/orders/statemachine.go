package orders

import (
	"time"

	"github.com/imrishuroy/go-order-settlement/internal/apperr"
)

var transitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusCompleted, StatusCancelled},
	StatusCompleted:      {StatusInTransit, StatusCancelled},
	StatusInTransit:      {StatusDelivered, StatusDeliveryFailed, StatusCancelled},
	StatusDeliveryFailed: {StatusInTransit, StatusReturned, StatusCancelled},
	StatusDelivered:      {StatusReturned, StatusRefunded},
	StatusReturned:       {StatusRefunded},
	StatusCancelled:      {StatusRefunded},
	StatusRefunded:       {},
}

// AllStatuses lists every known order status.
func AllStatuses() []Status {
	return []Status{
		StatusPending, StatusConfirmed, StatusCompleted, StatusInTransit,
		StatusDeliveryFailed, StatusDelivered, StatusReturned, StatusCancelled, StatusRefunded,
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether the table allows from -> to, ignoring guards.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition checks the table and the guards for moving o to target.
func ValidateTransition(o *Order, target Status) error {
	if !target.Valid() {
		return apperr.Newf(apperr.KindValidation, apperr.CodeInvalidRequest, "unknown status %q", target)
	}
	if !CanTransition(o.Status, target) {
		return apperr.Newf(apperr.KindConflict, apperr.CodeInvalidTransition,
			"cannot transition order %s from %s to %s", o.ID, o.Status, target)
	}
	if o.Status == StatusPending && target == StatusConfirmed && o.PaymentStatus != PaymentPaid {
		return apperr.Newf(apperr.KindConflict, apperr.CodePaymentRequired,
			"cannot transition order %s from %s to %s: payment status is %s", o.ID, o.Status, target, o.PaymentStatus)
	}
	return nil
}

// ApplyTransition moves o to target and applies the per-status side effects.
// The caller must have validated the transition.
func ApplyTransition(o *Order, target Status, reason string, now time.Time) {
	stamp := now
	switch target {
	case StatusConfirmed:
		o.Milestones.ConfirmedAt = &stamp
	case StatusCompleted:
		o.Milestones.CompletedAt = &stamp
	case StatusInTransit:
		o.Milestones.InTransitAt = &stamp
	case StatusDeliveryFailed:
		o.Milestones.DeliveryFailedAt = &stamp
	case StatusDelivered:
		o.Milestones.DeliveredAt = &stamp
		elapsed := int(now.Sub(o.CreatedAt).Minutes())
		o.ActualDeliveryMinutes = &elapsed
	case StatusReturned:
		o.Milestones.ReturnedAt = &stamp
	case StatusCancelled:
		o.Milestones.CancelledAt = &stamp
		if o.PaymentStatus == PaymentPaid {
			o.PaymentStatus = PaymentRefundPending
		}
		if reason != "" {
			o.CancellationReason = reason
		}
	case StatusRefunded:
		o.Milestones.RefundedAt = &stamp
	}
	o.Status = target
	o.UpdatedAt = now
}

// CanPromotePayment reports whether a fully covered order may move to paid.
// Refund states are never overwritten by a late confirmation.
func CanPromotePayment(ps PaymentStatus) bool {
	return ps == PaymentPending || ps == PaymentFailed
}
