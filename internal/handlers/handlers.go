// Package handlers exposes the settlement API over gin.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/apperr"
	"github.com/imrishuroy/go-order-settlement/internal/checkout"
	"github.com/imrishuroy/go-order-settlement/internal/idempotency"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
	"github.com/imrishuroy/go-order-settlement/internal/reconciliation"
	"github.com/imrishuroy/go-order-settlement/internal/validation"
)

const (
	headerUserID         = "X-User-ID"
	headerActorID        = "X-Actor-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerSignature      = "X-Gateway-Signature"
	headerRequestID      = "X-Request-Id"
)

// CheckoutService turns a cart into orders.
type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

// WebhookApplier applies parsed gateway events.
type WebhookApplier interface {
	Apply(ctx context.Context, ev reconciliation.Event) (*reconciliation.Outcome, error)
}

// OrderReader serves the read endpoints.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	OrdersByGroup(ctx context.Context, orderGroupID string) ([]orders.Order, error)
	Transactions(ctx context.Context, orderID string) ([]payments.Transaction, error)
}

// StatusUpdater applies staff status changes.
type StatusUpdater interface {
	Transition(ctx context.Context, req orders.TransitionRequest) (*orders.Order, error)
}

// IdempotencyStore guards checkout retries. Optional.
type IdempotencyStore interface {
	Acquire(ctx context.Context, key, scope, fingerprint string) (idempotency.Decision, *idempotency.Record, error)
	MarkDone(ctx context.Context, key, resourceID, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// HandlerConfig groups dependencies for the API routes.
type HandlerConfig struct {
	Checkout    CheckoutService
	Webhooks    WebhookApplier
	Orders      OrderReader
	Status      StatusUpdater
	Idempotency IdempotencyStore

	// WebhookSecret enables the HMAC check on webhook bodies when
	// VerifySignatures is also set.
	WebhookSecret    string
	VerifySignatures bool

	Log logrus.FieldLogger
}

type api struct {
	cfg       HandlerConfig
	validator *validatorv10.Validate
	log       logrus.FieldLogger
}

// RegisterRoutes mounts every API route on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	a := &api{cfg: cfg, validator: validation.New(), log: cfg.Log}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/checkout", a.checkout)
	r.POST("/webhooks/payments", a.paymentWebhook)
	r.GET("/orders/:id", a.getOrder)
	r.PATCH("/orders/:id/status", a.updateStatus)
	r.GET("/order-groups/:groupId", a.getOrderGroup)
}

// requestLogger tags the log line with the caller's request id when present.
func (a *api) requestLogger(c *gin.Context) logrus.FieldLogger {
	logger := a.log.WithField("path", c.FullPath())
	if id := c.GetHeader(headerRequestID); id != "" {
		logger = logger.WithField("request_id", id)
	}
	return logger
}

// writeError maps err to its status and a {code, message} body. Server-side
// failures hide their cause from the caller.
func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	msg := "internal error"
	if ae, ok := apperr.As(err); ok && (status < 500 || ae.Kind == apperr.KindExternal) {
		msg = ae.Message
	} else if status == http.StatusServiceUnavailable {
		msg = "service temporarily unavailable"
	}
	c.JSON(status, gin.H{"code": apperr.CodeOf(err), "message": msg})
}

func unauthenticated(c *gin.Context, header string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"code":    apperr.CodeInvalidRequest,
		"message": "missing " + header + " header",
	})
}
