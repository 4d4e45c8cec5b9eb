package handlers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/apperr"
	"github.com/imrishuroy/go-order-settlement/internal/checkout"
	"github.com/imrishuroy/go-order-settlement/internal/idempotency"
	"github.com/imrishuroy/go-order-settlement/internal/payments"
	"github.com/imrishuroy/go-order-settlement/internal/validation"
)

func (a *api) checkout(c *gin.Context) {
	ctx := c.Request.Context()
	logger := a.requestLogger(c)

	userID := c.GetHeader(headerUserID)
	if userID == "" {
		unauthenticated(c, headerUserID)
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperr.CodeInvalidRequest, "message": "unreadable body"})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	var req validation.CheckoutRequest
	if err := validation.BindAndValidate(c, &req, a.validator); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	key := ""
	if hk := c.GetHeader(headerIdempotencyKey); hk != "" && a.cfg.Idempotency != nil {
		key = idempotency.Key(idempotency.ScopeCheckout, userID, hk)
		logger = logger.WithField("idempotency_key", key)
		if done := a.acquire(c, key, fingerprint(raw), logger); done {
			return
		}
	}

	res, err := a.cfg.Checkout.Checkout(ctx, checkout.Request{
		UserID:            userID,
		DeliveryAddressID: req.DeliveryAddressID,
		DeliveryNotes:     req.DeliveryNotes,
		TipAmount:         req.TipAmount,
		DeliveryFee:       req.DeliveryFee,
		Payment:           toInstruction(req.Payment),
	})
	if err != nil {
		logger.WithError(err).WithField("code", apperr.CodeOf(err)).Warn("checkout failed")
		if key != "" {
			a.finishFailed(c, key, err, logger)
		}
		writeError(c, err)
		return
	}

	body, err := json.Marshal(res)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.KindInternal, apperr.CodeInternal, err, "encode checkout result"))
		return
	}
	if key != "" {
		if err := a.cfg.Idempotency.MarkDone(ctx, key, res.OrderGroupID, string(body), http.StatusCreated); err != nil {
			logger.WithError(err).Warn("idempotency record not completed")
		}
	}

	c.Header("Location", fmt.Sprintf("/orders/%s", res.Order.ID))
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// acquire claims key for this request. It returns true when a response has
// already been written and the handler must stop.
func (a *api) acquire(c *gin.Context, key, fp string, logger logrus.FieldLogger) bool {
	decision, rec, err := a.cfg.Idempotency.Acquire(c.Request.Context(), key, idempotency.ScopeCheckout, fp)
	if err != nil {
		logger.WithError(err).Error("idempotency check failed")
		writeError(c, apperr.Unavailable(err, "idempotency check"))
		return true
	}
	logger.WithField("decision", decision).Debug("idempotency decision")

	switch decision {
	case idempotency.Proceed:
		return false
	case idempotency.Replay:
		status := rec.ResponseStatus
		if status == 0 {
			status = http.StatusOK
		}
		if rec.ResponseBody == "" {
			c.JSON(status, gin.H{"order_group_id": rec.ResourceID})
			return true
		}
		c.Header("Idempotent-Replay", "true")
		c.Data(status, "application/json; charset=utf-8", []byte(rec.ResponseBody))
	case idempotency.InProgress:
		writeError(c, apperr.Conflict(apperr.CodeRequestInProgress, "a request with this idempotency key is in progress"))
	default:
		writeError(c, apperr.Conflict(apperr.CodeIdempotencyKeyReused, "idempotency key was used for a different request"))
	}
	return true
}

// finishFailed settles the idempotency record after a failed checkout. Client
// errors are stored so a retry sees the same answer; server errors release
// the key for another attempt.
func (a *api) finishFailed(c *gin.Context, key string, cause error, logger logrus.FieldLogger) {
	ctx := c.Request.Context()
	status := apperr.HTTPStatus(cause)
	var err error
	if status < http.StatusInternalServerError {
		msg := cause.Error()
		if ae, ok := apperr.As(cause); ok {
			msg = ae.Message
		}
		body, _ := json.Marshal(gin.H{"code": apperr.CodeOf(cause), "message": msg})
		err = a.cfg.Idempotency.MarkDone(ctx, key, "", string(body), status)
	} else {
		err = a.cfg.Idempotency.MarkFailed(ctx, key, fmt.Sprintf("checkout_failed: %v", cause))
	}
	if err != nil {
		logger.WithError(err).Warn("idempotency record not settled")
	}
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func toInstruction(p *validation.PaymentRequest) *payments.Instruction {
	if p == nil {
		return nil
	}
	in := &payments.Instruction{
		Method:          payments.Method(p.Method),
		SecondaryMethod: payments.Method(p.SecondaryMethod),
		SecondaryAmount: p.SecondaryAmount,
	}
	if p.Wallet != nil {
		in.Wallet = &payments.WalletInstruction{
			Amount:         p.Wallet.Amount,
			UseFullBalance: p.Wallet.UseFullBalance,
		}
	}
	return in
}
