package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/reconciliation"
)

var webhookAck = gin.H{"success": true, "message": "webhook received"}

// paymentWebhook acknowledges every delivery with the same body once the
// signature passes, so the gateway never learns which order numbers exist.
// Processing failures are logged and left for the next delivery.
func (a *api) paymentWebhook(c *gin.Context) {
	logger := a.requestLogger(c)

	raw, err := c.GetRawData()
	if err != nil {
		logger.WithError(err).Warn("webhook body unreadable")
		c.JSON(http.StatusOK, webhookAck)
		return
	}

	if a.cfg.VerifySignatures && a.cfg.WebhookSecret != "" {
		if !ValidSignature(a.cfg.WebhookSecret, raw, c.GetHeader(headerSignature)) {
			logger.Warn("webhook signature rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid signature"})
			return
		}
	}

	ev, err := reconciliation.ParseWebhook(raw)
	if err != nil {
		logger.WithError(err).Warn("webhook payload rejected")
		c.JSON(http.StatusOK, webhookAck)
		return
	}

	logger = logger.WithFields(logrus.Fields{
		"vendor_order_number": ev.VendorOrderNumber,
		"failed":              ev.Failed,
	})
	out, err := a.cfg.Webhooks.Apply(c.Request.Context(), ev)
	switch {
	case err != nil:
		logger.WithError(err).Error("webhook processing failed")
	case !out.Matched():
		logger.Info("webhook matched no orders")
	default:
		logger.WithFields(logrus.Fields{
			"resolution": out.Resolution,
			"paid":       len(out.Paid),
		}).Info("webhook applied")
	}
	c.JSON(http.StatusOK, webhookAck)
}

// ValidSignature checks a hex HMAC-SHA256 of body, with or without a
// "sha256=" prefix.
func ValidSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
