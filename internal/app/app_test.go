package app

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/imrishuroy/go-order-settlement/internal/config"
)

func TestGatewayConfig(t *testing.T) {
	gc := GatewayConfig(config.Gateway{
		Domain:   "https://pay.test",
		Email:    "ops@example.com",
		Password: "pw",
		Mode:     "production",
		Timeout:  5 * time.Second,
	})
	assert.Equal(t, "https://pay.test", gc.Domain)
	assert.Equal(t, "production", gc.Mode)
	assert.Equal(t, 5*time.Second, gc.Timeout)
}

func TestHandlerConfig(t *testing.T) {
	a := &App{
		Config: &config.Config{Gateway: config.Gateway{Mode: "production", WebhookSecret: "s"}},
		Log:    logrus.New(),
	}
	hc := a.HandlerConfig()
	assert.Nil(t, hc.Idempotency)
	assert.True(t, hc.VerifySignatures)
	assert.Equal(t, "s", hc.WebhookSecret)

	a.Config.Gateway.Mode = "sandbox"
	assert.False(t, a.HandlerConfig().VerifySignatures)
}

func TestPaidNotifier_WithoutDispatcher(t *testing.T) {
	assert.NotPanics(t, func() {
		(&paidNotifier{}).OrdersPaid(context.Background(), "g1", []string{"o1"})
	})
}
