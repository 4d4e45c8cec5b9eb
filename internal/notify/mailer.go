package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/money"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
)

// Email templates understood by the delivery service.
const (
	TemplateOrderConfirmation   = "order_confirmation"
	TemplatePaymentConfirmation = "payment_confirmation"
)

// Message is one outbound email.
type Message struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

// Mailer delivers messages. Callers treat failures as non-fatal.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// OrderConfirmation builds the receipt sent after checkout.
func OrderConfirmation(o orders.Order) Message {
	return Message{
		To:       o.Customer.Email,
		Subject:  fmt.Sprintf("Order %s received", shortID(o.ID)),
		Template: TemplateOrderConfirmation,
		Data:     orderData(o),
	}
}

// PaymentConfirmation builds the message sent when an order becomes paid.
func PaymentConfirmation(o orders.Order) Message {
	return Message{
		To:       o.Customer.Email,
		Subject:  fmt.Sprintf("Payment confirmed for order %s", shortID(o.ID)),
		Template: TemplatePaymentConfirmation,
		Data:     orderData(o),
	}
}

func orderData(o orders.Order) map[string]any {
	return map[string]any{
		"order_id":       o.ID,
		"order_number":   shortID(o.ID),
		"order_group_id": o.OrderGroupID,
		"customer_name":  o.Customer.Name,
		"grand_total":    o.GrandTotal.StringFixed(money.Places),
		"payment_method": o.PaymentMethod,
		"payment_status": string(o.PaymentStatus),
		"address":        o.Address.Text,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// HTTPMailer posts messages as JSON to an email API.
type HTTPMailer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPMailer returns a mailer posting to endpoint.
func NewHTTPMailer(endpoint, apiKey string, timeout time.Duration) *HTTPMailer {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMailer{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("message has no recipient")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send email")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("email api returned %d", resp.StatusCode)
	}
	return nil
}

// LogMailer only logs messages. Used when no email API is configured.
type LogMailer struct {
	Log logrus.FieldLogger
}

func (m LogMailer) Send(ctx context.Context, msg Message) error {
	m.Log.WithFields(logrus.Fields{
		"to":       msg.To,
		"template": msg.Template,
		"subject":  msg.Subject,
	}).Info("email delivery disabled, message dropped")
	return nil
}
