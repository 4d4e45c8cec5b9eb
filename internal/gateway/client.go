package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TokenTTL is how long a login token is reused before logging in again.
const TokenTTL = 50 * time.Minute

// ErrUnauthorized is returned when the gateway rejects the bearer token.
var ErrUnauthorized = errors.New("gateway rejected credentials")

// Config holds gateway endpoints and credentials.
type Config struct {
	Domain       string
	LoginURL     string
	OrdersURL    string
	Email        string
	Password     string
	RedirectURL  string
	Mode         string
	BusinessArea string
	Timeout      time.Duration
}

func (c Config) loginURL() string {
	if c.LoginURL != "" {
		return c.LoginURL
	}
	return strings.TrimRight(c.Domain, "/") + "/api/auth/login"
}

func (c Config) ordersURL() string {
	if c.OrdersURL != "" {
		return c.OrdersURL
	}
	return strings.TrimRight(c.Domain, "/") + "/api/orders/create-or-update"
}

// Customer is the payer block of a gateway order.
type Customer struct {
	ForeignID   string `json:"foreignId"`
	FullName    string `json:"fullName"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
}

// Operation is one line of a gateway order.
type Operation struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// OrderPayload is the create-or-update request body.
type OrderPayload struct {
	BusinessArea  string         `json:"businessArea"`
	NumberOfOrder string         `json:"numberOfOrder"`
	Status        string         `json:"status"`
	Total         float64        `json:"total"`
	Customer      Customer       `json:"customer"`
	Operations    []Operation    `json:"operations"`
	RedirectURL   string         `json:"redirectUrl,omitempty"`
	Additional    map[string]any `json:"additional,omitempty"`
}

// OrderResponse is the gateway's answer to create-or-update.
type OrderResponse struct {
	ID            json.Number `json:"id"`
	NumberOfOrder string      `json:"numberOfOrder"`
	Status        string      `json:"status"`
	Total         float64     `json:"total"`
	URLPayment    string      `json:"urlPayment"`
}

// ReceivedOrderID is the identifier the gateway assigned, which may differ
// from the number that was sent.
func (r *OrderResponse) ReceivedOrderID() string {
	if r.NumberOfOrder != "" {
		return r.NumberOfOrder
	}
	return r.ID.String()
}

type loginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	Session     *struct {
		AccessToken string `json:"access_token"`
	} `json:"session"`
	Data *struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

func (r loginResponse) token() string {
	switch {
	case r.Session != nil && r.Session.AccessToken != "":
		return r.Session.AccessToken
	case r.Token != "":
		return r.Token
	case r.AccessToken != "":
		return r.AccessToken
	case r.Data != nil && r.Data.Token != "":
		return r.Data.Token
	case r.Data != nil:
		return r.Data.AccessToken
	}
	return ""
}

// Client talks to the hosted payment gateway.
type Client struct {
	cfg     Config
	http    *http.Client
	tokens  TokenCache
	log     logrus.FieldLogger
	nowFunc func() time.Time
}

// NewClient returns a gateway client. tokens may be nil, in which case every
// call logs in.
func NewClient(cfg Config, tokens TokenCache, log logrus.FieldLogger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		log:     log,
		nowFunc: time.Now,
	}
}

// Mode returns the configured gateway mode, e.g. sandbox or production.
func (c *Client) Mode() string { return c.cfg.Mode }

func (c *Client) cacheKey() string {
	return c.cfg.Mode + ":" + c.cfg.Email
}

// Login authenticates and returns a bearer token, using the cache when possible.
func (c *Client) Login(ctx context.Context) (string, error) {
	key := c.cacheKey()
	if c.tokens != nil {
		token, ok, err := c.tokens.Get(ctx, key)
		if err != nil {
			c.log.WithError(err).Warn("gateway token cache read failed")
		} else if ok {
			return token, nil
		}
	}

	body, err := json.Marshal(map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal login")
	}

	var resp loginResponse
	if err := c.post(ctx, c.cfg.loginURL(), "", body, &resp); err != nil {
		return "", errors.Wrap(err, "gateway login")
	}
	token := resp.token()
	if token == "" {
		return "", errors.New("gateway login returned no token")
	}

	if c.tokens != nil {
		if err := c.tokens.Put(ctx, key, token, c.nowFunc().Add(TokenTTL)); err != nil {
			c.log.WithError(err).Warn("gateway token cache write failed")
		}
	}
	return token, nil
}

// CreateOrUpdateOrder creates the remote order, retrying once with a fresh
// token when the cached one is rejected.
func (c *Client) CreateOrUpdateOrder(ctx context.Context, payload OrderPayload) (*OrderResponse, error) {
	if payload.BusinessArea == "" {
		payload.BusinessArea = c.cfg.BusinessArea
	}
	if payload.RedirectURL == "" {
		payload.RedirectURL = c.cfg.RedirectURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal order")
	}

	var resp OrderResponse
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.Login(ctx)
		if err != nil {
			return nil, err
		}
		err = c.post(ctx, c.cfg.ordersURL(), token, body, &resp)
		if errors.Is(err, ErrUnauthorized) && attempt == 0 && c.tokens != nil {
			if ierr := c.tokens.Invalidate(ctx, c.cacheKey()); ierr != nil {
				c.log.WithError(ierr).Warn("gateway token cache invalidate failed")
			}
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "create gateway order %s", payload.NumberOfOrder)
		}
		break
	}

	resp.URLPayment = NormalizePaymentURL(resp.URLPayment)
	c.log.WithFields(logrus.Fields{
		"sent_order_number":     payload.NumberOfOrder,
		"received_order_number": resp.ReceivedOrderID(),
	}).Info("gateway order created")
	return &resp, nil
}

// NormalizePaymentURL prefixes a scheme-less URL with https.
func NormalizePaymentURL(u string) string {
	if u == "" || strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return "https://" + u
}

func (c *Client) post(ctx context.Context, url, token string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, truncate(string(raw), 256))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
