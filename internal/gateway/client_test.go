package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTokens struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemTokens() *memTokens { return &memTokens{tokens: map[string]string{}} }

func (m *memTokens) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[key]
	return t, ok, nil
}

func (m *memTokens) Put(ctx context.Context, key, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = token
	return nil
}

func (m *memTokens) Invalidate(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeGatewayServer struct {
	logins      int
	orders      int
	rejectToken string
	lastOrder   OrderPayload
}

func (f *fakeGatewayServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.logins++
		token := "tok-1"
		if f.logins > 1 {
			token = "tok-2"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"session": map[string]string{"access_token": token}})
	})
	mux.HandleFunc("/api/orders/create-or-update", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer "+f.rejectToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.orders++
		_ = json.NewDecoder(r.Body).Decode(&f.lastOrder)
		_, _ = w.Write([]byte(`{"id": 991, "numberOfOrder": "KP-991", "status": "R", "total": 150.5, "urlPayment": "pay.example.com/s/991"}`))
	})
	return mux
}

func TestClient_CreateOrUpdateOrder(t *testing.T) {
	fake := &fakeGatewayServer{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	tokens := newMemTokens()
	c := NewClient(Config{Domain: srv.URL, Email: "ops@example.com", Password: "x", Mode: "sandbox", BusinessArea: "ventas", RedirectURL: "https://shop/return"}, tokens, quietLogger())

	resp, err := c.CreateOrUpdateOrder(context.Background(), OrderPayload{NumberOfOrder: "SO-1", Total: 150.5})
	require.NoError(t, err)
	assert.Equal(t, "KP-991", resp.ReceivedOrderID())
	assert.Equal(t, "https://pay.example.com/s/991", resp.URLPayment)
	assert.Equal(t, "ventas", fake.lastOrder.BusinessArea)
	assert.Equal(t, "https://shop/return", fake.lastOrder.RedirectURL)

	_, err = c.CreateOrUpdateOrder(context.Background(), OrderPayload{NumberOfOrder: "SO-2", Total: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.logins, "token is reused from the cache")
	assert.Equal(t, 2, fake.orders)
}

func TestClient_RetriesOnceWithFreshToken(t *testing.T) {
	fake := &fakeGatewayServer{rejectToken: "stale"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	tokens := newMemTokens()
	c := NewClient(Config{Domain: srv.URL, Email: "ops@example.com", Mode: "sandbox"}, tokens, quietLogger())
	require.NoError(t, tokens.Put(context.Background(), c.cacheKey(), "stale", time.Now().Add(time.Hour)))

	_, err := c.CreateOrUpdateOrder(context.Background(), OrderPayload{NumberOfOrder: "SO-1", Total: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.logins)
	tok, ok, _ := tokens.Get(context.Background(), c.cacheKey())
	assert.True(t, ok)
	assert.Equal(t, "tok-1", tok)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/login" {
			_, _ = w.Write([]byte(`{"token":"t"}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"upstream down"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Domain: srv.URL}, nil, quietLogger())
	_, err := c.CreateOrUpdateOrder(context.Background(), OrderPayload{NumberOfOrder: "SO-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNormalizePaymentURL(t *testing.T) {
	assert.Equal(t, "https://pay.example.com/x", NormalizePaymentURL("pay.example.com/x"))
	assert.Equal(t, "http://localhost/x", NormalizePaymentURL("http://localhost/x"))
	assert.Equal(t, "", NormalizePaymentURL(""))
}
