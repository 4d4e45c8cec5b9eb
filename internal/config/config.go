// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Gateway holds the payment gateway credentials and endpoints, read from
// GATEWAY_* variables.
type Gateway struct {
	Domain        string        `envconfig:"DOMAIN"`
	LoginURL      string        `envconfig:"LOGIN_URL"`
	OrdersURL     string        `envconfig:"ORDERS_URL"`
	Email         string        `envconfig:"EMAIL"`
	Password      string        `envconfig:"PASSWORD"`
	RedirectURL   string        `envconfig:"REDIRECT_URL"`
	WebhookSecret string        `envconfig:"WEBHOOK_SECRET"`
	Mode          string        `envconfig:"MODE" default:"sandbox"`
	BusinessArea  string        `envconfig:"BUSINESS_AREA"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"15s"`
}

// Sandbox reports whether the gateway runs in test mode.
func (g Gateway) Sandbox() bool { return g.Mode == "" || g.Mode == "sandbox" }

// Enabled reports whether enough is configured to call the gateway.
func (g Gateway) Enabled() bool { return g.Domain != "" && g.Email != "" && g.Password != "" }

// Config is the full process configuration.
type Config struct {
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	RunLocal bool   `envconfig:"RUN_LOCAL"`
	Port     string `envconfig:"PORT" default:"8080"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	AWSRegion           string        `envconfig:"AWS_REGION" default:"us-east-1"`
	IdempotencyTable    string        `envconfig:"IDEMPOTENCY_TABLE"`
	IdempotencyTTL      time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"48h"`
	TokenCacheTable     string        `envconfig:"TOKEN_CACHE_TABLE"`
	SideEffectsQueueURL string        `envconfig:"SIDE_EFFECTS_QUEUE_URL"`
	MetricsNamespace    string        `envconfig:"METRICS_NAMESPACE"`

	Gateway Gateway `envconfig:"GATEWAY"`

	EmailAPIURL string        `envconfig:"EMAIL_API_URL"`
	EmailAPIKey string        `envconfig:"EMAIL_API_KEY"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`
}

// Production reports whether the process runs in production.
func (c *Config) Production() bool { return c.Env == "production" }

// Load reads a .env file outside production, then the environment.
func Load() (*Config, error) {
	if os.Getenv("ENV") != "production" {
		// a missing .env is normal outside local development
		_ = godotenv.Load()
	}
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks combinations envconfig cannot express.
func (c *Config) Validate() error {
	if c.Production() && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required in production")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive, got %s", c.IdempotencyTTL)
	}
	if !c.Gateway.Sandbox() && c.Gateway.Mode != "production" {
		return fmt.Errorf("GATEWAY_MODE must be sandbox or production, got %q", c.Gateway.Mode)
	}
	return nil
}
