// Package app assembles the services shared by the API, the worker and the
// admin CLI.
package app

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/aws"
	"github.com/imrishuroy/go-order-settlement/internal/checkout"
	"github.com/imrishuroy/go-order-settlement/internal/config"
	"github.com/imrishuroy/go-order-settlement/internal/gateway"
	"github.com/imrishuroy/go-order-settlement/internal/handlers"
	"github.com/imrishuroy/go-order-settlement/internal/idempotency"
	"github.com/imrishuroy/go-order-settlement/internal/metrics"
	"github.com/imrishuroy/go-order-settlement/internal/notify"
	"github.com/imrishuroy/go-order-settlement/internal/orders"
	"github.com/imrishuroy/go-order-settlement/internal/reconciliation"
	"github.com/imrishuroy/go-order-settlement/internal/sideeffects"
	"github.com/imrishuroy/go-order-settlement/internal/storage/postgres"
	"github.com/imrishuroy/go-order-settlement/internal/tax"
)

// App holds the wired services.
type App struct {
	Config *config.Config
	Log    *logrus.Logger
	DB     *postgres.DB

	Orders      *postgres.OrderStore
	Engine      *reconciliation.Engine
	Checkout    *checkout.Service
	Status      *orders.StatusService
	Runner      *sideeffects.Runner
	Dispatcher  *sideeffects.Dispatcher
	Idempotency *idempotency.Store // nil without IDEMPOTENCY_TABLE
}

// paidNotifier forwards to the dispatcher, which is built after the engine.
type paidNotifier struct {
	dispatcher *sideeffects.Dispatcher
}

func (n *paidNotifier) OrdersPaid(ctx context.Context, orderGroupID string, orderIDs []string) {
	if n.dispatcher != nil {
		n.dispatcher.OrdersPaid(ctx, orderGroupID, orderIDs)
	}
}

// New connects to Postgres and AWS and wires every service.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init aws clients")
	}

	return Wire(cfg, log, db, clients), nil
}

// Wire builds the services on top of already opened connections.
func Wire(cfg *config.Config, log *logrus.Logger, db *postgres.DB, clients *aws.AWSClients) *App {
	a := &App{Config: cfg, Log: log, DB: db}

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.MetricsNamespace != "" {
		recorder = metrics.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace, log)
	}

	a.Orders = postgres.NewOrderStore(db)
	notifier := &paidNotifier{}
	a.Engine = reconciliation.NewEngine(postgres.NewReconciliationStore(db), notifier, recorder, log)

	var tokens gateway.TokenCache
	if cfg.TokenCacheTable != "" {
		tokens = gateway.NewDynamoTokenCache(clients.DynamoDB, cfg.TokenCacheTable)
	}
	if !cfg.Gateway.Enabled() {
		log.Warn("gateway credentials not configured; gateway orders will fail")
	}
	client := gateway.NewClient(GatewayConfig(cfg.Gateway), tokens, log)
	bridge := gateway.NewBridge(client, postgres.NewGatewayStore(db), a.Engine, log)

	var mailer notify.Mailer = notify.LogMailer{Log: log}
	if cfg.EmailAPIURL != "" {
		mailer = notify.NewHTTPMailer(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.HTTPTimeout)
	}
	a.Runner = sideeffects.NewRunner(bridge, postgres.NewWalletBackfill(db), a.Orders, mailer, log)

	var publisher sideeffects.Publisher
	if cfg.SideEffectsQueueURL != "" {
		publisher = aws.NewPublisher(clients.SQS, cfg.SideEffectsQueueURL)
	}
	a.Dispatcher = sideeffects.NewDispatcher(publisher, a.Runner, log)
	notifier.dispatcher = a.Dispatcher

	partitioner := checkout.NewPartitioner(tax.NewCalculator(postgres.NewTaxRules(db)), log)
	a.Checkout = checkout.NewService(postgres.NewCheckoutStore(db), partitioner, bridge, a.Dispatcher, log)
	a.Status = orders.NewStatusService(a.Orders, a.Orders, recorder, log)

	if cfg.IdempotencyTable != "" {
		a.Idempotency = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	}
	return a
}

// HandlerConfig exposes the services to the HTTP layer.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	hc := handlers.HandlerConfig{
		Checkout:         a.Checkout,
		Webhooks:         a.Engine,
		Orders:           a.Orders,
		Status:           a.Status,
		WebhookSecret:    a.Config.Gateway.WebhookSecret,
		VerifySignatures: !a.Config.Gateway.Sandbox(),
		Log:              a.Log,
	}
	// a typed nil would defeat the handler's nil check
	if a.Idempotency != nil {
		hc.Idempotency = a.Idempotency
	}
	return hc
}

// GatewayConfig maps environment settings to the gateway client config.
func GatewayConfig(g config.Gateway) gateway.Config {
	return gateway.Config{
		Domain:       g.Domain,
		LoginURL:     g.LoginURL,
		OrdersURL:    g.OrdersURL,
		Email:        g.Email,
		Password:     g.Password,
		RedirectURL:  g.RedirectURL,
		Mode:         g.Mode,
		BusinessArea: g.BusinessArea,
		Timeout:      g.Timeout,
	}
}

// Close releases the database pool.
func (a *App) Close() {
	a.DB.Close()
}
