package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/app"
	"github.com/imrishuroy/go-order-settlement/internal/config"
	"github.com/imrishuroy/go-order-settlement/internal/handlers"
	"github.com/imrishuroy/go-order-settlement/internal/logging"
)

func setupRouter(cfg handlers.HandlerConfig, production bool) *gin.Engine {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	handlers.RegisterRoutes(r, cfg)
	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	log := logging.New(cfg.LogLevel, cfg.Production())

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to init services")
	}
	defer a.Close()

	r := setupRouter(a.HandlerConfig(), cfg.Production())

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.RunLocal {
		addr := ":" + cfg.Port
		log.WithField("addr", addr).Info("running local server")
		if err := r.Run(addr); err != nil {
			log.WithError(err).Fatal("failed to run local server")
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
