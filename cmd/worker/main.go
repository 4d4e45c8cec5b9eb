package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-order-settlement/internal/app"
	"github.com/imrishuroy/go-order-settlement/internal/config"
	"github.com/imrishuroy/go-order-settlement/internal/logging"
)

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

	var guard JobGuard
	if a.Idempotency != nil {
		guard = a.Idempotency
	}
	p := NewProcessor(a.Runner, guard, log)

	// RUN_LOCAL=true processes one message from LOCAL_SQS_BODY and exits.
	if cfg.RunLocal {
		event := events.SQSEvent{Records: []events.SQSMessage{{
			MessageId: "local-1",
			Body:      os.Getenv("LOCAL_SQS_BODY"),
		}}}
		resp, _ := p.Handle(context.Background(), event)
		if len(resp.BatchItemFailures) > 0 {
			log.Fatal("local job failed")
		}
		return
	}

	lambda.Start(p.Handle)
}
