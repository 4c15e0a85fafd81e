package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/app"
	"github.com/imrishuroy/go-table-reservations/internal/config"
	"github.com/imrishuroy/go-table-reservations/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logs, err := logging.New(cfg.LogLevel, cfg.RunLocal)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	a, err := app.New(context.Background(), cfg, logs)
	if err != nil {
		logs.Fatal("failed to build app", zap.Error(err))
	}
	defer a.Close()

	p := NewProcessor(a.Registry, logs)

	// If RESV_RUN_LOCAL=true, process a single simulated SQS message and exit.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"kind":"reservations.sweep"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, err := p.Handle(context.Background(), event)
		a.FlushMetrics(context.Background())
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logs.Fatal("local handler error", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(func(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
		resp, err := p.Handle(ctx, ev)
		a.FlushMetrics(ctx)
		return resp, err
	})
}
