package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/app"
	"github.com/imrishuroy/go-table-reservations/internal/config"
	"github.com/imrishuroy/go-table-reservations/internal/handlers"
	"github.com/imrishuroy/go-table-reservations/internal/logging"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterReservationRoutes(r, cfg)

	return r
}

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

	r := setupRouter(handlers.HandlerConfig{
		Bookings:    a.Booking,
		Idempotency: a.Idempotency,
		Logs:        logs,
		RetryAfter:  cfg.LockMaxBackoff,
	})

	// RESV_RUN_LOCAL=true runs a plain HTTP server for development.
	if cfg.RunLocal {
		logs.Info("running local server", zap.String("addr", cfg.ListenAddr), zap.String("store", cfg.StoreDriver))
		if err := r.Run(cfg.ListenAddr); err != nil {
			logs.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
