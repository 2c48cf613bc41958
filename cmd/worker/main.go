package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/textile-storefront/internal/app"
	"github.com/imrishuroy/textile-storefront/internal/aws"
	"github.com/imrishuroy/textile-storefront/internal/config"
	"github.com/imrishuroy/textile-storefront/internal/obs"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger := obs.NewLogger(cfg.LogLevel, cfg.RunLocal)

	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}
	a, err := app.New(ctx, cfg, clients, logger)
	if err != nil {
		log.Fatalf("failed to wire worker: %v", err)
	}
	defer a.Close()

	proc := NewProcessor(a.Checkout, a.Scheduler, logger)

	if cfg.RunLocal {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		logger.Info("[worker] polling", "queue", cfg.ReservationQueueURL)
		NewPoller(clients.SQS, cfg.ReservationQueueURL, proc, logger).Run(ctx)
		logger.Info("[worker] stopped")
		return
	}

	lambda.Start(proc.Handle)
}
