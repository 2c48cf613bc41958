// Package app wires the stores and services shared by the API and the worker.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/textile-storefront/internal/auth"
	"github.com/imrishuroy/textile-storefront/internal/aws"
	"github.com/imrishuroy/textile-storefront/internal/catalog"
	"github.com/imrishuroy/textile-storefront/internal/checkout"
	"github.com/imrishuroy/textile-storefront/internal/config"
	"github.com/imrishuroy/textile-storefront/internal/handlers"
	"github.com/imrishuroy/textile-storefront/internal/idempotency"
	"github.com/imrishuroy/textile-storefront/internal/invoice"
	"github.com/imrishuroy/textile-storefront/internal/orders"
	"github.com/imrishuroy/textile-storefront/internal/payment"
	"github.com/imrishuroy/textile-storefront/internal/promo"
	"github.com/imrishuroy/textile-storefront/internal/users"
)

// App holds the wired components. Close releases the Redis connection, if any.
type App struct {
	Config    config.Config
	Clients   *aws.AWSClients
	Catalog   *catalog.Store
	Users     *users.Store
	Orders    *orders.Store
	Idem      *idempotency.Store
	Auth      *auth.Service
	Promos    *promo.Book
	Checkout  *checkout.Service
	Scheduler *checkout.QueueScheduler
	Invoices  *invoice.Service
	Logger    *slog.Logger

	redis *redis.Client
}

// New builds every component from cfg using clients for AWS access.
func New(ctx context.Context, cfg config.Config, clients *aws.AWSClients, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Clients: clients, Logger: logger}

	var cache catalog.Cache
	if cfg.RedisURL != "" {
		rdb, err := catalog.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("catalog cache: %w", err)
		}
		a.redis = rdb
		cache = catalog.NewRedisCache(rdb, cfg.CatalogCacheTTL)
	}

	a.Catalog = catalog.NewStore(clients.DynamoDB, cfg.ProductsTable, cache, logger)
	a.Users = users.NewStore(clients.DynamoDB, cfg.UsersTable)
	a.Orders = orders.NewStore(clients.DynamoDB, cfg.OrdersTable, cfg.OrdersUserIndex)
	a.Idem = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	a.Promos = promo.NewBook(cfg.PromoCodes)
	a.Auth = auth.NewService(a.Users, auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL), auth.NewHasher(cfg.BcryptCost),
		cfg.AdminEmail, cfg.AdminPassword, logger)

	var gateway payment.Gateway = payment.Disabled{}
	if cfg.StripeSecretKey != "" {
		gateway = payment.NewStripe(cfg.StripeSecretKey, cfg.Currency, cfg.CurrencyMultiplier, cfg.FrontendURL)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, checkout sessions are disabled")
	}

	a.Scheduler = checkout.NewQueueScheduler(aws.NewPublisher(clients.SQS, cfg.ReservationQueueURL))
	alerter := aws.NewAlerter(clients.CloudWatch, aws.NewPublisher(clients.SQS, cfg.AlertQueueURL), logger)

	fee := decimal.NewFromFloat(cfg.DeliveryFee)
	a.Checkout = checkout.NewService(checkout.Deps{
		DynamoDB:  clients.DynamoDB,
		Catalog:   a.Catalog,
		Orders:    a.Orders,
		Users:     a.Users,
		Promos:    a.Promos,
		Gateway:   gateway,
		Scheduler: a.Scheduler,
		Alerter:   alerter,
		Logger:    logger,
	}, checkout.Options{
		DeliveryFee:    fee,
		PaymentMethod:  cfg.PaymentMethod,
		ReservationTTL: cfg.ReservationTTL,
	})

	var publisher invoice.Publisher
	if cfg.InvoiceBucket != "" {
		publisher = invoice.NewStore(clients.S3, clients.S3Presign, cfg.InvoiceBucket, cfg.InvoiceURLTTL)
	}
	a.Invoices = invoice.NewService(
		invoice.NewAssembler(a.Orders, a.Users, a.Catalog, fee),
		invoice.NewChromeRenderer(cfg.ChromePath, cfg.RenderTimeout, logger),
		publisher,
		logger,
	)
	return a, nil
}

// HandlerConfig returns the dependencies of the HTTP handlers.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	return handlers.HandlerConfig{
		Catalog:     a.Catalog,
		Users:       a.Users,
		Auth:        a.Auth,
		Checkout:    a.Checkout,
		Idempotency: a.Idem,
		Invoices:    a.Invoices,
		Promos:      a.Promos,
		Logger:      a.Logger,
	}
}

func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
