// Package handlers exposes the storefront HTTP API under /api.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
	"github.com/imrishuroy/textile-storefront/internal/auth"
	"github.com/imrishuroy/textile-storefront/internal/catalog"
	"github.com/imrishuroy/textile-storefront/internal/checkout"
	"github.com/imrishuroy/textile-storefront/internal/idempotency"
	"github.com/imrishuroy/textile-storefront/internal/invoice"
	"github.com/imrishuroy/textile-storefront/internal/promo"
	"github.com/imrishuroy/textile-storefront/internal/users"
	"github.com/imrishuroy/textile-storefront/internal/validation"
)

// HandlerConfig groups the dependencies of the API handlers.
type HandlerConfig struct {
	Catalog     *catalog.Store
	Users       *users.Store
	Auth        *auth.Service
	Checkout    *checkout.Service
	Idempotency *idempotency.Store
	Invoices    *invoice.Service
	Promos      *promo.Book
	Logger      *slog.Logger
}

type api struct {
	HandlerConfig
	v     *validatorv10.Validate
	log   *slog.Logger
	user  gin.HandlerFunc
	admin gin.HandlerFunc
}

// RegisterRoutes mounts every route group under /api.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{
		HandlerConfig: cfg,
		v:             validation.New(),
		log:           logger.With("component", "http"),
		user:          auth.RequireUser(cfg.Auth.Tokens()),
		admin:         auth.RequireAdmin(cfg.Auth.Tokens()),
	}

	g := r.Group("/api")
	g.GET("/health", func(c *gin.Context) {
		apierr.OK(c, http.StatusOK, "ok", gin.H{"status": "ok"})
	})
	a.registerTextileRoutes(g.Group("/textile"))
	a.registerUserRoutes(g.Group("/user"))
	a.registerCartRoutes(g.Group("/cart"))
	a.registerOrderRoutes(g.Group("/order"))
	a.registerInvoiceRoutes(g.Group("/invoice"))
	a.registerAdminRoutes(g.Group("/admin"))
	a.registerPromoRoutes(g.Group("/promo"))

	r.NoRoute(func(c *gin.Context) {
		apierr.Abort(c, apierr.NotFound("route not found"))
	})
}
