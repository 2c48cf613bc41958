package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
	"github.com/imrishuroy/textile-storefront/internal/validation"
)

func (a *api) registerPromoRoutes(g *gin.RouterGroup) {
	g.POST("/validate", a.user, func(c *gin.Context) {
		var req validation.PromoRequest
		if err := validation.BindAndValidate(c, &req, a.v); err != nil {
			return
		}
		code, ok := a.Promos.Lookup(req.Code)
		if !ok {
			apierr.Abort(c, apierr.NotFound("invalid promo code"))
			return
		}
		apierr.OK(c, http.StatusOK, "promo code applied", code)
	})
	g.GET("/all", a.admin, func(c *gin.Context) {
		apierr.OK(c, http.StatusOK, "", gin.H{"codes": a.Promos.All()})
	})
}
