package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
	"github.com/imrishuroy/textile-storefront/internal/auth"
	"github.com/imrishuroy/textile-storefront/internal/invoice"
	"github.com/imrishuroy/textile-storefront/internal/validation"
)

func (a *api) registerInvoiceRoutes(g *gin.RouterGroup) {
	g.Use(a.user)
	g.GET("/data/:orderId", a.invoiceData)
	g.GET("/generate/:orderId", a.generateInvoice)
	g.POST("/generate/:orderId", a.generateInvoice)
}

func (a *api) invoiceData(c *gin.Context) {
	d, err := a.Invoices.Data(c.Request.Context(), c.Param("orderId"), auth.UserID(c), auth.IsAdmin(c))
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	apierr.OK(c, http.StatusOK, "", d)
}

func (a *api) generateInvoice(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Param("orderId")

	var req validation.InvoiceRequest
	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		// JSON escaping can grow the document; allow some room over the HTML cap.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*invoice.MaxHTMLBytes)
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				apierr.Abort(c, apierr.Validation("request body too large"))
				return
			}
			apierr.Abort(c, apierr.Wrap(apierr.KindValidation, "invalid request body", err))
			return
		}
	}

	pdf, err := a.Invoices.Generate(ctx, orderID, auth.UserID(c), auth.IsAdmin(c), req.HTMLContent)
	if err != nil {
		apierr.Abort(c, err)
		return
	}

	if c.Query("store") == "true" {
		url, err := a.Invoices.Store(ctx, orderID, pdf)
		if err != nil {
			apierr.Abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+invoice.Filename(orderID)+`"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}
