package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
	"github.com/imrishuroy/textile-storefront/internal/catalog"
	"github.com/imrishuroy/textile-storefront/internal/validation"
)

func (a *api) registerTextileRoutes(g *gin.RouterGroup) {
	g.POST("/add", a.admin, a.addProduct)
	g.GET("/list", a.listProducts)
	g.GET("/categories", a.categories)
	g.GET("/:id", a.getProduct)
	g.DELETE("/remove", a.admin, a.removeProduct)
	g.POST("/adjust-stock", a.admin, a.adjustStock)
}

func (a *api) addProduct(c *gin.Context) {
	var req validation.ProductRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	p, err := a.Catalog.Create(c.Request.Context(), catalog.Product{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Image:       req.Image,
	}, req.Stock)
	if err != nil {
		apierr.Abort(c, catalogError(err))
		return
	}
	a.log.InfoContext(c.Request.Context(), "product added", "product_id", p.ID, "stock", p.Stock)
	apierr.OK(c, http.StatusCreated, "product added", p)
}

func (a *api) listProducts(c *gin.Context) {
	var q validation.ListQuery
	if err := validation.BindQuery(c, &q, a.v); err != nil {
		return
	}
	page, err := a.Catalog.List(c.Request.Context(), catalog.Query{
		Search:    q.Search,
		Category:  q.Category,
		MinPrice:  q.MinPrice,
		MaxPrice:  q.MaxPrice,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
		Page:      q.Page,
		Limit:     q.Limit,
	})
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	products := page.Products
	if products == nil {
		products = []catalog.Product{}
	}
	apierr.Fields(c, http.StatusOK, "", gin.H{"data": products, "pagination": page.Pagination})
}

func (a *api) categories(c *gin.Context) {
	cats, err := a.Catalog.Categories(c.Request.Context())
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	apierr.OK(c, http.StatusOK, "", gin.H{"categories": cats})
}

func (a *api) getProduct(c *gin.Context) {
	p, err := a.Catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	if p == nil {
		apierr.Abort(c, apierr.NotFound("product not found"))
		return
	}
	apierr.OK(c, http.StatusOK, "", p)
}

func (a *api) removeProduct(c *gin.Context) {
	var req validation.IDRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	p, err := a.Catalog.Delete(c.Request.Context(), req.ID)
	if err != nil {
		apierr.Abort(c, catalogError(err))
		return
	}
	if p.Reserved() > 0 {
		a.log.WarnContext(c.Request.Context(), "product removed while units were held", "product_id", p.ID, "held", p.Reserved())
	}
	apierr.OK(c, http.StatusOK, "product removed", p)
}

func (a *api) adjustStock(c *gin.Context) {
	var req validation.AdjustStockRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	p, err := a.Catalog.AdjustStock(c.Request.Context(), req.ID, catalog.Adjustment{Delta: req.Delta, Set: req.Set})
	if err != nil {
		apierr.Abort(c, catalogError(err))
		return
	}
	a.log.InfoContext(c.Request.Context(), "stock adjusted", "product_id", p.ID, "stock", p.Stock, "available", p.Available)
	apierr.OK(c, http.StatusOK, "stock updated", p)
}

func catalogError(err error) error {
	var short *catalog.StockShortage
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return apierr.NotFound("product not found")
	case errors.Is(err, catalog.ErrAlreadyExists):
		return apierr.Conflict("product already exists")
	case errors.Is(err, catalog.ErrInvalidProduct):
		return apierr.Validation("name, category and a non-negative price are required")
	case errors.Is(err, catalog.ErrInvalidAdjustment), errors.Is(err, catalog.ErrNegativeStock):
		return apierr.Validation(err.Error())
	case errors.As(err, &short):
		return apierr.New(apierr.KindInsufficientStock, "Insufficient stock: "+short.Reason()).WithDetails(short)
	case errors.Is(err, catalog.ErrInsufficientStock):
		return apierr.New(apierr.KindInsufficientStock, "Insufficient stock")
	case errors.Is(err, catalog.ErrHeldStock), errors.Is(err, catalog.ErrConcurrentUpdate):
		return apierr.Conflict(err.Error())
	}
	return err
}
