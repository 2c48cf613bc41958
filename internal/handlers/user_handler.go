package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
	"github.com/imrishuroy/textile-storefront/internal/auth"
	"github.com/imrishuroy/textile-storefront/internal/users"
	"github.com/imrishuroy/textile-storefront/internal/validation"
)

func (a *api) registerUserRoutes(g *gin.RouterGroup) {
	g.POST("/register", a.register)
	g.POST("/login", a.login)
	g.POST("/profile", a.user, a.profile)
	g.GET("/profile", a.user, a.profile)
	g.PUT("/profile", a.user, a.updateProfile)
	g.GET("/all", a.admin, a.listUsers)
	g.GET("/stats", a.admin, a.userStats)
}

func (a *api) registerCartRoutes(g *gin.RouterGroup) {
	g.Use(a.user)
	g.POST("/add", a.addToCart)
	g.POST("/remove", a.removeFromCart)
	g.GET("/get", a.getCart)
	g.POST("/get", a.getCart)
}

func (a *api) registerAdminRoutes(g *gin.RouterGroup) {
	g.POST("/login", a.adminLogin)
	g.GET("/verify", a.admin, func(c *gin.Context) {
		apierr.OK(c, http.StatusOK, "", gin.H{"email": a.Auth.AdminEmail(), "role": auth.RoleAdmin})
	})
}

func (a *api) register(c *gin.Context) {
	var req validation.RegisterRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	token, err := a.Auth.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	apierr.OK(c, http.StatusCreated, "registered", gin.H{"token": token})
}

func (a *api) login(c *gin.Context) {
	var req validation.LoginRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	token, err := a.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	apierr.OK(c, http.StatusOK, "logged in", gin.H{"token": token})
}

func (a *api) profile(c *gin.Context) {
	u, err := a.Users.Get(c.Request.Context(), auth.UserID(c))
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	if u == nil {
		apierr.Abort(c, apierr.NotFound("user not found"))
		return
	}
	apierr.OK(c, http.StatusOK, "", u)
}

func (a *api) updateProfile(c *gin.Context) {
	var req validation.ProfileRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	var password string
	if req.Password != nil {
		password = *req.Password
	}
	u, err := a.Auth.UpdateProfile(c.Request.Context(), auth.UserID(c), users.ProfileUpdate{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Address:     req.Address,
		Preferences: req.Preferences,
	}, password)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	apierr.OK(c, http.StatusOK, "profile updated", u)
}

func (a *api) listUsers(c *gin.Context) {
	var q validation.UserListQuery
	if err := validation.BindQuery(c, &q, a.v); err != nil {
		return
	}
	list, meta, err := a.Users.List(c.Request.Context(), q.Search, q.Page, q.Limit)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	apierr.OK(c, http.StatusOK, "", gin.H{"users": list, "pagination": meta})
}

func (a *api) userStats(c *gin.Context) {
	st, err := a.Users.Stats(c.Request.Context())
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	apierr.OK(c, http.StatusOK, "", st)
}

func (a *api) addToCart(c *gin.Context) {
	var req validation.CartRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	ctx := c.Request.Context()
	p, err := a.Catalog.Get(ctx, req.ItemID)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	if p == nil {
		apierr.Abort(c, apierr.NotFound("product not found"))
		return
	}
	cart, err := a.Users.AddToCart(ctx, auth.UserID(c), req.ItemID)
	if err != nil {
		apierr.Abort(c, userError(err))
		return
	}
	apierr.OK(c, http.StatusOK, "added to cart", gin.H{"cartData": cart})
}

func (a *api) removeFromCart(c *gin.Context) {
	var req validation.CartRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	cart, err := a.Users.RemoveFromCart(c.Request.Context(), auth.UserID(c), req.ItemID)
	if err != nil {
		apierr.Abort(c, userError(err))
		return
	}
	apierr.OK(c, http.StatusOK, "removed from cart", gin.H{"cartData": cart})
}

func (a *api) getCart(c *gin.Context) {
	cart, err := a.Users.GetCart(c.Request.Context(), auth.UserID(c))
	if err != nil {
		apierr.Abort(c, userError(err))
		return
	}
	apierr.OK(c, http.StatusOK, "", gin.H{"cartData": cart})
}

func (a *api) adminLogin(c *gin.Context) {
	var req validation.AdminLoginRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	token, err := a.Auth.AdminLogin(req.Username, req.Password)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	apierr.OK(c, http.StatusOK, "logged in", gin.H{"token": token})
}

func userError(err error) error {
	if errors.Is(err, users.ErrNotFound) {
		return apierr.NotFound("user not found")
	}
	return err
}
