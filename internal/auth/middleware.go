package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
)

// TokenHeader carries the session token on every authenticated request.
const TokenHeader = "token"

const (
	ctxUserID = "auth.user_id"
	ctxRole   = "auth.role"
)

// RequireUser rejects requests without a valid token and stores the caller's
// id on the context. Admin tokens are accepted too.
func RequireUser(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := parseHeader(c, tokens)
		if !ok {
			return
		}
		c.Set(ctxUserID, claims.ID)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin only lets admin tokens through.
func RequireAdmin(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := parseHeader(c, tokens)
		if !ok {
			return
		}
		if claims.Role != RoleAdmin {
			apierr.Abort(c, apierr.Forbidden("admin role required"))
			return
		}
		c.Set(ctxUserID, claims.ID)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

func parseHeader(c *gin.Context, tokens *Tokens) (*Claims, bool) {
	raw := c.GetHeader(TokenHeader)
	if raw == "" {
		apierr.Abort(c, apierr.Unauthorized("not authorized, login again"))
		return nil, false
	}
	claims, err := tokens.Parse(raw)
	if err != nil {
		apierr.Abort(c, apierr.Unauthorized("invalid token"))
		return nil, false
	}
	return claims, true
}

// UserID returns the id stored by RequireUser or RequireAdmin.
func UserID(c *gin.Context) string { return c.GetString(ctxUserID) }

// IsAdmin reports whether the request carried an admin token.
func IsAdmin(c *gin.Context) bool { return c.GetString(ctxRole) == RoleAdmin }
