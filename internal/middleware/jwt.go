package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/clubops/training-ops/internal/model"
	"github.com/clubops/training-ops/internal/utils"
)

// Context keys under which the authenticated identity is stored.
const (
	CtxUserID = "user_id"
	CtxEmail  = "email"
	CtxRole   = "role"
)

// JWTAuth validates the bearer access token and injects the identity into
// the request context. Missing, malformed and expired tokens all produce
// the same 401 body; the distinction is not surfaced.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := bearerIdentity(c, secret)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			setIdentity(c, id)
			return next(c)
		}
	}
}

// OptionalAuth attaches the identity when a valid bearer token is present
// and proceeds anonymously otherwise. Used by endpoints that personalize
// but do not require login.
func OptionalAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id, ok := bearerIdentity(c, secret); ok {
				setIdentity(c, id)
			}
			return next(c)
		}
	}
}

func bearerIdentity(c echo.Context, secret string) (utils.Identity, bool) {
	auth := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return utils.Identity{}, false
	}
	id, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		return utils.Identity{}, false
	}
	// A signature-valid token carrying a role this system never mints is
	// treated like any other forgery.
	if !model.ValidRole(id.Role) {
		return utils.Identity{}, false
	}
	return id, true
}

func setIdentity(c echo.Context, id utils.Identity) {
	c.Set(CtxUserID, id.UserID)
	c.Set(CtxEmail, id.Email)
	c.Set(CtxRole, id.Role)
}
