package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/grant-search-mailer/internal/utils"
)

// Context keys set by JWTAuth.
const (
	ctxEmail = "email"
	ctxTier  = "tier"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// stores the token's subject (the account email) and tier claim in the
// request context.  Handlers read them with Email(c) and Tier(c).
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			c.Set(ctxEmail, claims.Subject)
			c.Set(ctxTier, claims.Tier)
			return next(c)
		}
	}
}
