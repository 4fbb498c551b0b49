package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/grant-search-mailer/internal/handler"
	"github.com/iliyamo/grant-search-mailer/internal/middleware"
)

// RegisterRoutes registers the unauthenticated routes. The health check
// pings the credential store.
func RegisterRoutes(e *echo.Echo, store handler.Pinger) {
	e.GET("/healthz", handler.Health(store))
}

// UseCORS allows any origin to call the API, as the search page is served
// from a separate static host.
func UseCORS(e *echo.Echo) {
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "Stripe-Signature", "X-Admin-Token"},
	}))
}

// RegisterAction mounts the action-dispatch endpoint behind the given
// middleware (the rate limiter in production).
func RegisterAction(e *echo.Echo, a *handler.ActionHandler, mw ...echo.MiddlewareFunc) {
	e.POST("/api/action", a.Handle, mw...)
}

// RegisterWebhooks mounts the payment provider callbacks. They authenticate
// by signature, not by token.
func RegisterWebhooks(e *echo.Echo, w *handler.WebhookHandler) {
	e.POST("/api/webhooks/stripe", w.Stripe)
}

// RegisterAuth mounts the token-protected routes under /v1.
func RegisterAuth(e *echo.Echo, p *handler.ProfileHandler, jwtSecret string) {
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.GET("/me", p.Me)
}
