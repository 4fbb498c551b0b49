package middleware

import "github.com/labstack/echo/v4"

// Email returns the authenticated account email, or "" when the request
// carried no valid token.
func Email(c echo.Context) string {
	if v, ok := c.Get(ctxEmail).(string); ok {
		return v
	}
	return ""
}

// Tier returns the tier claim of the access token. It is informational only;
// quota decisions re-read the stored account.
func Tier(c echo.Context) string {
	if v, ok := c.Get(ctxTier).(string); ok {
		return v
	}
	return ""
}
