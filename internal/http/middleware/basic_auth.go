package middleware

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/lojinha/sms-dispatcher/internal/store"
)

// AccountFromCtx extracts the authenticated account id set by BasicAuth.
func AccountFromCtx(c echo.Context) (int64, bool) {
	v := c.Get("account_id")
	id, ok := v.(int64)
	return id, ok
}

// IsAdminFromCtx reports whether the authenticated account is an admin.
func IsAdminFromCtx(c echo.Context) bool {
	v, ok := c.Get("account_admin").(bool)
	return ok && v
}

// BasicAuth authenticates requests with HTTP Basic credentials checked
// against the account store. On success it stores the account id and admin
// flag in the request context.
func BasicAuth(accounts *store.Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username, password, ok := c.Request().BasicAuth()
			if !ok {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Basic realm="sms-dispatcher"`)
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing credentials"})
			}

			acc, err := accounts.VerifyCredentials(c.Request().Context(), username, password)
			if errors.Is(err, store.ErrInvalidCredentials) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			}
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}

			c.Set("account_id", acc.ID)
			c.Set("account_admin", acc.IsAdmin)
			return next(c)
		}
	}
}

// AdminOnly rejects non-admin accounts. It expects BasicAuth to have run.
func AdminOnly() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !IsAdminFromCtx(c) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "admin only"})
			}
			return next(c)
		}
	}
}
