package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const ctxBearerToken = "bearer_token"

// BearerTokenFromCtx extracts the caller token stored by BearerTokenMiddleware.
func BearerTokenFromCtx(c echo.Context) (string, bool) {
	tok, ok := c.Get(ctxBearerToken).(string)
	return tok, ok && tok != ""
}

// BearerTokenMiddleware requires "Authorization: Bearer <token>" and stores the token in context.
// The token is relayed to MVola as-is; it is not verified here.
func BearerTokenMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(h, "Bearer ") {
				return unauthorized(c)
			}
			fields := strings.Fields(strings.TrimPrefix(h, "Bearer "))
			if len(fields) == 0 {
				return unauthorized(c)
			}
			c.Set(ctxBearerToken, fields[0])
			return next(c)
		}
	}
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authorization token is missing or invalid"})
}
