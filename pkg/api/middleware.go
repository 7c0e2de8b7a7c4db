package api

import (
	echo "github.com/labstack/echo/v5"
	"github.com/google/uuid"
)

// requestIDKey is the context key under which the request id is stored.
const requestIDKey = "request_id"

// requestIDHeader is echoed back to clients for correlation.
const requestIDHeader = "X-Request-ID"

// requestID returns middleware that assigns every request a UUID, reusing a
// client-supplied X-Request-ID when present.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.New().String()
			}
			c.Set(requestIDKey, id)
			c.Response().Header().Set(requestIDHeader, id)
			return next(c)
		}
	}
}

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}
