package api

import (
	echo "github.com/labstack/echo/v5"
)

// Baseline security headers on every response, including the websocket
// upgrade and report downloads.
var securityHeaderSet = [...][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
}

func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			for _, hdr := range securityHeaderSet {
				h.Set(hdr[0], hdr[1])
			}
			return next(c)
		}
	}
}
