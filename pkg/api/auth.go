package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/github-sentinel/sentinel/pkg/models"
)

// DemoToken authenticates as the demo user, accepted only when
// app.dev_mode is enabled.
const DemoToken = "demo-token"

const demoUsername = "demo"

const userContextKey = "sentinel.user"

// bearerToken extracts the token from the Authorization header or,
// for websocket clients that cannot set headers, the token query
// parameter.
func bearerToken(c *echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	return c.QueryParam("token")
}

// extractUsername reads the identity set by a fronting auth proxy.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email
// (oauth2-proxy) > X-Remote-User (kube-rbac-proxy).
func extractUsername(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return c.Request().Header.Get("X-Remote-User")
}

// authenticate resolves the request's user: proxy identity first, then
// the demo token when dev mode allows it.
func (s *Server) authenticate(c *echo.Context) (*models.User, error) {
	ctx := c.Request().Context()

	if username := extractUsername(c); username != "" {
		u, err := s.store.GetUserByUsername(ctx, username)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusUnauthorized, "unknown user")
		}
		return u, nil
	}

	if token := bearerToken(c); token == DemoToken && s.cfg.App.DevMode {
		u, err := s.store.GetUserByUsername(ctx, demoUsername)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusUnauthorized, "demo user not provisioned")
		}
		return u, nil
	}

	return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid credentials")
}

// requireUser gates a route group behind authentication and stores the
// resolved user on the request context.
func (s *Server) requireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			u, err := s.authenticate(c)
			if err != nil {
				return err
			}
			c.Set(userContextKey, u)
			return next(c)
		}
	}
}

// currentUser returns the user stored by requireUser.
func currentUser(c *echo.Context) *models.User {
	u, _ := c.Get(userContextKey).(*models.User)
	return u
}
