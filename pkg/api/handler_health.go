package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/github-sentinel/sentinel/pkg/database"
	"github.com/github-sentinel/sentinel/pkg/version"
)

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Service  string                 `json:"service"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database,omitempty"`
}

// healthHandler handles GET /api/v1/health.
func (s *Server) healthHandler(c *echo.Context) error {
	resp := HealthResponse{
		Status:  "healthy",
		Service: version.ServiceName,
		Version: version.Version,
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := database.Health(ctx, s.db)
		resp.Database = dbHealth
		if err != nil {
			resp.Status = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}

	return c.JSON(http.StatusOK, resp)
}
