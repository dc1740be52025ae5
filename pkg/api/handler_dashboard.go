package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/github-sentinel/sentinel/pkg/models"
	"github.com/github-sentinel/sentinel/pkg/realtime"
)

// DashboardStatsResponse aggregates read-only counters for the
// dashboard.
type DashboardStatsResponse struct {
	Users         UserStatsResponse            `json:"users"`
	Subscriptions map[string]int               `json:"subscriptions"`
	Activity      map[models.ActivityKind]int  `json:"activity_last_7_days"`
	Reports       map[models.ReportStatus]int  `json:"reports"`
	Realtime      *realtime.Stats              `json:"realtime,omitempty"`
}

// dashboardStatsHandler handles GET /api/v1/dashboard/stats.
func (s *Server) dashboardStatsHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	u := currentUser(c)

	total, active, err := s.store.CountUsers(ctx)
	if err != nil {
		return mapServiceError(err)
	}

	subs, err := s.store.ListSubscriptions(ctx, u.ID, "")
	if err != nil {
		return mapServiceError(err)
	}
	subStats := make(map[string]int)
	subIDs := make([]int64, 0, len(subs))
	for _, sub := range subs {
		subStats[string(sub.Status)]++
		subIDs = append(subIDs, sub.ID)
	}
	subStats["total"] = len(subs)

	now := time.Now().UTC()
	activity := map[models.ActivityKind]int{}
	if len(subIDs) > 0 {
		activity, err = s.store.CountActivitiesByKind(ctx, subIDs, now.AddDate(0, 0, -7), now)
		if err != nil {
			return mapServiceError(err)
		}
	}

	reports, err := s.store.CountReports(ctx, u.ID)
	if err != nil {
		return mapServiceError(err)
	}

	resp := DashboardStatsResponse{
		Users:         UserStatsResponse{Total: total, Active: active},
		Subscriptions: subStats,
		Activity:      activity,
		Reports:       reports,
	}
	if s.hub != nil {
		stats := s.hub.Stats()
		resp.Realtime = &stats
	}
	return c.JSON(http.StatusOK, resp)
}
