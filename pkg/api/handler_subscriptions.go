package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/github-sentinel/sentinel/pkg/collector"
	"github.com/github-sentinel/sentinel/pkg/models"
)

// SubscriptionRequest is the body for subscription create and update.
type SubscriptionRequest struct {
	Repository string                      `json:"repository"`
	Frequency  models.Cadence              `json:"frequency"`
	Monitor    *models.WatchSet            `json:"monitor_types"`
	Filters    *models.SubscriptionFilters `json:"filters"`
	Delivery   *models.DeliveryConfig      `json:"delivery"`
	Status     models.SubscriptionStatus   `json:"status"`
}

// SyncResponse is returned by POST /api/v1/subscriptions/:id/sync.
type SyncResponse struct {
	TaskKey string `json:"task_key"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// sanitizeSubscription strips delivery secrets from API responses.
func sanitizeSubscription(sub models.Subscription) models.Subscription {
	if sub.Delivery.WebhookSecret != "" {
		sub.Delivery.WebhookSecret = "********"
	}
	return sub
}

func sanitizeSubscriptions(subs []models.Subscription) []models.Subscription {
	out := make([]models.Subscription, len(subs))
	for i, sub := range subs {
		out[i] = sanitizeSubscription(sub)
	}
	return out
}

// ownedSubscription loads the subscription and enforces ownership.
func (s *Server) ownedSubscription(c *echo.Context) (*models.Subscription, error) {
	id, err := pathID(c)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubscription(c.Request().Context(), id)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if u := currentUser(c); u == nil || sub.OwnerUserID != u.ID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	return sub, nil
}

// createSubscriptionHandler handles POST /api/v1/subscriptions.
func (s *Server) createSubscriptionHandler(c *echo.Context) error {
	var req SubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := models.ValidateRepoRef(req.Repository); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sub := &models.Subscription{
		OwnerUserID: currentUser(c).ID,
		Repo:        req.Repository,
		Status:      models.SubscriptionActive,
		Cadence:     models.CadenceDaily,
		Watches:     models.WatchSet{Commits: true, Issues: true, PullRequests: true, Releases: true},
	}
	if req.Frequency != "" {
		if !req.Frequency.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid frequency")
		}
		sub.Cadence = req.Frequency
	}
	if req.Monitor != nil {
		if !req.Monitor.Any() {
			return echo.NewHTTPError(http.StatusBadRequest, "at least one monitor type is required")
		}
		sub.Watches = *req.Monitor
	}
	if req.Filters != nil {
		sub.Filters = *req.Filters
	}
	if req.Delivery != nil {
		sub.Delivery = *req.Delivery
	}

	created, err := s.store.CreateSubscription(c.Request().Context(), sub)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, sanitizeSubscription(*created))
}

// listSubscriptionsHandler handles GET /api/v1/subscriptions.
func (s *Server) listSubscriptionsHandler(c *echo.Context) error {
	status := models.SubscriptionStatus(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	subs, err := s.store.ListSubscriptions(c.Request().Context(), currentUser(c).ID, status)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sanitizeSubscriptions(subs))
}

// getSubscriptionHandler handles GET /api/v1/subscriptions/:id.
func (s *Server) getSubscriptionHandler(c *echo.Context) error {
	sub, err := s.ownedSubscription(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sanitizeSubscription(*sub))
}

// updateSubscriptionHandler handles PUT /api/v1/subscriptions/:id.
func (s *Server) updateSubscriptionHandler(c *echo.Context) error {
	sub, err := s.ownedSubscription(c)
	if err != nil {
		return err
	}
	var req SubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if req.Status != "" {
		if !req.Status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		sub.Status = req.Status
	}
	if req.Frequency != "" {
		if !req.Frequency.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid frequency")
		}
		sub.Cadence = req.Frequency
	}
	if req.Monitor != nil {
		if !req.Monitor.Any() {
			return echo.NewHTTPError(http.StatusBadRequest, "at least one monitor type is required")
		}
		sub.Watches = *req.Monitor
	}
	if req.Filters != nil {
		sub.Filters = *req.Filters
	}
	if req.Delivery != nil {
		sub.Delivery = *req.Delivery
	}

	updated, err := s.store.UpdateSubscription(c.Request().Context(), sub)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sanitizeSubscription(*updated))
}

// deleteSubscriptionHandler handles DELETE /api/v1/subscriptions/:id.
func (s *Server) deleteSubscriptionHandler(c *echo.Context) error {
	sub, err := s.ownedSubscription(c)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSubscription(c.Request().Context(), sub.ID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// listActivitiesHandler handles GET /api/v1/subscriptions/:id/activities.
func (s *Server) listActivitiesHandler(c *echo.Context) error {
	sub, err := s.ownedSubscription(c)
	if err != nil {
		return err
	}

	params := models.ActivityListParams{
		Limit:  intQuery(c, "limit", 50, 200),
		Offset: intQuery(c, "offset", 0, 0),
	}
	if v := c.QueryParam("kind"); v != "" {
		kind := models.ActivityKind(v)
		if !kind.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid kind")
		}
		params.Kind = kind
	}
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since: must be RFC3339")
		}
		params.Since = &t
	}
	if v := c.QueryParam("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid until: must be RFC3339")
		}
		params.Until = &t
	}

	activities, err := s.store.ListActivities(c.Request().Context(), sub.ID, params)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, activities)
}

// syncSubscriptionHandler handles POST /api/v1/subscriptions/:id/sync.
// The collection runs as a background one-shot; a sync already in
// flight for the subscription is rejected with 409.
func (s *Server) syncSubscriptionHandler(c *echo.Context) error {
	sub, err := s.ownedSubscription(c)
	if err != nil {
		return err
	}
	if s.syncer == nil || s.jobs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "collection not available")
	}

	jobKey := fmt.Sprintf("sync:%d", sub.ID)
	target := *sub
	err = s.jobs.SubmitOneShot(jobKey, "manual_sync", "collection", func(ctx context.Context) error {
		_, err := s.syncer.CollectForSubscription(ctx, target, collector.DefaultWindow)
		return err
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, SyncResponse{
		TaskKey: jobKey,
		Status:  "queued",
		Message: "Collection enqueued",
	})
}
