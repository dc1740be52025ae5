package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/github-sentinel/sentinel/pkg/models"
)

// UserRequest is the body for user create and update.
type UserRequest struct {
	Username    string                  `json:"username"`
	Email       string                  `json:"email"`
	FullName    string                  `json:"full_name"`
	Active      *bool                   `json:"is_active"`
	Preferences *models.UserPreferences `json:"preferences"`
}

// UserStatsResponse is returned by GET /api/v1/users/stats/count.
type UserStatsResponse struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

func pathID(c *echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func intQuery(c *echo.Context, name string, fallback, max int) int {
	v := c.QueryParam(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

// createUserHandler handles POST /api/v1/users.
func (s *Server) createUserHandler(c *echo.Context) error {
	var req UserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Username == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username is required")
	}
	if req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	u, err := s.store.CreateUser(c.Request().Context(), &models.User{
		Username:    req.Username,
		Email:       req.Email,
		FullName:    req.FullName,
		Active:      active,
		Preferences: req.Preferences,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, u)
}

// listUsersHandler handles GET /api/v1/users.
func (s *Server) listUsersHandler(c *echo.Context) error {
	limit := intQuery(c, "limit", 50, 200)
	offset := intQuery(c, "offset", 0, 0)

	users, err := s.store.ListUsers(c.Request().Context(), limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, users)
}

// getUserHandler handles GET /api/v1/users/:id.
func (s *Server) getUserHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	u, err := s.store.GetUser(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, u)
}

// updateUserHandler handles PUT /api/v1/users/:id.
func (s *Server) updateUserHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req UserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	u, err := s.store.GetUser(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	if req.Username != "" {
		u.Username = req.Username
	}
	if req.Email != "" {
		u.Email = req.Email
	}
	if req.FullName != "" {
		u.FullName = req.FullName
	}
	if req.Active != nil {
		u.Active = *req.Active
	}
	if req.Preferences != nil {
		u.Preferences = req.Preferences
	}

	updated, err := s.store.UpdateUser(c.Request().Context(), u)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// deleteUserHandler handles DELETE /api/v1/users/:id.
func (s *Server) deleteUserHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUser(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// userStatsHandler handles GET /api/v1/users/stats/count.
func (s *Server) userStatsHandler(c *echo.Context) error {
	total, active, err := s.store.CountUsers(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, UserStatsResponse{Total: total, Active: active})
}
