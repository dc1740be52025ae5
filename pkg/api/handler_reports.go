package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/github-sentinel/sentinel/pkg/models"
)

// GenerateReportRequest is the body for POST /api/v1/reports/generate.
type GenerateReportRequest struct {
	SubscriptionID int64               `json:"subscription_id"`
	Kind           models.ReportKind   `json:"report_type"`
	Format         models.ReportFormat `json:"format"`
}

// GenerateReportResponse is returned with 202 Accepted.
type GenerateReportResponse struct {
	TaskID  string         `json:"task_id"`
	Report  *models.Report `json:"report"`
	Message string         `json:"message"`
}

// ownedReport loads the report and enforces ownership.
func (s *Server) ownedReport(c *echo.Context) (*models.Report, error) {
	id, err := pathID(c)
	if err != nil {
		return nil, err
	}
	r, err := s.store.GetReport(c.Request().Context(), id)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if u := currentUser(c); u == nil || r.OwnerUserID != u.ID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	return r, nil
}

// listReportsHandler handles GET /api/v1/reports.
func (s *Server) listReportsHandler(c *echo.Context) error {
	params := models.ReportListParams{
		OwnerUserID: currentUser(c).ID,
		Limit:       intQuery(c, "limit", 50, 200),
		Offset:      intQuery(c, "offset", 0, 0),
	}
	if v := c.QueryParam("report_type"); v != "" {
		kind := models.ReportKind(v)
		if !kind.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid report_type")
		}
		params.Kind = kind
	}
	if v := c.QueryParam("status"); v != "" {
		status := models.ReportStatus(v)
		if !status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		params.Status = status
	}

	reports, err := s.store.ListReports(c.Request().Context(), params)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, reports)
}

// getReportHandler handles GET /api/v1/reports/:id.
func (s *Server) getReportHandler(c *echo.Context) error {
	r, err := s.ownedReport(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

// generateReportHandler handles POST /api/v1/reports/generate.
func (s *Server) generateReportHandler(c *echo.Context) error {
	if s.reports == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "report generation not available")
	}

	var req GenerateReportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SubscriptionID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "subscription_id is required")
	}
	if req.Kind == "" {
		req.Kind = models.ReportDaily
	}
	if !req.Kind.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid report_type")
	}
	if req.Format == "" {
		req.Format = models.FormatHTML
	}
	if !req.Format.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid format")
	}

	sub, err := s.store.GetSubscription(c.Request().Context(), req.SubscriptionID)
	if err != nil {
		return mapServiceError(err)
	}
	if sub.OwnerUserID != currentUser(c).ID {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	taskID, report, err := s.reports.GenerateReport(c.Request().Context(), sub.ID, req.Kind, req.Format)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, GenerateReportResponse{
		TaskID:  taskID,
		Report:  report,
		Message: "Report generation started",
	})
}

// deleteReportHandler handles DELETE /api/v1/reports/:id.
func (s *Server) deleteReportHandler(c *echo.Context) error {
	r, err := s.ownedReport(c)
	if err != nil {
		return err
	}
	if err := s.store.DeleteReport(c.Request().Context(), r.ID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// downloadReportHandler handles GET /api/v1/reports/:id/download.
func (s *Server) downloadReportHandler(c *echo.Context) error {
	r, err := s.ownedReport(c)
	if err != nil {
		return err
	}
	if r.Status != models.ReportCompleted {
		return echo.NewHTTPError(http.StatusConflict, "report is not completed")
	}

	contentType := "text/markdown; charset=utf-8"
	ext := "md"
	if r.Format == models.FormatHTML {
		contentType = "text/html; charset=utf-8"
		ext = "html"
	}
	filename := fmt.Sprintf("report-%d.%s", r.ID, ext)
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, contentType, []byte(r.Body))
}
