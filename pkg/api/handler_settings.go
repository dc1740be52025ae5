package api

import (
	"net/http"
	"os"
	"path/filepath"

	echo "github.com/labstack/echo/v5"
	"gopkg.in/yaml.v3"

	"github.com/github-sentinel/sentinel/pkg/config"
)

const redacted = "********"

// SettingsResponse is the sanitized configuration snapshot.
type SettingsResponse struct {
	App          config.AppConfig          `json:"app"`
	GitHub       config.GitHubConfig       `json:"github"`
	AI           config.AIConfig           `json:"ai"`
	Schedule     config.ScheduleConfig     `json:"schedule"`
	Notification config.NotificationConfig `json:"notification"`
	Retention    config.RetentionConfig    `json:"retention"`
	LogLevel     string                    `json:"log_level"`
}

// SettingsRequest carries the mutable sections of the configuration.
type SettingsRequest struct {
	Schedule     *config.ScheduleConfig     `json:"schedule"`
	Notification *config.NotificationConfig `json:"notification"`
	Retention    *config.RetentionConfig    `json:"retention"`
	LogLevel     string                     `json:"log_level"`
}

// SetConfigDir enables persisting settings updates back to the YAML
// file. Without it updates apply to the running process only.
func (s *Server) SetConfigDir(dir string) {
	s.cfgDir = dir
}

// getSettingsHandler handles GET /api/v1/settings. Secrets are
// redacted, never returned.
func (s *Server) getSettingsHandler(c *echo.Context) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	resp := SettingsResponse{
		App:          s.cfg.App,
		GitHub:       s.cfg.GitHub,
		AI:           s.cfg.AI,
		Schedule:     s.cfg.Schedule,
		Notification: s.cfg.Notification,
		Retention:    s.cfg.Retention,
		LogLevel:     s.cfg.LogLevel,
	}
	if resp.GitHub.Token != "" {
		resp.GitHub.Token = redacted
	}
	if resp.AI.APIKey != "" {
		resp.AI.APIKey = redacted
	}
	if resp.Notification.Email.Password != "" {
		resp.Notification.Email.Password = redacted
	}
	if resp.Notification.Webhook.Secret != "" {
		resp.Notification.Webhook.Secret = redacted
	}
	return c.JSON(http.StatusOK, resp)
}

// updateSettingsHandler handles PUT /api/v1/settings. The update is
// validated against the full configuration before it is applied.
func (s *Server) updateSettingsHandler(c *echo.Context) error {
	var req SettingsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	candidate := *s.cfg
	if req.Schedule != nil {
		candidate.Schedule = *req.Schedule
	}
	if req.Notification != nil {
		candidate.Notification = *req.Notification
	}
	if req.Retention != nil {
		candidate.Retention = *req.Retention
	}
	if req.LogLevel != "" {
		candidate.LogLevel = req.LogLevel
	}

	if err := config.Validate(&candidate); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	*s.cfg = candidate
	if s.cfgDir != "" {
		if err := writeConfigFile(s.cfgDir, s.cfg); err != nil {
			s.logger.Warn("Settings persisted in memory only", "error", err)
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
}

func writeConfigFile(dir string, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.yml"), data, 0o600)
}
