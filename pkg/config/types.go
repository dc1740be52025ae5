// Package config loads and validates the sentinel YAML configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	GitHub       GitHubConfig       `yaml:"github"`
	AI           AIConfig           `yaml:"ai"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Notification NotificationConfig `yaml:"notification"`
	Retention    RetentionConfig    `yaml:"retention"`
	LogLevel     string             `yaml:"log_level"`
	LogFile      string             `yaml:"log_file"`
}

// AppConfig groups HTTP server and process-level settings.
type AppConfig struct {
	Name    string `yaml:"name"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DevMode bool   `yaml:"dev_mode"`
	Debug   bool   `yaml:"debug"`
}

// Addr returns the host:port the HTTP server binds to.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// DatabaseConfig holds Postgres connection settings. URL takes
// precedence over the discrete fields when set.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
}

// DSN returns the connection string for database/sql.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// RedisConfig is accepted for compatibility with existing deployments.
// No component binds it; caching is disabled by default.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// GitHubConfig holds platform client settings.
type GitHubConfig struct {
	Token              string        `yaml:"token"`
	APIURL             string        `yaml:"api_url"`
	Retries            int           `yaml:"retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	MaxRequestsPerHour int           `yaml:"max_requests_per_hour"`
	MaxPages           int           `yaml:"max_pages"`
	RateWaitCeiling    time.Duration `yaml:"rate_wait_ceiling"`
}

// AIConfig holds LLM adapter settings.
type AIConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// ScheduleConfig drives the cron scheduler.
type ScheduleConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DailyTime  string `yaml:"daily_time"` // HH:MM local to Timezone
	WeeklyDay  int    `yaml:"weekly_day"` // 1=Monday .. 7=Sunday
	WeeklyTime string `yaml:"weekly_time"`
	Timezone   string `yaml:"timezone"`
}

// NotificationConfig groups the delivery channel settings.
type NotificationConfig struct {
	Email   EmailConfig   `yaml:"email"`
	Chat    ChatConfig    `yaml:"chat"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// EmailConfig holds SMTP submission settings.
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// ChatConfig holds incoming-webhook chat bridge settings.
type ChatConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig holds generic webhook delivery settings.
type WebhookConfig struct {
	Enabled bool     `yaml:"enabled"`
	URLs    []string `yaml:"urls"`
	Secret  string   `yaml:"secret"`
}

// RetentionConfig bounds how long derived data is kept.
type RetentionConfig struct {
	ActivityDays      int `yaml:"activity_days"`
	TaskExecutionDays int `yaml:"task_execution_days"`
}

// Location resolves the configured timezone, falling back to UTC.
func (s ScheduleConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
