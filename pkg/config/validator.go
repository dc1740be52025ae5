package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

var clockPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

var logLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the resolved configuration for values the process
// cannot start with. The GitHub token is deliberately not checked here;
// it is required at startup only when an active subscription exists.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.App.Port < 1 || cfg.App.Port > 65535 {
		errs = append(errs, NewValidationError("app", "port",
			fmt.Errorf("port %d out of range", cfg.App.Port)))
	}
	if !logLevels[cfg.LogLevel] {
		errs = append(errs, NewValidationError("log_level", "",
			fmt.Errorf("unknown level %q", cfg.LogLevel)))
	}

	if cfg.Database.URL == "" && cfg.Database.Name == "" {
		errs = append(errs, NewValidationError("database", "name",
			errors.New("database url or name is required")))
	}

	if cfg.GitHub.Retries < 0 {
		errs = append(errs, NewValidationError("github", "retries",
			errors.New("must be non-negative")))
	}
	if cfg.GitHub.MaxPages < 1 {
		errs = append(errs, NewValidationError("github", "max_pages",
			errors.New("must be at least 1")))
	}
	if cfg.GitHub.MaxRequestsPerHour < 1 {
		errs = append(errs, NewValidationError("github", "max_requests_per_hour",
			errors.New("must be at least 1")))
	}

	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		errs = append(errs, NewValidationError("ai", "temperature",
			fmt.Errorf("%v out of range [0, 2]", cfg.AI.Temperature)))
	}
	if cfg.AI.MaxTokens < 1 {
		errs = append(errs, NewValidationError("ai", "max_tokens",
			errors.New("must be at least 1")))
	}

	if cfg.Schedule.Enabled {
		if !clockPattern.MatchString(cfg.Schedule.DailyTime) {
			errs = append(errs, NewValidationError("schedule", "daily_time",
				fmt.Errorf("%q is not HH:MM", cfg.Schedule.DailyTime)))
		}
		if !clockPattern.MatchString(cfg.Schedule.WeeklyTime) {
			errs = append(errs, NewValidationError("schedule", "weekly_time",
				fmt.Errorf("%q is not HH:MM", cfg.Schedule.WeeklyTime)))
		}
		if cfg.Schedule.WeeklyDay < 1 || cfg.Schedule.WeeklyDay > 7 {
			errs = append(errs, NewValidationError("schedule", "weekly_day",
				fmt.Errorf("%d out of range [1, 7]", cfg.Schedule.WeeklyDay)))
		}
	}
	if cfg.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
			errs = append(errs, NewValidationError("schedule", "timezone", err))
		}
	}

	if cfg.Notification.Email.Enabled {
		if cfg.Notification.Email.SMTPHost == "" {
			errs = append(errs, NewValidationError("notification", "email.smtp_host",
				errors.New("required when email is enabled")))
		}
		if cfg.Notification.Email.From == "" {
			errs = append(errs, NewValidationError("notification", "email.from",
				errors.New("required when email is enabled")))
		}
	}
	if cfg.Notification.Chat.Enabled && cfg.Notification.Chat.WebhookURL == "" {
		errs = append(errs, NewValidationError("notification", "chat.webhook_url",
			errors.New("required when chat is enabled")))
	}

	if cfg.Retention.ActivityDays < 1 {
		errs = append(errs, NewValidationError("retention", "activity_days",
			errors.New("must be at least 1")))
	}
	if cfg.Retention.TaskExecutionDays < 1 {
		errs = append(errs, NewValidationError("retention", "task_execution_days",
			errors.New("must be at least 1")))
	}

	return errors.Join(errs...)
}
