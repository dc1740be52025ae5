package config

import "time"

// DefaultConfig returns the built-in configuration. User YAML is merged
// on top; any field left unset keeps the value here.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name: "sentinel",
			Host: "0.0.0.0",
			Port: 8000,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "sentinel",
			Name:     "sentinel",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		GitHub: GitHubConfig{
			APIURL:             "https://api.github.com",
			Retries:            3,
			RetryDelay:         time.Second,
			MaxRequestsPerHour: 5000,
			MaxPages:           10,
			RateWaitCeiling:    2 * time.Minute,
		},
		AI: AIConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   1500,
			Temperature: 0.7,
		},
		Schedule: ScheduleConfig{
			Enabled:    true,
			DailyTime:  "08:00",
			WeeklyDay:  1,
			WeeklyTime: "09:00",
			Timezone:   "Asia/Shanghai",
		},
		Notification: NotificationConfig{
			Email: EmailConfig{SMTPPort: 587},
		},
		Retention: RetentionConfig{
			ActivityDays:      90,
			TaskExecutionDays: 30,
		},
		LogLevel: "info",
	}
}
