package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestInitialize_Defaults(t *testing.T) {
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "sentinel", cfg.App.Name)
	assert.Equal(t, 8000, cfg.App.Port)
	assert.False(t, cfg.App.DevMode)
	assert.Equal(t, "https://api.github.com", cfg.GitHub.APIURL)
	assert.Equal(t, 3, cfg.GitHub.Retries)
	assert.Equal(t, 10, cfg.GitHub.MaxPages)
	assert.True(t, cfg.Schedule.Enabled)
	assert.Equal(t, "Asia/Shanghai", cfg.Schedule.Timezone)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestInitialize_MergesUserOverDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yml", `
app:
  port: 9000
  dev_mode: true
github:
  token: ghp_test
  retries: 5
log_level: debug
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.App.Port)
	assert.True(t, cfg.App.DevMode)
	assert.Equal(t, "ghp_test", cfg.GitHub.Token)
	assert.Equal(t, 5, cfg.GitHub.Retries)
	// Untouched sections keep their defaults.
	assert.Equal(t, "https://api.github.com", cfg.GitHub.APIURL)
	assert.Equal(t, "08:00", cfg.Schedule.DailyTime)
}

func TestInitialize_PrefersYmlOverYaml(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yml", "app:\n  port: 9001\n")
	writeConfig(t, dir, "config.yaml", "app:\n  port: 9002\n")

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.App.Port)
}

func TestInitialize_ScheduleDisableSurvivesMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "schedule:\n  enabled: false\n")

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.False(t, cfg.Schedule.Enabled)
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("SENTINEL_TEST_TOKEN", "expanded-token")

	dir := t.TempDir()
	writeConfig(t, dir, "config.yml", "github:\n  token: \"{{.SENTINEL_TEST_TOKEN}}\"\n")

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, "expanded-token", cfg.GitHub.Token)
}

func TestInitialize_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yml", "app: [unclosed\n")

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.App.Port = 0 },
			wantErr: "app.port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "trace" },
			wantErr: "log_level",
		},
		{
			name:    "bad weekly day",
			mutate:  func(c *Config) { c.Schedule.WeeklyDay = 8 },
			wantErr: "schedule.weekly_day",
		},
		{
			name:    "bad daily time",
			mutate:  func(c *Config) { c.Schedule.DailyTime = "8am" },
			wantErr: "schedule.daily_time",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" },
			wantErr: "schedule.timezone",
		},
		{
			name:    "email enabled without host",
			mutate:  func(c *Config) { c.Notification.Email.Enabled = true },
			wantErr: "email.smtp_host",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.AI.Temperature = 3.5 },
			wantErr: "ai.temperature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandEnv_PreservesDollarSigns(t *testing.T) {
	in := []byte("pattern: ^secret.*$\npassword: p@ss$word\n")
	assert.Equal(t, in, ExpandEnv(in))
}

func TestScheduleLocation_Fallback(t *testing.T) {
	s := ScheduleConfig{Timezone: "Not/AZone"}
	assert.Equal(t, time.UTC, s.Location())

	s = ScheduleConfig{Timezone: "Asia/Shanghai"}
	loc := s.Location()
	require.NotNil(t, loc)
	assert.Equal(t, "Asia/Shanghai", loc.String())
}
