package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/biomed-maint/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/biomed/biomed.db
triggers:
  escalate: "*/15 * * * *"
  run_timeout: 2m
lifecycle:
  thresholds:
    min_age_years: 5
notification:
  transports: [smtp, nats]
  smtp:
    host: mail.hospital.local
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/biomed/biomed.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, "*/15 * * * *", cfg.Triggers.Escalate)
	assert.Equal(t, "0 1 * * *", cfg.Triggers.AutoSchedule)
	assert.Equal(t, 2*time.Minute, cfg.Triggers.RunTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.Triggers.ReminderWindow)

	assert.Equal(t, 5.0, cfg.Lifecycle.Thresholds.MinAgeYears)
	assert.Equal(t, 0.5, cfg.Lifecycle.Thresholds.MaxServiceCostRatio)
	assert.Equal(t, model.EqualWeights(), cfg.Lifecycle.Weights)
	assert.Equal(t, "biomed_manager", cfg.Lifecycle.RecipientRole)

	assert.Equal(t, []string{"smtp", "nats"}, cfg.Notification.Transports)
	assert.Equal(t, "mail.hospital.local", cfg.Notification.SMTP.Host)
	assert.Equal(t, 587, cfg.Notification.SMTP.Port)
	assert.Equal(t, 3, cfg.Notification.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Notification.Retry.Multiplier)

	assert.Equal(t, DefaultRules(), cfg.Escalation.Rules)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  path: from-file.db\n")
	t.Setenv("BIOMED_DATABASE_PATH", "from-env.db")
	t.Setenv("BIOMED_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ConfiguredRules(t *testing.T) {
	path := writeConfig(t, `
escalation:
  rules:
    - entity_type: calibration
      threshold: 25
      unit: percent_interval
      targets: ["user:qa-lead", assignee]
      notify_email: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Escalation.Rules, 1)

	rule, err := cfg.Escalation.Rules[0].ToModel()
	require.NoError(t, err)
	assert.Equal(t, "calibration-percent_interval-25", rule.ID)
	assert.Equal(t, model.ThresholdPercentInterval, rule.Unit)
	assert.True(t, rule.NotifyEmail)
	assert.Equal(t, []model.Target{{Kind: model.TargetUser, Value: "qa-lead"}, {Kind: model.TargetAssignee}}, rule.Targets)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad target", "escalation:\n  rules:\n    - entity_type: pm\n      threshold: 7\n      targets: [\"team:x\"]\n"},
		{"bad unit", "escalation:\n  rules:\n    - entity_type: pm\n      threshold: 7\n      unit: hours\n      targets: [assignee]\n"},
		{"no targets", "escalation:\n  rules:\n    - entity_type: pm\n      threshold: 7\n"},
		{"bad transport", "notification:\n  transports: [pager]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultRules_AreValid(t *testing.T) {
	for _, r := range DefaultRules() {
		_, err := r.ToModel()
		assert.NoError(t, err)
	}
}
