// Package config loads service configuration from YAML and BIOMED_* env vars.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/t77yq/biomed-maint/internal/lifecycle"
	"github.com/t77yq/biomed-maint/internal/logging"
	"github.com/t77yq/biomed-maint/internal/model"
	"github.com/t77yq/biomed-maint/internal/notification"
)

const EnvPrefix = "BIOMED"

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          logging.Config     `mapstructure:"log"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Triggers     TriggerConfig      `mapstructure:"triggers"`
	Escalation   EscalationConfig   `mapstructure:"escalation"`
	Lifecycle    lifecycle.Config   `mapstructure:"lifecycle"`
	Notification NotificationConfig `mapstructure:"notification"`
}

type AppConfig struct {
	Name            string        `mapstructure:"name"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
}

// TriggerConfig holds the cron specs of the batch jobs. An empty spec
// disables the job.
type TriggerConfig struct {
	AutoSchedule     string        `mapstructure:"auto_schedule"`
	Escalate         string        `mapstructure:"escalate"`
	Reminders        string        `mapstructure:"reminders"`
	Lifecycle        string        `mapstructure:"lifecycle"`
	PruneHistory     string        `mapstructure:"prune_history"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`
	ReminderWindow   time.Duration `mapstructure:"reminder_window"`
	HistoryRetention time.Duration `mapstructure:"history_retention"`
}

type EscalationConfig struct {
	// Rules are seeded into an empty rule store at startup
	Rules []RuleConfig `mapstructure:"rules"`
}

type RuleConfig struct {
	EntityType  string   `mapstructure:"entity_type"`
	Threshold   float64  `mapstructure:"threshold"`
	Unit        string   `mapstructure:"unit"`
	Targets     []string `mapstructure:"targets"`
	NotifyEmail bool     `mapstructure:"notify_email"`
}

type NotificationConfig struct {
	// Transports lists the delivery transports to enable: smtp, sendgrid, nats
	Transports []string                    `mapstructure:"transports"`
	SMTP       notification.SMTPConfig     `mapstructure:"smtp"`
	SendGrid   notification.SendGridConfig `mapstructure:"sendgrid"`
	Retry      notification.RetryConfig    `mapstructure:"retry"`
}

// Load reads the config file at path, or config/config.yaml when path is
// empty. A missing default file is not an error; defaults and environment
// variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Escalation.Rules) == 0 {
		cfg.Escalation.Rules = DefaultRules()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "biomed-maint")
	v.SetDefault("app.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.path", "biomed.db")
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.connect_retries", 5)

	v.SetDefault("triggers.auto_schedule", "0 1 * * *")
	v.SetDefault("triggers.escalate", "0 * * * *")
	v.SetDefault("triggers.reminders", "0 7 * * *")
	v.SetDefault("triggers.lifecycle", "0 3 * * 1")
	v.SetDefault("triggers.prune_history", "30 4 * * *")
	v.SetDefault("triggers.run_timeout", 10*time.Minute)
	v.SetDefault("triggers.reminder_window", 7*24*time.Hour)
	v.SetDefault("triggers.history_retention", 90*24*time.Hour)

	lc := lifecycle.DefaultConfig()
	v.SetDefault("lifecycle.thresholds.min_age_years", lc.Thresholds.MinAgeYears)
	v.SetDefault("lifecycle.thresholds.max_service_cost_ratio", lc.Thresholds.MaxServiceCostRatio)
	v.SetDefault("lifecycle.thresholds.min_downtime_hours", lc.Thresholds.MinDowntimeHours)
	v.SetDefault("lifecycle.thresholds.min_utilization_pct", lc.Thresholds.MinUtilizationPct)
	v.SetDefault("lifecycle.weights.age", lc.Weights.Age)
	v.SetDefault("lifecycle.weights.service_cost", lc.Weights.ServiceCost)
	v.SetDefault("lifecycle.weights.downtime", lc.Weights.Downtime)
	v.SetDefault("lifecycle.weights.utilization", lc.Weights.Utilization)
	v.SetDefault("lifecycle.composite_threshold", lc.CompositeThreshold)
	v.SetDefault("lifecycle.recipient_role", lc.RecipientRole)

	v.SetDefault("notification.transports", []string{})
	v.SetDefault("notification.smtp.port", 587)
	v.SetDefault("notification.retry.max_attempts", 3)
	v.SetDefault("notification.retry.initial_delay", time.Second)
	v.SetDefault("notification.retry.max_delay", 30*time.Second)
	v.SetDefault("notification.retry.multiplier", 2.0)
}

// DefaultRules is the stock escalation chain: 7/30/90 days overdue for PM
// and 7/30 for calibration
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{EntityType: "pm", Threshold: 7, Unit: string(model.ThresholdDaysOverdue), Targets: []string{"assignee"}},
		{EntityType: "pm", Threshold: 30, Unit: string(model.ThresholdDaysOverdue), Targets: []string{"assignee", "role:biomed_manager"}},
		{EntityType: "pm", Threshold: 90, Unit: string(model.ThresholdDaysOverdue), Targets: []string{"role:biomed_manager", "role:department_head"}, NotifyEmail: true},
		{EntityType: "calibration", Threshold: 7, Unit: string(model.ThresholdDaysOverdue), Targets: []string{"assignee", "role:biomed_manager"}},
		{EntityType: "calibration", Threshold: 30, Unit: string(model.ThresholdDaysOverdue), Targets: []string{"role:biomed_manager", "role:quality"}, NotifyEmail: true},
	}
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	for i, r := range c.Escalation.Rules {
		if _, err := r.ToModel(); err != nil {
			return fmt.Errorf("escalation.rules[%d]: %w", i, err)
		}
	}
	for _, t := range c.Notification.Transports {
		switch t {
		case "smtp", "sendgrid", "nats":
		default:
			return fmt.Errorf("unknown notification transport %q", t)
		}
	}
	return nil
}

// ToModel converts a configured rule to an escalation rule with a stable id
func (r RuleConfig) ToModel() (*model.EscalationRule, error) {
	if r.EntityType == "" {
		return nil, errors.New("entity_type is required")
	}
	if r.Threshold < 0 {
		return nil, fmt.Errorf("threshold must not be negative, got %g", r.Threshold)
	}

	unit := model.ThresholdUnit(r.Unit)
	switch unit {
	case "":
		unit = model.ThresholdDaysOverdue
	case model.ThresholdDaysOverdue, model.ThresholdPercentInterval:
	default:
		return nil, fmt.Errorf("unknown threshold unit %q", r.Unit)
	}

	if len(r.Targets) == 0 {
		return nil, errors.New("at least one target is required")
	}
	targets := make([]model.Target, 0, len(r.Targets))
	for _, s := range r.Targets {
		t, err := model.ParseTarget(s)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}

	return &model.EscalationRule{
		ID:          fmt.Sprintf("%s-%s-%g", r.EntityType, unit, r.Threshold),
		EntityType:  r.EntityType,
		Threshold:   r.Threshold,
		Unit:        unit,
		Targets:     targets,
		NotifyEmail: r.NotifyEmail,
	}, nil
}
