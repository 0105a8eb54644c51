package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Rules      RulesConfig      `yaml:"rules" mapstructure:"rules"`
	Dispatch   DispatchConfig   `yaml:"dispatch" mapstructure:"dispatch"`
	Health     HealthConfig     `yaml:"health" mapstructure:"health"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// EngineConfig tunes scoring, evaluation, and alert retention.
type EngineConfig struct {
	// HighValueThreshold is the deal value (USD) at which the value
	// component of the urgency score saturates.
	HighValueThreshold float64 `yaml:"high_value_threshold" mapstructure:"high_value_threshold"`

	// Shards is the number of event worker shards. Events for the same
	// entity always hash to the same shard.
	Shards int `yaml:"shards" mapstructure:"shards"`

	// QueueDepth is the per-shard event buffer size.
	QueueDepth int `yaml:"queue_depth" mapstructure:"queue_depth"`

	// HistoryWindowHours bounds how much score history is kept per lead.
	HistoryWindowHours int `yaml:"history_window_hours" mapstructure:"history_window_hours"`

	// RetentionHours is how long resolved alerts are kept before GC.
	RetentionHours int `yaml:"retention_hours" mapstructure:"retention_hours"`

	// StaleLeadDays is the follow-up rule's days-without-contact threshold.
	StaleLeadDays int `yaml:"stale_lead_days" mapstructure:"stale_lead_days"`

	// SignificanceThreshold is the A/B test confidence required before a
	// concluded test generates an alert.
	SignificanceThreshold float64 `yaml:"significance_threshold" mapstructure:"significance_threshold"`

	// Ladder holds the severity escalation cut points.
	Ladder LadderConfig `yaml:"ladder" mapstructure:"ladder"`
}

// LadderConfig holds severity escalation multiples relative to a rule's
// threshold.
type LadderConfig struct {
	CriticalMultiple float64 `yaml:"critical_multiple" mapstructure:"critical_multiple"`
	HighMultiple     float64 `yaml:"high_multiple" mapstructure:"high_multiple"`
	MediumMultiple   float64 `yaml:"medium_multiple" mapstructure:"medium_multiple"`
}

// RulesConfig locates the operator-editable alert rule file.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DispatchConfig configures the notification outbox workers.
type DispatchConfig struct {
	Workers        int             `yaml:"workers" mapstructure:"workers"`
	MaxAttempts    int             `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration   `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration   `yaml:"max_backoff" mapstructure:"max_backoff"`
	RatePerSecond  float64         `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Channels       []ChannelConfig `yaml:"channels" mapstructure:"channels"`
}

// ChannelConfig describes one notification channel endpoint.
type ChannelConfig struct {
	ID      string `yaml:"id" mapstructure:"id"`
	Type    string `yaml:"type" mapstructure:"type"` // push | email | sms
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`

	// Push (webhook) settings.
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	DeviceToken string `yaml:"device_token" mapstructure:"device_token"`

	// Email settings.
	SMTPAddr string `yaml:"smtp_addr" mapstructure:"smtp_addr"`
	From     string `yaml:"from" mapstructure:"from"`
	Email    string `yaml:"email" mapstructure:"email"`

	// SMS settings.
	SMSURL string `yaml:"sms_url" mapstructure:"sms_url"`
	Phone  string `yaml:"phone" mapstructure:"phone"`

	// MinSeverity filters which alerts reach this channel.
	MinSeverity string `yaml:"min_severity" mapstructure:"min_severity"`
}

// HealthConfig configures the periodic model health checker.
type HealthConfig struct {
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	DriftThreshold    float64 `yaml:"drift_threshold" mapstructure:"drift_threshold"`
}

// SalesforceConfig holds CRM sync settings. The sync is disabled when
// ClientID is empty.
type SalesforceConfig struct {
	ClientID         string  `yaml:"client_id" mapstructure:"client_id"`
	Username         string  `yaml:"username" mapstructure:"username"`
	KeyPath          string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL         string  `yaml:"login_url" mapstructure:"login_url"`
	SyncIntervalSecs int     `yaml:"sync_interval_secs" mapstructure:"sync_interval_secs"`
	RatePerSecond    float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADALERTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "lead-alerts.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("engine.high_value_threshold", 300000)
	v.SetDefault("engine.shards", 8)
	v.SetDefault("engine.queue_depth", 256)
	v.SetDefault("engine.history_window_hours", 720)
	v.SetDefault("engine.retention_hours", 72)
	v.SetDefault("engine.stale_lead_days", 7)
	v.SetDefault("engine.significance_threshold", 0.95)
	v.SetDefault("engine.ladder.critical_multiple", 2.0)
	v.SetDefault("engine.ladder.high_multiple", 1.5)
	v.SetDefault("engine.ladder.medium_multiple", 1.2)
	v.SetDefault("rules.path", "rules.yaml")
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.max_attempts", 5)
	v.SetDefault("dispatch.initial_backoff", "500ms")
	v.SetDefault("dispatch.max_backoff", "30s")
	v.SetDefault("dispatch.rate_per_second", 10)
	v.SetDefault("health.check_interval_secs", 300)
	v.SetDefault("health.drift_threshold", 0.02)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.sync_interval_secs", 600)
	v.SetDefault("salesforce.rate_per_second", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
