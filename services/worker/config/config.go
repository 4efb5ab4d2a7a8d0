package config

import (
	"time"

	"github.com/spf13/viper"
)

// Worker roles. Each role polls a fixed set of event types.
const (
	RoleQualityScorer  = "quality-scorer"
	RoleWorkflowEngine = "workflow-engine"
	RoleRelay          = "relay"
)

// DefaultPollInterval returns the poll interval a role uses when none is
// configured.
func DefaultPollInterval(role string) time.Duration {
	switch role {
	case RoleQualityScorer:
		return 2 * time.Second
	case RoleWorkflowEngine:
		return 3 * time.Second
	default:
		return time.Second
	}
}

// Config holds typed configuration for the worker service.
type Config struct {
	LogLevel             string
	Role                 string
	PostgresDSN          string
	RedisAddr            string
	KafkaBrokers         string
	MaxRetries           int
	HandlerTimeout       time.Duration
	PollInterval         time.Duration
	ClaimVisibility      time.Duration
	ProcessedTTL         time.Duration
	EscalationWebhookURL string
	EscalationHeaders    map[string]string
	MetricsAddr          string
	OTelEndpoint         string
	OTelSampleRatio      float64
}

// Load reads all values from the given viper instance. A zero poll interval
// falls back to the role default.
func Load(v *viper.Viper) Config {
	cfg := Config{
		LogLevel:             v.GetString("log_level"),
		Role:                 v.GetString("role"),
		PostgresDSN:          v.GetString("postgres_dsn"),
		RedisAddr:            v.GetString("redis_addr"),
		KafkaBrokers:         v.GetString("kafka_brokers"),
		MaxRetries:           v.GetInt("max_retries"),
		HandlerTimeout:       v.GetDuration("handler_timeout"),
		PollInterval:         v.GetDuration("poll_interval"),
		ClaimVisibility:      v.GetDuration("claim_visibility"),
		ProcessedTTL:         v.GetDuration("processed_ttl"),
		EscalationWebhookURL: v.GetString("escalation_webhook_url"),
		EscalationHeaders:    v.GetStringMapString("escalation_webhook_headers"),
		MetricsAddr:          v.GetString("metrics_addr"),
		OTelEndpoint:         v.GetString("otel_endpoint"),
		OTelSampleRatio:      v.GetFloat64("otel_sample_ratio"),
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval(cfg.Role)
	}
	return cfg
}
