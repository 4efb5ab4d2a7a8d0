package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the scheduler service.
type Config struct {
	LogLevel        string
	RedisAddr       string
	PostgresDSN     string
	MetricsAddr     string
	ExpirySchedule  string
	CheckInterval   time.Duration
	JobTimeout      time.Duration
	OTelEndpoint    string
	OTelSampleRatio float64
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:        v.GetString("log_level"),
		RedisAddr:       v.GetString("redis_addr"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		MetricsAddr:     v.GetString("metrics_addr"),
		ExpirySchedule:  v.GetString("expiry_schedule"),
		CheckInterval:   v.GetDuration("leader_check_interval"),
		JobTimeout:      v.GetDuration("job_timeout"),
		OTelEndpoint:    v.GetString("otel_endpoint"),
		OTelSampleRatio: v.GetFloat64("otel_sample_ratio"),
	}
}
