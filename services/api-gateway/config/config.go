package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/AlxanderArt/HumanOS/internal/routing"
)

// Config holds typed configuration for the api-gateway service.
type Config struct {
	LogLevel        string
	HTTPPort        string
	GRPCPort        string
	MetricsAddr     string
	RedisAddr       string
	PostgresDSN     string
	JWTSecret       string
	AllowedOrigins  []string
	MaxBodyBytes    int64
	UserRateLimit   int
	UserRateWindow  time.Duration
	IPRateLimit     float64
	IPRateBurst     int
	Routing         routing.Thresholds
	OTelEndpoint    string
	OTelSampleRatio float64
}

// Load reads all values from the given viper instance. Unset routing
// thresholds keep their defaults.
func Load(v *viper.Viper) Config {
	thresholds := routing.DefaultThresholds()
	if v.IsSet("routing_high_confidence") {
		thresholds.High = v.GetFloat64("routing_high_confidence")
	}
	if v.IsSet("routing_low_confidence") {
		thresholds.Low = v.GetFloat64("routing_low_confidence")
	}

	return Config{
		LogLevel:        v.GetString("log_level"),
		HTTPPort:        v.GetString("http_port"),
		GRPCPort:        v.GetString("grpc_port"),
		MetricsAddr:     v.GetString("metrics_addr"),
		RedisAddr:       v.GetString("redis_addr"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		JWTSecret:       v.GetString("jwt_secret"),
		AllowedOrigins:  v.GetStringSlice("allowed_origins"),
		MaxBodyBytes:    v.GetInt64("max_body_bytes"),
		UserRateLimit:   v.GetInt("user_rate_limit"),
		UserRateWindow:  v.GetDuration("user_rate_window"),
		IPRateLimit:     v.GetFloat64("ip_rate_limit"),
		IPRateBurst:     v.GetInt("ip_rate_burst"),
		Routing:         thresholds,
		OTelEndpoint:    v.GetString("otel_endpoint"),
		OTelSampleRatio: v.GetFloat64("otel_sample_ratio"),
	}
}
