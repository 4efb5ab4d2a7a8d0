package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoad_RoutingDefaults(t *testing.T) {
	cfg := Load(viper.New())
	assert.Equal(t, 0.9, cfg.Routing.High)
	assert.Equal(t, 0.5, cfg.Routing.Low)
}

func TestLoad_RoutingOverride(t *testing.T) {
	v := viper.New()
	v.Set("routing_high_confidence", 0.95)
	v.Set("routing_low_confidence", 0.3)
	v.Set("allowed_origins", []string{"https://app.example.com"})

	cfg := Load(v)
	assert.Equal(t, 0.95, cfg.Routing.High)
	assert.Equal(t, 0.3, cfg.Routing.Low)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.AllowedOrigins)
}
