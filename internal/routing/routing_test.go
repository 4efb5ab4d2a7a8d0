package routing_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlxanderArt/HumanOS/internal/domain"
	"github.com/AlxanderArt/HumanOS/internal/routing"
)

func ptr(f float64) *float64 { return &f }

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		confidence *float64
		wantRoute  routing.Route
		wantStatus domain.TaskStatus
	}{
		{"no confidence", nil, routing.RouteHumanReview, domain.TaskInReview},
		{"high", ptr(0.95), routing.RouteAutoAccept, domain.TaskAccepted},
		{"exactly high", ptr(0.9), routing.RouteAutoAccept, domain.TaskAccepted},
		{"medium", ptr(0.7), routing.RouteHumanReview, domain.TaskInReview},
		{"exactly low", ptr(0.5), routing.RouteHumanReview, domain.TaskInReview},
		{"low", ptr(0.3), routing.RouteEscalate, domain.TaskEscalated},
		{"zero", ptr(0), routing.RouteEscalate, domain.TaskEscalated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := routing.Decide(tt.confidence, routing.DefaultThresholds())
			assert.Equal(t, tt.wantRoute, d.Route)
			assert.Equal(t, tt.wantStatus, d.NewStatus)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestDecide_ReasonMentionsConfidence(t *testing.T) {
	d := routing.Decide(ptr(0.95), routing.DefaultThresholds())
	assert.Contains(t, d.Reason, "0.95")
}

func TestDecide_CustomThresholds(t *testing.T) {
	th := routing.Thresholds{High: 0.8, Low: 0.6}
	assert.Equal(t, routing.RouteAutoAccept, routing.Decide(ptr(0.85), th).Route)
	assert.Equal(t, routing.RouteEscalate, routing.Decide(ptr(0.55), th).Route)
}

func TestThresholds_Validate(t *testing.T) {
	require.NoError(t, routing.DefaultThresholds().Validate())
	require.NoError(t, routing.Thresholds{High: 0.5, Low: 0.5}.Validate())
	require.Error(t, routing.Thresholds{High: 0.4, Low: 0.6}.Validate())
	require.Error(t, routing.Thresholds{High: 1.2, Low: 0.5}.Validate())
	require.Error(t, routing.Thresholds{High: 0.9, Low: -0.1}.Validate())
}

func TestDecide_Properties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	th := routing.DefaultThresholds()

	properties.Property("decision is deterministic", prop.ForAll(
		func(c float64) bool {
			return routing.Decide(&c, th) == routing.Decide(&c, th)
		},
		gen.Float64Range(0, 1),
	))

	properties.Property("route status pairs are fixed", prop.ForAll(
		func(c float64) bool {
			d := routing.Decide(&c, th)
			switch d.Route {
			case routing.RouteAutoAccept:
				return d.NewStatus == domain.TaskAccepted && c >= th.High
			case routing.RouteEscalate:
				return d.NewStatus == domain.TaskEscalated && c < th.Low
			case routing.RouteHumanReview:
				return d.NewStatus == domain.TaskInReview && c >= th.Low && c < th.High
			}
			return false
		},
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
