// Package routing decides what happens to a task once its annotations carry
// a confidence score.
package routing

import (
	"fmt"

	"github.com/AlxanderArt/HumanOS/internal/domain"
)

// Route is the outcome of a routing decision.
type Route string

const (
	RouteAutoAccept  Route = "auto_accept"
	RouteHumanReview Route = "human_review"
	RouteEscalate    Route = "escalate"
)

const (
	DefaultHighConfidence = 0.9
	DefaultLowConfidence  = 0.5
)

// Thresholds bound the confidence bands. Confidence at or above High is
// auto-accepted, below Low is escalated.
type Thresholds struct {
	High float64
	Low  float64
}

// DefaultThresholds returns the 0.9 / 0.5 policy.
func DefaultThresholds() Thresholds {
	return Thresholds{High: DefaultHighConfidence, Low: DefaultLowConfidence}
}

// Validate rejects bands that are out of range or inverted.
func (t Thresholds) Validate() error {
	if t.Low < 0 || t.High > 1 {
		return fmt.Errorf("routing thresholds must lie in [0,1], got low=%v high=%v", t.Low, t.High)
	}
	if t.Low > t.High {
		return fmt.Errorf("routing low threshold %v exceeds high threshold %v", t.Low, t.High)
	}
	return nil
}

// Decision is a pure routing outcome.
type Decision struct {
	Route     Route
	NewStatus domain.TaskStatus
	Reason    string
}

// Decide maps a confidence to a route. A nil confidence always goes to
// human review.
func Decide(confidence *float64, t Thresholds) Decision {
	if confidence == nil {
		return Decision{
			Route:     RouteHumanReview,
			NewStatus: domain.TaskInReview,
			Reason:    "No confidence score available, routing to human review",
		}
	}
	c := *confidence
	switch {
	case c >= t.High:
		return Decision{
			Route:     RouteAutoAccept,
			NewStatus: domain.TaskAccepted,
			Reason:    fmt.Sprintf("High confidence (%.2f): auto-accepted", c),
		}
	case c < t.Low:
		return Decision{
			Route:     RouteEscalate,
			NewStatus: domain.TaskEscalated,
			Reason:    fmt.Sprintf("Low confidence (%.2f): escalated for expert review", c),
		}
	default:
		return Decision{
			Route:     RouteHumanReview,
			NewStatus: domain.TaskInReview,
			Reason:    fmt.Sprintf("Medium confidence (%.2f): routed to human review", c),
		}
	}
}
