// Package workflow sequences a task's workflow instance through the ordered
// stages of its template.
package workflow

import (
	"github.com/AlxanderArt/HumanOS/internal/domain"
)

// StepKind classifies the outcome of Advance.
type StepKind int

const (
	StepNone StepKind = iota
	StepAdvanced
	StepCompleted
)

func (k StepKind) String() string {
	switch k {
	case StepAdvanced:
		return "advanced"
	case StepCompleted:
		return "completed"
	}
	return "none"
}

// Step is the transition an event causes on an instance.
type Step struct {
	Kind      StepKind
	FromStage int
	ToStage   int
	StageName string
	Reason    string
}

// TriggerEvents are the event types that move an active instance forward.
var TriggerEvents = []string{
	domain.EventConsensusReached,
	domain.EventAnnotationReviewed,
	domain.EventQualityComputed,
}

// Advance computes the next step for inst. Stages must be ordered. It never
// moves backwards, never skips a stage and ignores stage config.
func Advance(inst domain.WorkflowInstance, stages []domain.Stage, eventType string) Step {
	if inst.Status != domain.InstanceActive {
		return Step{Kind: StepNone}
	}
	next := inst.CurrentStage + 1
	if next >= len(stages) {
		return Step{
			Kind:      StepCompleted,
			FromStage: inst.CurrentStage,
			ToStage:   inst.CurrentStage,
			Reason:    "Completed after " + eventType,
		}
	}
	return Step{
		Kind:      StepAdvanced,
		FromStage: inst.CurrentStage,
		ToStage:   next,
		StageName: stages[next].Name,
		Reason:    "Auto-advanced after " + eventType,
	}
}
