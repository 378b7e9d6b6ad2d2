package engine

import (
	"github.com/lowaak/smart-trainer/treadmill-app/internal/closedloop"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

// Kind identifies a notification type
type Kind string

const (
	KindStepStarted         Kind = "step_started"
	KindStepCompleted       Kind = "step_completed"
	KindWorkoutPlanFinished Kind = "workout_plan_finished"
	KindWorkoutCompleted    Kind = "workout_completed"
	KindWorkoutResumed      Kind = "workout_resumed"
	KindTargetsUpdated      Kind = "targets_updated"
	KindEffortAdjusted      Kind = "effort_adjusted"
	KindSpeedAdjusted       Kind = "speed_adjusted"
	KindInclineAdjusted     Kind = "incline_adjusted"
	KindHrOutOfRange        Kind = "hr_out_of_range"
	KindHrBackInRange       Kind = "hr_back_in_range"
	KindPowerOutOfRange     Kind = "power_out_of_range"
	KindPowerBackInRange    Kind = "power_back_in_range"
	KindHrEarlyEndTriggered Kind = "hr_early_end_triggered"
	KindWarning             Kind = "warning"
	KindError               Kind = "error"
)

// Notification is a discrete occurrence for external consumers.
// Notifications carry the values a collaborator must apply to the treadmill.
type Notification interface {
	Kind() Kind
}

type StepStarted struct {
	Index                   int
	Step                    workout.Step
	Phase                   workout.Phase
	EffectivePaceKph        float64
	EffectiveInclinePercent float64
}

type StepCompleted struct {
	Index int
	Step  workout.Step
}

type WorkoutPlanFinished struct {
	StepsCompleted int
}

// Summary describes a finished workout
type Summary struct {
	WorkoutID       string
	Name            string
	StepsCompleted  int
	TotalDurationMs int64
	TotalDistanceM  float64
}

type WorkoutCompleted struct {
	Summary Summary
}

type WorkoutResumed struct {
	Index                   int
	Step                    workout.Step
	EffectivePaceKph        float64
	EffectiveInclinePercent float64
}

// TargetsUpdated is emitted while a ramp step moves the effective pace away from
// the last announced one
type TargetsUpdated struct {
	Index                   int
	EffectivePaceKph        float64
	EffectiveInclinePercent float64
}

type EffortAdjusted struct {
	Axis         workout.Axis
	Coefficient  float64
	DisplayDelta float64 // Percent against plan
}

type SpeedAdjusted struct {
	NewValue  float64
	Direction closedloop.Direction
	Reason    string
}

type InclineAdjusted struct {
	NewValue  float64
	Direction closedloop.Direction
	Reason    string
}

// RangeReading carries a metric and the band it was checked against
type RangeReading struct {
	Current float64
	Min     float64
	Max     float64
}

type HrOutOfRange struct{ RangeReading }
type HrBackInRange struct{ RangeReading }
type PowerOutOfRange struct{ RangeReading }
type PowerBackInRange struct{ RangeReading }

type HrEarlyEndTriggered struct {
	RangeReading
	Index int
}

type Warning struct {
	Message string
}

type Error struct {
	Message string
}

func (StepStarted) Kind() Kind         { return KindStepStarted }
func (StepCompleted) Kind() Kind       { return KindStepCompleted }
func (WorkoutPlanFinished) Kind() Kind { return KindWorkoutPlanFinished }
func (WorkoutCompleted) Kind() Kind    { return KindWorkoutCompleted }
func (WorkoutResumed) Kind() Kind      { return KindWorkoutResumed }
func (TargetsUpdated) Kind() Kind      { return KindTargetsUpdated }
func (EffortAdjusted) Kind() Kind      { return KindEffortAdjusted }
func (SpeedAdjusted) Kind() Kind       { return KindSpeedAdjusted }
func (InclineAdjusted) Kind() Kind     { return KindInclineAdjusted }
func (HrOutOfRange) Kind() Kind        { return KindHrOutOfRange }
func (HrBackInRange) Kind() Kind       { return KindHrBackInRange }
func (PowerOutOfRange) Kind() Kind     { return KindPowerOutOfRange }
func (PowerBackInRange) Kind() Kind    { return KindPowerBackInRange }
func (HrEarlyEndTriggered) Kind() Kind { return KindHrEarlyEndTriggered }
func (Warning) Kind() Kind             { return KindWarning }
func (Error) Kind() Kind               { return KindError }
