package engine

import (
	"github.com/lowaak/smart-trainer/treadmill-app/internal/closedloop"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

// State is the observable engine state: one of Idle, Running, Paused or Completed.
// Values are immutable once published.
type State interface {
	isState()
	Status() Status
}

// Status names the kind of a State
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusPaused
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// Idle means no workout is in progress; Workout is the loaded timeline, if any
type Idle struct {
	Workout *workout.Timeline
}

// Progress is shared by Running and Paused
type Progress struct {
	Workout          *workout.Timeline
	StepIndex        int
	StepCount        int
	Step             workout.Step
	Phase            workout.Phase
	AutoCooldown     bool
	StepElapsedMs    int64
	StepDistanceM    float64
	WorkoutElapsedMs int64
	WorkoutDistanceM float64
}

// Telemetry is the latest live readings from the treadmill and sensors
type Telemetry struct {
	SpeedKph       float64
	InclinePercent float64
	HeartRate      float64
	PowerWatts     float64
}

type Running struct {
	Progress
	Telemetry

	TargetPaceKph        float64 // Base target times the speed coefficient
	TargetInclinePercent float64

	AdjustmentActive    bool
	AdjustmentDirection *closedloop.Direction
	CountdownSeconds    *int // Set only in the last few seconds before the step completes
}

type Paused struct {
	Progress

	TargetPaceKph        float64
	TargetInclinePercent float64
}

type Completed struct {
	Workout         *workout.Timeline
	Summary         Summary
	TotalDurationMs int64
	TotalDistanceM  float64
}

func (Idle) isState()      {}
func (Running) isState()   {}
func (Paused) isState()    {}
func (Completed) isState() {}

func (Idle) Status() Status      { return StatusIdle }
func (Running) Status() Status   { return StatusRunning }
func (Paused) Status() Status    { return StatusPaused }
func (Completed) Status() Status { return StatusCompleted }
