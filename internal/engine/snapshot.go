package engine

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/closedloop"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/coefficient"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

const SnapshotVersion = 1

var (
	ErrNoWorkout           = errors.New("no workout loaded")
	ErrNotIdle             = errors.New("engine is not idle")
	ErrWorkoutMismatch     = errors.New("snapshot belongs to a different workout")
	ErrInvalidStepIndex    = errors.New("invalid step index")
	ErrUnsupportedSnapshot = errors.New("unsupported snapshot version")
)

type TimingSnapshot struct {
	WorkoutStartSeconds    float64 `json:"workout_start_seconds"`
	StepStartSeconds       float64 `json:"step_start_seconds"`
	TotalPausedSeconds     float64 `json:"total_paused_seconds"`
	PausedAtSeconds        float64 `json:"paused_at_seconds"` // -1 when not paused
	StepPauseOffsetSeconds float64 `json:"step_pause_offset_seconds"`
	LastClockSeconds       float64 `json:"last_clock_seconds"`
	StepElapsedMs          int64   `json:"step_elapsed_ms"`
	WorkoutElapsedMs       int64   `json:"workout_elapsed_ms"`
}

type DistanceSnapshot struct {
	WorkoutStartM float64 `json:"workout_start_m"`
	StepStartM    float64 `json:"step_start_m"`
	LastM         float64 `json:"last_m"`
	Anchored      bool    `json:"anchored"`
}

// Snapshot is everything needed to resume a workout without replaying history
type Snapshot struct {
	Version          int                         `json:"version"`
	WorkoutID        string                      `json:"workout_id"`
	StepIndex        int                         `json:"step_index"`
	PlannedStepCount int                         `json:"planned_step_count"`
	AutoCooldown     bool                        `json:"auto_cooldown"`
	StepsCompleted   int                         `json:"steps_completed"`
	Paused           bool                        `json:"paused"`
	Timing           TimingSnapshot              `json:"timing"`
	Distance         DistanceSnapshot            `json:"distance"`
	Coefficients     coefficient.Pair            `json:"coefficients"`
	Scope            coefficient.Scope           `json:"scope"`
	PerStep          map[string]coefficient.Pair `json:"per_step,omitempty"`
	Controller       closedloop.State            `json:"controller"`
}

// Export captures the running or paused workout. ok is false when there is nothing to resume.
func (e *Engine) Export() (Snapshot, bool) {
	if e.timeline == nil || !e.isActive() {
		return Snapshot{}, false
	}
	n := e.timeline.Len()
	if e.stepIndex < 0 || e.stepIndex > n || (e.stepIndex == n) != e.autoCooldown {
		return Snapshot{}, false
	}

	paused := e.status == StatusPaused
	pausedAt := -1.0
	if paused {
		pausedAt = e.timing.pausedAt
	}
	coeffs := e.coefficients.Export()
	return Snapshot{
		Version:          SnapshotVersion,
		WorkoutID:        e.timeline.WorkoutID,
		StepIndex:        e.stepIndex,
		PlannedStepCount: n,
		AutoCooldown:     e.autoCooldown,
		StepsCompleted:   e.stepsCompleted,
		Paused:           paused,
		Timing: TimingSnapshot{
			WorkoutStartSeconds:    e.timing.workoutStart,
			StepStartSeconds:       e.timing.stepStart,
			TotalPausedSeconds:     e.timing.totalPaused,
			PausedAtSeconds:        pausedAt,
			StepPauseOffsetSeconds: e.timing.stepPauseOffset,
			LastClockSeconds:       e.timing.lastClock,
			StepElapsedMs:          e.timing.stepElapsedMs,
			WorkoutElapsedMs:       e.timing.workoutElapsedMs,
		},
		Distance: DistanceSnapshot{
			WorkoutStartM: e.distance.workoutStartM,
			StepStartM:    e.distance.stepStartM,
			LastM:         e.distance.lastM,
			Anchored:      e.distance.anchored,
		},
		Coefficients: coeffs.Current,
		Scope:        coeffs.Scope,
		PerStep:      coeffs.PerStep,
		Controller:   e.controller.ExportState(),
	}, true
}

// Import resumes a snapshot on the loaded, idle workout it was taken from.
// Nothing is changed when it returns an error.
func (e *Engine) Import(s Snapshot, resumeAsPaused bool) error {
	defer e.publish()
	if e.timeline == nil {
		return ErrNoWorkout
	}
	if e.status != StatusIdle {
		return fmt.Errorf("import while %s: %w", e.status, ErrNotIdle)
	}
	if s.Version != SnapshotVersion {
		return fmt.Errorf("import version %d: %w", s.Version, ErrUnsupportedSnapshot)
	}
	n := e.timeline.Len()
	if s.WorkoutID != e.timeline.WorkoutID || s.PlannedStepCount != n {
		return fmt.Errorf("import %q (%d steps) into %q (%d steps): %w",
			s.WorkoutID, s.PlannedStepCount, e.timeline.WorkoutID, n, ErrWorkoutMismatch)
	}

	var step workout.Step
	if s.AutoCooldown {
		if s.StepIndex != n {
			return fmt.Errorf("import auto-cooldown at %d: %w", s.StepIndex, ErrInvalidStepIndex)
		}
		step = workout.SynthesizeCooldown(e.timeline, e.cfg.AutoCooldown)
	} else {
		var ok bool
		if step, ok = e.timeline.Step(s.StepIndex); !ok {
			return fmt.Errorf("import step %d of %d: %w", s.StepIndex, n, ErrInvalidStepIndex)
		}
	}

	e.clearWorkout()
	e.stepIndex = s.StepIndex
	e.step = step
	e.autoCooldown = s.AutoCooldown
	e.stepsCompleted = s.StepsCompleted

	// Anchors are relative to the device clock at export time; move them onto the current clock
	st := s.Timing
	delta := 0.0
	if e.timing.clockSeen {
		delta = e.timing.lastClock - st.LastClockSeconds
	} else {
		e.timing.lastClock = st.LastClockSeconds
	}
	e.timing.workoutStart = st.WorkoutStartSeconds + delta
	e.timing.stepStart = st.StepStartSeconds + delta
	e.timing.totalPaused = st.TotalPausedSeconds
	e.timing.stepPauseOffset = st.StepPauseOffsetSeconds
	e.timing.pausedAt = e.timing.lastClock
	if s.Paused {
		e.timing.pausedAt = st.PausedAtSeconds + delta
	}

	switch {
	case resumeAsPaused:
		e.status = StatusPaused
	case s.Paused:
		if paused := e.timing.lastClock - e.timing.pausedAt; paused > 0 {
			e.timing.totalPaused += paused
		}
		e.status = StatusRunning
	default:
		e.status = StatusRunning
	}

	sd := s.Distance
	e.distance.workoutStartM = sd.WorkoutStartM
	e.distance.stepStartM = sd.StepStartM
	e.distance.anchored = sd.Anchored
	switch {
	case !e.distance.live:
		e.distance.lastM = sd.LastM
	case sd.Anchored:
		e.shiftDistance(e.distance.lastM - sd.LastM)
	default:
		e.distance.workoutStartM = e.distance.lastM
		e.distance.stepStartM = e.distance.lastM
		e.distance.anchored = true
	}

	e.coefficients.Restore(coefficient.State{Current: s.Coefficients, Scope: s.Scope, PerStep: s.PerStep})
	e.controller.RestoreState(s.Controller)
	e.live = Telemetry{}
	e.hrSeen = false
	e.beltSeen = false
	e.prevBeltSpeed = 0

	e.recomputeTiming(e.timing.lastClock)
	if e.status == StatusRunning {
		e.controller.OnWorkoutResumed(e.workoutNow())
	}

	pace, incline := e.announceTargets()
	e.emit(WorkoutResumed{Index: e.stepIndex, Step: e.step, EffectivePaceKph: pace, EffectiveInclinePercent: incline})
	e.logger.WithFields(logrus.Fields{
		"workout": s.WorkoutID,
		"index":   s.StepIndex,
		"status":  e.status,
	}).Info("Engine: Workout restored from snapshot")
	return nil
}
