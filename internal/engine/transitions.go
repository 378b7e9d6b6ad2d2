package engine

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/coefficient"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

// transitionTo leaves the current step for index. Coefficients are saved and loaded by
// identity key under step scope, and reset to identity when a phase boundary is crossed.
func (e *Engine) transitionTo(index int, step workout.Step) {
	scoped := e.coefficients.Scope() == coefficient.ScopeStep
	if scoped {
		e.coefficients.Save(e.step.IdentityKey)
	}
	from, to := e.timeline.PhaseOf(e.stepIndex), e.timeline.PhaseOf(index)
	if from != to {
		e.logger.WithFields(logrus.Fields{"from": from, "to": to}).Debug("Engine: Phase boundary, resetting coefficients")
		e.coefficients.Reset()
	}
	if scoped {
		e.coefficients.Load(step.IdentityKey)
	}
	e.enterStep(index, step)
}

func (e *Engine) enterStep(index int, step workout.Step) {
	e.stepIndex = index
	e.step = step

	e.timing.stepStart = e.timing.lastClock
	if e.status == StatusPaused {
		e.timing.stepStart = e.timing.pausedAt
	}
	e.timing.stepPauseOffset = e.timing.totalPaused
	e.timing.stepElapsedMs = 0
	if e.distance.anchored {
		e.distance.stepStartM = e.distance.lastM
	}

	e.coefficients.BeginStep()
	e.controller.OnStepStarted(e.workoutNow())
	e.hrOut = false
	e.powerOut = false
	e.adjustmentDirection = nil

	pace, incline := e.announceTargets()
	phase := e.timeline.PhaseOf(index)
	e.emit(StepStarted{
		Index:                   index,
		Step:                    step,
		Phase:                   phase,
		EffectivePaceKph:        pace,
		EffectiveInclinePercent: incline,
	})
	e.logger.WithFields(logrus.Fields{
		"index": index,
		"step":  step.Name(),
		"phase": phase,
		"pace":  pace,
	}).Info("Engine: Step started")
}

func (e *Engine) completeStep() {
	e.emit(StepCompleted{Index: e.stepIndex, Step: e.step})
	e.stepsCompleted++
	e.logger.WithField("index", e.stepIndex).Info("Engine: Step completed")
	e.advance()
}

func (e *Engine) advance() {
	if e.autoCooldown {
		return
	}
	next := e.stepIndex + 1
	if step, ok := e.timeline.Step(next); ok {
		e.transitionTo(next, step)
		return
	}
	e.enterAutoCooldown()
}

// enterAutoCooldown appends the synthesized cooldown after the last planned step, once
func (e *Engine) enterAutoCooldown() {
	if e.autoCooldown {
		return
	}
	step := workout.SynthesizeCooldown(e.timeline, e.cfg.AutoCooldown)
	e.autoCooldown = true
	e.transitionTo(e.timeline.Len(), step)
	e.emit(WorkoutPlanFinished{StepsCompleted: e.timeline.Len()})
	e.logger.Info("Engine: Plan finished, cooling down")
}

func (e *Engine) checkCompletion() {
	if e.status != StatusRunning || e.step.EarlyEnd == workout.EarlyEndOpen {
		return
	}
	switch e.step.DurationKind {
	case workout.DurationDistance:
		if e.step.DurationMeters > 0 && e.stepDistanceM() >= e.step.DurationMeters {
			e.completeStep()
		}
	default:
		if e.step.DurationSeconds > 0 && e.timing.stepElapsedMs >= durationMs(e.step.DurationSeconds) {
			e.completeStep()
		}
	}
}

func durationMs(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}

// baseTargets are the planned targets at the current progress, before coefficients
func (e *Engine) baseTargets() (float64, float64) {
	progress := e.step.Progress(e.timing.stepElapsedMs, e.stepDistanceM())
	return e.step.BasePaceAt(progress), e.step.InclineTargetPercent
}

func (e *Engine) effectiveTargets() (float64, float64) {
	return e.coefficients.Coefficients().Apply(e.baseTargets())
}

// announceTargets returns the effective targets and remembers them as what the treadmill was told
func (e *Engine) announceTargets() (float64, float64) {
	e.announcedBasePace, _ = e.baseTargets()
	pace, incline := e.effectiveTargets()
	e.announcedPace = pace
	return pace, incline
}

// followRamp announces new targets while a ramp step moves the effective pace. Updates are
// spaced at half the coefficient change threshold, so the belt catching up with one is never
// taken for the runner's effort, and wait for the belt to settle so a coefficient observed
// while it accelerates is not sent back to it.
func (e *Engine) followRamp() {
	if e.status != StatusRunning || !e.step.IsRamp() {
		return
	}
	threshold := e.coefficients.ChangeThreshold()
	if e.beltSeen && math.Abs(e.live.SpeedKph-e.prevBeltSpeed) > e.live.SpeedKph*threshold {
		return
	}
	pace, _ := e.effectiveTargets()
	if math.Abs(pace-e.announcedPace) < e.announcedPace*threshold/2 {
		return
	}
	pace, incline := e.announceTargets()
	e.emit(TargetsUpdated{Index: e.stepIndex, EffectivePaceKph: pace, EffectiveInclinePercent: incline})
	e.logger.WithFields(logrus.Fields{"index": e.stepIndex, "pace": pace}).Debug("Engine: Ramp targets updated")
}

// countdown returns the whole seconds left when completion is imminent, nil otherwise
func (e *Engine) countdown() *int {
	if e.step.EarlyEnd == workout.EarlyEndOpen || e.cfg.CountdownSeconds <= 0 {
		return nil
	}
	var remaining float64
	switch e.step.DurationKind {
	case workout.DurationDistance:
		speed := e.live.SpeedKph
		if speed <= 0 {
			speed, _ = e.effectiveTargets()
		}
		if speed <= 0 || e.step.DurationMeters <= 0 {
			return nil
		}
		remaining = (e.step.DurationMeters - e.stepDistanceM()) / (speed / 3.6)
	default:
		if e.step.DurationSeconds <= 0 {
			return nil
		}
		remaining = float64(durationMs(e.step.DurationSeconds)-e.timing.stepElapsedMs) / 1000
	}
	if remaining <= 0 || remaining > e.cfg.CountdownSeconds {
		return nil
	}
	secs := int(math.Ceil(remaining - 1e-9))
	return &secs
}
