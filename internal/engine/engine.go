package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/closedloop"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/coefficient"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/events"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

// journalCapacity is how many notifications the journal keeps for late readers
const journalCapacity = 1024

// Engine executes one structured workout against pushed clock and telemetry ticks.
//
// The engine is single-writer: every entry point (commands and ticks) must be called
// from one goroutine at a time, it never blocks and owns no timers. State() and the
// listener registrations are safe to use from any goroutine.
type Engine struct {
	cfg      Config
	logger   logrus.FieldLogger
	recorder Recorder

	timeline       *workout.Timeline
	status         Status
	stepIndex      int
	step           workout.Step
	autoCooldown   bool
	stepsCompleted int
	summary        Summary

	timing   timing
	distance distance
	live     Telemetry
	hrSeen   bool
	beltSeen bool
	// Belt speed of the echo before the last one
	prevBeltSpeed float64

	coefficients        *coefficient.Tracker
	announcedBasePace   float64 // Base pace behind the last targets sent to the treadmill
	announcedPace       float64
	controller          *closedloop.Controller
	hrHistory           *closedloop.History
	powerHistory        *closedloop.History
	hrOut               bool
	powerOut            bool
	adjustmentDirection *closedloop.Direction

	state         atomic.Pointer[State]
	journal       *events.Journal[Notification]
	notifications *events.CallbackEvent[Notification]
	states        *events.ChannelEvent[State]
	pending       []Notification
	flushing      bool
}

// NewEngine creates an idle engine. recorder may be nil.
func NewEngine(cfg Config, logger logrus.FieldLogger, recorder Recorder) *Engine {
	if logger == nil {
		panic("Engine: logger cannot be nil")
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultConfig().HistoryCapacity
	}

	e := &Engine{
		cfg:           cfg,
		logger:        logger,
		recorder:      recorder,
		status:        StatusIdle,
		coefficients:  coefficient.NewTracker(cfg.Coefficients),
		controller:    closedloop.NewController(cfg.Limits),
		hrHistory:     closedloop.NewHistory(cfg.HistoryCapacity),
		powerHistory:  closedloop.NewHistory(cfg.HistoryCapacity),
		journal:       events.NewBoundedJournal[Notification](journalCapacity),
		notifications: events.NewCallbackEvent[Notification](false),
		states:        events.NewLatestChannelEvent[State](true),
	}
	var initial State = Idle{}
	e.state.Store(&initial)
	e.states.Notify(initial)
	return e
}

// State returns the current observable state
func (e *Engine) State() State {
	return *e.state.Load()
}

// ListenToNotifications registers a callback for every notification, in order, never dropped.
// Callbacks run synchronously on the goroutine driving the engine.
// Returns a deregistration function that can be called to remove the listener
func (e *Engine) ListenToNotifications(callback func(Notification)) func() {
	return e.notifications.Listen(callback)
}

// ListenToState registers a channel for state updates. A full channel keeps only the newest state.
// Returns a deregistration function that can be called to remove the listener
func (e *Engine) ListenToState(ch chan State) func() {
	return e.states.Listen(ch)
}

// Journal is the append-only log of every notification delivered so far
func (e *Engine) Journal() *events.Journal[Notification] {
	return e.journal
}

// Load makes t the workout to execute. It fails while a workout is active or when t is unusable.
func (e *Engine) Load(t *workout.Timeline) bool {
	defer e.publish()
	if e.isActive() {
		e.warnActive()
		return false
	}
	if t == nil {
		e.fail("no workout to load")
		return false
	}
	if err := t.Validate(); err != nil {
		e.fail(fmt.Sprintf("cannot load workout %q: %v", t.Name, err))
		return false
	}

	e.clearWorkout()
	e.timeline = t
	e.status = StatusIdle
	e.logger.WithFields(logrus.Fields{
		"workout":  t.WorkoutID,
		"steps":    t.Len(),
		"warmup":   t.WarmupCount,
		"main":     t.MainCount,
		"cooldown": t.CooldownCount,
	}).Infof("Engine: Workout '%s' loaded", t.Name)
	return true
}

// LoadStitched stitches an optional warmup and cooldown around main and loads the result
func (e *Engine) LoadStitched(main workout.Plan, warmup, cooldown *workout.Plan) bool {
	if e.isActive() {
		defer e.publish()
		e.warnActive()
		return false
	}
	t, err := workout.Stitch(main, warmup, cooldown)
	if err != nil {
		defer e.publish()
		e.fail(err.Error())
		return false
	}
	return e.Load(t)
}

func (e *Engine) Start() {
	defer e.publish()
	if e.status != StatusIdle || e.timeline == nil {
		e.ignore("start")
		return
	}

	now := e.timing.lastClock
	e.timing.workoutStart = now
	e.timing.totalPaused = 0
	e.timing.pausedAt = 0
	e.timing.workoutElapsedMs = 0
	if e.distance.live {
		e.distance.workoutStartM = e.distance.lastM
		e.distance.anchored = true
	}
	e.status = StatusRunning
	e.stepsCompleted = 0

	first, _ := e.timeline.Step(0)
	e.logger.Infof("Engine: Starting workout '%s'", e.timeline.Name)
	e.enterStep(0, first)
}

func (e *Engine) Pause() {
	defer e.publish()
	if e.status != StatusRunning {
		e.ignore("pause")
		return
	}
	e.timing.pausedAt = e.timing.lastClock
	e.status = StatusPaused
	e.logger.WithField("index", e.stepIndex).Info("Engine: Workout paused")
}

func (e *Engine) Resume() {
	defer e.publish()
	if e.status != StatusPaused {
		e.ignore("resume")
		return
	}
	if paused := e.timing.lastClock - e.timing.pausedAt; paused > 0 {
		e.timing.totalPaused += paused
	}
	e.status = StatusRunning
	e.controller.OnWorkoutResumed(e.workoutNow())
	e.coefficients.Resume()

	pace, incline := e.announceTargets()
	e.emit(WorkoutResumed{Index: e.stepIndex, Step: e.step, EffectivePaceKph: pace, EffectiveInclinePercent: incline})
	e.logger.WithField("index", e.stepIndex).Info("Engine: Workout resumed")
}

// Stop ends the workout for good
func (e *Engine) Stop() {
	defer e.publish()
	if !e.isActive() {
		e.ignore("stop")
		return
	}
	e.summary = Summary{
		WorkoutID:       e.timeline.WorkoutID,
		Name:            e.timeline.Name,
		StepsCompleted:  e.stepsCompleted,
		TotalDurationMs: e.timing.workoutElapsedMs,
		TotalDistanceM:  e.workoutDistanceM(),
	}
	e.status = StatusCompleted
	e.adjustmentDirection = nil
	e.emit(WorkoutCompleted{Summary: e.summary})
	e.logger.WithFields(logrus.Fields{
		"steps":       e.summary.StepsCompleted,
		"duration_ms": e.summary.TotalDurationMs,
		"distance_m":  e.summary.TotalDistanceM,
	}).Info("Engine: Workout completed")
}

// Reset drops the workout and returns to Idle
func (e *Engine) Reset() {
	defer e.publish()
	e.clearWorkout()
	e.timeline = nil
	e.status = StatusIdle
	e.logger.Info("Engine: Reset")
}

// SkipNext moves to the next step, or into the auto-cooldown after the last planned step
func (e *Engine) SkipNext() {
	defer e.publish()
	if !e.isActive() {
		e.ignore("skip next")
		return
	}
	if e.autoCooldown {
		e.logger.Debug("Engine: Already in auto-cooldown, skip next ignored")
		return
	}
	e.advance()
}

// SkipPrev moves back one step without crossing a phase boundary.
// At index 0, at the first step of a phase or in the auto-cooldown it restarts the current step.
func (e *Engine) SkipPrev() {
	defer e.publish()
	if !e.isActive() {
		e.ignore("skip previous")
		return
	}
	phaseStart := e.timeline.PhaseStart(e.timeline.PhaseOf(e.stepIndex))
	if e.autoCooldown || e.stepIndex == 0 || e.stepIndex == phaseStart {
		e.logger.WithField("index", e.stepIndex).Debug("Engine: Restarting step")
		e.transitionTo(e.stepIndex, e.step)
		return
	}
	prev, ok := e.timeline.Step(e.stepIndex - 1)
	if !ok {
		e.logger.WithField("index", e.stepIndex-1).Error("Engine: Invalid step index")
		return
	}
	e.transitionTo(e.stepIndex-1, prev)
}

func (e *Engine) isActive() bool {
	return e.status == StatusRunning || e.status == StatusPaused
}

func (e *Engine) ignore(command string) {
	e.logger.WithField("status", e.status).Debugf("Engine: Ignoring %s", command)
}

func (e *Engine) warnActive() {
	e.logger.Warn("Engine: Cannot load a workout while one is active")
	e.emit(Warning{Message: "cannot load a workout while one is running or paused"})
}

func (e *Engine) fail(message string) {
	e.logger.Error("Engine: " + message)
	e.emit(Error{Message: message})
}

// clearWorkout forgets everything about the current run. Device counters (clock, distance,
// live telemetry) survive because they describe the treadmill, not the workout.
func (e *Engine) clearWorkout() {
	e.stepIndex = 0
	e.step = workout.Step{}
	e.autoCooldown = false
	e.stepsCompleted = 0
	e.summary = Summary{}

	e.timing = timing{lastClock: e.timing.lastClock, clockSeen: e.timing.clockSeen}
	e.distance = distance{lastM: e.distance.lastM, live: e.distance.live}

	e.coefficients = coefficient.NewTracker(e.cfg.Coefficients)
	e.announcedBasePace = 0
	e.announcedPace = 0
	e.controller.Reset()
	e.hrHistory.Reset()
	e.powerHistory.Reset()
	e.hrOut = false
	e.powerOut = false
	e.adjustmentDirection = nil
}

func (e *Engine) workoutNow() time.Duration {
	return time.Duration(e.timing.workoutElapsedMs) * time.Millisecond
}

func (e *Engine) emit(n Notification) {
	e.pending = append(e.pending, n)
}

// publish replaces the observable state and delivers queued notifications in order.
// A listener that calls back into the engine only queues; the outermost publish delivers.
func (e *Engine) publish() {
	s := e.buildState()
	e.state.Store(&s)
	e.states.Notify(s)

	if e.flushing {
		return
	}
	e.flushing = true
	defer func() { e.flushing = false }()
	for len(e.pending) > 0 {
		n := e.pending[0]
		e.pending = e.pending[1:]
		e.journal.Append(n)
		e.recorder.RecordNotification(n)
		e.notifications.Notify(n)
	}
}

func (e *Engine) buildState() State {
	switch e.status {
	case StatusRunning:
		pace, incline := e.effectiveTargets()
		var direction *closedloop.Direction
		if e.adjustmentDirection != nil {
			d := *e.adjustmentDirection
			direction = &d
		}
		return Running{
			Progress:             e.progress(),
			Telemetry:            e.live,
			TargetPaceKph:        pace,
			TargetInclinePercent: incline,
			AdjustmentActive:     e.step.AutoAdjust != workout.AutoAdjustNone,
			AdjustmentDirection:  direction,
			CountdownSeconds:     e.countdown(),
		}
	case StatusPaused:
		pace, incline := e.effectiveTargets()
		return Paused{
			Progress:             e.progress(),
			TargetPaceKph:        pace,
			TargetInclinePercent: incline,
		}
	case StatusCompleted:
		return Completed{
			Workout:         e.timeline,
			Summary:         e.summary,
			TotalDurationMs: e.summary.TotalDurationMs,
			TotalDistanceM:  e.summary.TotalDistanceM,
		}
	default:
		return Idle{Workout: e.timeline}
	}
}

func (e *Engine) progress() Progress {
	return Progress{
		Workout:          e.timeline,
		StepIndex:        e.stepIndex,
		StepCount:        e.timeline.Len(),
		Step:             e.step,
		Phase:            e.timeline.PhaseOf(e.stepIndex),
		AutoCooldown:     e.autoCooldown,
		StepElapsedMs:    e.timing.stepElapsedMs,
		StepDistanceM:    e.stepDistanceM(),
		WorkoutElapsedMs: e.timing.workoutElapsedMs,
		WorkoutDistanceM: e.workoutDistanceM(),
	}
}
