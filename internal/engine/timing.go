package engine

import (
	"math"

	"github.com/sirupsen/logrus"
)

// timing holds device-clock anchors, in seconds. The cached elapsed values are written
// only by recomputeTiming.
type timing struct {
	workoutStart    float64
	stepStart       float64
	totalPaused     float64
	pausedAt        float64
	stepPauseOffset float64 // totalPaused when the current step started

	lastClock float64
	clockSeen bool

	stepElapsedMs    int64
	workoutElapsedMs int64
}

// distance holds cumulative distance anchors, in meters
type distance struct {
	workoutStartM float64
	stepStartM    float64
	lastM         float64
	anchored      bool // anchors are valid
	live          bool // a reading arrived since the engine was created
}

// OnDeviceClockTick is the only path that advances elapsed time
func (e *Engine) OnDeviceClockTick(elapsedSeconds float64) {
	defer e.publish()
	if math.IsNaN(elapsedSeconds) || elapsedSeconds < 0 {
		return
	}

	t := &e.timing
	active := e.isActive()
	switch {
	case !t.clockSeen:
		// Anchors taken before the first tick are relative to lastClock
		if active {
			e.shiftClock(elapsedSeconds - t.lastClock)
		}
		t.clockSeen = true
	case elapsedSeconds < t.lastClock:
		if t.lastClock-elapsedSeconds <= e.cfg.ClockJitterSeconds {
			e.logger.WithFields(logrus.Fields{"last": t.lastClock, "tick": elapsedSeconds}).Debug("Engine: Ignoring out of order clock tick")
			return
		}
		if active {
			e.shiftClock(elapsedSeconds - t.lastClock)
		}
		e.logger.WithFields(logrus.Fields{"last": t.lastClock, "tick": elapsedSeconds}).Info("Engine: Device clock reset, rebasing")
	}
	t.lastClock = elapsedSeconds

	if !active {
		return
	}
	e.recomputeTiming(elapsedSeconds)
	e.recorder.RecordTiming(e.status, t.stepElapsedMs, t.workoutElapsedMs)
	e.checkCompletion()
	e.followRamp()
}

func (e *Engine) shiftClock(delta float64) {
	e.timing.workoutStart += delta
	e.timing.stepStart += delta
	e.timing.pausedAt += delta
}

// recomputeTiming refreshes the elapsed cache. While paused, time stands still at pausedAt.
func (e *Engine) recomputeTiming(now float64) {
	t := &e.timing
	if e.status == StatusPaused {
		now = t.pausedAt
	}
	t.workoutElapsedMs = secondsToMs(now - t.workoutStart - t.totalPaused)
	t.stepElapsedMs = secondsToMs(now - t.stepStart - (t.totalPaused - t.stepPauseOffset))
}

func secondsToMs(s float64) int64 {
	if s <= 0 || math.IsNaN(s) {
		return 0
	}
	return int64(math.Round(s * 1000))
}

func (e *Engine) shiftDistance(delta float64) {
	e.distance.workoutStartM += delta
	e.distance.stepStartM += delta
}

func (e *Engine) stepDistanceM() float64 {
	if !e.distance.anchored {
		return 0
	}
	return math.Max(0, e.distance.lastM-e.distance.stepStartM)
}

func (e *Engine) workoutDistanceM() float64 {
	if !e.distance.anchored {
		return 0
	}
	return math.Max(0, e.distance.lastM-e.distance.workoutStartM)
}
