package engine

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/closedloop"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

// OnSpeedInclineTick takes the treadmill's echo of its belt speed and incline.
// hrAdvisory is only displayed until a dedicated heart rate tick has been seen.
func (e *Engine) OnSpeedInclineTick(speedKph, inclinePercent, hrAdvisory float64) {
	defer e.publish()
	if math.IsNaN(speedKph) || math.IsNaN(inclinePercent) {
		return
	}
	e.prevBeltSpeed = e.live.SpeedKph
	e.live.SpeedKph = math.Max(0, speedKph)
	e.live.InclinePercent = inclinePercent
	e.beltSeen = true
	if hrAdvisory > 0 && !e.hrSeen {
		e.live.HeartRate = hrAdvisory
	}

	if e.status != StatusRunning {
		return
	}
	// The belt is judged against what it was told, a ramp may have moved on since
	_, baseIncline := e.baseTargets()
	for _, c := range e.coefficients.Observe(speedKph, inclinePercent, e.announcedBasePace, baseIncline) {
		e.emit(EffortAdjusted{Axis: c.Axis, Coefficient: c.Coefficient, DisplayDelta: c.DisplayDelta()})
		e.logger.WithFields(logrus.Fields{"axis": c.Axis, "coefficient": c.Coefficient}).Debug("Engine: Effort adjusted")
	}
}

// OnHeartRateTick handles a heart rate reading. Readings <= 0 mean no data.
func (e *Engine) OnHeartRateTick(bpm float64) {
	defer e.publish()
	if !(bpm > 0) {
		return
	}
	e.hrSeen = true
	e.live.HeartRate = bpm

	if e.status != StatusRunning {
		return
	}
	e.hrHistory.Add(e.workoutNow(), bpm)

	lo, hi, ok := e.step.HRTarget.Absolute(e.cfg.ThresholdHR)
	if !ok {
		return
	}
	reading := RangeReading{Current: bpm, Min: lo, Max: hi}
	inBand := bpm >= lo && bpm <= hi

	if e.step.EarlyEnd == workout.EarlyEndHRRange {
		if inBand {
			e.emit(HrEarlyEndTriggered{RangeReading: reading, Index: e.stepIndex})
			e.logger.WithField("hr", bpm).Info("Engine: Heart rate in range, ending step early")
			e.completeStep()
		}
		return
	}

	e.hrOut = e.trackRange(e.hrOut, inBand, HrOutOfRange{reading}, HrBackInRange{reading})
	if e.step.AutoAdjust == workout.AutoAdjustHR {
		e.runController(bpm, lo, hi, e.cfg.HR, e.hrHistory)
	}
}

// OnPowerTick handles a running power reading. Readings <= 0 mean no data.
func (e *Engine) OnPowerTick(watts float64) {
	defer e.publish()
	if !(watts > 0) {
		return
	}
	e.live.PowerWatts = watts

	if e.status != StatusRunning {
		return
	}
	e.powerHistory.Add(e.workoutNow(), watts)

	lo, hi, ok := e.step.PowerTarget.Absolute(e.cfg.FTPWatts)
	if !ok {
		return
	}
	reading := RangeReading{Current: watts, Min: lo, Max: hi}
	e.powerOut = e.trackRange(e.powerOut, watts >= lo && watts <= hi, PowerOutOfRange{reading}, PowerBackInRange{reading})
	if e.step.AutoAdjust == workout.AutoAdjustPower {
		e.runController(watts, lo, hi, e.cfg.Power, e.powerHistory)
	}
}

// OnDistanceTick takes the treadmill's cumulative distance counter
func (e *Engine) OnDistanceTick(cumulativeKm float64) {
	defer e.publish()
	if math.IsNaN(cumulativeKm) || cumulativeKm < 0 {
		return
	}
	m := cumulativeKm * 1000
	d := &e.distance
	switch {
	case !d.live:
		d.live = true
		if e.isActive() {
			if d.anchored {
				e.shiftDistance(m - d.lastM)
			} else {
				d.workoutStartM = m
				d.stepStartM = m
				d.anchored = true
			}
		}
	case m < d.lastM:
		if d.anchored {
			e.shiftDistance(m - d.lastM)
		}
		e.logger.WithFields(logrus.Fields{"last_m": d.lastM, "m": m}).Info("Engine: Distance counter reset, rebasing")
	case e.status == StatusPaused:
		// Belt movement while paused does not count
		e.shiftDistance(m - d.lastM)
	}
	d.lastM = m

	if e.status == StatusRunning {
		e.checkCompletion()
		e.followRamp()
	}
}

// trackRange emits on the in->out and out->in edges only, and returns the new out flag
func (e *Engine) trackRange(wasOut, inBand bool, out, back Notification) bool {
	switch {
	case !inBand && !wasOut:
		e.emit(out)
		return true
	case inBand && wasOut:
		e.emit(back)
		return false
	}
	return wasOut
}

func (e *Engine) runController(metric, lo, hi float64, mode closedloop.ModeConfig, history *closedloop.History) {
	basePace, baseIncline := e.baseTargets()
	currentPace, currentIncline := e.coefficients.Coefficients().Apply(basePace, baseIncline)
	if e.beltSeen && e.live.SpeedKph > 0 {
		currentPace = e.live.SpeedKph
		currentIncline = e.live.InclinePercent
	}

	decision := e.controller.Evaluate(closedloop.Input{
		Metric:                metric,
		Band:                  closedloop.Band{Min: lo, Max: hi},
		Axis:                  e.step.Adjustment,
		Mode:                  mode,
		CurrentPaceKph:        currentPace,
		CurrentInclinePercent: currentIncline,
		BasePaceKph:           basePace,
		BaseInclinePercent:    baseIncline,
		Now:                   e.workoutNow(),
		History:               history,
	})

	switch d := decision.(type) {
	case closedloop.AdjustSpeed:
		e.setDirection(d.Direction)
		e.emit(SpeedAdjusted{NewValue: d.NewSpeedKph, Direction: d.Direction, Reason: d.Reason})
		e.logger.WithFields(logrus.Fields{"speed": d.NewSpeedKph, "direction": d.Direction}).Infof("Engine: Proposing speed change, %s", d.Reason)
	case closedloop.AdjustIncline:
		e.setDirection(d.Direction)
		e.emit(InclineAdjusted{NewValue: d.NewInclinePercent, Direction: d.Direction, Reason: d.Reason})
		e.logger.WithFields(logrus.Fields{"incline": d.NewInclinePercent, "direction": d.Direction}).Infof("Engine: Proposing incline change, %s", d.Reason)
	case closedloop.Waiting:
		e.logger.Debugf("Engine: Controller waiting (%s)", d.Reason)
	case closedloop.NoAdjustment:
		e.logger.Debugf("Engine: No adjustment (%s)", d.Reason)
	}
}

func (e *Engine) setDirection(d closedloop.Direction) {
	e.adjustmentDirection = &d
}
