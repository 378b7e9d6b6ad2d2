package engine

import (
	"github.com/lowaak/smart-trainer/treadmill-app/internal/closedloop"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/coefficient"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

// Default athlete values
const (
	DefaultThresholdHR = 170
	DefaultFTPWatts    = 300
)

type Config struct {
	ThresholdHR float64 // bpm, HR bands are percent of this
	FTPWatts    float64 // running power bands are percent of this

	Coefficients coefficient.Config

	// Countdown is exposed while the remaining time is in (0, CountdownSeconds]
	CountdownSeconds float64
	// Backward clock ticks up to this size are ignored as jitter, larger ones rebase the clock
	ClockJitterSeconds float64

	AutoCooldown workout.CooldownDefaults

	HR     closedloop.ModeConfig
	Power  closedloop.ModeConfig
	Limits closedloop.Limits

	HistoryCapacity int
}

func DefaultConfig() Config {
	return Config{
		ThresholdHR:        DefaultThresholdHR,
		FTPWatts:           DefaultFTPWatts,
		Coefficients:       coefficient.DefaultConfig(),
		CountdownSeconds:   3,
		ClockJitterSeconds: 1,
		AutoCooldown:       workout.DefaultCooldownDefaults(),
		HR:                 closedloop.DefaultHRConfig(),
		Power:              closedloop.DefaultPowerConfig(),
		Limits:             closedloop.DefaultLimits(),
		HistoryCapacity:    120,
	}
}

// Recorder receives every delivered notification and the timing cache, for metrics
type Recorder interface {
	RecordNotification(n Notification)
	RecordTiming(status Status, stepElapsedMs, workoutElapsedMs int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordNotification(Notification)   {}
func (nopRecorder) RecordTiming(Status, int64, int64) {}
