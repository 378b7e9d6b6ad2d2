package closedloop

import "time"

// ModeConfig tunes the controller for one metric (HR or power)
type ModeConfig struct {
	Tolerance          float64 // Slack around the band, in metric units
	SpeedStepKph       float64
	InclineStepPercent float64

	MinInterval   time.Duration // Minimum time between two proposals
	SettlingDelay time.Duration // Quiet period after a step start or a resume

	TrendWindow             time.Duration
	TrendThresholdPerMinute float64 // Slope towards the band that counts as "already correcting"

	LargeDeviation float64 // Beyond this distance from the band the step is doubled

	MaxDeviationFraction       float64 // Speed may move at most this fraction away from the planned pace
	MaxInclineDeviationPercent float64 // Incline may move at most this many points away from the planned incline
}

func DefaultHRConfig() ModeConfig {
	return ModeConfig{
		Tolerance:                  2,
		SpeedStepKph:               0.2,
		InclineStepPercent:         0.5,
		MinInterval:                20 * time.Second,
		SettlingDelay:              45 * time.Second,
		TrendWindow:                30 * time.Second,
		TrendThresholdPerMinute:    3,
		LargeDeviation:             8,
		MaxDeviationFraction:       0.25,
		MaxInclineDeviationPercent: 6,
	}
}

func DefaultPowerConfig() ModeConfig {
	return ModeConfig{
		Tolerance:                  5,
		SpeedStepKph:               0.2,
		InclineStepPercent:         0.5,
		MinInterval:                10 * time.Second,
		SettlingDelay:              15 * time.Second,
		TrendWindow:                15 * time.Second,
		TrendThresholdPerMinute:    20,
		LargeDeviation:             30,
		MaxDeviationFraction:       0.25,
		MaxInclineDeviationPercent: 6,
	}
}

// Limits are the absolute treadmill bounds
type Limits struct {
	MinSpeedKph       float64
	MaxSpeedKph       float64
	MinInclinePercent float64
	MaxInclinePercent float64
}

func DefaultLimits() Limits {
	return Limits{
		MinSpeedKph:       1,
		MaxSpeedKph:       20,
		MinInclinePercent: 0,
		MaxInclinePercent: 15,
	}
}
