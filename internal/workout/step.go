package workout

import "fmt"

// StepType is the intent of a step, used for display and for picking cooldown targets
type StepType int

const (
	StepTypeRun StepType = iota
	StepTypeWarmup
	StepTypeRecovery
	StepTypeCooldown
	StepTypeOther
)

var stepTypeNames = map[StepType]string{
	StepTypeRun:      "run",
	StepTypeWarmup:   "warmup",
	StepTypeRecovery: "recovery",
	StepTypeCooldown: "cooldown",
	StepTypeOther:    "other",
}

func (t StepType) String() string {
	if name, ok := stepTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("StepType(%d)", int(t))
}

// ParseStepType maps a plan file name to a StepType
func ParseStepType(s string) (StepType, error) {
	for t, name := range stepTypeNames {
		if name == s {
			return t, nil
		}
	}
	return StepTypeOther, fmt.Errorf("unknown step type %q", s)
}

// DurationKind says which counter ends a step
type DurationKind int

const (
	DurationTime DurationKind = iota
	DurationDistance
)

func (k DurationKind) String() string {
	if k == DurationDistance {
		return "distance"
	}
	return "time"
}

// EarlyEnd defines how a step may end besides reaching its duration
type EarlyEnd int

const (
	EarlyEndNone    EarlyEnd = iota // Ends when the duration is reached
	EarlyEndOpen                    // Never ends by itself, only by user navigation
	EarlyEndHRRange                 // Also ends as soon as heart rate enters the HR target band
)

func (e EarlyEnd) String() string {
	switch e {
	case EarlyEndOpen:
		return "open"
	case EarlyEndHRRange:
		return "hr_range"
	default:
		return "none"
	}
}

// AutoAdjust selects the metric the closed-loop controller tracks for a step
type AutoAdjust int

const (
	AutoAdjustNone AutoAdjust = iota
	AutoAdjustHR
	AutoAdjustPower
)

func (a AutoAdjust) String() string {
	switch a {
	case AutoAdjustHR:
		return "hr"
	case AutoAdjustPower:
		return "power"
	default:
		return "none"
	}
}

// Axis is the treadmill control a coefficient or an adjustment applies to
type Axis int

const (
	AxisSpeed Axis = iota
	AxisIncline
)

func (a Axis) String() string {
	if a == AxisIncline {
		return "incline"
	}
	return "speed"
}

// Band is a target range expressed as percent of a threshold (threshold HR or FTP)
type Band struct {
	MinPercent float64
	MaxPercent float64
}

func (b *Band) valid() bool {
	return b.MinPercent >= 0 && b.MaxPercent > 0 && b.MinPercent <= b.MaxPercent
}

// Absolute converts the band to absolute units for the given threshold.
// ok is false when the band or the threshold is unusable.
func (b *Band) Absolute(threshold float64) (lo, hi float64, ok bool) {
	if b == nil || threshold <= 0 || b.MaxPercent <= 0 || b.MinPercent > b.MaxPercent {
		return 0, 0, false
	}
	return b.MinPercent / 100 * threshold, b.MaxPercent / 100 * threshold, true
}

// Step is one executable segment of a workout. Steps are immutable once built.
type Step struct {
	ID           string
	Type         StepType
	DurationKind DurationKind

	DurationSeconds float64 // Used when DurationKind is DurationTime
	DurationMeters  float64 // Used when DurationKind is DurationDistance

	PaceTargetKph        float64
	PaceEndTargetKph     float64 // 0 means no ramp
	InclineTargetPercent float64

	EarlyEnd   EarlyEnd
	AutoAdjust AutoAdjust
	Adjustment Axis

	HRTarget    *Band // percent of threshold heart rate
	PowerTarget *Band // percent of FTP

	IdentityKey string // Correlates repeated occurrences of the same interval
	DisplayName string
}

// IsRamp reports whether the base pace changes over the step
func (s Step) IsRamp() bool {
	return s.PaceEndTargetKph > 0 && s.PaceEndTargetKph != s.PaceTargetKph
}

// Progress returns how far through the step we are, in [0,1].
// Open steps never progress.
func (s Step) Progress(elapsedMs int64, distanceM float64) float64 {
	if s.EarlyEnd == EarlyEndOpen {
		return 0
	}
	var p float64
	switch s.DurationKind {
	case DurationDistance:
		if s.DurationMeters <= 0 {
			return 0
		}
		p = distanceM / s.DurationMeters
	default:
		if s.DurationSeconds <= 0 {
			return 0
		}
		p = float64(elapsedMs) / (s.DurationSeconds * 1000)
	}
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// BasePaceAt returns the planned (pre-coefficient) pace at the given progress.
// Ramp steps interpolate linearly from PaceTargetKph to PaceEndTargetKph.
func (s Step) BasePaceAt(progress float64) float64 {
	if !s.IsRamp() {
		return s.PaceTargetKph
	}
	return s.PaceTargetKph + (s.PaceEndTargetKph-s.PaceTargetKph)*progress
}

// Name returns the display name, falling back to the step type
func (s Step) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Type.String()
}
