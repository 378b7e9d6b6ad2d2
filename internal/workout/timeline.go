package workout

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

var (
	ErrNoSteps     = errors.New("workout has no steps")
	ErrPhaseCounts = errors.New("phase counts do not match steps")
	ErrInvalidStep = errors.New("invalid step")
)

// Phase is a contiguous range of the timeline
type Phase int

const (
	PhaseWarmup Phase = iota
	PhaseMain
	PhaseCooldown
)

func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "warmup"
	case PhaseCooldown:
		return "cooldown"
	default:
		return "main"
	}
}

// Plan is an independently defined list of steps (a main set, a warmup or a cooldown)
type Plan struct {
	ID    string
	Name  string
	Steps []Step
}

// Timeline is the ordered list of steps the engine executes, split into
// warmup [0,w), main [w,w+m) and cooldown [w+m,n).
type Timeline struct {
	WorkoutID     string
	Name          string
	Steps         []Step
	WarmupCount   int
	MainCount     int
	CooldownCount int
}

// NewTimeline builds a timeline made only of main steps
func NewTimeline(p Plan) *Timeline {
	steps := make([]Step, len(p.Steps))
	copy(steps, p.Steps)
	return &Timeline{
		WorkoutID: p.ID,
		Name:      p.Name,
		Steps:     steps,
		MainCount: len(steps),
	}
}

// Stitch joins an optional warmup and cooldown around a main plan.
// The main plan owns the workout identity.
func Stitch(main Plan, warmup, cooldown *Plan) (*Timeline, error) {
	t := &Timeline{
		WorkoutID: main.ID,
		Name:      main.Name,
	}
	if warmup != nil {
		t.Steps = append(t.Steps, warmup.Steps...)
		t.WarmupCount = len(warmup.Steps)
	}
	t.Steps = append(t.Steps, main.Steps...)
	t.MainCount = len(main.Steps)
	if cooldown != nil {
		t.Steps = append(t.Steps, cooldown.Steps...)
		t.CooldownCount = len(cooldown.Steps)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("stitch %q: %w", main.Name, err)
	}
	return t, nil
}

// Len returns the number of planned steps
func (t *Timeline) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Steps)
}

// PhaseOf maps a step index to its phase. Indexes past the planned steps
// belong to the synthesized cooldown.
func (t *Timeline) PhaseOf(index int) Phase {
	switch {
	case index < t.WarmupCount:
		return PhaseWarmup
	case index < t.WarmupCount+t.MainCount:
		return PhaseMain
	default:
		return PhaseCooldown
	}
}

// PhaseStart returns the index of the first step of the given phase
func (t *Timeline) PhaseStart(p Phase) int {
	switch p {
	case PhaseWarmup:
		return 0
	case PhaseMain:
		return t.WarmupCount
	default:
		return t.WarmupCount + t.MainCount
	}
}

// Step returns the planned step at index
func (t *Timeline) Step(index int) (Step, bool) {
	if t == nil || index < 0 || index >= len(t.Steps) {
		return Step{}, false
	}
	return t.Steps[index], true
}

// Validate checks the phase ranges and every step, reporting all problems at once
func (t *Timeline) Validate() error {
	if t == nil {
		return ErrNoSteps
	}
	var err error
	if len(t.Steps) == 0 {
		err = multierr.Append(err, ErrNoSteps)
	}
	if t.WarmupCount < 0 || t.MainCount < 0 || t.CooldownCount < 0 ||
		t.WarmupCount+t.MainCount+t.CooldownCount != len(t.Steps) {
		err = multierr.Append(err, fmt.Errorf("%w: warmup=%d main=%d cooldown=%d steps=%d",
			ErrPhaseCounts, t.WarmupCount, t.MainCount, t.CooldownCount, len(t.Steps)))
	}
	for i, s := range t.Steps {
		err = multierr.Append(err, validateStep(i, s))
	}
	return err
}

func validateStep(index int, s Step) error {
	var err error
	fail := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf("%w %d (%s): %s", ErrInvalidStep, index, s.Name(), fmt.Sprintf(format, args...)))
	}
	if s.PaceTargetKph < 0 || s.PaceEndTargetKph < 0 {
		fail("negative pace")
	}
	if s.EarlyEnd != EarlyEndOpen {
		switch s.DurationKind {
		case DurationTime:
			if s.DurationSeconds <= 0 {
				fail("time step needs a positive duration")
			}
		case DurationDistance:
			if s.DurationMeters <= 0 {
				fail("distance step needs a positive distance")
			}
		}
	}
	if s.EarlyEnd == EarlyEndHRRange && s.HRTarget == nil {
		fail("hr_range early end needs an hr target")
	}
	if s.AutoAdjust == AutoAdjustHR && s.HRTarget == nil {
		fail("hr auto adjust needs an hr target")
	}
	if s.AutoAdjust == AutoAdjustPower && s.PowerTarget == nil {
		fail("power auto adjust needs a power target")
	}
	if b := s.HRTarget; b != nil && !b.valid() {
		fail("hr band [%.0f,%.0f] is invalid", b.MinPercent, b.MaxPercent)
	}
	if b := s.PowerTarget; b != nil && !b.valid() {
		fail("power band [%.0f,%.0f] is invalid", b.MinPercent, b.MaxPercent)
	}
	return err
}

// CooldownDefaults are the targets of the synthesized cooldown when no cooldown phase is attached
type CooldownDefaults struct {
	PaceKph        float64
	InclinePercent float64
}

func DefaultCooldownDefaults() CooldownDefaults {
	return CooldownDefaults{PaceKph: 4.0, InclinePercent: 0}
}

// AutoCooldownIdentityKey is the identity key of the synthesized cooldown step
const AutoCooldownIdentityKey = "auto-cooldown"

// SynthesizeCooldown builds the open-ended step appended once all planned steps are done.
// It reuses the last attached cooldown step's targets when there is one.
func SynthesizeCooldown(t *Timeline, defaults CooldownDefaults) Step {
	step := Step{
		ID:                   "auto-cooldown",
		Type:                 StepTypeCooldown,
		DurationKind:         DurationTime,
		PaceTargetKph:        defaults.PaceKph,
		InclineTargetPercent: defaults.InclinePercent,
		EarlyEnd:             EarlyEndOpen,
		IdentityKey:          AutoCooldownIdentityKey,
		DisplayName:          "Cool down",
	}
	if t != nil && t.CooldownCount > 0 {
		last := t.Steps[len(t.Steps)-1]
		step.PaceTargetKph = last.PaceTargetKph
		if last.IsRamp() {
			step.PaceTargetKph = last.PaceEndTargetKph
		}
		step.InclineTargetPercent = last.InclineTargetPercent
	}
	return step
}
