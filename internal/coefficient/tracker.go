package coefficient

import (
	"fmt"
	"math"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

// Scope decides whether coefficients follow the whole workout or each step identity
type Scope int

const (
	ScopeWorkout Scope = iota
	ScopeStep
)

func (s Scope) String() string {
	if s == ScopeStep {
		return "step"
	}
	return "workout"
}

func ParseScope(s string) (Scope, error) {
	switch s {
	case "workout", "":
		return ScopeWorkout, nil
	case "step":
		return ScopeStep, nil
	}
	return ScopeWorkout, fmt.Errorf("unknown coefficient scope %q", s)
}

// Pair holds the multiplicative speed and incline adjustments
type Pair struct {
	Speed   float64 `json:"speed"`
	Incline float64 `json:"incline"`
}

var Identity = Pair{Speed: 1, Incline: 1}

// Apply returns the effective pace and incline for base targets
func (p Pair) Apply(basePaceKph, baseInclinePercent float64) (float64, float64) {
	return basePaceKph * p.Speed, baseInclinePercent * p.Incline
}

// Change is a reported coefficient update
type Change struct {
	Axis        workout.Axis
	Coefficient float64
}

// DisplayDelta is the change against plan in percent, e.g. 1.05 -> +5
func (c Change) DisplayDelta() float64 {
	return (c.Coefficient - 1) * 100
}

type Config struct {
	Scope                 Scope
	TargetReachedFraction float64 // Fraction of the adjusted target speed the belt must reach before observing
	ChangeThreshold       float64 // Minimum absolute difference from the last reported value
}

func DefaultConfig() Config {
	return Config{
		Scope:                 ScopeWorkout,
		TargetReachedFraction: 0.9,
		ChangeThreshold:       0.01,
	}
}

// State is the exportable part of a Tracker
type State struct {
	Current Pair            `json:"current"`
	Scope   Scope           `json:"scope"`
	PerStep map[string]Pair `json:"per_step,omitempty"`
}

// Tracker derives speed and incline coefficients from what the runner actually
// does on the belt compared to the plan. Not safe for concurrent use.
type Tracker struct {
	cfg           Config
	current       Pair
	reported      Pair
	perStep       map[string]Pair
	targetReached bool
}

func NewTracker(cfg Config) *Tracker {
	if cfg.TargetReachedFraction <= 0 {
		cfg.TargetReachedFraction = DefaultConfig().TargetReachedFraction
	}
	if cfg.ChangeThreshold <= 0 {
		cfg.ChangeThreshold = DefaultConfig().ChangeThreshold
	}
	return &Tracker{
		cfg:      cfg,
		current:  Identity,
		reported: Identity,
		perStep:  make(map[string]Pair),
	}
}

func (t *Tracker) Coefficients() Pair {
	return t.current
}

func (t *Tracker) Scope() Scope {
	return t.cfg.Scope
}

// ChangeThreshold is the smallest coefficient difference that gets reported
func (t *Tracker) ChangeThreshold() float64 {
	return t.cfg.ChangeThreshold
}

func (t *Tracker) TargetReached() bool {
	return t.targetReached
}

// Reset returns to identity and forgets every per-step value
func (t *Tracker) Reset() {
	t.current = Identity
	t.reported = Identity
	t.perStep = make(map[string]Pair)
	t.targetReached = false
}

// BeginStep re-arms the target-reached latch
func (t *Tracker) BeginStep() {
	t.targetReached = false
}

// Resume re-arms the latch after a pause, the belt has to come back up to speed
func (t *Tracker) Resume() {
	t.targetReached = false
}

// Save stores the live coefficients under key. Empty keys are not tracked.
func (t *Tracker) Save(key string) {
	if key == "" {
		return
	}
	t.perStep[key] = t.current
}

// Load makes the coefficients saved under key live, identity when unseen
func (t *Tracker) Load(key string) {
	p, ok := t.perStep[key]
	if key == "" || !ok {
		p = Identity
	}
	t.current = p
	t.reported = p
}

// Observe feeds one speed/incline echo from the treadmill and returns the changes worth reporting
func (t *Tracker) Observe(actualSpeed, actualIncline, baseSpeed, baseIncline float64) []Change {
	if actualSpeed <= 0 {
		return nil
	}
	if !t.targetReached {
		target := baseSpeed * t.current.Speed
		if target > 0 && actualSpeed < t.cfg.TargetReachedFraction*target {
			return nil
		}
		t.targetReached = true
	}

	var changes []Change
	if baseSpeed > 0 {
		t.current.Speed = actualSpeed / baseSpeed
		if math.Abs(t.current.Speed-t.reported.Speed) > t.cfg.ChangeThreshold {
			t.reported.Speed = t.current.Speed
			changes = append(changes, Change{Axis: workout.AxisSpeed, Coefficient: t.current.Speed})
		}
	}
	if baseIncline > 0 && actualIncline >= 0 {
		t.current.Incline = actualIncline / baseIncline
		if math.Abs(t.current.Incline-t.reported.Incline) > t.cfg.ChangeThreshold {
			t.reported.Incline = t.current.Incline
			changes = append(changes, Change{Axis: workout.AxisIncline, Coefficient: t.current.Incline})
		}
	}
	return changes
}

func (t *Tracker) Export() State {
	perStep := make(map[string]Pair, len(t.perStep))
	for k, v := range t.perStep {
		perStep[k] = v
	}
	return State{Current: t.current, Scope: t.cfg.Scope, PerStep: perStep}
}

func (t *Tracker) Restore(s State) {
	t.cfg.Scope = s.Scope
	t.current = s.Current
	if t.current.Speed <= 0 {
		t.current.Speed = 1
	}
	if t.current.Incline < 0 {
		t.current.Incline = 1
	}
	t.reported = t.current
	t.perStep = make(map[string]Pair, len(s.PerStep))
	for k, v := range s.PerStep {
		t.perStep[k] = v
	}
	t.targetReached = false
}

func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Scope) UnmarshalText(text []byte) error {
	parsed, err := ParseScope(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
