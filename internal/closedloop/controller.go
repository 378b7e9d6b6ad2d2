package closedloop

import (
	"fmt"
	"math"
	"time"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

// Direction of a proposed adjustment
type Direction int

const (
	DirectionUp Direction = iota + 1
	DirectionDown
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "none"
	}
}

// Band is an absolute target range
type Band struct {
	Min float64
	Max float64
}

// Decision is one of AdjustSpeed, AdjustIncline, Waiting or NoAdjustment
type Decision interface {
	isDecision()
}

type AdjustSpeed struct {
	NewSpeedKph float64
	Direction   Direction
	Reason      string
}

type AdjustIncline struct {
	NewInclinePercent float64
	Direction         Direction
	Reason            string
}

type Waiting struct {
	Reason string
}

type NoAdjustment struct {
	Reason string
}

func (AdjustSpeed) isDecision()   {}
func (AdjustIncline) isDecision() {}
func (Waiting) isDecision()       {}
func (NoAdjustment) isDecision()  {}

const (
	ReasonNoData   = "no data"
	ReasonSettling = "settling"
	ReasonInRange  = "in range"
	ReasonCooldown = "cooldown"
	ReasonTrending = "trending into range"
	ReasonAtLimit  = "at limit"
)

// Input is everything one evaluation looks at
type Input struct {
	Metric float64
	Band   Band
	Axis   workout.Axis
	Mode   ModeConfig

	CurrentPaceKph        float64
	CurrentInclinePercent float64
	BasePaceKph           float64
	BaseInclinePercent    float64

	Now     time.Duration // Workout time, paused time excluded
	History HistoryProvider
}

// State is the exportable bookkeeping of a Controller
type State struct {
	SettlingActive    bool          `json:"settling_active"`
	SettlingStartedAt time.Duration `json:"settling_started_at"`
	HasAdjusted       bool          `json:"has_adjusted"`
	LastAdjustmentAt  time.Duration `json:"last_adjustment_at"`
}

// Controller proposes speed or incline nudges to bring a metric into its band.
// It never applies anything itself. Not safe for concurrent use.
type Controller struct {
	limits Limits
	state  State
}

func NewController(limits Limits) *Controller {
	return &Controller{limits: limits}
}

// OnStepStarted opens a settling window, the metric lags behind pace changes
func (c *Controller) OnStepStarted(now time.Duration) {
	c.state.SettlingActive = true
	c.state.SettlingStartedAt = now
}

func (c *Controller) OnWorkoutResumed(now time.Duration) {
	c.state.SettlingActive = true
	c.state.SettlingStartedAt = now
}

func (c *Controller) Reset() {
	c.state = State{}
}

func (c *Controller) ExportState() State {
	return c.state
}

func (c *Controller) RestoreState(s State) {
	c.state = s
}

func (c *Controller) Evaluate(in Input) Decision {
	if in.Metric <= 0 {
		return NoAdjustment{Reason: ReasonNoData}
	}

	if c.state.SettlingActive {
		if in.Now-c.state.SettlingStartedAt < in.Mode.SettlingDelay && in.Now >= c.state.SettlingStartedAt {
			return Waiting{Reason: ReasonSettling}
		}
		c.state.SettlingActive = false
	}

	lo := in.Band.Min - in.Mode.Tolerance
	hi := in.Band.Max + in.Mode.Tolerance
	if in.Metric >= lo && in.Metric <= hi {
		return NoAdjustment{Reason: ReasonInRange}
	}

	if c.state.HasAdjusted && in.Now >= c.state.LastAdjustmentAt && in.Now-c.state.LastAdjustmentAt < in.Mode.MinInterval {
		return Waiting{Reason: ReasonCooldown}
	}

	tooHigh := in.Metric > hi
	if in.History != nil && in.Mode.TrendWindow > 0 && in.Mode.TrendThresholdPerMinute > 0 {
		if slope, ok := slopePerMinute(in.History.Since(in.Now - in.Mode.TrendWindow)); ok {
			if (tooHigh && slope <= -in.Mode.TrendThresholdPerMinute) || (!tooHigh && slope >= in.Mode.TrendThresholdPerMinute) {
				return NoAdjustment{Reason: ReasonTrending}
			}
		}
	}

	direction := DirectionUp
	deviation := in.Band.Min - in.Metric
	if tooHigh {
		direction = DirectionDown
		deviation = in.Metric - in.Band.Max
	}
	multiplier := 1.0
	if in.Mode.LargeDeviation > 0 && deviation > in.Mode.LargeDeviation {
		multiplier = 2
	}
	sign := 1.0
	if direction == DirectionDown {
		sign = -1
	}
	reason := fmt.Sprintf("%.0f outside [%.0f, %.0f]", in.Metric, in.Band.Min, in.Band.Max)

	switch in.Axis {
	case workout.AxisIncline:
		proposed := in.CurrentInclinePercent + sign*multiplier*in.Mode.InclineStepPercent
		lo, hi := c.limits.MinInclinePercent, c.limits.MaxInclinePercent
		if in.Mode.MaxInclineDeviationPercent > 0 {
			lo = math.Max(lo, in.BaseInclinePercent-in.Mode.MaxInclineDeviationPercent)
			hi = math.Min(hi, in.BaseInclinePercent+in.Mode.MaxInclineDeviationPercent)
		}
		proposed = clamp(proposed, lo, hi)
		if !moved(proposed, in.CurrentInclinePercent, direction) {
			return NoAdjustment{Reason: ReasonAtLimit}
		}
		c.recordAdjustment(in.Now)
		return AdjustIncline{NewInclinePercent: proposed, Direction: direction, Reason: reason}
	default:
		proposed := in.CurrentPaceKph + sign*multiplier*in.Mode.SpeedStepKph
		lo, hi := c.limits.MinSpeedKph, c.limits.MaxSpeedKph
		if in.Mode.MaxDeviationFraction > 0 && in.BasePaceKph > 0 {
			lo = math.Max(lo, in.BasePaceKph*(1-in.Mode.MaxDeviationFraction))
			hi = math.Min(hi, in.BasePaceKph*(1+in.Mode.MaxDeviationFraction))
		}
		proposed = clamp(proposed, lo, hi)
		if !moved(proposed, in.CurrentPaceKph, direction) {
			return NoAdjustment{Reason: ReasonAtLimit}
		}
		c.recordAdjustment(in.Now)
		return AdjustSpeed{NewSpeedKph: proposed, Direction: direction, Reason: reason}
	}
}

func (c *Controller) recordAdjustment(now time.Duration) {
	c.state.HasAdjusted = true
	c.state.LastAdjustmentAt = now
}

// moved reports whether proposed goes the intended way from current
func moved(proposed, current float64, d Direction) bool {
	const eps = 1e-6
	if d == DirectionUp {
		return proposed > current+eps
	}
	return proposed < current-eps
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
