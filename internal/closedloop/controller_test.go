package closedloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

func hrInput(metric float64, now time.Duration) Input {
	return Input{
		Metric:                metric,
		Band:                  Band{Min: 140, Max: 150},
		Axis:                  workout.AxisSpeed,
		Mode:                  DefaultHRConfig(),
		CurrentPaceKph:        10,
		CurrentInclinePercent: 1,
		BasePaceKph:           10,
		BaseInclinePercent:    1,
		Now:                   now,
	}
}

func TestController_NoData(t *testing.T) {
	c := NewController(DefaultLimits())
	assert.Equal(t, NoAdjustment{Reason: ReasonNoData}, c.Evaluate(hrInput(0, time.Minute)))
	assert.Equal(t, NoAdjustment{Reason: ReasonNoData}, c.Evaluate(hrInput(-3, time.Minute)))
}

func TestController_SettlingWindow(t *testing.T) {
	c := NewController(DefaultLimits())
	c.OnStepStarted(10 * time.Second)

	assert.Equal(t, Waiting{Reason: ReasonSettling}, c.Evaluate(hrInput(170, 20*time.Second)))
	assert.Equal(t, Waiting{Reason: ReasonSettling}, c.Evaluate(hrInput(170, 54*time.Second)))

	d := c.Evaluate(hrInput(170, 55*time.Second))
	require.IsType(t, AdjustSpeed{}, d)

	c.OnWorkoutResumed(2 * time.Minute)
	assert.Equal(t, Waiting{Reason: ReasonSettling}, c.Evaluate(hrInput(170, 2*time.Minute+time.Second)))
}

func TestController_InRangeWithTolerance(t *testing.T) {
	c := NewController(DefaultLimits())
	for _, hr := range []float64{138, 140, 145, 150, 152} {
		assert.Equal(t, NoAdjustment{Reason: ReasonInRange}, c.Evaluate(hrInput(hr, time.Minute)), "hr %v", hr)
	}
}

func TestController_AdjustsSpeedDownWhenTooHigh(t *testing.T) {
	c := NewController(DefaultLimits())
	d := c.Evaluate(hrInput(155, time.Minute))

	adj, ok := d.(AdjustSpeed)
	require.True(t, ok, "got %#v", d)
	assert.Equal(t, DirectionDown, adj.Direction)
	assert.InDelta(t, 9.8, adj.NewSpeedKph, 1e-9)
	assert.NotEmpty(t, adj.Reason)
}

func TestController_LargeDeviationDoublesStep(t *testing.T) {
	c := NewController(DefaultLimits())
	d := c.Evaluate(hrInput(125, time.Minute))

	adj, ok := d.(AdjustSpeed)
	require.True(t, ok)
	assert.Equal(t, DirectionUp, adj.Direction)
	assert.InDelta(t, 10.4, adj.NewSpeedKph, 1e-9)
}

func TestController_MinInterval(t *testing.T) {
	c := NewController(DefaultLimits())
	require.IsType(t, AdjustSpeed{}, c.Evaluate(hrInput(155, time.Minute)))

	assert.Equal(t, Waiting{Reason: ReasonCooldown}, c.Evaluate(hrInput(155, time.Minute+19*time.Second)))
	assert.IsType(t, AdjustSpeed{}, c.Evaluate(hrInput(155, time.Minute+20*time.Second)))
}

func TestController_TrendingIntoRange(t *testing.T) {
	c := NewController(DefaultLimits())
	h := NewHistory(16)
	// HR falling 10 bpm per minute towards the band
	for i := 0; i <= 6; i++ {
		at := time.Minute + time.Duration(i)*5*time.Second
		h.Add(at, 165-float64(i)*10.0/12)
	}

	in := hrInput(160, time.Minute+30*time.Second)
	in.History = h
	assert.Equal(t, NoAdjustment{Reason: ReasonTrending}, c.Evaluate(in))

	// Moving away from the band does not count
	away := NewHistory(16)
	for i := 0; i <= 6; i++ {
		away.Add(time.Minute+time.Duration(i)*5*time.Second, 155+float64(i))
	}
	in.History = away
	assert.IsType(t, AdjustSpeed{}, c.Evaluate(in))
}

func TestController_ClampsToDeviationAndLimits(t *testing.T) {
	c := NewController(DefaultLimits())

	in := hrInput(160, time.Minute)
	in.CurrentPaceKph = 7.5 // 25% below base 10
	assert.Equal(t, NoAdjustment{Reason: ReasonAtLimit}, c.Evaluate(in))

	in.CurrentPaceKph = 7.6
	adj, ok := c.Evaluate(in).(AdjustSpeed)
	require.True(t, ok)
	assert.InDelta(t, 7.5, adj.NewSpeedKph, 1e-9)

	c = NewController(Limits{MinSpeedKph: 1, MaxSpeedKph: 10.1, MaxInclinePercent: 15})
	in = hrInput(120, time.Minute)
	adj, ok = c.Evaluate(in).(AdjustSpeed)
	require.True(t, ok)
	assert.InDelta(t, 10.1, adj.NewSpeedKph, 1e-9)
}

func TestController_InclineAxis(t *testing.T) {
	c := NewController(DefaultLimits())
	in := hrInput(130, time.Minute)
	in.Axis = workout.AxisIncline
	in.CurrentInclinePercent = 4
	in.BaseInclinePercent = 4

	adj, ok := c.Evaluate(in).(AdjustIncline)
	require.True(t, ok)
	assert.Equal(t, DirectionUp, adj.Direction)
	assert.InDelta(t, 5.0, adj.NewInclinePercent, 1e-9)

	// Incline cannot go below the treadmill floor
	c = NewController(DefaultLimits())
	in = hrInput(160, time.Minute)
	in.Axis = workout.AxisIncline
	in.CurrentInclinePercent = 0
	in.BaseInclinePercent = 0
	assert.Equal(t, NoAdjustment{Reason: ReasonAtLimit}, c.Evaluate(in))
}

func TestController_ExportRestoreAndReset(t *testing.T) {
	c := NewController(DefaultLimits())
	c.OnStepStarted(0)
	require.IsType(t, AdjustSpeed{}, c.Evaluate(hrInput(160, time.Minute)))

	s := c.ExportState()
	assert.True(t, s.HasAdjusted)
	assert.Equal(t, time.Minute, s.LastAdjustmentAt)

	other := NewController(DefaultLimits())
	other.RestoreState(s)
	assert.Equal(t, Waiting{Reason: ReasonCooldown}, other.Evaluate(hrInput(160, time.Minute+5*time.Second)))

	other.Reset()
	assert.IsType(t, AdjustSpeed{}, other.Evaluate(hrInput(160, time.Minute+5*time.Second)))
}

func TestHistory_RingBuffer(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Add(time.Duration(i)*time.Second, float64(i))
	}
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []Sample{
		{At: 3 * time.Second, Value: 3},
		{At: 4 * time.Second, Value: 4},
		{At: 5 * time.Second, Value: 5},
	}, h.Since(0))
	assert.Len(t, h.Since(4*time.Second), 2)

	h.Reset()
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Since(0))
}

func TestSlopePerMinute(t *testing.T) {
	_, ok := slopePerMinute([]Sample{{At: time.Second, Value: 1}})
	assert.False(t, ok)

	slope, ok := slopePerMinute([]Sample{{At: 0, Value: 100}, {At: 30 * time.Second, Value: 105}, {At: time.Minute, Value: 110}})
	require.True(t, ok)
	assert.InDelta(t, 10, slope, 1e-9)
}
