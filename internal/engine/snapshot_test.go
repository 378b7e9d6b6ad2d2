package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/coefficient"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

// midWorkout is 75s in: step 1 of 3, 15s into it, with a 1.1 speed coefficient
func midWorkout(t *testing.T, cfg Config) (*Engine, *workout.Timeline) {
	e, _ := newTestEngine(cfg)
	e.OnDeviceClockTick(0)
	tl := mainTimeline(3)
	require.True(t, e.Load(tl))
	e.Start()
	e.OnDeviceClockTick(60)
	e.OnDeviceClockTick(75)
	e.OnSpeedInclineTick(11, 1, 0)
	s := running(t, e)
	require.Equal(t, 1, s.StepIndex)
	require.InDelta(t, 11, s.TargetPaceKph, 1e-9)
	return e, tl
}

func TestEngine_ExportRequiresActiveWorkout(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	_, ok := e.Export()
	assert.False(t, ok)

	require.True(t, e.Load(mainTimeline(2)))
	_, ok = e.Export()
	assert.False(t, ok)

	e.Start()
	snap, ok := e.Export()
	require.True(t, ok)
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, "test-plan", snap.WorkoutID)
	assert.Equal(t, 2, snap.PlannedStepCount)

	e.Stop()
	_, ok = e.Export()
	assert.False(t, ok)
}

func TestEngine_ExportResetImportRoundTrip(t *testing.T) {
	e, tl := midWorkout(t, DefaultConfig())
	before := running(t, e)

	snap, ok := e.Export()
	require.True(t, ok)
	assert.Equal(t, 1, snap.StepIndex)
	assert.Equal(t, 1, snap.StepsCompleted)
	assert.InDelta(t, 1.1, snap.Coefficients.Speed, 1e-9)
	assert.Equal(t, -1.0, snap.Timing.PausedAtSeconds)

	e.Reset()
	require.True(t, e.Load(tl))
	require.NoError(t, e.Import(snap, false))

	after := running(t, e)
	assert.Equal(t, before.StepIndex, after.StepIndex)
	assert.Equal(t, before.StepElapsedMs, after.StepElapsedMs)
	assert.Equal(t, before.WorkoutElapsedMs, after.WorkoutElapsedMs)
	assert.InDelta(t, before.TargetPaceKph, after.TargetPaceKph, 1e-9)
	assert.InDelta(t, before.TargetInclinePercent, after.TargetInclinePercent, 1e-9)

	again, ok := e.Export()
	require.True(t, ok)
	// A restore opens a fresh settling window
	assert.True(t, again.Controller.SettlingActive)
	assert.Equal(t, 75*time.Second, again.Controller.SettlingStartedAt)
	again.Controller = snap.Controller
	assert.Equal(t, snap, again)
}

func TestEngine_ImportEmitsWorkoutResumed(t *testing.T) {
	e, tl := midWorkout(t, DefaultConfig())
	snap, _ := e.Export()

	restored, got := newTestEngine(DefaultConfig())
	require.True(t, restored.Load(tl))
	require.NoError(t, restored.Import(snap, false))

	resumed := ofType[WorkoutResumed](*got)
	require.Len(t, resumed, 1)
	assert.Equal(t, 1, resumed[0].Index)
	assert.InDelta(t, 11, resumed[0].EffectivePaceKph, 1e-9)
	assert.InDelta(t, 1, resumed[0].EffectiveInclinePercent, 1e-9)
}

func TestEngine_ImportRebasesOntoNewClock(t *testing.T) {
	e, tl := midWorkout(t, DefaultConfig())
	snap, _ := e.Export()

	// The treadmill restarted: its clock starts over
	restored, _ := newTestEngine(DefaultConfig())
	restored.OnDeviceClockTick(5)
	require.True(t, restored.Load(tl))
	require.NoError(t, restored.Import(snap, false))
	assert.Equal(t, int64(75000), running(t, restored).WorkoutElapsedMs)

	restored.OnDeviceClockTick(15)
	s := running(t, restored)
	assert.Equal(t, int64(85000), s.WorkoutElapsedMs)
	assert.Equal(t, int64(25000), s.StepElapsedMs)
}

func TestEngine_ImportBeforeFirstClockTick(t *testing.T) {
	e, tl := midWorkout(t, DefaultConfig())
	snap, _ := e.Export()

	restored, _ := newTestEngine(DefaultConfig())
	require.True(t, restored.Load(tl))
	require.NoError(t, restored.Import(snap, false))
	assert.Equal(t, int64(75000), running(t, restored).WorkoutElapsedMs)

	restored.OnDeviceClockTick(3)
	assert.Equal(t, int64(75000), running(t, restored).WorkoutElapsedMs)
	restored.OnDeviceClockTick(4)
	assert.Equal(t, int64(76000), running(t, restored).WorkoutElapsedMs)
}

func TestEngine_ImportPausedSnapshot(t *testing.T) {
	e, tl := midWorkout(t, DefaultConfig())
	e.Pause()
	e.OnDeviceClockTick(90)
	snap, ok := e.Export()
	require.True(t, ok)
	assert.True(t, snap.Paused)
	assert.Equal(t, 75.0, snap.Timing.PausedAtSeconds)

	t.Run("resume running", func(t *testing.T) {
		restored, _ := newTestEngine(DefaultConfig())
		restored.OnDeviceClockTick(200)
		require.True(t, restored.Load(tl))
		require.NoError(t, restored.Import(snap, false))
		assert.Equal(t, int64(75000), running(t, restored).WorkoutElapsedMs)

		restored.OnDeviceClockTick(210)
		assert.Equal(t, int64(85000), running(t, restored).WorkoutElapsedMs)
	})

	t.Run("resume as paused", func(t *testing.T) {
		restored, _ := newTestEngine(DefaultConfig())
		restored.OnDeviceClockTick(200)
		require.True(t, restored.Load(tl))
		require.NoError(t, restored.Import(snap, true))
		assert.Equal(t, int64(75000), paused(t, restored).WorkoutElapsedMs)

		restored.OnDeviceClockTick(205)
		restored.Resume()
		restored.OnDeviceClockTick(215)
		assert.Equal(t, int64(85000), running(t, restored).WorkoutElapsedMs)
	})
}

func TestEngine_ImportAutoCooldown(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	tl := mainTimeline(2)
	require.True(t, e.Load(tl))
	e.Start()
	e.SkipNext()
	e.SkipNext()
	snap, ok := e.Export()
	require.True(t, ok)
	assert.True(t, snap.AutoCooldown)
	assert.Equal(t, 2, snap.StepIndex)

	restored, got := newTestEngine(DefaultConfig())
	require.True(t, restored.Load(tl))
	require.NoError(t, restored.Import(snap, false))
	s := running(t, restored)
	assert.True(t, s.AutoCooldown)
	assert.InDelta(t, 4.0, s.TargetPaceKph, 1e-9)

	// No second plan-finished notification after a restore
	restored.SkipNext()
	assert.Empty(t, ofType[WorkoutPlanFinished](*got))
}

func TestEngine_ImportRestoresStepScopedCoefficients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Coefficients.Scope = coefficient.ScopeStep
	e, tl := midWorkout(t, cfg)
	e.SkipNext()
	snap, _ := e.Export()
	require.Contains(t, snap.PerStep, "main-1")
	assert.Equal(t, coefficient.ScopeStep, snap.Scope)

	restored, _ := newTestEngine(DefaultConfig())
	require.True(t, restored.Load(tl))
	require.NoError(t, restored.Import(snap, false))
	restored.SkipPrev()
	assert.InDelta(t, 11, running(t, restored).TargetPaceKph, 1e-9)
}

func TestEngine_ImportFailures(t *testing.T) {
	e, tl := midWorkout(t, DefaultConfig())
	snap, _ := e.Export()

	restored, _ := newTestEngine(DefaultConfig())
	assert.ErrorIs(t, restored.Import(snap, false), ErrNoWorkout)

	require.True(t, restored.Load(workout.NewTimeline(workout.Plan{ID: "other", Name: "Other", Steps: tl.Steps})))
	assert.ErrorIs(t, restored.Import(snap, false), ErrWorkoutMismatch)

	require.True(t, restored.Load(mainTimeline(4)))
	assert.ErrorIs(t, restored.Import(snap, false), ErrWorkoutMismatch)

	require.True(t, restored.Load(tl))
	bad := snap
	bad.StepIndex = 7
	assert.ErrorIs(t, restored.Import(bad, false), ErrInvalidStepIndex)

	bad = snap
	bad.AutoCooldown = true
	assert.ErrorIs(t, restored.Import(bad, false), ErrInvalidStepIndex)

	bad = snap
	bad.Version = 99
	assert.ErrorIs(t, restored.Import(bad, false), ErrUnsupportedSnapshot)
	assert.Equal(t, Idle{Workout: tl}, restored.State())

	restored.Start()
	assert.ErrorIs(t, restored.Import(snap, false), ErrNotIdle)
}

func TestSnapshot_JSON(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Coefficients.Scope = coefficient.ScopeStep
	e, _ := midWorkout(t, cfg)
	snap, _ := e.Export()

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scope":"step"`)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, snap, decoded)
}
