package engine

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

func newTestEngine(cfg Config) (*Engine, *[]Notification) {
	logger, _ := test.NewNullLogger()
	e := NewEngine(cfg, logger, nil)
	got := make([]Notification, 0)
	e.ListenToNotifications(func(n Notification) {
		got = append(got, n)
	})
	return e, &got
}

func timeSteps(prefix string, n int, typ workout.StepType) []workout.Step {
	steps := make([]workout.Step, n)
	for i := range steps {
		key := fmt.Sprintf("%s-%d", prefix, i)
		steps[i] = workout.Step{
			ID:                   key,
			Type:                 typ,
			DurationKind:         workout.DurationTime,
			DurationSeconds:      60,
			PaceTargetKph:        10,
			InclineTargetPercent: 1,
			IdentityKey:          key,
		}
	}
	return steps
}

func mainTimeline(n int) *workout.Timeline {
	return workout.NewTimeline(workout.Plan{ID: "test-plan", Name: "Test", Steps: timeSteps("main", n, workout.StepTypeRun)})
}

// stitchedTimeline is warmup(2) / main(3) / cooldown(2)
func stitchedTimeline() *workout.Timeline {
	warmup := workout.Plan{ID: "w", Name: "Warmup", Steps: timeSteps("warmup", 2, workout.StepTypeWarmup)}
	cooldown := workout.Plan{ID: "c", Name: "Cooldown", Steps: timeSteps("cooldown", 2, workout.StepTypeCooldown)}
	main := workout.Plan{ID: "test-plan", Name: "Test", Steps: timeSteps("main", 3, workout.StepTypeRun)}
	t, err := workout.Stitch(main, &warmup, &cooldown)
	if err != nil {
		panic(err)
	}
	return t
}

func running(t require.TestingT, e *Engine) Running {
	s, ok := e.State().(Running)
	require.True(t, ok, "expected Running, got %T", e.State())
	return s
}

func paused(t require.TestingT, e *Engine) Paused {
	s, ok := e.State().(Paused)
	require.True(t, ok, "expected Paused, got %T", e.State())
	return s
}

func ofType[T Notification](ns []Notification) []T {
	var result []T
	for _, n := range ns {
		if v, ok := n.(T); ok {
			result = append(result, v)
		}
	}
	return result
}

func kinds(ns []Notification) []Kind {
	result := make([]Kind, len(ns))
	for i, n := range ns {
		result[i] = n.Kind()
	}
	return result
}

func TestNewEngine_StartsIdle(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	assert.Equal(t, Idle{}, e.State())
	assert.Equal(t, StatusIdle, e.State().Status())

	assert.Panics(t, func() {
		NewEngine(DefaultConfig(), nil, nil)
	})
}

func TestEngine_LoadFailures(t *testing.T) {
	e, got := newTestEngine(DefaultConfig())

	assert.False(t, e.Load(nil))
	assert.False(t, e.Load(&workout.Timeline{WorkoutID: "empty"}))
	require.Len(t, ofType[Error](*got), 2)
	assert.Equal(t, Idle{}, e.State())

	tl := mainTimeline(2)
	require.True(t, e.Load(tl))
	assert.Equal(t, Idle{Workout: tl}, e.State())

	e.Start()
	assert.False(t, e.Load(mainTimeline(1)))
	assert.Len(t, ofType[Warning](*got), 1)
	assert.Same(t, tl, running(t, e).Workout)

	e.Pause()
	assert.False(t, e.LoadStitched(workout.AllPlans[0], nil, nil))
	assert.Len(t, ofType[Warning](*got), 2)
}

func TestEngine_LoadStitched(t *testing.T) {
	e, got := newTestEngine(DefaultConfig())

	main := workout.AllPlans[0]
	require.True(t, e.LoadStitched(main, &workout.StandardWarmup, &workout.StandardCooldown))
	idle, ok := e.State().(Idle)
	require.True(t, ok)
	assert.Equal(t, main.ID, idle.Workout.WorkoutID)
	assert.Equal(t, 2, idle.Workout.WarmupCount)
	assert.Equal(t, 1, idle.Workout.MainCount)
	assert.Equal(t, 2, idle.Workout.CooldownCount)

	assert.False(t, e.LoadStitched(workout.Plan{ID: "empty"}, nil, nil))
	assert.Len(t, ofType[Error](*got), 1)
}

func TestEngine_StartWithoutWorkoutIsIgnored(t *testing.T) {
	e, got := newTestEngine(DefaultConfig())
	e.Start()
	e.Pause()
	e.Resume()
	e.Stop()
	e.SkipNext()
	e.SkipPrev()
	assert.Equal(t, Idle{}, e.State())
	assert.Empty(t, *got)
}

func TestEngine_StartAnchorsToCurrentClock(t *testing.T) {
	e, got := newTestEngine(DefaultConfig())
	e.OnDeviceClockTick(100)
	require.True(t, e.Load(mainTimeline(2)))
	e.Start()

	s := running(t, e)
	assert.Equal(t, 0, s.StepIndex)
	assert.Equal(t, 2, s.StepCount)
	assert.Equal(t, int64(0), s.WorkoutElapsedMs)
	assert.InDelta(t, 10, s.TargetPaceKph, 1e-9)
	assert.Equal(t, []Kind{KindStepStarted}, kinds(*got))

	e.OnDeviceClockTick(130)
	s = running(t, e)
	assert.Equal(t, int64(30000), s.StepElapsedMs)
	assert.Equal(t, int64(30000), s.WorkoutElapsedMs)
}

func TestEngine_StartBeforeFirstClockTick(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	require.True(t, e.Load(mainTimeline(1)))
	e.Start()

	e.OnDeviceClockTick(500)
	assert.Equal(t, int64(0), running(t, e).WorkoutElapsedMs)

	e.OnDeviceClockTick(512.5)
	assert.Equal(t, int64(12500), running(t, e).WorkoutElapsedMs)
}

func TestEngine_PauseFreezesTime(t *testing.T) {
	e, got := newTestEngine(DefaultConfig())
	e.OnDeviceClockTick(0)
	require.True(t, e.Load(mainTimeline(1)))
	e.Start()

	e.OnDeviceClockTick(10)
	e.Pause()
	e.Pause()
	e.OnDeviceClockTick(20)
	p := paused(t, e)
	assert.Equal(t, int64(10000), p.WorkoutElapsedMs)
	assert.Equal(t, int64(10000), p.StepElapsedMs)

	e.Resume()
	e.Resume()
	assert.Len(t, ofType[WorkoutResumed](*got), 1)

	e.OnDeviceClockTick(25)
	s := running(t, e)
	assert.Equal(t, int64(15000), s.WorkoutElapsedMs)
	assert.Equal(t, int64(15000), s.StepElapsedMs)
}

func TestEngine_ClockJitterAndReset(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	e.OnDeviceClockTick(0)
	require.True(t, e.Load(mainTimeline(1)))
	e.Start()

	e.OnDeviceClockTick(10)
	e.OnDeviceClockTick(9.5)
	assert.Equal(t, int64(10000), running(t, e).WorkoutElapsedMs)

	e.OnDeviceClockTick(10.5)
	assert.Equal(t, int64(10500), running(t, e).WorkoutElapsedMs)

	// The device restarted its counter
	e.OnDeviceClockTick(3)
	assert.Equal(t, int64(10500), running(t, e).WorkoutElapsedMs)
	e.OnDeviceClockTick(4)
	assert.Equal(t, int64(11500), running(t, e).WorkoutElapsedMs)
}

func TestEngine_StopCompletesWithSummary(t *testing.T) {
	e, got := newTestEngine(DefaultConfig())
	e.OnDeviceClockTick(0)
	e.OnDistanceTick(2)
	tl := mainTimeline(3)
	require.True(t, e.Load(tl))
	e.Start()
	e.OnDeviceClockTick(60)
	e.OnDistanceTick(2.15)
	e.OnDeviceClockTick(90)
	e.Stop()

	c, ok := e.State().(Completed)
	require.True(t, ok)
	assert.Same(t, tl, c.Workout)
	assert.Equal(t, int64(90000), c.TotalDurationMs)
	assert.InDelta(t, 150, c.TotalDistanceM, 1e-6)
	assert.Equal(t, 1, c.Summary.StepsCompleted)

	completed := ofType[WorkoutCompleted](*got)
	require.Len(t, completed, 1)
	assert.Equal(t, c.Summary, completed[0].Summary)

	// Terminal: not resumable, stop only once
	e.Resume()
	e.Stop()
	e.Start()
	assert.Equal(t, StatusCompleted, e.State().Status())
	assert.Len(t, ofType[WorkoutCompleted](*got), 1)

	require.True(t, e.Load(tl))
	assert.Equal(t, StatusIdle, e.State().Status())
}

func TestEngine_ResetReturnsToIdle(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	require.True(t, e.Load(mainTimeline(2)))
	e.Start()
	e.Reset()
	assert.Equal(t, Idle{}, e.State())

	e.Start()
	assert.Equal(t, Idle{}, e.State())
}

func TestEngine_ListenToStateKeepsNewest(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())

	ch := make(chan State, 1)
	unregister := e.ListenToState(ch)
	defer unregister()
	// The current state is replayed on registration
	assert.Equal(t, Idle{}, <-ch)

	require.True(t, e.Load(mainTimeline(2)))
	e.Start()
	e.Pause()

	require.Len(t, ch, 1)
	assert.Equal(t, StatusPaused, (<-ch).Status())
}

func TestEngine_ReentrantListenerKeepsOrder(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	require.True(t, e.Load(mainTimeline(3)))

	depth, maxDepth := 0, 0
	var order []int
	e.ListenToNotifications(func(n Notification) {
		depth++
		if depth > maxDepth {
			maxDepth = depth
		}
		if started, ok := n.(StepStarted); ok {
			order = append(order, started.Index)
			if started.Index == 0 {
				e.SkipNext()
			}
		}
		depth--
	})

	e.Start()
	assert.Equal(t, []int{0, 1}, order)
	assert.Equal(t, 1, maxDepth)
	assert.Equal(t, 1, running(t, e).StepIndex)

	journal, cursor := e.Journal().Since(0)
	assert.Equal(t, 2, cursor)
	assert.Equal(t, []Kind{KindStepStarted, KindStepStarted}, kinds(journal))
}

type fakeRecorder struct {
	notifications []Notification
	timings       int
}

func (r *fakeRecorder) RecordNotification(n Notification) {
	r.notifications = append(r.notifications, n)
}

func (r *fakeRecorder) RecordTiming(Status, int64, int64) {
	r.timings++
}

func TestEngine_RecorderSeesEveryNotification(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rec := &fakeRecorder{}
	e := NewEngine(DefaultConfig(), logger, rec)

	e.OnDeviceClockTick(0)
	require.True(t, e.Load(mainTimeline(1)))
	e.Start()
	e.OnDeviceClockTick(1)
	e.OnDeviceClockTick(2)
	e.Stop()

	assert.Equal(t, []Kind{KindStepStarted, KindWorkoutCompleted}, kinds(rec.notifications))
	assert.Equal(t, 2, rec.timings)
}
