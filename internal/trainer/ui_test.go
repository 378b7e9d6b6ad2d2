package trainer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/closedloop"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/engine"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

type recordingCommander struct {
	mu       sync.Mutex
	commands []Command
}

func (r *recordingCommander) Send(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
}

func (r *recordingCommander) sent() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

type fakeView struct {
	mu      sync.Mutex
	states  []engine.State
	feeds   [][]engine.Notification
	lines   []string
	stopped bool
}

func (v *fakeView) Initialize(*UIController)            {}
func (v *fakeView) SetupKeyboardHandlers(*UIController) {}
func (v *fakeView) Run() error                          { return nil }
func (v *fakeView) Draw() error                         { return nil }
func (v *fakeView) GetLogViewHeight() int               { return 2 }

func (v *fakeView) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

func (v *fakeView) ClearLogView() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lines = nil
}

func (v *fakeView) WriteLogLine(line string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lines = append(v.lines, line)
	return nil
}

func (v *fakeView) UpdateState(state engine.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states = append(v.states, state)
}

func (v *fakeView) UpdateFeed(feed []engine.Notification) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.feeds = append(v.feeds, feed)
}

func (v *fakeView) lastStatus() engine.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.states) == 0 {
		return -1
	}
	return v.states[len(v.states)-1].Status()
}

func (v *fakeView) logLines() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.lines...)
}

func (v *fakeView) isStopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func uiTimeline() *workout.Timeline {
	return workout.NewTimeline(sessionPlan)
}

func newTestModel(t *testing.T) (*UIModel, *engine.Engine, chan string) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	e := engine.NewEngine(engine.DefaultConfig(), logger, nil)
	logChan := make(chan string, 16)
	model := NewUIModel(e, logger, logChan)
	t.Cleanup(model.Shutdown)
	return model, e, logChan
}

func TestUIModel_LogTail(t *testing.T) {
	model, _, logChan := newTestModel(t)

	for i := 0; i < maxLogLines+5; i++ {
		logChan <- fmt.Sprintf("line %d", i)
	}
	require.Eventually(t, func() bool {
		tail := model.GetLogTail(2)
		return len(tail) == 2 && tail[1] == fmt.Sprintf("line %d", maxLogLines+4)
	}, waitFor, tick)

	all := model.GetLogTail(maxLogLines * 2)
	assert.Len(t, all, maxLogLines)
	assert.Equal(t, "line 5", all[0])
	assert.Empty(t, model.GetLogTail(0))
}

func TestUIModel_FollowsEngine(t *testing.T) {
	model, e, _ := newTestModel(t)

	require.True(t, e.Load(uiTimeline()))
	require.Eventually(t, func() bool {
		idle, ok := model.GetState().(engine.Idle)
		return ok && idle.Workout != nil
	}, waitFor, tick)

	e.Start()
	require.Eventually(t, func() bool { return model.GetState().Status() == engine.StatusRunning }, waitFor, tick)
	require.Eventually(t, func() bool {
		feed := model.GetFeed()
		return len(feed) == 1 && feed[0].Kind() == engine.KindStepStarted
	}, waitFor, tick)

	e.SkipNext()
	require.Eventually(t, func() bool { return len(model.GetFeed()) == 2 }, waitFor, tick)
}

func TestUIModel_FeedSkipsRampUpdates(t *testing.T) {
	model, e, _ := newTestModel(t)

	e.OnDeviceClockTick(0)
	require.True(t, e.Load(workout.NewTimeline(workout.Plan{ID: "ramp", Name: "Ramp", Steps: []workout.Step{
		{ID: "r", Type: workout.StepTypeRun, DurationKind: workout.DurationTime, DurationSeconds: 100, PaceTargetKph: 8, PaceEndTargetKph: 12},
	}})))
	e.Start()
	e.OnDeviceClockTick(50)
	e.Stop()
	require.Equal(t, 3, e.Journal().Len())

	require.Eventually(t, func() bool {
		feed := model.GetFeed()
		return len(feed) == 2 && feed[1].Kind() == engine.KindWorkoutCompleted
	}, waitFor, tick)
	assert.Equal(t, engine.KindStepStarted, model.GetFeed()[0].Kind())
}

func TestUIController_ToggleFollowsState(t *testing.T) {
	model, e, _ := newTestModel(t)
	logger, _ := test.NewNullLogger()
	commander := &recordingCommander{}
	controller := NewUIController(model, commander, logger)

	// Nothing loaded yet
	controller.ToggleWorkout()
	assert.Empty(t, commander.sent())

	waitStatus := func(status engine.Status) {
		require.Eventually(t, func() bool { return model.GetState().Status() == status }, waitFor, tick)
	}

	require.True(t, e.Load(uiTimeline()))
	require.Eventually(t, func() bool {
		idle, ok := model.GetState().(engine.Idle)
		return ok && idle.Workout != nil
	}, waitFor, tick)
	controller.ToggleWorkout()

	e.Start()
	waitStatus(engine.StatusRunning)
	controller.ToggleWorkout()

	e.Pause()
	waitStatus(engine.StatusPaused)
	controller.ToggleWorkout()

	e.Stop()
	waitStatus(engine.StatusCompleted)
	controller.ToggleWorkout()

	controller.SkipNext()
	controller.SkipPrev()
	controller.StopWorkout()
	controller.ResetWorkout()

	assert.Equal(t, []Command{
		CommandStart, CommandPause, CommandResume,
		CommandSkipNext, CommandSkipPrev, CommandStop, CommandReset,
	}, commander.sent())
}

func TestBaseUIView_RendersModelUpdates(t *testing.T) {
	model, e, logChan := newTestModel(t)
	logger, _ := test.NewNullLogger()
	view := &fakeView{}
	base := NewBaseUIView(NewBaseUIViewArg{
		UIViewImpl:   view,
		UIModel:      model,
		UIController: NewUIController(model, &recordingCommander{}, logger),
		Logger:       logger,
	})
	defer base.Shutdown()

	assert.Equal(t, engine.StatusIdle, view.lastStatus())

	require.True(t, e.Load(uiTimeline()))
	e.Start()
	require.Eventually(t, func() bool { return view.lastStatus() == engine.StatusRunning }, waitFor, tick)

	logChan <- "first"
	logChan <- "second"
	logChan <- "third"
	require.Eventually(t, func() bool {
		lines := view.logLines()
		return len(lines) == 2 && lines[0] == "second" && lines[1] == "third"
	}, waitFor, tick)

	model.RequestCloseApplication()
	require.Eventually(t, view.isStopped, waitFor, tick)
}

func TestCursesUIView_KeyBindings(t *testing.T) {
	model, _, _ := newTestModel(t)
	logger, _ := test.NewNullLogger()
	commander := &recordingCommander{}
	controller := NewUIController(model, commander, logger)

	app := tview.NewApplication()
	view := NewCursesUIView(logger, app)
	view.Initialize(controller)
	view.SetupKeyboardHandlers(controller)
	capture := app.GetInputCapture()
	require.NotNil(t, capture)

	for _, r := range "nNpxr" {
		assert.Nil(t, capture(tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)))
	}
	assert.Equal(t, []Command{CommandSkipNext, CommandSkipNext, CommandSkipPrev, CommandStop, CommandReset}, commander.sent())

	unhandled := tcell.NewEventKey(tcell.KeyRune, 'z', tcell.ModNone)
	assert.Same(t, unhandled, capture(unhandled))

	closeChan := make(chan struct{}, 1)
	unregister := model.ListenToCloseApplication(closeChan)
	defer unregister()
	assert.Nil(t, capture(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)))
	select {
	case <-closeChan:
	default:
		t.Fatal("escape did not request close")
	}
}

func TestFormatDurationMMSS(t *testing.T) {
	assert.Equal(t, "00:00", formatDurationMMSS(-5))
	assert.Equal(t, "01:05", formatDurationMMSS(65_999))
	assert.Equal(t, "1:02:05", formatDurationMMSS(3_725_000))
}

func TestFormatWorkoutPanel(t *testing.T) {
	assert.Contains(t, formatWorkoutPanel(engine.Idle{}), "No workout loaded")

	tl := uiTimeline()
	idle := formatWorkoutPanel(engine.Idle{Workout: tl})
	assert.Contains(t, idle, "Session test")
	assert.Contains(t, idle, "Ready to start")

	step, _ := tl.Step(0)
	countdown := 2
	running := formatWorkoutPanel(engine.Running{
		Progress: engine.Progress{
			Workout:          tl,
			StepIndex:        0,
			StepCount:        tl.Len(),
			Step:             step,
			Phase:            workout.PhaseMain,
			StepElapsedMs:    8_000,
			WorkoutElapsedMs: 8_000,
			WorkoutDistanceM: 1500,
		},
		CountdownSeconds: &countdown,
	})
	assert.Contains(t, running, "(1/2, main)")
	assert.Contains(t, running, "00:08 / 00:10")
	assert.Contains(t, running, "1.50 km")
	assert.Contains(t, running, "Next step in 2")
	assert.Contains(t, running, "Next:[white] run, 10 s")
	assert.Contains(t, running, "Space[white] Pause")

	paused := formatWorkoutPanel(engine.Paused{Progress: engine.Progress{Workout: tl, StepIndex: 1, StepCount: 2, Step: tl.Steps[1]}})
	assert.Contains(t, paused, "(PAUSED)")
	assert.Contains(t, paused, "Finish!")

	done := formatWorkoutPanel(engine.Completed{
		Summary:         engine.Summary{Name: "Session test", StepsCompleted: 2},
		TotalDurationMs: 20_000,
		TotalDistanceM:  640,
	})
	assert.Contains(t, done, "(COMPLETE)")
	assert.Contains(t, done, "640 m")
}

func TestFormatMetricsPanel(t *testing.T) {
	direction := closedloop.DirectionDown
	text := formatMetricsPanel(engine.Running{
		Telemetry:            engine.Telemetry{SpeedKph: 11.96, InclinePercent: 1, HeartRate: 151},
		TargetPaceKph:        12,
		TargetInclinePercent: 1,
		AdjustmentActive:     true,
		AdjustmentDirection:  &direction,
	})
	assert.Contains(t, text, "12.0[white] km/h")
	assert.Contains(t, text, "151")
	assert.Contains(t, text, "Power:    [gray]--")
	assert.Contains(t, text, "Auto-adjust:[white] down")

	assert.Contains(t, formatMetricsPanel(engine.Paused{TargetPaceKph: 9}), "Target speed:   9.0 km/h")
	assert.Contains(t, formatMetricsPanel(engine.Idle{}), "Belt stopped")
}

func TestFormatNotification(t *testing.T) {
	assert.Equal(t, "[yellow]Speed up[white] to 10.5 km/h",
		formatNotification(engine.SpeedAdjusted{NewValue: 10.5, Direction: closedloop.DirectionUp}))
	assert.Equal(t, "Effort speed +5%",
		formatNotification(engine.EffortAdjusted{Axis: workout.AxisSpeed, Coefficient: 1.05, DisplayDelta: 5}))
	assert.Equal(t, "[red]HR 181[white] outside 144-160",
		formatNotification(engine.HrOutOfRange{RangeReading: engine.RangeReading{Current: 181, Min: 144, Max: 160}}))
	assert.Equal(t, "Target 9.5 km/h",
		formatNotification(engine.TargetsUpdated{Index: 0, EffectivePaceKph: 9.5}))
	assert.Equal(t, "[cyan]Step 3[white] Tempo at 13.0 km/h",
		formatNotification(engine.StepStarted{Index: 2, Step: workout.Step{DisplayName: "Tempo"}, EffectivePaceKph: 13}))
}

func TestFormatStepTarget(t *testing.T) {
	step := workout.Step{
		PaceTargetKph:        10,
		PaceEndTargetKph:     12,
		InclineTargetPercent: 1.5,
		HRTarget:             &workout.Band{MinPercent: 80, MaxPercent: 90},
	}
	assert.Equal(t, "10.0 → 12.0 km/h @ 1.5%, HR 80-90%", formatStepTarget(step))
	assert.Equal(t, "open", formatStepLength(workout.Step{EarlyEnd: workout.EarlyEndOpen}))
	assert.Equal(t, "400 m", formatStepLength(workout.Step{DurationKind: workout.DurationDistance, DurationMeters: 400}))
}
