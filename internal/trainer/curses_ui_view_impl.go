package trainer

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/sirupsen/logrus"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/engine"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

// feedLines is how many notifications the feed panel shows
const feedLines = 12

// CursesUIViewImpl implements UIViewImpl using tview (curses-based terminal UI)
type CursesUIViewImpl struct {
	logger logrus.FieldLogger
	app    *tview.Application

	logView      *tview.TextView
	metricsPanel *tview.TextView
	workoutPanel *tview.TextView
	feedPanel    *tview.TextView
	mainFlex     *tview.Flex
	tabWidgets   []*tview.Box
}

func NewCursesUIView(logger logrus.FieldLogger, app *tview.Application) *CursesUIViewImpl {
	return &CursesUIViewImpl{
		logger: logger,
		app:    app,
	}
}

func newPanel(title string) *tview.TextView {
	panel := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	panel.SetBorder(true).SetTitle(" " + title + " ")
	return panel
}

// Initialize sets up the tview widgets
func (ui *CursesUIViewImpl) Initialize(controller *UIController) {
	// No SetChangedFunc with app.Draw(): it can hang during shutdown when the app has
	// stopped but log lines are still arriving. BaseUIView draws after every update.
	ui.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	ui.logView.SetBorder(true).SetTitle(" Logs ")

	ui.metricsPanel = newPanel("Treadmill")
	ui.workoutPanel = newPanel("Workout")
	ui.feedPanel = newPanel("Events")

	help := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	help.SetText("[yellow]Space[white] Start/Pause/Resume  |  [yellow]N[white] Next  |  [yellow]P[white] Previous  |  [yellow]X[white] Stop  |  [yellow]R[white] Reset  |  [yellow]Q[white] Quit")

	leftColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.metricsPanel, 0, 1, true).
		AddItem(ui.workoutPanel, 0, 2, false)
	rightColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.feedPanel, feedLines+2, 0, false).
		AddItem(ui.logView, 0, 1, false)

	ui.mainFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tview.NewFlex().
			AddItem(leftColumn, 0, 1, true).
			AddItem(rightColumn, 0, 1, false), 0, 1, true).
		AddItem(help, 1, 0, false)

	ui.tabWidgets = []*tview.Box{ui.metricsPanel.Box, ui.workoutPanel.Box, ui.feedPanel.Box, ui.logView.Box}
}

// SetupKeyboardHandlers sets up keyboard event handlers
func (ui *CursesUIViewImpl) SetupKeyboardHandlers(controller *UIController) {
	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			controller.OnEscapeKey()
			return nil
		case tcell.KeyTab:
			ui.focusNext()
			return nil
		case tcell.KeyRune:
		default:
			return event
		}

		switch event.Rune() {
		case ' ':
			controller.ToggleWorkout()
		case 'n', 'N':
			controller.SkipNext()
		case 'p', 'P':
			controller.SkipPrev()
		case 'x', 'X':
			controller.StopWorkout()
		case 'r', 'R':
			controller.ResetWorkout()
		case 'q', 'Q':
			controller.OnEscapeKey()
		default:
			return event
		}
		return nil
	})
}

// focusNext moves focus to the panel after the focused one
func (ui *CursesUIViewImpl) focusNext() {
	for i, widget := range ui.tabWidgets {
		if widget.HasFocus() {
			ui.app.SetFocus(ui.tabWidgets[(i+1)%len(ui.tabWidgets)])
			return
		}
	}
	if len(ui.tabWidgets) > 0 {
		ui.app.SetFocus(ui.tabWidgets[0])
	}
}

// GetLogViewHeight returns the visible height of the log view
func (ui *CursesUIViewImpl) GetLogViewHeight() int {
	_, _, _, height := ui.logView.GetInnerRect()
	return height
}

func (ui *CursesUIViewImpl) ClearLogView() {
	ui.logView.Clear()
}

func (ui *CursesUIViewImpl) WriteLogLine(line string) error {
	_, err := fmt.Fprint(ui.logView, tview.Escape(line))
	return err
}

func (ui *CursesUIViewImpl) Draw() error {
	ui.app.Draw()
	return nil
}

// Run starts the UI and blocks until it exits
func (ui *CursesUIViewImpl) Run() error {
	// SetRoot must be called before setting focus, otherwise focus may be reset
	ui.app.SetRoot(ui.mainFlex, true)
	ui.app.SetFocus(ui.metricsPanel)
	return ui.app.Run()
}

func (ui *CursesUIViewImpl) Stop() {
	ui.app.Stop()
}

func (ui *CursesUIViewImpl) UpdateState(state engine.State) {
	ui.metricsPanel.SetText(formatMetricsPanel(state))
	ui.workoutPanel.SetText(formatWorkoutPanel(state))
}

func (ui *CursesUIViewImpl) UpdateFeed(feed []engine.Notification) {
	if len(feed) > feedLines {
		feed = feed[len(feed)-feedLines:]
	}
	var b strings.Builder
	for _, n := range feed {
		b.WriteString(" " + formatNotification(n) + "\n")
	}
	ui.feedPanel.SetText(b.String())
}

func formatMetricsPanel(state engine.State) string {
	switch s := state.(type) {
	case engine.Running:
		text := "\n"
		text += fmt.Sprintf("  [green]→[white] Speed:    [yellow]%4.1f[white] km/h  [gray](target %.1f)[white]\n", s.SpeedKph, s.TargetPaceKph)
		text += fmt.Sprintf("  [green]↗[white] Incline:  [yellow]%4.1f[white] %%     [gray](target %.1f)[white]\n", s.InclinePercent, s.TargetInclinePercent)
		if s.HeartRate > 0 {
			text += fmt.Sprintf("  [red]♥[white] Heart:    [yellow]%4.0f[white] bpm\n", s.HeartRate)
		} else {
			text += "  [red]♥[white] Heart:    [gray]--[white]\n"
		}
		if s.PowerWatts > 0 {
			text += fmt.Sprintf("  [blue]⚡[white] Power:    [yellow]%4.0f[white] W\n", s.PowerWatts)
		} else {
			text += "  [blue]⚡[white] Power:    [gray]--[white]\n"
		}
		if s.AdjustmentActive {
			direction := "holding"
			if s.AdjustmentDirection != nil {
				direction = s.AdjustmentDirection.String()
			}
			text += fmt.Sprintf("\n  [cyan]Auto-adjust:[white] %s\n", direction)
		}
		return text
	case engine.Paused:
		text := "\n  [yellow]PAUSED[white]\n\n"
		text += fmt.Sprintf("  Target speed:   %.1f km/h\n", s.TargetPaceKph)
		text += fmt.Sprintf("  Target incline: %.1f %%\n", s.TargetInclinePercent)
		return text
	default:
		return "\n  [gray]Belt stopped[white]\n"
	}
}

func formatWorkoutPanel(state engine.State) string {
	switch s := state.(type) {
	case engine.Idle:
		if s.Workout == nil {
			return "\n  [gray]No workout loaded[white]\n"
		}
		text := "\n"
		text += fmt.Sprintf("  [yellow]%s[white]\n\n", s.Workout.Name)
		text += fmt.Sprintf("  [gray]Steps:[white]    %d\n", s.Workout.Len())
		text += fmt.Sprintf("  [gray]Duration:[white] %s\n\n", formatDuration(time.Duration(s.Workout.TotalPlannedSeconds())*time.Second))
		text += "  [green]Ready to start[white]\n\n"
		text += "  [gray]Press[white] [yellow]Space[white] [gray]to start[white]\n"
		return text
	case engine.Running:
		return formatActiveWorkoutDisplay(s.Progress, false, s.CountdownSeconds)
	case engine.Paused:
		return formatActiveWorkoutDisplay(s.Progress, true, nil)
	case engine.Completed:
		text := "\n"
		text += fmt.Sprintf("  [yellow]%s[white] [green](COMPLETE)[white]\n\n", s.Summary.Name)
		text += fmt.Sprintf("  [gray]Steps completed:[white] %d\n", s.Summary.StepsCompleted)
		text += fmt.Sprintf("  [gray]Time:[white]            %s\n", formatDurationMMSS(s.TotalDurationMs))
		text += fmt.Sprintf("  [gray]Distance:[white]        %s\n\n", formatDistance(s.TotalDistanceM))
		text += "  [gray]Press[white] [yellow]R[white] [gray]to reset[white]\n"
		return text
	default:
		return ""
	}
}

// formatActiveWorkoutDisplay formats the display for a running or paused workout
func formatActiveWorkoutDisplay(p engine.Progress, paused bool, countdown *int) string {
	if p.Workout == nil {
		return "\n  [gray]No workout data[white]\n"
	}

	text := "\n"
	if paused {
		text += fmt.Sprintf("  [yellow]%s[white] [gray](PAUSED)[white]\n\n", p.Workout.Name)
	} else {
		text += fmt.Sprintf("  [yellow]%s[white]\n\n", p.Workout.Name)
	}

	text += fmt.Sprintf("  [gray]Elapsed:[white]  %s\n", formatDurationMMSS(p.WorkoutElapsedMs))
	text += fmt.Sprintf("  [gray]Distance:[white] %s\n\n", formatDistance(p.WorkoutDistanceM))

	if p.AutoCooldown {
		text += "  [cyan]Cool down[white] (plan finished)\n"
	} else {
		text += fmt.Sprintf("  [cyan]%s[white] (%d/%d, %s)\n", p.Step.Name(), p.StepIndex+1, p.StepCount, p.Phase)
	}
	text += fmt.Sprintf("  [gray]Step:[white] %s\n", formatStepProgress(p))
	text += fmt.Sprintf("  [gray]Target:[white] %s\n", formatStepTarget(p.Step))
	if countdown != nil {
		text += fmt.Sprintf("\n  [red]Next step in %d[white]\n", *countdown)
	}

	if !p.AutoCooldown {
		if next, ok := p.Workout.Step(p.StepIndex + 1); ok {
			text += fmt.Sprintf("\n  [gray]Next:[white] %s, %s\n", next.Name(), formatStepLength(next))
		} else {
			text += "\n  [gray]Next:[white] [green]Finish![white]\n"
		}
	}

	text += "\n  [gray]" + strings.Repeat("─", 25) + "[white]\n"
	if paused {
		text += "  [yellow]Space[white] Resume  |  [yellow]X[white] Stop\n"
	} else {
		text += "  [yellow]Space[white] Pause  |  [yellow]X[white] Stop\n"
	}
	return text
}

func formatStepProgress(p engine.Progress) string {
	step := p.Step
	switch {
	case step.EarlyEnd == workout.EarlyEndOpen || p.AutoCooldown:
		return formatDurationMMSS(p.StepElapsedMs)
	case step.DurationKind == workout.DurationDistance:
		return fmt.Sprintf("%.0f / %.0f m", p.StepDistanceM, step.DurationMeters)
	default:
		return fmt.Sprintf("%s / %s", formatDurationMMSS(p.StepElapsedMs), formatDurationMMSS(int64(step.DurationSeconds*1000)))
	}
}

func formatStepLength(step workout.Step) string {
	switch {
	case step.EarlyEnd == workout.EarlyEndOpen:
		return "open"
	case step.DurationKind == workout.DurationDistance:
		return formatDistance(step.DurationMeters)
	default:
		return formatDuration(time.Duration(step.DurationSeconds) * time.Second)
	}
}

func formatStepTarget(step workout.Step) string {
	text := fmt.Sprintf("%.1f km/h", step.PaceTargetKph)
	if step.IsRamp() {
		text = fmt.Sprintf("%.1f → %.1f km/h", step.PaceTargetKph, step.PaceEndTargetKph)
	}
	if step.InclineTargetPercent != 0 {
		text += fmt.Sprintf(" @ %.1f%%", step.InclineTargetPercent)
	}
	if step.HRTarget != nil {
		text += fmt.Sprintf(", HR %.0f-%.0f%%", step.HRTarget.MinPercent, step.HRTarget.MaxPercent)
	}
	if step.PowerTarget != nil {
		text += fmt.Sprintf(", power %.0f-%.0f%%", step.PowerTarget.MinPercent, step.PowerTarget.MaxPercent)
	}
	return text
}

func formatNotification(n engine.Notification) string {
	switch n := n.(type) {
	case engine.StepStarted:
		return fmt.Sprintf("[cyan]Step %d[white] %s at %.1f km/h", n.Index+1, n.Step.Name(), n.EffectivePaceKph)
	case engine.StepCompleted:
		return fmt.Sprintf("[gray]Step %d done[white]", n.Index+1)
	case engine.WorkoutPlanFinished:
		return fmt.Sprintf("[green]Plan finished[white] after %d steps", n.StepsCompleted)
	case engine.WorkoutCompleted:
		return fmt.Sprintf("[green]Workout complete[white] %s", formatDistance(n.Summary.TotalDistanceM))
	case engine.WorkoutResumed:
		return fmt.Sprintf("[cyan]Resumed[white] step %d", n.Index+1)
	case engine.TargetsUpdated:
		return fmt.Sprintf("Target %.1f km/h", n.EffectivePaceKph)
	case engine.EffortAdjusted:
		return fmt.Sprintf("Effort %s %+.0f%%", n.Axis, n.DisplayDelta)
	case engine.SpeedAdjusted:
		return fmt.Sprintf("[yellow]Speed %s[white] to %.1f km/h", n.Direction, n.NewValue)
	case engine.InclineAdjusted:
		return fmt.Sprintf("[yellow]Incline %s[white] to %.1f%%", n.Direction, n.NewValue)
	case engine.HrOutOfRange:
		return fmt.Sprintf("[red]HR %.0f[white] outside %.0f-%.0f", n.Current, n.Min, n.Max)
	case engine.HrBackInRange:
		return fmt.Sprintf("[green]HR %.0f[white] back in range", n.Current)
	case engine.PowerOutOfRange:
		return fmt.Sprintf("[red]Power %.0f W[white] outside %.0f-%.0f", n.Current, n.Min, n.Max)
	case engine.PowerBackInRange:
		return fmt.Sprintf("[green]Power %.0f W[white] back in range", n.Current)
	case engine.HrEarlyEndTriggered:
		return fmt.Sprintf("[green]HR %.0f[white] in range, step %d ends early", n.Current, n.Index+1)
	case engine.Warning:
		return "[yellow]" + tview.Escape(n.Message) + "[white]"
	case engine.Error:
		return "[red]" + tview.Escape(n.Message) + "[white]"
	default:
		return string(n.Kind())
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes >= 60 {
		hours := minutes / 60
		mins := minutes % 60
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	if minutes == 0 && d > 0 {
		return fmt.Sprintf("%d s", int(d.Seconds()))
	}
	return fmt.Sprintf("%d min", minutes)
}

// formatDurationMMSS formats milliseconds as MM:SS, or H:MM:SS past an hour
func formatDurationMMSS(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	totalSeconds := ms / 1000
	hours := totalSeconds / 3600
	minutes := totalSeconds % 3600 / 60
	seconds := totalSeconds % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

func formatDistance(meters float64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.2f km", meters/1000)
	}
	return fmt.Sprintf("%.0f m", meters)
}
