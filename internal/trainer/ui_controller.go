package trainer

import (
	"github.com/sirupsen/logrus"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/engine"
)

// Commander accepts workout commands; Session is the real one
type Commander interface {
	Send(cmd Command)
}

// UIController turns UI events into session commands
type UIController struct {
	model     *UIModel
	commander Commander
	logger    logrus.FieldLogger
}

func NewUIController(model *UIModel, commander Commander, logger logrus.FieldLogger) *UIController {
	if model == nil {
		panic("UIController: model cannot be nil")
	}
	if commander == nil {
		panic("UIController: commander cannot be nil")
	}
	if logger == nil {
		panic("UIController: logger cannot be nil")
	}
	return &UIController{
		model:     model,
		commander: commander,
		logger:    logger,
	}
}

// OnEscapeKey handles when the Escape key is pressed
func (c *UIController) OnEscapeKey() {
	c.model.RequestCloseApplication()
}

// ToggleWorkout starts, pauses, or resumes the workout based on current state
func (c *UIController) ToggleWorkout() {
	switch state := c.model.GetState().(type) {
	case engine.Idle:
		if state.Workout == nil {
			c.logger.Warn("UIController: No workout loaded")
			return
		}
		c.commander.Send(CommandStart)
	case engine.Running:
		c.commander.Send(CommandPause)
	case engine.Paused:
		c.commander.Send(CommandResume)
	case engine.Completed:
		c.logger.Info("UIController: Workout finished - press r to reset")
	}
}

func (c *UIController) SkipNext() {
	c.commander.Send(CommandSkipNext)
}

func (c *UIController) SkipPrev() {
	c.commander.Send(CommandSkipPrev)
}

// StopWorkout ends the workout and shows the summary
func (c *UIController) StopWorkout() {
	c.commander.Send(CommandStop)
}

// ResetWorkout drops the workout, finished or not
func (c *UIController) ResetWorkout() {
	c.commander.Send(CommandReset)
}
