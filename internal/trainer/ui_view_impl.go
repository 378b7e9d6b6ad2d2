package trainer

import "github.com/lowaak/smart-trainer/treadmill-app/internal/engine"

// UIViewImpl defines the interface for framework-specific UI implementations
type UIViewImpl interface {
	// Initialize is called after construction to set up framework-specific widgets
	Initialize(controller *UIController)

	// SetupKeyboardHandlers sets up keyboard event handlers
	SetupKeyboardHandlers(controller *UIController)

	// Run starts the UI framework and blocks until it exits
	Run() error

	Stop()

	// Draw refreshes/redraws the UI
	Draw() error

	// GetLogViewHeight returns the visible height of the log view
	GetLogViewHeight() int

	ClearLogView()

	WriteLogLine(line string) error

	// UpdateState redraws the metrics and workout panels from an engine state
	UpdateState(state engine.State)

	// UpdateFeed shows the recent notifications, oldest first
	UpdateFeed(feed []engine.Notification)
}
