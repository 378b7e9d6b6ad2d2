package trainer

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/engine"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/events"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/go_func_utils"
)

// StateSource is what the UI watches: the engine state and its notification journal
type StateSource interface {
	State() engine.State
	ListenToState(ch chan engine.State) func()
	Journal() *events.Journal[engine.Notification]
}

type UIModel struct {
	logEvent              *events.ChannelEvent[string]
	stateEvent            *events.ChannelEvent[engine.State]
	feedEvent             *events.ChannelEvent[[]engine.Notification]
	closeApplicationEvent *events.ChannelEvent[struct{}]
	state                 engine.State
	feed                  []engine.Notification
	logLines              []string
	logMu                 sync.RWMutex
	mu                    sync.RWMutex
	ctx                   context.Context
	cancel                context.CancelFunc
	wg                    sync.WaitGroup
	logger                logrus.FieldLogger
}

const (
	maxLogLines  = 1000
	maxFeedItems = 200
)

func NewUIModel(source StateSource, logger logrus.FieldLogger, uiLogChan <-chan string) *UIModel {
	if source == nil {
		panic("UIModel: source cannot be nil")
	}
	if logger == nil {
		panic("UIModel: logger cannot be nil")
	}
	if uiLogChan == nil {
		panic("UIModel: uiLogChan cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	model := &UIModel{
		logEvent:              events.NewChannelEvent[string](false),
		stateEvent:            events.NewLatestChannelEvent[engine.State](true),
		feedEvent:             events.NewLatestChannelEvent[[]engine.Notification](true),
		closeApplicationEvent: events.NewChannelEvent[struct{}](true),
		state:                 source.State(),
		feed:                  make([]engine.Notification, 0, maxFeedItems),
		logLines:              make([]string, 0, maxLogLines),
		ctx:                   ctx,
		cancel:                cancel,
		logger:                logger,
	}

	// Engine state, latest wins
	stateChan := make(chan engine.State, 1)
	unregister := source.ListenToState(stateChan)
	model.wg.Add(1)
	go_func_utils.SafeGo(model.logger, func() {
		defer unregister()
		model.listenToState(ctx, stateChan)
	})

	// Every notification, from the journal so none are missed
	model.wg.Add(1)
	go_func_utils.SafeGo(model.logger, func() { model.followJournal(ctx, source.Journal()) })

	// Read from the UI log channel and populate logLines
	model.wg.Add(1)
	go_func_utils.SafeGo(model.logger, func() { model.readFromLogChannel(ctx, uiLogChan) })

	return model
}

// Shutdown stops all goroutines and waits for them to finish
func (m *UIModel) Shutdown() {
	m.logger.Info("UIModel: Shutting down")
	m.cancel()
	m.wg.Wait()
	m.logger.Info("UIModel: Shutdown complete")
}

// ListenToLog registers a channel to receive log messages
// Returns a deregistration function that can be called to remove the listener
func (m *UIModel) ListenToLog(ch chan string) func() {
	return m.logEvent.Listen(ch)
}

// ListenToCloseApplication registers a channel to receive close application signals
// Returns a deregistration function that can be called to remove the listener
func (m *UIModel) ListenToCloseApplication(ch chan struct{}) func() {
	return m.closeApplicationEvent.Listen(ch)
}

// RequestCloseApplication signals that the application should close
func (m *UIModel) RequestCloseApplication() {
	m.closeApplicationEvent.Notify(struct{}{})
}

// ListenToState registers a channel to receive engine state updates
// Returns a deregistration function that can be called to remove the listener
func (m *UIModel) ListenToState(ch chan engine.State) func() {
	return m.stateEvent.Listen(ch)
}

func (m *UIModel) GetState() engine.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ListenToFeed registers a channel to receive the recent notifications, oldest first
// Returns a deregistration function that can be called to remove the listener
func (m *UIModel) ListenToFeed(ch chan []engine.Notification) func() {
	return m.feedEvent.Listen(ch)
}

// GetFeed returns a copy of the recent notifications, oldest first
func (m *UIModel) GetFeed() []engine.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]engine.Notification, len(m.feed))
	copy(result, m.feed)
	return result
}

func (m *UIModel) listenToState(ctx context.Context, stateChan chan engine.State) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-stateChan:
			if !ok {
				return
			}
			m.mu.Lock()
			m.state = state
			m.mu.Unlock()

			m.stateEvent.Notify(state)
		}
	}
}

// followJournal reads the notification journal from the start and keeps the newest maxFeedItems
func (m *UIModel) followJournal(ctx context.Context, journal *events.Journal[engine.Notification]) {
	defer m.wg.Done()

	cursor := 0
	for {
		entries, next, err := journal.Wait(ctx, cursor)
		if err != nil {
			return
		}
		cursor = next

		m.mu.Lock()
		for _, n := range entries {
			// Ramp updates arrive every few seconds and would crowd out everything else
			if _, ok := n.(engine.TargetsUpdated); ok {
				continue
			}
			m.feed = append(m.feed, n)
		}
		if len(m.feed) > maxFeedItems {
			m.feed = m.feed[len(m.feed)-maxFeedItems:]
		}
		feedCopy := make([]engine.Notification, len(m.feed))
		copy(feedCopy, m.feed)
		m.mu.Unlock()

		m.feedEvent.Notify(feedCopy)
	}
}

// readFromLogChannel reads log lines from the channel and populates logLines
func (m *UIModel) readFromLogChannel(ctx context.Context, logChan <-chan string) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-logChan:
			if !ok {
				// Channel closed
				return
			}

			m.logMu.Lock()
			m.logLines = append(m.logLines, line)
			if len(m.logLines) > maxLogLines {
				// Remove oldest lines, keep the most recent maxLogLines
				m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
			}
			m.logMu.Unlock()

			// Notify listeners for immediate display
			m.logEvent.Notify(line)
		}
	}
}

// GetLogTail returns the last n lines of logs
func (m *UIModel) GetLogTail(n int) []string {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	if n <= 0 {
		return []string{}
	}

	if n >= len(m.logLines) {
		result := make([]string, len(m.logLines))
		copy(result, m.logLines)
		return result
	}

	result := make([]string, n)
	copy(result, m.logLines[len(m.logLines)-n:])
	return result
}
