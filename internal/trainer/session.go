package trainer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/engine"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/events"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/snapshotstore"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/treadmill"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

// Command is a user action sent to the session goroutine
type Command int

const (
	CommandStart Command = iota
	CommandPause
	CommandResume
	CommandSkipNext
	CommandSkipPrev
	CommandStop
	CommandReset
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandPause:
		return "pause"
	case CommandResume:
		return "resume"
	case CommandSkipNext:
		return "skip_next"
	case CommandSkipPrev:
		return "skip_prev"
	case CommandStop:
		return "stop"
	case CommandReset:
		return "reset"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// persistEverySeconds is how much device clock may pass between saves of an active workout
const persistEverySeconds = 10

var ErrLoadFailed = errors.New("workout could not be loaded")

// Treadmill is the device a session drives and reads from
type Treadmill interface {
	ListenToReadings(ch chan treadmill.Reading) func()
	SetTargetSpeed(kph float64)
	SetTargetIncline(percent float64)
}

// SnapshotStore keeps the engine snapshot between runs
type SnapshotStore interface {
	Load() (engine.Snapshot, error)
	Save(engine.Snapshot) error
	Delete() error
}

type SessionArgs struct {
	Engine    *engine.Engine
	Treadmill Treadmill
	Store     SnapshotStore
	Logger    logrus.FieldLogger

	Main     workout.Plan
	Warmup   *workout.Plan
	Cooldown *workout.Plan

	ResumePaused bool // A restored workout waits for the user instead of restarting the belt
}

type persistRequest struct {
	snapshot engine.Snapshot
	delete   bool
}

// Session owns the engine. One goroutine feeds it every command and treadmill reading,
// its notifications become treadmill commands, and snapshots are written by a second
// goroutine so a slow disk never holds up the workout.
type Session struct {
	id        string
	engine    *engine.Engine
	treadmill Treadmill
	store     SnapshotStore
	logger    logrus.FieldLogger

	lastPersistClock float64

	unregisterNotifications func()
	unregisterReadings      func()
	readingChan             chan treadmill.Reading
	persistEvent            *events.ChannelEvent[persistRequest]
	persistChan             chan persistRequest

	cmdChan      chan Command
	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewSession loads the workout, restores a saved run of the same workout if there is one,
// and starts the session goroutines.
func NewSession(args SessionArgs) (*Session, error) {
	if args.Engine == nil {
		panic("Session: engine cannot be nil")
	}
	if args.Treadmill == nil {
		panic("Session: treadmill cannot be nil")
	}
	if args.Store == nil {
		panic("Session: store cannot be nil")
	}
	if args.Logger == nil {
		panic("Session: logger cannot be nil")
	}

	id := uuid.NewString()
	s := &Session{
		id:           id,
		engine:       args.Engine,
		treadmill:    args.Treadmill,
		store:        args.Store,
		logger:       args.Logger.WithField("session", id),
		readingChan:  make(chan treadmill.Reading, 1),
		persistEvent: events.NewLatestChannelEvent[persistRequest](false),
		persistChan:  make(chan persistRequest, 1),
		cmdChan:      make(chan Command, 8),
		doneChan:     make(chan struct{}),
	}

	if !s.engine.LoadStitched(args.Main, args.Warmup, args.Cooldown) {
		return nil, fmt.Errorf("%w: %s", ErrLoadFailed, args.Main.ID)
	}

	s.unregisterNotifications = s.engine.ListenToNotifications(s.onNotification)
	unregisterPersist := s.persistEvent.Listen(s.persistChan)
	s.wg.Add(1)
	go_func_utils.SafeGo(s.logger, func() {
		defer s.wg.Done()
		defer unregisterPersist()
		s.runPersister()
	})

	s.restore(args.ResumePaused)

	s.unregisterReadings = s.treadmill.ListenToReadings(s.readingChan)
	s.wg.Add(1)
	go_func_utils.SafeGo(s.logger, func() {
		defer s.wg.Done()
		s.runSessionLoop()
	})

	s.logger.WithField("workout", args.Main.ID).Info("Session: Started")
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Engine() *engine.Engine {
	return s.engine
}

// Send queues a command for the session goroutine. Commands after Shutdown are dropped.
func (s *Session) Send(cmd Command) {
	select {
	case <-s.doneChan:
		s.logger.WithField("command", cmd).Debug("Session: Shut down, dropping command")
		return
	default:
	}
	select {
	case <-s.doneChan:
	case s.cmdChan <- cmd:
	}
}

func (s *Session) Start()    { s.Send(CommandStart) }
func (s *Session) Pause()    { s.Send(CommandPause) }
func (s *Session) Resume()   { s.Send(CommandResume) }
func (s *Session) SkipNext() { s.Send(CommandSkipNext) }
func (s *Session) SkipPrev() { s.Send(CommandSkipPrev) }
func (s *Session) Stop()     { s.Send(CommandStop) }
func (s *Session) Reset()    { s.Send(CommandReset) }

// restore resumes a saved run. Anything that cannot be resumed is discarded.
func (s *Session) restore(resumePaused bool) {
	snap, err := s.store.Load()
	if errors.Is(err, snapshotstore.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.WithError(err).Warn("Session: Discarding unreadable saved workout")
		s.deleteSnapshot()
		return
	}
	if err := s.engine.Import(snap, resumePaused); err != nil {
		s.logger.WithError(err).Warn("Session: Discarding saved workout")
		s.deleteSnapshot()
		return
	}
	s.lastPersistClock = snap.Timing.LastClockSeconds
	s.logger.WithFields(logrus.Fields{
		"index":  snap.StepIndex,
		"status": s.engine.State().Status(),
	}).Info("Session: Restored saved workout")
}

func (s *Session) runSessionLoop() {
	defer s.unregisterReadings()
	for {
		select {
		case <-s.doneChan:
			s.logger.Debug("Session: Loop exiting")
			return
		case cmd := <-s.cmdChan:
			s.handleCommand(cmd)
		case reading := <-s.readingChan:
			s.handleReading(reading)
		}
	}
}

func (s *Session) handleCommand(cmd Command) {
	s.logger.WithField("command", cmd).Debug("Session: Command")
	switch cmd {
	case CommandStart:
		s.engine.Start()
	case CommandPause:
		s.engine.Pause()
		if s.engine.State().Status() == engine.StatusPaused {
			s.treadmill.SetTargetSpeed(0)
			s.requestPersist()
		}
	case CommandResume:
		s.engine.Resume()
	case CommandSkipNext:
		s.engine.SkipNext()
	case CommandSkipPrev:
		s.engine.SkipPrev()
	case CommandStop:
		s.engine.Stop()
	case CommandReset:
		s.engine.Reset()
		s.treadmill.SetTargetSpeed(0)
		s.treadmill.SetTargetIncline(0)
		s.requestPersist()
	default:
		s.logger.WithField("command", cmd).Warn("Session: Unknown command")
	}
}

// handleReading pushes one treadmill sample into the engine. The belt echo goes in before
// the clock, which may announce new targets the belt has not been given yet; the rest of
// the sample is judged against up to date timing.
func (s *Session) handleReading(r treadmill.Reading) {
	s.engine.OnSpeedInclineTick(r.SpeedKph, r.InclinePercent, 0)
	s.engine.OnDeviceClockTick(r.ClockSeconds)
	s.engine.OnHeartRateTick(r.HeartRate)
	s.engine.OnPowerTick(r.PowerWatts)
	s.engine.OnDistanceTick(r.DistanceKm)

	if s.engine.State().Status() != engine.StatusRunning {
		return
	}
	if r.ClockSeconds < s.lastPersistClock || r.ClockSeconds-s.lastPersistClock >= persistEverySeconds {
		s.requestPersist()
	}
}

// onNotification runs on the goroutine driving the engine
func (s *Session) onNotification(n engine.Notification) {
	switch n := n.(type) {
	case engine.StepStarted:
		s.applyTargets(n.EffectivePaceKph, n.EffectiveInclinePercent)
		s.requestPersist()
	case engine.WorkoutResumed:
		s.applyTargets(n.EffectivePaceKph, n.EffectiveInclinePercent)
		s.requestPersist()
	case engine.TargetsUpdated:
		s.applyTargets(n.EffectivePaceKph, n.EffectiveInclinePercent)
	case engine.SpeedAdjusted:
		s.treadmill.SetTargetSpeed(n.NewValue)
		s.requestPersist()
	case engine.InclineAdjusted:
		s.treadmill.SetTargetIncline(n.NewValue)
		s.requestPersist()
	case engine.EffortAdjusted:
		s.requestPersist()
	case engine.WorkoutCompleted:
		s.treadmill.SetTargetSpeed(0)
		s.treadmill.SetTargetIncline(0)
		s.requestPersist()
		s.logger.WithFields(logrus.Fields{
			"steps":       n.Summary.StepsCompleted,
			"duration_ms": n.Summary.TotalDurationMs,
			"distance_m":  n.Summary.TotalDistanceM,
		}).Info("Session: Workout completed")
	case engine.Warning:
		s.logger.Warn("Session: " + n.Message)
	case engine.Error:
		s.logger.Error("Session: " + n.Message)
	}
}

// applyTargets commands the belt, unless the workout was restored paused
func (s *Session) applyTargets(paceKph, inclinePercent float64) {
	s.treadmill.SetTargetIncline(inclinePercent)
	if s.engine.State().Status() == engine.StatusRunning {
		s.treadmill.SetTargetSpeed(paceKph)
	} else {
		s.treadmill.SetTargetSpeed(0)
	}
}

// requestPersist hands the current snapshot to the persister. A finished or
// reset workout clears the saved state instead.
func (s *Session) requestPersist() {
	snap, ok := s.engine.Export()
	if ok {
		s.lastPersistClock = snap.Timing.LastClockSeconds
		s.persistEvent.Notify(persistRequest{snapshot: snap})
		return
	}
	s.persistEvent.Notify(persistRequest{delete: true})
}

func (s *Session) runPersister() {
	for {
		select {
		case <-s.doneChan:
			return
		case req := <-s.persistChan:
			s.persist(req)
		}
	}
}

func (s *Session) persist(req persistRequest) {
	if req.delete {
		s.deleteSnapshot()
		return
	}
	if err := s.store.Save(req.snapshot); err != nil {
		s.logger.WithError(err).Error("Session: Failed to save workout state")
	}
}

func (s *Session) deleteSnapshot() {
	if err := s.store.Delete(); err != nil {
		s.logger.WithError(err).Error("Session: Failed to delete saved workout state")
	}
}

// Shutdown stops the session goroutines, saves an active workout one last time and stops the belt
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Session: Shutting down")
		close(s.doneChan)
		s.wg.Wait()
		s.unregisterNotifications()

		// Both goroutines are gone, the engine and the store are ours. A delete queued
		// by a reset or a finish may not have run yet.
		if snap, ok := s.engine.Export(); ok {
			s.persist(persistRequest{snapshot: snap})
		} else if status := s.engine.State().Status(); status == engine.StatusIdle || status == engine.StatusCompleted {
			s.deleteSnapshot()
		}
		s.treadmill.SetTargetSpeed(0)
		s.logger.Info("Session: Shutdown complete")
	})
}
