package treadmill

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/closedloop"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/events"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/go_func_utils"
)

// Reading is one sample of the treadmill console and the runner's sensors
type Reading struct {
	ClockSeconds   float64 `json:"clockSeconds"` // Console elapsed time since power on
	SpeedKph       float64 `json:"speedKph"`
	InclinePercent float64 `json:"inclinePercent"`
	DistanceKm     float64 `json:"distanceKm"` // Cumulative belt distance
	HeartRate      float64 `json:"heartRate"`
	PowerWatts     float64 `json:"powerWatts"`

	TargetSpeedKph       float64 `json:"targetSpeedKph"`
	TargetInclinePercent float64 `json:"targetInclinePercent"`
}

type Config struct {
	Tick    time.Duration
	Speedup float64 // Simulated seconds per wall clock second

	AccelKphPerSecond    float64
	InclinePercentPerSec float64
	RestingHR            float64
	MaxHR                float64
	HRTimeConstant       time.Duration
	PowerTimeConstant    time.Duration
	RunnerKg             float64
	Limits               closedloop.Limits
	ControlAddr          string // HTTP control server address, empty to disable
}

func DefaultConfig() Config {
	return Config{
		Tick:                 time.Second,
		Speedup:              1,
		AccelKphPerSecond:    1.5,
		InclinePercentPerSec: 0.5,
		RestingHR:            60,
		MaxHR:                195,
		HRTimeConstant:       30 * time.Second,
		PowerTimeConstant:    3 * time.Second,
		RunnerKg:             70,
		Limits:               closedloop.DefaultLimits(),
	}
}

// Simulator is a treadmill with a belt that accelerates toward the commanded speed,
// a deck that slews toward the commanded incline, and a runner whose heart rate and
// power respond to the load.
type Simulator struct {
	cfg    Config
	logger logrus.FieldLogger

	mu            sync.RWMutex
	reading       Reading
	hrOverride    float64 // Fixed heart rate set through the control server, 0 when off
	powerOverride float64

	readings *events.ChannelEvent[Reading]

	server   *http.Server
	doneChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewSimulator(cfg Config, logger logrus.FieldLogger) *Simulator {
	if logger == nil {
		panic("Simulator: logger cannot be nil")
	}
	d := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = d.Tick
	}
	if cfg.Speedup <= 0 {
		cfg.Speedup = d.Speedup
	}
	if cfg.AccelKphPerSecond <= 0 {
		cfg.AccelKphPerSecond = d.AccelKphPerSecond
	}
	if cfg.InclinePercentPerSec <= 0 {
		cfg.InclinePercentPerSec = d.InclinePercentPerSec
	}
	if cfg.RestingHR <= 0 {
		cfg.RestingHR = d.RestingHR
	}
	if cfg.MaxHR <= cfg.RestingHR {
		cfg.MaxHR = d.MaxHR
	}
	if cfg.HRTimeConstant <= 0 {
		cfg.HRTimeConstant = d.HRTimeConstant
	}
	if cfg.PowerTimeConstant <= 0 {
		cfg.PowerTimeConstant = d.PowerTimeConstant
	}
	if cfg.RunnerKg <= 0 {
		cfg.RunnerKg = d.RunnerKg
	}
	if cfg.Limits.MaxSpeedKph <= 0 {
		cfg.Limits = d.Limits
	}

	return &Simulator{
		cfg:      cfg,
		logger:   logger,
		reading:  Reading{HeartRate: cfg.RestingHR},
		readings: events.NewLatestChannelEvent[Reading](true),
		doneChan: make(chan struct{}),
	}
}

// ListenToReadings registers a channel for readings. A full channel keeps only the newest.
// Returns a deregistration function that can be called to remove the listener
func (s *Simulator) ListenToReadings(ch chan Reading) func() {
	return s.readings.Listen(ch)
}

func (s *Simulator) Reading() Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reading
}

// SetTargetSpeed commands the belt. Any positive speed is clamped to the limits, 0 stops the belt.
func (s *Simulator) SetTargetSpeed(kph float64) {
	if math.IsNaN(kph) {
		return
	}
	if kph > 0 {
		kph = math.Min(math.Max(kph, s.cfg.Limits.MinSpeedKph), s.cfg.Limits.MaxSpeedKph)
	} else {
		kph = 0
	}
	s.mu.Lock()
	s.reading.TargetSpeedKph = kph
	s.mu.Unlock()
	s.logger.WithField("speed", kph).Debug("Simulator: Target speed")
}

func (s *Simulator) SetTargetIncline(percent float64) {
	if math.IsNaN(percent) {
		return
	}
	percent = math.Min(math.Max(percent, s.cfg.Limits.MinInclinePercent), s.cfg.Limits.MaxInclinePercent)
	s.mu.Lock()
	s.reading.TargetInclinePercent = percent
	s.mu.Unlock()
	s.logger.WithField("incline", percent).Debug("Simulator: Target incline")
}

// ResetConsole zeroes the console clock and distance counter, like a treadmill power cycle
func (s *Simulator) ResetConsole() {
	s.mu.Lock()
	s.reading.ClockSeconds = 0
	s.reading.DistanceKm = 0
	s.mu.Unlock()
	s.logger.Info("Simulator: Console reset")
}

func (s *Simulator) setOverrides(hr, power *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hr != nil {
		s.hrOverride = *hr
	}
	if power != nil {
		s.powerOverride = *power
	}
}

// Advance moves the simulation dt simulated seconds forward and publishes the new reading
func (s *Simulator) Advance(dt float64) Reading {
	if dt <= 0 || math.IsNaN(dt) {
		return s.Reading()
	}
	s.mu.Lock()
	r := &s.reading
	r.ClockSeconds += dt
	previousSpeed := r.SpeedKph
	r.SpeedKph = approach(r.SpeedKph, r.TargetSpeedKph, s.cfg.AccelKphPerSecond*dt)
	r.InclinePercent = approach(r.InclinePercent, r.TargetInclinePercent, s.cfg.InclinePercentPerSec*dt)
	// Trapezoid over the tick
	r.DistanceKm += (previousSpeed + r.SpeedKph) / 2 * dt / 3600

	if s.hrOverride > 0 {
		r.HeartRate = s.hrOverride
	} else {
		r.HeartRate = firstOrder(r.HeartRate, s.steadyHeartRate(r.SpeedKph, r.InclinePercent), dt, s.cfg.HRTimeConstant)
	}
	if s.powerOverride > 0 {
		r.PowerWatts = s.powerOverride
	} else {
		r.PowerWatts = firstOrder(r.PowerWatts, s.steadyPower(r.SpeedKph, r.InclinePercent), dt, s.cfg.PowerTimeConstant)
	}
	out := *r
	s.mu.Unlock()

	s.readings.Notify(out)
	return out
}

// steadyHeartRate is where heart rate settles for a constant load
func (s *Simulator) steadyHeartRate(kph, incline float64) float64 {
	if kph <= 0 {
		return s.cfg.RestingHR
	}
	hr := s.cfg.RestingHR + 7*kph + 0.8*incline*kph/2
	return math.Min(hr, s.cfg.MaxHR)
}

// steadyPower is running power: about 1.04 W/kg per m/s on the flat plus the climbing work
func (s *Simulator) steadyPower(kph, incline float64) float64 {
	v := kph / 3.6
	return s.cfg.RunnerKg * v * (1.04 + 9.81*incline/100)
}

func approach(current, target, maxStep float64) float64 {
	if math.Abs(target-current) <= maxStep {
		return target
	}
	if target > current {
		return current + maxStep
	}
	return current - maxStep
}

func firstOrder(current, steady, dt float64, tau time.Duration) float64 {
	return steady + (current-steady)*math.Exp(-dt/tau.Seconds())
}

// Start runs the simulation clock and, when configured, the HTTP control server
func (s *Simulator) Start() error {
	s.logger.WithFields(logrus.Fields{"tick": s.cfg.Tick, "speedup": s.cfg.Speedup}).Info("Simulator: Starting")

	if s.cfg.ControlAddr != "" {
		listener, err := net.Listen("tcp", s.cfg.ControlAddr)
		if err != nil {
			return err
		}
		s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
		s.wg.Add(1)
		go_func_utils.SafeGo(s.logger, func() {
			defer s.wg.Done()
			s.logger.WithField("addr", listener.Addr().String()).Info("Simulator: Control server starting")
			if err := s.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
				s.logger.WithError(err).Error("Simulator: Control server error")
			}
		})
	}

	s.wg.Add(1)
	go_func_utils.SafeGo(s.logger, func() {
		defer s.wg.Done()
		s.run()
	})
	return nil
}

func (s *Simulator) run() {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	dt := s.cfg.Tick.Seconds() * s.cfg.Speedup
	for {
		select {
		case <-s.doneChan:
			return
		case <-ticker.C:
			s.Advance(dt)
		}
	}
}

// Shutdown stops the clock and the control server
func (s *Simulator) Shutdown() {
	s.stopOnce.Do(func() {
		s.logger.Info("Simulator: Shutting down")
		close(s.doneChan)
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.server.Shutdown(ctx); err != nil {
				s.logger.WithError(err).Error("Simulator: Error shutting down control server")
			}
		}
		s.wg.Wait()
		s.logger.Info("Simulator: Shutdown complete")
	})
}
