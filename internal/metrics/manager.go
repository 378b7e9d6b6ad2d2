package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/engine"
)

// Manager records engine activity as prometheus metrics. It implements engine.Recorder.
type Manager struct {
	// counters
	CounterStepsStarted      prometheus.Counter
	CounterStepsCompleted    prometheus.Counter
	CounterAdjustments       *prometheus.CounterVec
	CounterEffortAdjustments *prometheus.CounterVec
	CounterNotifications     *prometheus.CounterVec

	// gauges
	GaugeWorkoutElapsed *prometheus.GaugeVec
	GaugeStepElapsed    prometheus.Gauge
	GaugeOutOfRange     *prometheus.GaugeVec
}

func NewTestManager() *Manager {
	return NewManager("treadmill", "test_engine", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("treadmill", "test_engine", reg), reg
}

// SetupPrometheus returns a registry with the Go runtime and process collectors
func SetupPrometheus() *prometheus.Registry {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promRegistry
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterStepsStarted := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "steps_started",
		Help:      "The total number of started workout steps",
	})
	counterStepsCompleted := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "steps_completed",
		Help:      "The total number of workout steps completed by duration, distance or HR early end",
	})
	counterAdjustments := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "closed_loop_adjustments",
		Help:      "The total number of speed and incline proposals from the closed-loop controller",
	}, []string{"axis", "direction"})
	counterEffortAdjustments := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "effort_adjustments",
		Help:      "The total number of manual effort changes picked up as coefficients",
	}, []string{"axis"})
	counterNotifications := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "notifications",
		Help:      "The total number of delivered engine notifications",
	}, []string{"kind"})

	gaugeWorkoutElapsed := factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "workout_elapsed_seconds",
		Help:      "Active workout time, excluding pauses",
	}, []string{"status"})
	gaugeStepElapsed := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "step_elapsed_seconds",
		Help:      "Active time in the current step",
	})
	gaugeOutOfRange := factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "out_of_range",
		Help:      "Shows whether the metric is outside the step target band",
	}, []string{"metric"})

	return &Manager{
		CounterStepsStarted:      counterStepsStarted,
		CounterStepsCompleted:    counterStepsCompleted,
		CounterAdjustments:       counterAdjustments,
		CounterEffortAdjustments: counterEffortAdjustments,
		CounterNotifications:     counterNotifications,
		GaugeWorkoutElapsed:      gaugeWorkoutElapsed,
		GaugeStepElapsed:         gaugeStepElapsed,
		GaugeOutOfRange:          gaugeOutOfRange,
	}
}

func (m *Manager) RecordNotification(n engine.Notification) {
	m.CounterNotifications.WithLabelValues(string(n.Kind())).Inc()

	switch v := n.(type) {
	case engine.StepStarted:
		m.CounterStepsStarted.Inc()
		// Band flags start clean on every step
		m.GaugeOutOfRange.WithLabelValues("hr").Set(0)
		m.GaugeOutOfRange.WithLabelValues("power").Set(0)
	case engine.StepCompleted:
		m.CounterStepsCompleted.Inc()
	case engine.SpeedAdjusted:
		m.CounterAdjustments.WithLabelValues("speed", v.Direction.String()).Inc()
	case engine.InclineAdjusted:
		m.CounterAdjustments.WithLabelValues("incline", v.Direction.String()).Inc()
	case engine.EffortAdjusted:
		m.CounterEffortAdjustments.WithLabelValues(v.Axis.String()).Inc()
	case engine.HrOutOfRange:
		m.GaugeOutOfRange.WithLabelValues("hr").Set(1)
	case engine.HrBackInRange:
		m.GaugeOutOfRange.WithLabelValues("hr").Set(0)
	case engine.PowerOutOfRange:
		m.GaugeOutOfRange.WithLabelValues("power").Set(1)
	case engine.PowerBackInRange:
		m.GaugeOutOfRange.WithLabelValues("power").Set(0)
	case engine.WorkoutCompleted:
		m.GaugeOutOfRange.WithLabelValues("hr").Set(0)
		m.GaugeOutOfRange.WithLabelValues("power").Set(0)
	}
}

func (m *Manager) RecordTiming(status engine.Status, stepElapsedMs, workoutElapsedMs int64) {
	m.GaugeWorkoutElapsed.Reset()
	m.GaugeWorkoutElapsed.WithLabelValues(status.String()).Set(float64(workoutElapsedMs) / 1000)
	m.GaugeStepElapsed.Set(float64(stepElapsedMs) / 1000)
}
