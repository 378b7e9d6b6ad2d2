package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rivo/tview"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/config"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/engine"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/logging"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/metrics"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/plan"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/snapshotstore"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/trainer"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/treadmill"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

const uiLogBuffer = 256

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "treadmill-trainer: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "treadmill-trainer: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.LoggerSetupParams{
		LogFileName:   cfg.LogFile(),
		LogToStdout:   cfg.Log.Stdout && !cfg.UI.Enabled,
		LogLevel:      cfg.Log.Level,
		LogFormatJSON: cfg.Log.JSON,
	})
	var uiLines chan string
	if cfg.UI.Enabled {
		uiLines = make(chan string, uiLogBuffer)
		logger.AddHook(logging.NewLineHook(uiLines))
	}
	if cfg.File != "" {
		logger.WithField("file", cfg.File).Info("Config: Loaded")
	}

	if err := run(cfg, logger, uiLines); err != nil {
		logger.WithError(err).Error("Treadmill trainer exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logrus.Logger, uiLines chan string) (err error) {
	mainPlan, err := plan.Main(cfg.Workout.Main, cfg.Workout.Builtin)
	if err != nil {
		return fmt.Errorf("load workout: %w", err)
	}
	warmup, err := plan.Attachment(cfg.Workout.Warmup, workout.StandardWarmup)
	if err != nil {
		return fmt.Errorf("load warmup: %w", err)
	}
	cooldown, err := plan.Attachment(cfg.Workout.Cooldown, workout.StandardCooldown)
	if err != nil {
		return fmt.Errorf("load cooldown: %w", err)
	}

	promRegistry := metrics.SetupPrometheus()
	metricsManager := metrics.NewManager("treadmill", "engine", promRegistry)
	metricsServer, err := startMetricsServer(cfg.Metrics.Addr, promRegistry, logger)
	if err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	defer func() {
		err = multierr.Append(err, shutdownMetricsServer(metricsServer))
	}()

	engineCfg := cfg.EngineConfig()
	eng := engine.NewEngine(engineCfg, logger, metricsManager)

	simCfg := treadmill.DefaultConfig()
	simCfg.Tick = cfg.Sim.Tick
	simCfg.Speedup = cfg.Sim.Speedup
	simCfg.RestingHR = cfg.Sim.RestingHR
	simCfg.RunnerKg = cfg.Sim.RunnerKg
	simCfg.Limits = engineCfg.Limits
	simCfg.ControlAddr = cfg.Sim.ControlAddr
	sim := treadmill.NewSimulator(simCfg, logger)
	if err := sim.Start(); err != nil {
		return fmt.Errorf("start simulator: %w", err)
	}
	defer sim.Shutdown()

	session, err := trainer.NewSession(trainer.SessionArgs{
		Engine:       eng,
		Treadmill:    sim,
		Store:        snapshotstore.New(cfg.State.Dir, logger),
		Logger:       logger,
		Main:         mainPlan,
		Warmup:       warmup,
		Cooldown:     cooldown,
		ResumePaused: cfg.State.ResumePaused,
	})
	if err != nil {
		return err
	}
	defer session.Shutdown()

	if cfg.UI.Enabled {
		return runDashboard(eng, session, logger, uiLines)
	}
	runHeadless(eng, session, logger)
	return nil
}

func runDashboard(eng *engine.Engine, session *trainer.Session, logger *logrus.Logger, uiLines chan string) error {
	model := trainer.NewUIModel(eng, logger, uiLines)
	defer model.Shutdown()
	controller := trainer.NewUIController(model, session, logger)

	app := tview.NewApplication()
	view := trainer.NewBaseUIView(trainer.NewBaseUIViewArg{
		UIViewImpl:   trainer.NewCursesUIView(logger, app),
		UIModel:      model,
		UIController: controller,
		Logger:       logger,
	})
	defer view.Shutdown()

	logger.Info("Dashboard: space start/pause, n/p skip, x stop, r reset, q quit")
	return view.Run()
}

// runHeadless starts the workout right away and returns once it completes or the process is signalled
func runHeadless(eng *engine.Engine, session *trainer.Session, logger *logrus.Logger) {
	chOsInterrupt := make(chan os.Signal, 1)
	signal.Notify(chOsInterrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(chOsInterrupt)

	stateChan := make(chan engine.State, 1)
	unregister := eng.ListenToState(stateChan)
	defer unregister()

	switch eng.State().(type) {
	case engine.Idle:
		session.Start()
	case engine.Paused:
		session.Resume()
	}

	for {
		select {
		case sig := <-chOsInterrupt:
			logger.WithField("signal", sig.String()).Info("Headless: Signal received, stopping")
			return
		case state := <-stateChan:
			if state.Status() == engine.StatusCompleted {
				logger.Info("Headless: Workout completed")
				return
			}
		}
	}
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger logrus.FieldLogger) (*http.Server, error) {
	if addr == "" {
		return nil, nil
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go_func_utils.SafeGo(logger, func() {
		logger.WithField("addr", listener.Addr().String()).Info("Metrics: Server starting")
		if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics: Server error")
		}
	})
	return server, nil
}

func shutdownMetricsServer(server *http.Server) error {
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
