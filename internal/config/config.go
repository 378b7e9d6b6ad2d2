package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/closedloop"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/coefficient"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/engine"
	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

const (
	EnvPrefix      = "TREADMILL"
	configName     = "treadmill"
	stateDirName   = ".treadmill-trainer"
	defaultBuiltin = "easy-30"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Athlete    AthleteConfig    `mapstructure:"athlete"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Controller ControllerConfig `mapstructure:"controller"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	State      StateConfig      `mapstructure:"state"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Workout    WorkoutConfig    `mapstructure:"workout"`
	Sim        SimConfig        `mapstructure:"sim"`
	UI         UIConfig         `mapstructure:"ui"`

	// File is the config file that was read, empty when none was found
	File string
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"` // Empty means <state.dir>/treadmill.log
	Stdout bool   `mapstructure:"stdout"`
	JSON   bool   `mapstructure:"json"`
}

type AthleteConfig struct {
	ThresholdHR float64 `mapstructure:"threshold_hr"`
	FTPWatts    float64 `mapstructure:"ftp_watts"`
}

type EngineConfig struct {
	CoefficientScope           string  `mapstructure:"coefficient_scope"`
	CountdownSeconds           float64 `mapstructure:"countdown_seconds"`
	ClockJitterSeconds         float64 `mapstructure:"clock_jitter_seconds"`
	TargetReachedFraction      float64 `mapstructure:"target_reached_fraction"`
	ChangeThreshold            float64 `mapstructure:"change_threshold"`
	AutoCooldownSpeedKph       float64 `mapstructure:"auto_cooldown_speed_kph"`
	AutoCooldownInclinePercent float64 `mapstructure:"auto_cooldown_incline_percent"`
	HistoryCapacity            int     `mapstructure:"history_capacity"`
}

type ModeConfig struct {
	Tolerance                  float64       `mapstructure:"tolerance"`
	SpeedStepKph               float64       `mapstructure:"speed_step_kph"`
	InclineStepPercent         float64       `mapstructure:"incline_step_percent"`
	MinInterval                time.Duration `mapstructure:"min_interval"`
	SettlingDelay              time.Duration `mapstructure:"settling_delay"`
	TrendWindow                time.Duration `mapstructure:"trend_window"`
	TrendThresholdPerMinute    float64       `mapstructure:"trend_threshold_per_minute"`
	LargeDeviation             float64       `mapstructure:"large_deviation"`
	MaxDeviationFraction       float64       `mapstructure:"max_deviation_fraction"`
	MaxInclineDeviationPercent float64       `mapstructure:"max_incline_deviation_percent"`
}

type ControllerConfig struct {
	HR    ModeConfig `mapstructure:"hr"`
	Power ModeConfig `mapstructure:"power"`
}

type LimitsConfig struct {
	MinSpeedKph       float64 `mapstructure:"min_speed_kph"`
	MaxSpeedKph       float64 `mapstructure:"max_speed_kph"`
	MinInclinePercent float64 `mapstructure:"min_incline_percent"`
	MaxInclinePercent float64 `mapstructure:"max_incline_percent"`
}

type StateConfig struct {
	Dir string `mapstructure:"dir"`
	// ResumePaused restores a saved workout paused instead of running
	ResumePaused bool `mapstructure:"resume_paused"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // Empty disables the /metrics endpoint
}

// WorkoutConfig selects what to run. Main is a plan file; Builtin is used when Main is empty.
// Warmup and Cooldown take "standard", a plan file, or "" for none.
type WorkoutConfig struct {
	Main     string `mapstructure:"main"`
	Builtin  string `mapstructure:"builtin"`
	Warmup   string `mapstructure:"warmup"`
	Cooldown string `mapstructure:"cooldown"`
}

type SimConfig struct {
	Tick        time.Duration `mapstructure:"tick"`
	Speedup     float64       `mapstructure:"speedup"`
	ControlAddr string        `mapstructure:"control_addr"` // Empty disables the HTTP control server
	RestingHR   float64       `mapstructure:"resting_hr"`
	RunnerKg    float64       `mapstructure:"runner_kg"`
}

type UIConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DefaultStateDir is ~/.treadmill-trainer, or a relative directory when there is no home
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return stateDirName
	}
	return filepath.Join(home, stateDirName)
}

func setDefaults(v *viper.Viper) {
	d := engine.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.stdout", false)
	v.SetDefault("log.json", false)

	v.SetDefault("athlete.threshold_hr", d.ThresholdHR)
	v.SetDefault("athlete.ftp_watts", d.FTPWatts)

	v.SetDefault("engine.coefficient_scope", d.Coefficients.Scope.String())
	v.SetDefault("engine.countdown_seconds", d.CountdownSeconds)
	v.SetDefault("engine.clock_jitter_seconds", d.ClockJitterSeconds)
	v.SetDefault("engine.target_reached_fraction", d.Coefficients.TargetReachedFraction)
	v.SetDefault("engine.change_threshold", d.Coefficients.ChangeThreshold)
	v.SetDefault("engine.auto_cooldown_speed_kph", d.AutoCooldown.PaceKph)
	v.SetDefault("engine.auto_cooldown_incline_percent", d.AutoCooldown.InclinePercent)
	v.SetDefault("engine.history_capacity", d.HistoryCapacity)

	setModeDefaults(v, "controller.hr", d.HR)
	setModeDefaults(v, "controller.power", d.Power)

	v.SetDefault("limits.min_speed_kph", d.Limits.MinSpeedKph)
	v.SetDefault("limits.max_speed_kph", d.Limits.MaxSpeedKph)
	v.SetDefault("limits.min_incline_percent", d.Limits.MinInclinePercent)
	v.SetDefault("limits.max_incline_percent", d.Limits.MaxInclinePercent)

	v.SetDefault("state.dir", DefaultStateDir())
	v.SetDefault("state.resume_paused", true)
	v.SetDefault("metrics.addr", "localhost:2112")

	v.SetDefault("workout.main", "")
	v.SetDefault("workout.builtin", defaultBuiltin)
	v.SetDefault("workout.warmup", "")
	v.SetDefault("workout.cooldown", "")

	v.SetDefault("sim.tick", time.Second)
	v.SetDefault("sim.speedup", 1.0)
	v.SetDefault("sim.control_addr", "")
	v.SetDefault("sim.resting_hr", 60.0)
	v.SetDefault("sim.runner_kg", 70.0)

	v.SetDefault("ui.enabled", true)
}

func setModeDefaults(v *viper.Viper, prefix string, m closedloop.ModeConfig) {
	v.SetDefault(prefix+".tolerance", m.Tolerance)
	v.SetDefault(prefix+".speed_step_kph", m.SpeedStepKph)
	v.SetDefault(prefix+".incline_step_percent", m.InclineStepPercent)
	v.SetDefault(prefix+".min_interval", m.MinInterval)
	v.SetDefault(prefix+".settling_delay", m.SettlingDelay)
	v.SetDefault(prefix+".trend_window", m.TrendWindow)
	v.SetDefault(prefix+".trend_threshold_per_minute", m.TrendThresholdPerMinute)
	v.SetDefault(prefix+".large_deviation", m.LargeDeviation)
	v.SetDefault(prefix+".max_deviation_fraction", m.MaxDeviationFraction)
	v.SetDefault(prefix+".max_incline_deviation_percent", m.MaxInclineDeviationPercent)
}

// flagBindings maps command line flags to config keys
var flagBindings = map[string]string{
	"log-level":         "log.level",
	"log-file":          "log.file",
	"log-stdout":        "log.stdout",
	"threshold-hr":      "athlete.threshold_hr",
	"ftp":               "athlete.ftp_watts",
	"coefficient-scope": "engine.coefficient_scope",
	"state-dir":         "state.dir",
	"resume-paused":     "state.resume_paused",
	"metrics-addr":      "metrics.addr",
	"plan":              "workout.main",
	"builtin":           "workout.builtin",
	"warmup":            "workout.warmup",
	"cooldown":          "workout.cooldown",
	"tick":              "sim.tick",
	"speedup":           "sim.speedup",
	"sim-control-addr":  "sim.control_addr",
	"ui":                "ui.enabled",
}

// NewFlagSet declares the command line flags. Values left unset fall through to
// the environment, the config file, then the defaults.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.String("log-level", "info", "log level: trace|debug|info|warn|error")
	fs.String("log-file", "", "log file, defaults to <state-dir>/treadmill.log")
	fs.Bool("log-stdout", false, "also log to stdout")
	fs.Float64("threshold-hr", engine.DefaultThresholdHR, "threshold heart rate in bpm")
	fs.Float64("ftp", engine.DefaultFTPWatts, "running functional threshold power in watts")
	fs.String("coefficient-scope", coefficient.ScopeWorkout.String(), "effort coefficient scope: workout|step")
	fs.String("state-dir", DefaultStateDir(), "directory for saved workout state")
	fs.Bool("resume-paused", true, "restore a saved workout paused")
	fs.String("metrics-addr", "localhost:2112", "prometheus /metrics listen address, empty to disable")
	fs.String("plan", "", "workout plan file (yaml)")
	fs.String("builtin", defaultBuiltin, "builtin workout ID, used when no plan file is given")
	fs.String("warmup", "", "warmup: standard, a plan file, or empty for none")
	fs.String("cooldown", "", "cooldown: standard, a plan file, or empty for none")
	fs.Duration("tick", time.Second, "simulator tick interval")
	fs.Float64("speedup", 1, "simulated seconds per wall clock second")
	fs.String("sim-control-addr", "", "simulator HTTP control listen address, empty to disable")
	fs.Bool("ui", true, "show the terminal dashboard")
	return fs
}

// Load parses args and resolves the config from flags, TREADMILL_* environment variables,
// the config file and defaults, in that order.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("treadmill-trainer")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	return LoadFromFlags(fs)
}

func LoadFromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for name, key := range flagBindings {
		if flag := fs.Lookup(name); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile, _ := fs.GetString("config")
	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultStateDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return cfg, nil
}

// LogFile is the configured log file or the default one under the state dir
func (c *Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.State.Dir, "treadmill.log")
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var err error
	fail := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		fail("log.level %q", c.Log.Level)
	}
	if c.Athlete.ThresholdHR <= 0 {
		fail("athlete.threshold_hr must be positive, got %v", c.Athlete.ThresholdHR)
	}
	if c.Athlete.FTPWatts <= 0 {
		fail("athlete.ftp_watts must be positive, got %v", c.Athlete.FTPWatts)
	}

	if _, perr := coefficient.ParseScope(c.Engine.CoefficientScope); perr != nil {
		fail("engine.coefficient_scope: %v", perr)
	}
	if c.Engine.CountdownSeconds < 0 {
		fail("engine.countdown_seconds must not be negative")
	}
	if c.Engine.ClockJitterSeconds < 0 {
		fail("engine.clock_jitter_seconds must not be negative")
	}
	if f := c.Engine.TargetReachedFraction; f <= 0 || f > 1 {
		fail("engine.target_reached_fraction must be in (0,1], got %v", f)
	}
	if c.Engine.ChangeThreshold < 0 {
		fail("engine.change_threshold must not be negative")
	}

	l := c.Limits
	if l.MinSpeedKph < 0 || l.MinSpeedKph >= l.MaxSpeedKph {
		fail("limits speed range [%v,%v]", l.MinSpeedKph, l.MaxSpeedKph)
	}
	if l.MinInclinePercent >= l.MaxInclinePercent {
		fail("limits incline range [%v,%v]", l.MinInclinePercent, l.MaxInclinePercent)
	}
	if s := c.Engine.AutoCooldownSpeedKph; s < l.MinSpeedKph || s > l.MaxSpeedKph {
		fail("engine.auto_cooldown_speed_kph %v outside the speed limits", s)
	}
	if i := c.Engine.AutoCooldownInclinePercent; i < l.MinInclinePercent || i > l.MaxInclinePercent {
		fail("engine.auto_cooldown_incline_percent %v outside the incline limits", i)
	}

	err = multierr.Append(err, validateMode("controller.hr", c.Controller.HR))
	err = multierr.Append(err, validateMode("controller.power", c.Controller.Power))

	if c.State.Dir == "" {
		fail("state.dir must be set")
	}
	if c.Workout.Main == "" {
		if _, ok := workout.GetPlanByID(c.Workout.Builtin); !ok {
			fail("workout.builtin %q is not a builtin plan", c.Workout.Builtin)
		}
	}
	if c.Sim.Tick <= 0 {
		fail("sim.tick must be positive")
	}
	if c.Sim.Speedup <= 0 {
		fail("sim.speedup must be positive")
	}
	return err
}

func validateMode(prefix string, m ModeConfig) error {
	var err error
	fail := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf("%w: %s.%s", ErrInvalidConfig, prefix, fmt.Sprintf(format, args...)))
	}
	if m.Tolerance < 0 {
		fail("tolerance must not be negative")
	}
	if m.SpeedStepKph <= 0 {
		fail("speed_step_kph must be positive")
	}
	if m.InclineStepPercent <= 0 {
		fail("incline_step_percent must be positive")
	}
	if m.MinInterval < 0 || m.SettlingDelay < 0 || m.TrendWindow < 0 {
		fail("intervals must not be negative")
	}
	if f := m.MaxDeviationFraction; f <= 0 || f > 1 {
		fail("max_deviation_fraction must be in (0,1], got %v", f)
	}
	if m.MaxInclineDeviationPercent < 0 {
		fail("max_incline_deviation_percent must not be negative")
	}
	return err
}

// EngineConfig maps the validated config onto the engine's
func (c *Config) EngineConfig() engine.Config {
	scope, _ := coefficient.ParseScope(c.Engine.CoefficientScope)
	return engine.Config{
		ThresholdHR: c.Athlete.ThresholdHR,
		FTPWatts:    c.Athlete.FTPWatts,
		Coefficients: coefficient.Config{
			Scope:                 scope,
			TargetReachedFraction: c.Engine.TargetReachedFraction,
			ChangeThreshold:       c.Engine.ChangeThreshold,
		},
		CountdownSeconds:   c.Engine.CountdownSeconds,
		ClockJitterSeconds: c.Engine.ClockJitterSeconds,
		AutoCooldown: workout.CooldownDefaults{
			PaceKph:        c.Engine.AutoCooldownSpeedKph,
			InclinePercent: c.Engine.AutoCooldownInclinePercent,
		},
		HR:    c.Controller.HR.toClosedLoop(),
		Power: c.Controller.Power.toClosedLoop(),
		Limits: closedloop.Limits{
			MinSpeedKph:       c.Limits.MinSpeedKph,
			MaxSpeedKph:       c.Limits.MaxSpeedKph,
			MinInclinePercent: c.Limits.MinInclinePercent,
			MaxInclinePercent: c.Limits.MaxInclinePercent,
		},
		HistoryCapacity: c.Engine.HistoryCapacity,
	}
}

func (m ModeConfig) toClosedLoop() closedloop.ModeConfig {
	return closedloop.ModeConfig{
		Tolerance:                  m.Tolerance,
		SpeedStepKph:               m.SpeedStepKph,
		InclineStepPercent:         m.InclineStepPercent,
		MinInterval:                m.MinInterval,
		SettlingDelay:              m.SettlingDelay,
		TrendWindow:                m.TrendWindow,
		TrendThresholdPerMinute:    m.TrendThresholdPerMinute,
		LargeDeviation:             m.LargeDeviation,
		MaxDeviationFraction:       m.MaxDeviationFraction,
		MaxInclineDeviationPercent: m.MaxInclineDeviationPercent,
	}
}
