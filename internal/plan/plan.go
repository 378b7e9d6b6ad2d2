package plan

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

var (
	ErrParse   = errors.New("plan parse error")
	ErrInvalid = errors.New("invalid plan")
)

// planNamespace scopes the name-based IDs generated for plans without an id
var planNamespace = uuid.MustParse("6f1f7f52-4b1e-4c57-9f0e-2b1d8f0e3a11")

// Document is the YAML form of a plan
type Document struct {
	ID    string         `yaml:"id"`
	Name  string         `yaml:"name"`
	Steps []StepDocument `yaml:"steps"`
}

// StepDocument is either a single step or, when Steps is set, a group repeated Repeat times.
// Every occurrence of a repeated step shares its identity key.
type StepDocument struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Key  string `yaml:"key"`

	Duration  time.Duration `yaml:"duration"`
	DistanceM float64       `yaml:"distance_m"`

	PaceKph        float64 `yaml:"pace_kph"`
	PaceEndKph     float64 `yaml:"pace_end_kph"`
	InclinePercent float64 `yaml:"incline_percent"`

	EarlyEnd   string `yaml:"early_end"`
	AutoAdjust string `yaml:"auto_adjust"`
	Adjust     string `yaml:"adjust"`

	HR    *BandDocument `yaml:"hr"`
	Power *BandDocument `yaml:"power"`

	Repeat int            `yaml:"repeat"`
	Steps  []StepDocument `yaml:"steps"`
}

// BandDocument is a target band in percent of threshold HR or FTP
type BandDocument struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

var (
	earlyEnds   = map[string]workout.EarlyEnd{"": workout.EarlyEndNone, "none": workout.EarlyEndNone, "open": workout.EarlyEndOpen, "hr_range": workout.EarlyEndHRRange}
	autoAdjusts = map[string]workout.AutoAdjust{"": workout.AutoAdjustNone, "none": workout.AutoAdjustNone, "hr": workout.AutoAdjustHR, "power": workout.AutoAdjustPower}
	axes        = map[string]workout.Axis{"": workout.AxisSpeed, "speed": workout.AxisSpeed, "incline": workout.AxisIncline}
)

// Parse decodes a YAML plan. Unknown fields are rejected and every invalid step is reported.
func Parse(data []byte) (workout.Plan, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return workout.Plan{}, fmt.Errorf("%w: %s", ErrParse, strings.TrimPrefix(err.Error(), "yaml: "))
	}
	if doc.ID == "" {
		// Name-based, so the same file keeps its ID across runs and saved state can be restored
		doc.ID = uuid.NewSHA1(planNamespace, data).String()
	}
	return doc.Build()
}

func ParseFile(path string) (workout.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workout.Plan{}, fmt.Errorf("read plan %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return workout.Plan{}, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Build expands repeats and converts the document to a plan
func (d Document) Build() (workout.Plan, error) {
	var err error
	if d.ID == "" {
		err = multierr.Append(err, fmt.Errorf("%w: id is required", ErrInvalid))
	}
	if d.Name == "" {
		err = multierr.Append(err, fmt.Errorf("%w: name is required", ErrInvalid))
	}
	if len(d.Steps) == 0 {
		err = multierr.Append(err, fmt.Errorf("%w: %w", ErrInvalid, workout.ErrNoSteps))
	}

	b := &builder{}
	for i, s := range d.Steps {
		b.expand(s, fmt.Sprintf("steps[%d]", i), fmt.Sprintf("s%d", i))
	}
	err = multierr.Append(err, b.err)
	if err != nil {
		return workout.Plan{}, err
	}

	p := workout.Plan{ID: d.ID, Name: d.Name, Steps: b.steps}
	if verr := workout.NewTimeline(p).Validate(); verr != nil {
		return workout.Plan{}, fmt.Errorf("%w: %w", ErrInvalid, verr)
	}
	return p, nil
}

type builder struct {
	steps    []workout.Step
	err      error
	failures int
}

func (b *builder) fail(path, format string, args ...any) {
	b.failures++
	b.err = multierr.Append(b.err, fmt.Errorf("%w: %s: %s", ErrInvalid, path, fmt.Sprintf(format, args...)))
}

func (b *builder) expand(s StepDocument, path, key string) {
	repeat := s.Repeat
	if repeat == 0 {
		repeat = 1
	}
	if repeat < 0 {
		b.fail(path, "repeat must be positive, got %d", s.Repeat)
		return
	}

	if len(s.Steps) > 0 {
		if s.Duration != 0 || s.DistanceM != 0 || s.PaceKph != 0 {
			b.fail(path, "a group takes only repeat and steps")
		}
		before := b.failures
		for r := 0; r < repeat; r++ {
			for i, child := range s.Steps {
				b.expand(child, fmt.Sprintf("%s.steps[%d]", path, i), fmt.Sprintf("%s.%d", key, i))
			}
			// Errors are reported once, not per repetition
			if b.failures > before {
				return
			}
		}
		return
	}

	step, ok := b.step(s, path, key)
	if !ok {
		return
	}
	for r := 0; r < repeat; r++ {
		occurrence := step
		occurrence.ID = fmt.Sprintf("%s#%d", step.IdentityKey, len(b.steps))
		b.steps = append(b.steps, occurrence)
	}
}

func (b *builder) step(s StepDocument, path, key string) (workout.Step, bool) {
	before := b.failures
	step := workout.Step{
		DisplayName:          s.Name,
		PaceTargetKph:        s.PaceKph,
		PaceEndTargetKph:     s.PaceEndKph,
		InclineTargetPercent: s.InclinePercent,
		IdentityKey:          key,
	}
	if s.Key != "" {
		step.IdentityKey = s.Key
	}

	if s.Type == "" {
		step.Type = workout.StepTypeRun
	} else if t, err := workout.ParseStepType(s.Type); err != nil {
		b.fail(path, "%v", err)
	} else {
		step.Type = t
	}

	var found bool
	if step.EarlyEnd, found = earlyEnds[s.EarlyEnd]; !found {
		b.fail(path, "unknown early_end %q", s.EarlyEnd)
	}
	if step.AutoAdjust, found = autoAdjusts[s.AutoAdjust]; !found {
		b.fail(path, "unknown auto_adjust %q", s.AutoAdjust)
	}
	if step.Adjustment, found = axes[s.Adjust]; !found {
		b.fail(path, "unknown adjust %q", s.Adjust)
	}

	switch {
	case s.Duration != 0 && s.DistanceM != 0:
		b.fail(path, "duration and distance_m are exclusive")
	case s.DistanceM != 0:
		step.DurationKind = workout.DurationDistance
		step.DurationMeters = s.DistanceM
	case s.Duration != 0:
		step.DurationKind = workout.DurationTime
		step.DurationSeconds = s.Duration.Seconds()
	case step.EarlyEnd != workout.EarlyEndOpen:
		b.fail(path, "needs a duration or a distance_m")
	}

	if s.HR != nil {
		step.HRTarget = &workout.Band{MinPercent: s.HR.Min, MaxPercent: s.HR.Max}
	}
	if s.Power != nil {
		step.PowerTarget = &workout.Band{MinPercent: s.Power.Min, MaxPercent: s.Power.Max}
	}
	return step, b.failures == before
}
