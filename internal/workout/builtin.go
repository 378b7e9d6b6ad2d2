package workout

const (
	easyPaceKph     = 9.0
	tempoPaceKph    = 12.0
	intervalPaceKph = 14.0
	recoverPaceKph  = 7.5
	walkPaceKph     = 5.0
)

// HR bands as percent of threshold heart rate
var (
	HRZone2 = Band{MinPercent: 75, MaxPercent: 85}
	HRZone3 = Band{MinPercent: 85, MaxPercent: 92}
	// Recovery steps end early once HR drops below this ceiling
	HRRecovered = Band{MinPercent: 0, MaxPercent: 75}
)

func minutes(n float64) float64 { return n * 60 }

func timeStep(name, key string, t StepType, secs, paceKph, incline float64) Step {
	return Step{
		ID:                   key,
		Type:                 t,
		DurationKind:         DurationTime,
		DurationSeconds:      secs,
		PaceTargetKph:        paceKph,
		InclineTargetPercent: incline,
		IdentityKey:          key,
		DisplayName:          name,
	}
}

func intervals(n int, work, rest Step) []Step {
	steps := make([]Step, 0, n*2)
	for i := 0; i < n; i++ {
		steps = append(steps, work, rest)
	}
	return steps
}

func withHR(s Step, band Band, early EarlyEnd, adjust AutoAdjust, axis Axis) Step {
	b := band
	s.HRTarget = &b
	s.EarlyEnd = early
	s.AutoAdjust = adjust
	s.Adjustment = axis
	return s
}

// StandardWarmup is attached in front of builtin plans unless disabled
var StandardWarmup = Plan{
	ID:   "warmup-standard",
	Name: "Standard warmup",
	Steps: []Step{
		timeStep("Walk", "warmup-walk", StepTypeWarmup, minutes(2), walkPaceKph, 1),
		{
			ID:                   "warmup-build",
			Type:                 StepTypeWarmup,
			DurationKind:         DurationTime,
			DurationSeconds:      minutes(5),
			PaceTargetKph:        7.0,
			PaceEndTargetKph:     easyPaceKph,
			InclineTargetPercent: 1,
			IdentityKey:          "warmup-build",
			DisplayName:          "Build",
		},
	},
}

// StandardCooldown is attached after builtin plans unless disabled
var StandardCooldown = Plan{
	ID:   "cooldown-standard",
	Name: "Standard cooldown",
	Steps: []Step{
		{
			ID:                   "cooldown-jog",
			Type:                 StepTypeCooldown,
			DurationKind:         DurationTime,
			DurationSeconds:      minutes(4),
			PaceTargetKph:        8.0,
			PaceEndTargetKph:     6.0,
			InclineTargetPercent: 0,
			IdentityKey:          "cooldown-jog",
			DisplayName:          "Easy jog",
		},
		timeStep("Walk", "cooldown-walk", StepTypeCooldown, minutes(3), walkPaceKph, 0),
	},
}

// AllPlans defines the builtin main sets
var AllPlans = []Plan{
	{
		ID:   "easy-30",
		Name: "30 Min Easy",
		Steps: []Step{
			withHR(timeStep("Easy", "easy", StepTypeRun, minutes(30), easyPaceKph, 1), HRZone2, EarlyEndNone, AutoAdjustHR, AxisSpeed),
		},
	},
	{
		ID:   "5k-tempo",
		Name: "5K Tempo",
		Steps: []Step{
			{
				ID:                   "tempo",
				Type:                 StepTypeRun,
				DurationKind:         DurationDistance,
				DurationMeters:       5000,
				PaceTargetKph:        tempoPaceKph,
				InclineTargetPercent: 1,
				IdentityKey:          "tempo",
				DisplayName:          "Tempo 5K",
			},
		},
	},
	{
		ID:    "6x400",
		Name:  "6 x 400m",
		Steps: intervals(6, distanceStep("400m", "rep-400", 400, intervalPaceKph), timeStep("Jog", "jog-90", StepTypeRecovery, 90, recoverPaceKph, 1)),
	},
	{
		ID:   "5x3-hr-recovery",
		Name: "5 x 3 Min, HR Recovery",
		Steps: intervals(5,
			timeStep("Hard", "hard-3", StepTypeRun, minutes(3), 13.0, 1),
			withHR(timeStep("Recover", "recover-hr", StepTypeRecovery, minutes(3), recoverPaceKph, 1), HRRecovered, EarlyEndHRRange, AutoAdjustNone, AxisSpeed),
		),
	},
	{
		ID:   "hills-6x2",
		Name: "Hills 6 x 2 Min",
		Steps: intervals(6,
			timeStep("Hill", "hill-2", StepTypeRun, minutes(2), 10.0, 6),
			timeStep("Flat", "flat-2", StepTypeRecovery, minutes(2), recoverPaceKph, 1),
		),
	},
	{
		ID:   "zone2-incline-45",
		Name: "HR Zone 2 Incline Walk - 45 Min",
		Steps: []Step{
			withHR(timeStep("Incline walk", "incline-walk", StepTypeRun, minutes(45), 6.0, 8), HRZone2, EarlyEndNone, AutoAdjustHR, AxisIncline),
		},
	},
	{
		ID:   "progression-40",
		Name: "Progression Run - 40 Min",
		Steps: []Step{
			timeStep("Easy", "prog-easy", StepTypeRun, minutes(15), easyPaceKph, 1),
			{
				ID:                   "prog-ramp",
				Type:                 StepTypeRun,
				DurationKind:         DurationTime,
				DurationSeconds:      minutes(15),
				PaceTargetKph:        easyPaceKph,
				PaceEndTargetKph:     tempoPaceKph,
				InclineTargetPercent: 1,
				IdentityKey:          "prog-ramp",
				DisplayName:          "Build",
			},
			withHR(timeStep("Steady", "prog-steady", StepTypeRun, minutes(10), tempoPaceKph, 1), HRZone3, EarlyEndNone, AutoAdjustHR, AxisSpeed),
		},
	},
	{
		ID:   "open-run",
		Name: "Open Run",
		Steps: []Step{
			{
				ID:                   "open",
				Type:                 StepTypeRun,
				PaceTargetKph:        easyPaceKph,
				InclineTargetPercent: 1,
				EarlyEnd:             EarlyEndOpen,
				IdentityKey:          "open",
				DisplayName:          "Open run",
			},
		},
	},
}

func distanceStep(name, key string, meters, paceKph float64) Step {
	return Step{
		ID:                   key,
		Type:                 StepTypeRun,
		DurationKind:         DurationDistance,
		DurationMeters:       meters,
		PaceTargetKph:        paceKph,
		InclineTargetPercent: 1,
		IdentityKey:          key,
		DisplayName:          name,
	}
}

// GetPlanByID returns a builtin plan by its ID
func GetPlanByID(id string) (Plan, bool) {
	for _, p := range AllPlans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// TotalPlannedSeconds estimates the planned duration; distance steps use their base pace
func (t *Timeline) TotalPlannedSeconds() float64 {
	var total float64
	for _, s := range t.Steps {
		switch {
		case s.EarlyEnd == EarlyEndOpen:
		case s.DurationKind == DurationTime:
			total += s.DurationSeconds
		case s.PaceTargetKph > 0:
			total += s.DurationMeters / (s.PaceTargetKph / 3.6)
		}
	}
	return total
}
