package plan

import (
	"fmt"

	"github.com/lowaak/smart-trainer/treadmill-app/internal/workout"
)

// Standard selects the builtin warmup or cooldown
const Standard = "standard"

// Main returns the plan file at path, or the builtin plan with the given ID when path is empty
func Main(path, builtinID string) (workout.Plan, error) {
	if path != "" {
		return ParseFile(path)
	}
	p, ok := workout.GetPlanByID(builtinID)
	if !ok {
		return workout.Plan{}, fmt.Errorf("%w: no builtin plan %q", ErrInvalid, builtinID)
	}
	return p, nil
}

// Attachment resolves a warmup or cooldown setting: "" for none, "standard" for the builtin one,
// anything else is a plan file
func Attachment(setting string, standard workout.Plan) (*workout.Plan, error) {
	switch setting {
	case "":
		return nil, nil
	case Standard:
		p := standard
		return &p, nil
	}
	p, err := ParseFile(setting)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
