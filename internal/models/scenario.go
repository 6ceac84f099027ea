package models

import "math"

// ScenarioParams describes a what-if change relative to the patient's baseline.
// Percentage fields are signed deltas: +20 means 20% more than baseline.
type ScenarioParams struct {
	BasalChange            float64 `json:"basal_change" yaml:"basal_change"`
	BolusChange            float64 `json:"bolus_change" yaml:"bolus_change"`
	CarbRatioChange        float64 `json:"carb_ratio_change" yaml:"carb_ratio_change"`
	CorrectionFactorChange float64 `json:"correction_factor_change" yaml:"correction_factor_change"`
	MealCarbs              float64 `json:"meal_carbs" yaml:"meal_carbs"`                 // grams
	MealTiming             float64 `json:"meal_timing" yaml:"meal_timing"`               // minutes from simulation start
	ExerciseIntensity      float64 `json:"exercise_intensity" yaml:"exercise_intensity"` // percent of maximum, 0-100
	ExerciseDuration       float64 `json:"exercise_duration" yaml:"exercise_duration"`   // minutes
	SimulationHours        float64 `json:"simulation_hours" yaml:"simulation_hours"`
	TimeStepMinutes        float64 `json:"time_step_minutes" yaml:"time_step_minutes"`
}

// ExerciseStartHours is when the exercise window opens
const ExerciseStartHours = 2.0

// DefaultScenario returns the unchanged-therapy scenario with a standard meal
func DefaultScenario() ScenarioParams {
	return ScenarioParams{
		MealCarbs:       60,
		MealTiming:      60,
		SimulationHours: 24,
		TimeStepMinutes: 5,
	}
}

// UnmarshalJSON starts from DefaultScenario; absent or malformed fields keep the default
func (s *ScenarioParams) UnmarshalJSON(b []byte) error {
	*s = DefaultScenario()

	fields := map[string]*float64{
		"basal_change":             &s.BasalChange,
		"bolus_change":             &s.BolusChange,
		"carb_ratio_change":        &s.CarbRatioChange,
		"correction_factor_change": &s.CorrectionFactorChange,
		"meal_carbs":               &s.MealCarbs,
		"meal_timing":              &s.MealTiming,
		"exercise_intensity":       &s.ExerciseIntensity,
		"exercise_duration":        &s.ExerciseDuration,
		"simulation_hours":         &s.SimulationHours,
		"time_step_minutes":        &s.TimeStepMinutes,
	}

	nums := make(map[string]*Num, len(fields))
	targets := make(map[string]any, len(fields))
	for key := range fields {
		n := &Num{}
		nums[key] = n
		targets[key] = n
	}
	decodeFields(b, targets)

	for key, dst := range fields {
		if n := nums[key]; n.Valid {
			*dst = n.Value
		}
	}
	return nil
}

// WithDefaults resolves unset fields. The zero value is the default
// scenario; otherwise a zero horizon or step takes its default.
func (s ScenarioParams) WithDefaults() ScenarioParams {
	d := DefaultScenario()
	if s == (ScenarioParams{}) {
		return d
	}
	if s.SimulationHours == 0 {
		s.SimulationHours = d.SimulationHours
	}
	if s.TimeStepMinutes == 0 {
		s.TimeStepMinutes = d.TimeStepMinutes
	}
	return s
}

// Normalize resolves unset fields and clamps every field to its supported range
func (s ScenarioParams) Normalize() ScenarioParams {
	s = s.WithDefaults()
	s.BasalChange = clamp(s.BasalChange, -90, 300)
	s.BolusChange = clamp(s.BolusChange, -90, 300)
	s.CarbRatioChange = clamp(s.CarbRatioChange, -90, 300)
	s.CorrectionFactorChange = clamp(s.CorrectionFactorChange, -90, 300)
	s.MealCarbs = clamp(s.MealCarbs, 0, 400)
	s.ExerciseIntensity = clamp(s.ExerciseIntensity, 0, 100)
	s.ExerciseDuration = clamp(s.ExerciseDuration, 0, 480)
	s.SimulationHours = clamp(s.SimulationHours, 1, 72)
	s.TimeStepMinutes = clamp(s.TimeStepMinutes, 1, 60)
	s.MealTiming = clamp(s.MealTiming, 0, s.SimulationHours*60)
	return s
}

// Steps returns the number of output intervals over the horizon
func (s ScenarioParams) Steps() int {
	n := int(math.Round(s.SimulationHours * 60 / s.TimeStepMinutes))
	if n < 1 {
		return 1
	}
	return n
}

// HasExercise reports whether the scenario includes an exercise bout
func (s ScenarioParams) HasExercise() bool {
	return s.ExerciseIntensity > 0 && s.ExerciseDuration > 0
}

// HasMeal reports whether the scenario includes a meal
func (s ScenarioParams) HasMeal() bool {
	return s.MealCarbs > 0
}

// InsulinIncreased reports whether basal or bolus insulin goes up
func (s ScenarioParams) InsulinIncreased() bool {
	return s.BasalChange > 0 || s.BolusChange > 0
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
