// Package simulation turns a scenario into time-indexed model inputs and
// integrates the glucose/insulin model over the horizon.
package simulation

import (
	"math"
	"math/rand/v2"

	"github.com/mrcode/glucose-twin/internal/models"
	"github.com/mrcode/glucose-twin/internal/pkpd"
)

// Scenario input constants
const (
	CorrectionThreshold = 180.0 // mg/dL; above this the meal bolus carries a correction
	CorrectionTarget    = 120.0
	ExerciseHalfLife    = 1.0 // hours
	ExerciseAfterEffect = 2.0 // hours of decay after the window closes
)

// Inputs are the exogenous signals over the horizon. Per-step slices hold
// the value used for the step starting at Times[i].
type Inputs struct {
	Scenario  models.ScenarioParams
	StepHours float64
	Times     []float64 // output time points, len(steps)+1

	Basal          []float64 // long-acting insulin, U/h
	Bolus          []float64 // fast-acting insulin, U/h
	CarbAppearance []float64 // mg/dL/h
	Exercise       []float64 // intensity fraction

	AdjustedBasalRate        float64
	AdjustedCarbRatio        float64
	AdjustedCorrectionFactor float64
	MealBolusUnits           float64
	CorrectionBolusUnits     float64
	MealTimeHours            float64
	MealScaleHours           float64
	ExerciseStartHours       float64
	ExerciseEndHours         float64
}

// Steps is the number of integration intervals
func (in *Inputs) Steps() int {
	return len(in.Basal)
}

// TotalBasalUnits is the long-acting insulin delivered over the horizon
func (in *Inputs) TotalBasalUnits() float64 {
	var total float64
	for _, b := range in.Basal {
		total += b * in.StepHours
	}
	return total
}

// TotalInsulinUnits is basal plus every bolus
func (in *Inputs) TotalInsulinUnits() float64 {
	return in.TotalBasalUnits() + in.MealBolusUnits + in.CorrectionBolusUnits
}

// Drive returns the model drive for step i
func (in *Inputs) Drive(i int) pkpd.Drive {
	return pkpd.Drive{
		Basal:          in.Basal[i],
		Bolus:          in.Bolus[i],
		CarbAppearance: in.CarbAppearance[i],
		Exercise:       in.Exercise[i],
	}
}

// BuildInputs applies the scenario deltas to the profile and lays the
// resulting insulin, meal and exercise signals on the output grid. A nil rng
// keeps the meal absorption curve at its nominal shape.
func BuildInputs(p models.PatientProfile, s models.ScenarioParams, rng *rand.Rand) Inputs {
	p.ApplySafetyClamps()
	s = s.Normalize()

	n := s.Steps()
	dt := s.SimulationHours / float64(n)

	in := Inputs{
		Scenario:       s,
		StepHours:      dt,
		Times:          make([]float64, n+1),
		Basal:          make([]float64, n),
		Bolus:          make([]float64, n),
		CarbAppearance: make([]float64, n),
		Exercise:       make([]float64, n),

		AdjustedBasalRate:        p.BasalRate * (1 + s.BasalChange/100),
		AdjustedCarbRatio:        math.Max(models.MinCarbRatio, p.CarbRatio*(1+s.CarbRatioChange/100)),
		AdjustedCorrectionFactor: math.Max(models.MinCorrectionFactor, p.CorrectionFactor*(1+s.CorrectionFactorChange/100)),
		MealTimeHours:            s.MealTiming / 60,
		MealScaleHours:           pkpd.MealScale(1/p.GlucoseAbsorptionRate, s.MealCarbs),
	}
	for i := range in.Times {
		in.Times[i] = float64(i) * dt
	}

	// the correction rides on the meal bolus; without a meal no bolus is given
	if s.HasMeal() {
		in.MealBolusUnits = math.Max(0, s.MealCarbs/in.AdjustedCarbRatio*(1+s.BolusChange/100))
		if p.InitialGlucose > CorrectionThreshold {
			in.CorrectionBolusUnits = (p.InitialGlucose - CorrectionTarget) / in.AdjustedCorrectionFactor
		}
		if rng != nil && p.MealAbsorptionVariability > 0 {
			in.MealScaleHours *= clamp(1+p.MealAbsorptionVariability*rng.NormFloat64(), 0.7, 1.3)
		}
	}

	if s.HasExercise() {
		in.ExerciseStartHours = models.ExerciseStartHours
		in.ExerciseEndHours = models.ExerciseStartHours + s.ExerciseDuration/60
	}

	vg := pkpd.GlucoseVolumePerKg * p.WeightKg
	for i := 0; i < n; i++ {
		mid := in.Times[i] + dt/2
		in.Basal[i] = in.AdjustedBasalRate
		if s.HasMeal() {
			in.CarbAppearance[i] = pkpd.CarbAppearance(s.MealCarbs, mid-in.MealTimeHours, in.MealScaleHours, vg)
		}
		if s.HasExercise() {
			in.Exercise[i] = exerciseEffect(mid, s.ExerciseIntensity/100, in.ExerciseStartHours, in.ExerciseEndHours)
		}
	}

	if bolus := in.MealBolusUnits + in.CorrectionBolusUnits; bolus > 0 {
		idx := int(math.Round(in.MealTimeHours / dt))
		idx = max(0, min(n-1, idx))
		in.Bolus[idx] = bolus / dt
	}
	return in
}

// exerciseEffect is full intensity inside the window, then halves every
// ExerciseHalfLife for ExerciseAfterEffect hours
func exerciseEffect(t, intensity, start, end float64) float64 {
	switch {
	case t < start:
		return 0
	case t <= end:
		return intensity
	case t <= end+ExerciseAfterEffect:
		return intensity * math.Pow(0.5, (t-end)/ExerciseHalfLife)
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
