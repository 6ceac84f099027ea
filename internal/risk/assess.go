// Package risk scores the safety risks of a simulated scenario on a 0-100 scale.
package risk

import (
	"math"

	"github.com/mrcode/glucose-twin/internal/models"
)

// Exposure configures a prolonged-exposure score: contiguous runs beyond
// Threshold lasting at least MinMinutes count as episodes
type Exposure struct {
	Threshold         float64
	Below             bool
	MinMinutes        float64
	SaturationMinutes float64 // longest episode that scores 100
	PerEpisode        float64
}

// Weights of each component in the overall risk
type Weights struct {
	HypoSevere      float64
	ProlongedHypo   float64
	HyperSevere     float64
	HypoMild        float64
	ProlongedHyper  float64
	Exercise        float64
	InsulinStacking float64
	Variability     float64
	HyperMild       float64
	MealSpike       float64
}

// Thresholds holds every tuned constant of the assessor. The stacking and
// meal-spike heuristics are hand-tuned and have no clinical validation.
type Thresholds struct {
	HypoMildGain    float64 // per percent below 70
	HypoSevereGain  float64 // per percent below 54
	HyperMildGain   float64 // per percent above 180
	HyperSevereGain float64 // per percent above 250

	ProlongedHypo  Exposure
	ProlongedHyper Exposure

	VariabilityBaselineCV float64
	VariabilityGain       float64

	StackingCombinedGain       float64 // per percent of simultaneous basal+bolus increase
	StackingLargeBolus         float64 // bolus change percent
	StackingLargeBolusPenalty  float64
	StackingMealSpacingMinutes float64
	StackingMealSpacingPenalty float64
	StackingExerciseGain       float64 // per percent intensity with an insulin increase

	ExerciseGain           float64 // per percent intensity
	ExerciseFullDuration   float64 // minutes at which duration stops adding risk
	ExerciseMealMitigation float64 // multiplier when a meal is present

	MealSpikeGain             float64 // per gram
	MealSpikeMinBolusFactor   float64
	MealSpikeBolusCutScale    float64 // percent bolus decrease that doubles the risk
	MealSpikeLargeMeal        float64 // grams
	MealSpikeLargeMealPenalty float64

	Weights Weights
}

// DefaultThresholds returns the reference tuning
func DefaultThresholds() Thresholds {
	return Thresholds{
		HypoMildGain:    5,
		HypoSevereGain:  10,
		HyperMildGain:   2,
		HyperSevereGain: 4,

		ProlongedHypo: Exposure{
			Threshold:         70,
			Below:             true,
			MinMinutes:        15,
			SaturationMinutes: 60,
			PerEpisode:        25,
		},
		ProlongedHyper: Exposure{
			Threshold:         250,
			MinMinutes:        120,
			SaturationMinutes: 360,
			PerEpisode:        20,
		},

		VariabilityBaselineCV: 25,
		VariabilityGain:       4,

		StackingCombinedGain:       0.6,
		StackingLargeBolus:         50,
		StackingLargeBolusPenalty:  20,
		StackingMealSpacingMinutes: 120,
		StackingMealSpacingPenalty: 15,
		StackingExerciseGain:       0.3,

		ExerciseGain:           0.5,
		ExerciseFullDuration:   60,
		ExerciseMealMitigation: 0.7,

		MealSpikeGain:             0.5,
		MealSpikeMinBolusFactor:   0.3,
		MealSpikeBolusCutScale:    50,
		MealSpikeLargeMeal:        80,
		MealSpikeLargeMealPenalty: 10,

		Weights: Weights{
			HypoSevere:      0.20,
			ProlongedHypo:   0.15,
			HyperSevere:     0.12,
			HypoMild:        0.10,
			ProlongedHyper:  0.08,
			Exercise:        0.08,
			InsulinStacking: 0.08,
			Variability:     0.07,
			HyperMild:       0.06,
			MealSpike:       0.06,
		},
	}
}

// Assess scores every risk component and their weighted overall
func Assess(m models.GlucoseMetrics, glucose []float64, stepMinutes float64, s models.ScenarioParams, th Thresholds) models.RiskScores {
	r := models.RiskScores{
		HypoglycemiaMild:       score(m.TimeBelow70 * th.HypoMildGain),
		HypoglycemiaSevere:     score(m.TimeBelow54 * th.HypoSevereGain),
		HyperglycemiaMild:      score(m.TimeAbove180 * th.HyperMildGain),
		HyperglycemiaSevere:    score(m.TimeAbove250 * th.HyperSevereGain),
		ProlongedHypoglycemia:  Prolonged(glucose, stepMinutes, th.ProlongedHypo),
		ProlongedHyperglycemia: Prolonged(glucose, stepMinutes, th.ProlongedHyper),
		VariabilityRisk:        score((m.CV - th.VariabilityBaselineCV) * th.VariabilityGain),
		InsulinStackingRisk:    InsulinStacking(s, th),
		ExerciseRelatedRisk:    Exercise(s, th),
		MealSpikeRisk:          MealSpike(s, th),
	}
	r.OverallRisk = Overall(r, th.Weights)
	return r
}

// Overall is the weighted mean of the components, in [0, 100]
func Overall(r models.RiskScores, w Weights) float64 {
	pairs := [][2]float64{
		{r.HypoglycemiaSevere, w.HypoSevere},
		{r.ProlongedHypoglycemia, w.ProlongedHypo},
		{r.HyperglycemiaSevere, w.HyperSevere},
		{r.HypoglycemiaMild, w.HypoMild},
		{r.ProlongedHyperglycemia, w.ProlongedHyper},
		{r.ExerciseRelatedRisk, w.Exercise},
		{r.InsulinStackingRisk, w.InsulinStacking},
		{r.VariabilityRisk, w.Variability},
		{r.HyperglycemiaMild, w.HyperMild},
		{r.MealSpikeRisk, w.MealSpike},
	}
	var total, weight float64
	for _, p := range pairs {
		total += p[0] * p[1]
		weight += p[1]
	}
	if weight <= 0 {
		return 0
	}
	return score(total / weight)
}

// Prolonged scores sustained exposure as the greater of the longest episode
// relative to SaturationMinutes and the number of qualifying episodes
func Prolonged(glucose []float64, stepMinutes float64, e Exposure) float64 {
	if stepMinutes <= 0 {
		return 0
	}
	var episodes int
	var longest, run float64
	flush := func() {
		if run >= e.MinMinutes && run > 0 {
			episodes++
			longest = math.Max(longest, run)
		}
		run = 0
	}
	for _, g := range glucose {
		beyond := g > e.Threshold
		if e.Below {
			beyond = g < e.Threshold
		}
		if beyond {
			run += stepMinutes
			continue
		}
		flush()
	}
	flush()

	var duration float64
	if e.SaturationMinutes > 0 {
		duration = longest / e.SaturationMinutes * 100
	}
	frequency := float64(episodes) * e.PerEpisode
	return score(math.Max(duration, frequency))
}

// InsulinStacking scores overlapping insulin increases
func InsulinStacking(s models.ScenarioParams, th Thresholds) float64 {
	var risk float64
	if s.BasalChange > 0 && s.BolusChange > 0 {
		risk += (s.BasalChange + s.BolusChange) * th.StackingCombinedGain
	}
	if s.BolusChange > th.StackingLargeBolus {
		risk += th.StackingLargeBolusPenalty
	}
	if s.MealTiming < th.StackingMealSpacingMinutes && s.BolusChange > 0 {
		risk += th.StackingMealSpacingPenalty
	}
	if s.HasExercise() && s.InsulinIncreased() {
		risk += s.ExerciseIntensity * th.StackingExerciseGain
	}
	return score(risk)
}

// Exercise scores exercise-induced hypoglycemia risk
func Exercise(s models.ScenarioParams, th Thresholds) float64 {
	if !s.HasExercise() {
		return 0
	}
	duration := 1.0
	if th.ExerciseFullDuration > 0 {
		duration = math.Min(1, s.ExerciseDuration/th.ExerciseFullDuration)
	}
	risk := s.ExerciseIntensity * th.ExerciseGain * (0.5 + 0.5*duration)
	risk *= 1 + (math.Max(0, s.BasalChange)+math.Max(0, s.BolusChange))/100
	if s.HasMeal() {
		risk *= th.ExerciseMealMitigation
	}
	return score(risk)
}

// MealSpike scores the post-meal excursion risk
func MealSpike(s models.ScenarioParams, th Thresholds) float64 {
	if !s.HasMeal() {
		return 0
	}
	risk := s.MealCarbs * th.MealSpikeGain
	switch {
	case s.BolusChange > 0:
		risk *= math.Max(th.MealSpikeMinBolusFactor, 1-s.BolusChange/100)
	case s.BolusChange < 0 && th.MealSpikeBolusCutScale > 0:
		risk *= 1 + math.Abs(s.BolusChange)/th.MealSpikeBolusCutScale
	}
	if s.MealCarbs > th.MealSpikeLargeMeal {
		risk += th.MealSpikeLargeMealPenalty
	}
	return score(risk)
}

func score(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
