package risk

import (
	"math"
	"testing"

	"github.com/mrcode/glucose-twin/internal/models"
)

func base() models.ScenarioParams {
	return models.DefaultScenario()
}

func TestExercise(t *testing.T) {
	th := DefaultThresholds()

	withExercise := func(basal float64) models.ScenarioParams {
		s := base()
		s.ExerciseIntensity = 80
		s.ExerciseDuration = 45
		s.BasalChange = basal
		return s
	}

	plain := Exercise(withExercise(0), th)
	boosted := Exercise(withExercise(20), th)
	if math.Abs(plain-24.5) > 1e-9 {
		t.Errorf("Exercise(basal 0) = %v, want 24.5", plain)
	}
	if math.Abs(boosted-29.4) > 1e-9 {
		t.Errorf("Exercise(basal +20) = %v, want 29.4", boosted)
	}

	noMeal := withExercise(0)
	noMeal.MealCarbs = 0
	if got := Exercise(noMeal, th); got <= plain {
		t.Errorf("a meal should mitigate exercise risk: %v <= %v", got, plain)
	}

	if got := Exercise(base(), th); got != 0 {
		t.Errorf("no exercise = %v, want 0", got)
	}
}

func TestExercise_MonotonicInIntensity(t *testing.T) {
	th := DefaultThresholds()
	prev := -1.0
	for intensity := 0.0; intensity <= 100; intensity += 10 {
		s := base()
		s.ExerciseIntensity = intensity
		s.ExerciseDuration = 90
		s.BasalChange = 100
		s.BolusChange = 100
		got := Exercise(s, th)
		if got < prev {
			t.Fatalf("intensity %v: risk %v dropped below %v", intensity, got, prev)
		}
		if got > 100 {
			t.Fatalf("intensity %v: risk %v above 100", intensity, got)
		}
		prev = got
	}
	if prev != 100 {
		t.Errorf("expected saturation at 100, got %v", prev)
	}
}

func TestInsulinStacking(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name   string
		mutate func(*models.ScenarioParams)
		want   float64
	}{
		{"no change", func(*models.ScenarioParams) {}, 0},
		{"basal only", func(s *models.ScenarioParams) { s.BasalChange = 30 }, 0},
		{"both increased, early meal", func(s *models.ScenarioParams) { s.BasalChange = 20; s.BolusChange = 20 }, 24 + 15},
		{"both increased, late meal", func(s *models.ScenarioParams) {
			s.BasalChange = 20
			s.BolusChange = 20
			s.MealTiming = 180
		}, 24},
		{"large bolus", func(s *models.ScenarioParams) { s.BolusChange = 60; s.MealTiming = 180 }, 20},
		{"exercise with insulin increase", func(s *models.ScenarioParams) {
			s.BasalChange = 10
			s.ExerciseIntensity = 50
			s.ExerciseDuration = 30
		}, 15},
		{"saturates", func(s *models.ScenarioParams) { s.BasalChange = 300; s.BolusChange = 300 }, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(&s)
			if got := InsulinStacking(s, th); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("InsulinStacking() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMealSpike(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name  string
		carbs float64
		bolus float64
		want  float64
	}{
		{"no meal", 0, 0, 0},
		{"standard meal", 60, 0, 30},
		{"bolus increase reduces", 60, 40, 18},
		{"bolus increase floors", 60, 200, 9},
		{"bolus cut amplifies", 60, -50, 60},
		{"large meal penalty", 100, 0, 60},
		{"capped", 400, -90, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			s.MealCarbs = tt.carbs
			s.BolusChange = tt.bolus
			if got := MealSpike(s, th); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("MealSpike() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProlonged(t *testing.T) {
	hypo := DefaultThresholds().ProlongedHypo

	tests := []struct {
		name    string
		glucose []float64
		want    float64
	}{
		{"no exposure", []float64{100, 110, 120}, 0},
		// 10 minutes below 70 is shorter than the 15 minute minimum
		{"brief dip ignored", []float64{100, 65, 65, 100}, 0},
		// 15 minutes: one episode (25) beats 15/60*100
		{"one short episode", []float64{100, 65, 65, 65, 100}, 25},
		// 45 minutes: 75 beats one episode
		{"one long episode", []float64{100, 60, 60, 60, 60, 60, 60, 60, 60, 60, 100}, 75},
		{"episode at the end", []float64{100, 60, 60, 60}, 25},
		{"two episodes", []float64{60, 60, 60, 100, 60, 60, 60}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Prolonged(tt.glucose, 5, hypo); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Prolonged() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := Prolonged([]float64{60, 60}, 0, hypo); got != 0 {
		t.Errorf("zero step = %v, want 0", got)
	}
}

func TestAssess_ComponentsAndOverall(t *testing.T) {
	m := models.GlucoseMetrics{
		TimeBelow70:  4,
		TimeBelow54:  1,
		TimeAbove180: 30,
		TimeAbove250: 10,
		CV:           40,
	}
	r := Assess(m, []float64{120, 130}, 5, base(), DefaultThresholds())

	checks := map[string][2]float64{
		"hypo mild":    {r.HypoglycemiaMild, 20},
		"hypo severe":  {r.HypoglycemiaSevere, 10},
		"hyper mild":   {r.HyperglycemiaMild, 60},
		"hyper severe": {r.HyperglycemiaSevere, 40},
		"variability":  {r.VariabilityRisk, 60},
		"meal spike":   {r.MealSpikeRisk, 30},
	}
	for name, c := range checks {
		if math.Abs(c[0]-c[1]) > 1e-9 {
			t.Errorf("%s = %v, want %v", name, c[0], c[1])
		}
	}

	want := 0.20*10 + 0.10*20 + 0.12*40 + 0.06*60 + 0.07*60 + 0.06*30
	if math.Abs(r.OverallRisk-want) > 1e-9 {
		t.Errorf("overall = %v, want %v", r.OverallRisk, want)
	}
}

func TestAssess_OverallZeroOnlyWhenComponentsZero(t *testing.T) {
	s := base()
	s.MealCarbs = 0
	r := Assess(models.GlucoseMetrics{CV: 10}, []float64{120}, 5, s, DefaultThresholds())
	if r.OverallRisk != 0 {
		t.Fatalf("overall = %v with all components zero: %+v", r.OverallRisk, r)
	}

	r = Assess(models.GlucoseMetrics{CV: 26}, []float64{120}, 5, s, DefaultThresholds())
	if r.OverallRisk <= 0 {
		t.Errorf("overall = %v with a non-zero component", r.OverallRisk)
	}
}

func TestAssess_Bounds(t *testing.T) {
	m := models.GlucoseMetrics{TimeBelow70: 100, TimeBelow54: 100, TimeAbove180: 100, TimeAbove250: 100, CV: 200}
	s := base()
	s.BasalChange, s.BolusChange, s.MealCarbs = 300, 300, 400
	s.ExerciseIntensity, s.ExerciseDuration = 100, 480
	low := make([]float64, 100)
	for i := range low {
		low[i] = 40
	}

	r := Assess(m, low, 5, s, DefaultThresholds())
	for i, c := range append(r.Components(), r.OverallRisk) {
		if c < 0 || c > 100 {
			t.Errorf("component %d = %v outside [0, 100]", i, c)
		}
	}
}

func TestDefaultThresholds_WeightsSumToOne(t *testing.T) {
	w := DefaultThresholds().Weights
	sum := w.HypoSevere + w.ProlongedHypo + w.HyperSevere + w.HypoMild + w.ProlongedHyper +
		w.Exercise + w.InsulinStacking + w.Variability + w.HyperMild + w.MealSpike
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum to %v", sum)
	}
}
