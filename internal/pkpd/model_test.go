package pkpd

import (
	"math"
	"testing"

	"github.com/mrcode/glucose-twin/internal/models"
)

func testProfile() models.PatientProfile {
	return models.PatientProfile{
		WeightKg:              80,
		DiabetesType:          models.Type2,
		InsulinSensitivity:    20,
		CarbRatio:             6,
		CorrectionFactor:      18,
		BasalRate:             1.7,
		GlucoseAbsorptionRate: 1 / MealScaleHours,
		GlucoseClearanceRate:  0.24,
		HepaticProductionRate: 1,
		InsulinResistance:     1.35,
		MetabolicRate:         1,
		InfectionFactor:       1,
		StressSensitivity:     1,
		ExerciseSensitivity:   1,
		InitialGlucose:        150,
		DawnEffect:            0.1,
		DuskEffect:            0.08,
	}
}

func TestInitialStateIsEquilibrium(t *testing.T) {
	p := testProfile()
	m := NewModel(p)
	x := m.InitialState()
	dx := make([]float64, StateSize)

	// midnight: neither circadian window is active
	m.Derivatives(0, x[:], Drive{Basal: p.BasalRate}, dx)

	for i, v := range dx {
		if math.Abs(v) > 1e-9 {
			t.Errorf("dx[%d] = %g, want 0 at equilibrium", i, v)
		}
	}
}

func TestInitialStateIsEquilibrium_WithMultipliers(t *testing.T) {
	nominal := NewModel(testProfile())

	tests := []struct {
		name   string
		mutate func(*models.PatientProfile)
	}{
		{"infection", func(p *models.PatientProfile) { p.InfectionFactor = 1.2 }},
		{"metabolic and hepatic", func(p *models.PatientProfile) { p.MetabolicRate = 0.9; p.HepaticProductionRate = 1.05 }},
		{"all", func(p *models.PatientProfile) {
			p.InfectionFactor, p.MetabolicRate, p.HepaticProductionRate = 1.2, 0.98, 1.05
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProfile()
			tt.mutate(&p)
			m := NewModel(p)
			x := m.InitialState()
			dx := make([]float64, StateSize)
			m.Derivatives(0, x[:], Drive{Basal: p.BasalRate}, dx)

			for i, v := range dx {
				if math.Abs(v) > 1e-9 {
					t.Errorf("dx[%d] = %g, want 0 at equilibrium", i, v)
				}
			}
			if got, want := m.BasalGlucoseOutput(), nominal.BasalGlucoseOutput(); math.Abs(got-want) > 1e-9 {
				t.Errorf("basal output = %v, want %v", got, want)
			}
		})
	}
}

func TestInfectionBluntsInsulinSuppression(t *testing.T) {
	healthy := testProfile()
	ill := testProfile()
	ill.InfectionFactor = 1.2

	fall := func(p models.PatientProfile) float64 {
		m := NewModel(p)
		x := m.InitialState()
		x[Insulin] = 3 * m.BasalInsulin()
		dx := make([]float64, StateSize)
		m.Derivatives(0, x[:], Drive{Basal: p.BasalRate}, dx)
		return -dx[Glucose]
	}
	if fall(ill) >= fall(healthy) {
		t.Errorf("glucose fall under extra insulin: ill %v, healthy %v", fall(ill), fall(healthy))
	}
}

func TestInitialState(t *testing.T) {
	p := testProfile()
	m := NewModel(p)
	x := m.InitialState()

	if x[Glucose] != 150 || x[Interstitial] != 150 {
		t.Errorf("glucose compartments = %v/%v, want 150", x[Glucose], x[Interstitial])
	}
	wantIb := 1.7 * 1000 / (InsulinVolumePerKg * 80 * InsulinElimination)
	if math.Abs(x[Insulin]-wantIb) > 1e-12 || m.BasalInsulin() != x[Insulin] {
		t.Errorf("insulin = %v, basal insulin = %v, want %v", x[Insulin], m.BasalInsulin(), wantIb)
	}
	if x[FastDepot] != 0 {
		t.Errorf("fast depot = %v, want 0", x[FastDepot])
	}
	if math.Abs(x[LongDepot]-1.7/LongAbsorptionRate) > 1e-12 {
		t.Errorf("long depot = %v", x[LongDepot])
	}
	if x[HepaticStore] != HepaticStoreEquilibrium {
		t.Errorf("hepatic store = %v", x[HepaticStore])
	}
}

func TestDerivatives_Directions(t *testing.T) {
	p := testProfile()
	m := NewModel(p)
	base := m.InitialState()
	dx := make([]float64, StateSize)

	t.Run("carbs raise glucose", func(t *testing.T) {
		m.Derivatives(0, base[:], Drive{Basal: p.BasalRate, CarbAppearance: 50}, dx)
		if dx[Glucose] <= 0 {
			t.Errorf("dG = %v, want > 0", dx[Glucose])
		}
	})

	t.Run("extra insulin lowers glucose", func(t *testing.T) {
		x := base
		x[Insulin] *= 2
		m.Derivatives(0, x[:], Drive{Basal: p.BasalRate}, dx)
		if dx[Glucose] >= 0 {
			t.Errorf("dG = %v, want < 0", dx[Glucose])
		}
	})

	t.Run("exercise lowers glucose", func(t *testing.T) {
		m.Derivatives(0, base[:], Drive{Basal: p.BasalRate, Exercise: 0.8}, dx)
		if dx[Glucose] >= 0 {
			t.Errorf("dG = %v, want < 0", dx[Glucose])
		}
	})

	t.Run("bolus fills the fast depot", func(t *testing.T) {
		m.Derivatives(0, base[:], Drive{Basal: p.BasalRate, Bolus: 12}, dx)
		if dx[FastDepot] != 12 {
			t.Errorf("dS1 = %v, want 12", dx[FastDepot])
		}
	})

	t.Run("interstitial follows plasma", func(t *testing.T) {
		x := base
		x[Glucose] = 200
		m.Derivatives(0, x[:], Drive{Basal: p.BasalRate}, dx)
		if dx[Interstitial] <= 0 {
			t.Errorf("dGi = %v, want > 0", dx[Interstitial])
		}
	})
}

func TestDerivatives_AbsorptionMultiplier(t *testing.T) {
	p := testProfile()
	m := NewModel(p)
	x := m.InitialState()
	x[FastDepot] = 5

	slow := make([]float64, StateSize)
	fast := make([]float64, StateSize)
	m.Derivatives(0, x[:], Drive{Basal: p.BasalRate, FastAbsorption: 0.5}, slow)
	m.Derivatives(0, x[:], Drive{Basal: p.BasalRate, FastAbsorption: 1.5}, fast)

	if fast[Insulin] <= slow[Insulin] {
		t.Errorf("faster absorption should raise dI: %v <= %v", fast[Insulin], slow[Insulin])
	}
}

func TestNewModel_AppliesSafetyClamps(t *testing.T) {
	m := NewModel(models.PatientProfile{})
	p := m.Profile()
	if p.BasalRate != models.MinBasalRate || p.InsulinSensitivity != models.MinInsulinSensitivity {
		t.Errorf("profile not clamped: basal=%v isf=%v", p.BasalRate, p.InsulinSensitivity)
	}

	x := m.InitialState()
	dx := make([]float64, StateSize)
	m.Derivatives(1, x[:], Drive{Basal: p.BasalRate}, dx)
	for i, v := range dx {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("dx[%d] = %v for a degenerate profile", i, v)
		}
	}
}

func TestStateClamp(t *testing.T) {
	s := State{5, -3, -1, -2, 900, 1.5}
	s.Clamp()
	want := State{MinGlucose, 0, 0, 0, MaxGlucose, 1}
	if s != want {
		t.Errorf("Clamp() = %v, want %v", s, want)
	}

	s = State{math.NaN(), 500, 1, 2, 100, -0.2}
	s.Clamp()
	if s[Glucose] != MinGlucose || s[Insulin] != MaxInsulin || s[HepaticStore] != 0 {
		t.Errorf("Clamp() = %v", s)
	}
}

func TestCircadianFactors(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t, a float64) float64
		t    float64
		want float64
	}{
		{"dawn before window", DawnFactor, 3.9, 1},
		{"dawn peak", DawnFactor, 6, 1.2},
		{"dawn peak next day", DawnFactor, 30, 1.2},
		{"dawn after window", DawnFactor, 8.5, 1},
		{"dusk before window", DuskFactor, 17, 1},
		{"dusk trough", DuskFactor, 20, 0.8},
		{"dusk after window", DuskFactor, 22.5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.t, 0.2); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("factor(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestGammaPDF_IntegratesToOne(t *testing.T) {
	const dt = 0.001
	var area float64
	for x := dt / 2; x < 20; x += dt {
		area += GammaPDF(x, MealShape, MealScaleHours) * dt
	}
	if math.Abs(area-1) > 1e-3 {
		t.Errorf("area = %v, want 1", area)
	}

	if GammaPDF(0, MealShape, MealScaleHours) != 0 || GammaPDF(-1, MealShape, MealScaleHours) != 0 {
		t.Error("density must vanish before the meal")
	}

	// shape 2 peaks at (shape-1)*scale
	peak := GammaPDF(MealScaleHours, MealShape, MealScaleHours)
	if GammaPDF(0.5, MealShape, MealScaleHours) >= peak || GammaPDF(1, MealShape, MealScaleHours) >= peak {
		t.Error("density should peak at the scale for shape 2")
	}
}

func TestCarbAppearance(t *testing.T) {
	vg := NewModel(testProfile()).GlucoseVolume()
	if vg != GlucoseVolumePerKg*80 {
		t.Fatalf("glucose volume = %v", vg)
	}
	if got := CarbAppearance(0, 1, MealScaleHours, vg); got != 0 {
		t.Errorf("no carbs = %v, want 0", got)
	}
	small := CarbAppearance(30, 0.75, MealScaleHours, vg)
	large := CarbAppearance(60, 0.75, MealScaleHours, vg)
	if math.Abs(large-2*small) > 1e-9 {
		t.Errorf("appearance not linear in carbs: %v vs %v", small, large)
	}
}

func TestMealScale(t *testing.T) {
	tests := []struct {
		carbs float64
		want  float64
	}{
		{0, MealScaleHours},
		{30, MealScaleHours},
		{60, MealScaleHours},
		{120, MealScaleHours * math.Pow(2, MealLoadExponent)},
		{400, MealScaleHours * math.Pow(400.0/60, MealLoadExponent)},
	}
	for _, tt := range tests {
		if got := MealScale(MealScaleHours, tt.carbs); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("MealScale(%v g) = %v, want %v", tt.carbs, got, tt.want)
		}
	}

	// a larger meal still peaks higher even though it absorbs more slowly
	peak := func(carbs float64) float64 {
		scale := MealScale(MealScaleHours, carbs)
		return CarbAppearance(carbs, scale, scale, 150)
	}
	for c := 70.0; c <= 400; c += 30 {
		if peak(c) <= peak(c-30) {
			t.Errorf("peak appearance for %v g = %v, not above %v g", c, peak(c), c-30)
		}
	}
}
