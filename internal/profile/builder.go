// Package profile turns a raw patient record into the bounded physiological
// parameters that drive the model.
package profile

import (
	"math"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/mrcode/glucose-twin/internal/models"
)

// Options controls the stochastic and time-dependent parts of Build
type Options struct {
	Rand   *rand.Rand // nil disables jitter
	Jitter float64    // relative sd of the ISF/ICR perturbation
	Now    time.Time  // zero means time.Now()
}

// Defaults used when the record is silent
const (
	DefaultAge      = 45.0
	DefaultWeightKg = 75.0
	DefaultHeightCm = 170.0

	HistoryWindow = 15 // most recent glucose readings used for mean and CV
	MinHistory    = 3  // readings needed before history overrides defaults
)

var (
	type1Pattern = regexp.MustCompile(`(?i)\b(type\s*-?\s*(1|i)|t1(d|dm)?|dm\s*-?\s*1|iddm|juvenile)\b|τ[υύ]που\s*1`)
	type2Pattern = regexp.MustCompile(`(?i)\b(type\s*-?\s*(2|ii)|t2(d|dm)?|dm\s*-?\s*2|niddm)\b|τ[υύ]που\s*2`)

	infectionTerms = []string{"infection", "sepsis", "pneumonia", "influenza", "covid", "fever"}
)

// Build derives a PatientProfile. It never fails: every missing field
// resolves to a documented default.
func Build(record models.PatientRecord, opts Options) models.PatientProfile {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	p := models.PatientProfile{
		PatientID:             record.ID,
		DiabetesType:          DetectType(record),
		Age:                   age(record, now),
		DiabetesDurationYears: math.Max(0, record.DiabetesDurationYears.Or(0)),
	}
	t1 := p.DiabetesType == models.Type1

	measurements := record.SortedMeasurements()
	p.WeightKg = latest(measurements, func(m models.Measurement) models.Num { return m.WeightKg })
	if p.WeightKg <= 0 {
		p.WeightKg = positiveOr(record.WeightKg, DefaultWeightKg)
	}
	p.HeightCm = positiveOr(record.HeightCm, DefaultHeightCm)
	p.BMI = latest(measurements, func(m models.Measurement) models.Num { return m.BMI })
	if p.BMI <= 0 {
		hm := p.HeightCm / 100
		p.BMI = p.WeightKg / (hm * hm)
	}

	if a1c, ok := record.LatestHbA1c(); ok {
		p.HbA1cRecent = a1c
		p.HasHbA1c = true
	}
	glucoseHistory(&p, record.GlucoseReadings())

	p.TotalDailyInsulin = totalDailyInsulin(p, measurements) * p.WeightKg
	p.BasalRate = p.TotalDailyInsulin * basalFraction(p) / 24

	if t1 {
		p.InsulinSensitivity = clamp(1800/p.TotalDailyInsulin, 30, 100)
		p.CarbRatio = clamp(500/p.TotalDailyInsulin, 5, 25)
		p.CorrectionFactor = p.InsulinSensitivity
	} else {
		p.InsulinSensitivity = clamp(1500/p.TotalDailyInsulin, 15, 60)
		p.CarbRatio = clamp(450/p.TotalDailyInsulin, 3, 20)
		p.CorrectionFactor = p.InsulinSensitivity * 0.9
	}

	if p.HasHbA1c {
		f := controlScale(p.HbA1cRecent)
		p.InsulinSensitivity *= f
		p.CarbRatio *= f
		p.CorrectionFactor *= f
	}
	if p.HasGlucoseHistory {
		f := 1.0
		switch {
		case p.GlucoseCVRecent > 50:
			f = 0.90
		case p.GlucoseCVRecent > 36:
			f = 0.95
		}
		p.InsulinSensitivity *= f
		p.CarbRatio *= f
		p.MealAbsorptionVariability = clamp(0.10+p.GlucoseCVRecent/200, 0.10, 0.40)
		p.InsulinAbsorptionVariability = clamp(0.05+p.GlucoseCVRecent/400, 0.05, 0.25)
	} else {
		p.MealAbsorptionVariability = 0.15
		p.InsulinAbsorptionVariability = 0.10
	}

	p.StressSensitivity = stressSensitivity(p)
	p.ExerciseSensitivity = exerciseSensitivity(p)
	p.InsulinResistance = insulinResistance(p)
	p.MetabolicRate = clamp(1-0.002*(p.Age-45), 0.8, 1.1)

	p.GlucoseAbsorptionRate = 1 / 0.75
	if t1 {
		p.GlucoseClearanceRate = 0.28
		p.DawnEffect = 0.15 * p.StressSensitivity
	} else {
		p.GlucoseClearanceRate = 0.24
		p.DawnEffect = 0.10 * p.StressSensitivity
	}
	p.DuskEffect = 0.08

	p.HepaticProductionRate = 1
	if !t1 && p.HasHbA1c && p.HbA1cRecent > 8 {
		p.HepaticProductionRate = 1.05
	}
	p.InfectionFactor = 1
	if hasInfection(record.Conditions) {
		p.InfectionFactor = 1.2
	}

	p.InitialGlucose = initialGlucose(p, record.GlucoseReadings())

	if opts.Rand != nil && opts.Jitter > 0 {
		p.InsulinSensitivity *= 1 + jitter(opts.Rand, opts.Jitter)
		p.CarbRatio *= 1 + jitter(opts.Rand, opts.Jitter)
	}

	p.ApplySafetyClamps()
	return p
}

// DetectType classifies the record as T1 or T2. An explicit diabetes_type
// wins; otherwise condition names are searched; T2 is the default.
func DetectType(record models.PatientRecord) models.DiabetesType {
	explicit := strings.TrimSpace(record.DiabetesType)
	switch {
	case explicit == "1" || type1Pattern.MatchString(explicit):
		return models.Type1
	case explicit == "2" || type2Pattern.MatchString(explicit):
		return models.Type2
	}
	for _, c := range record.Conditions {
		if type1Pattern.MatchString(c.Name) {
			return models.Type1
		}
	}
	return models.Type2
}

func age(record models.PatientRecord, now time.Time) float64 {
	if dob, ok := models.ParseDate(record.DateOfBirth); ok && dob.Before(now) {
		years := now.Year() - dob.Year()
		if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
			years--
		}
		return clamp(float64(years), 1, 110)
	}
	return clamp(record.Age.Or(DefaultAge), 1, 110)
}

// latest returns the newest positive value of a measurement field, or 0
func latest(sorted []models.Measurement, field func(models.Measurement) models.Num) float64 {
	for i := len(sorted) - 1; i >= 0; i-- {
		if v := field(sorted[i]); v.Valid && v.Value > 0 {
			return v.Value
		}
	}
	return 0
}

func glucoseHistory(p *models.PatientProfile, readings []float64) {
	p.GlucoseReadings = len(readings)
	if len(readings) > HistoryWindow {
		readings = readings[len(readings)-HistoryWindow:]
	}
	if len(readings) < MinHistory {
		return
	}

	var sum float64
	for _, g := range readings {
		sum += g
	}
	mean := sum / float64(len(readings))
	var ss float64
	for _, g := range readings {
		ss += (g - mean) * (g - mean)
	}
	p.GlucoseMeanRecent = mean
	p.GlucoseCVRecent = math.Sqrt(ss/float64(len(readings))) / mean * 100
	p.HasGlucoseHistory = true
}

// totalDailyInsulin returns the requirement in U/kg/day
func totalDailyInsulin(p models.PatientProfile, measurements []models.Measurement) float64 {
	var perKg, lo, hi float64
	if p.DiabetesType == models.Type1 {
		perKg, lo, hi = 0.5, 0.4, 0.6
		if p.HasHbA1c && p.HbA1cRecent > 8 {
			perKg += 0.1
		} else if p.HasHbA1c && p.HbA1cRecent < 6.5 {
			perKg -= 0.1
		}
	} else {
		perKg, lo, hi = 0.7, 0.6, 1.0
		if p.BMI > 30 {
			perKg += 0.15
		}
		if p.HasHbA1c && p.HbA1cRecent > 8 {
			perKg += 0.15
		} else if p.HasHbA1c && p.HbA1cRecent < 7 {
			perKg -= 0.1
		}
	}

	if observed, ok := observedDailyInsulin(measurements); ok {
		perKg = 0.5*perKg + 0.5*observed/p.WeightKg
	}
	return clamp(perKg, lo, hi)
}

// observedDailyInsulin averages the logged insulin per calendar day. It needs
// at least three dated insulin entries.
func observedDailyInsulin(measurements []models.Measurement) (float64, bool) {
	days := make(map[string]float64)
	var entries int
	for _, m := range measurements {
		if !m.InsulinUnits.Valid || m.InsulinUnits.Value <= 0 {
			continue
		}
		t := m.Time()
		if t.IsZero() {
			continue
		}
		days[t.Format(time.DateOnly)] += m.InsulinUnits.Value
		entries++
	}
	if entries < 3 {
		return 0, false
	}
	var total float64
	for _, units := range days {
		total += units
	}
	return total / float64(len(days)), true
}

func basalFraction(p models.PatientProfile) float64 {
	if p.DiabetesType == models.Type1 {
		if p.DiabetesDurationYears > 20 {
			return 0.50
		}
		return 0.45
	}
	f := 0.55
	if p.HasHbA1c && p.HbA1cRecent > 8 {
		f += 0.05
	}
	if p.BMI > 35 {
		f += 0.05
	}
	return f
}

// controlScale weakens sensitivity for poor control and strengthens it for tight control
func controlScale(a1c float64) float64 {
	switch {
	case a1c > 9:
		return 0.80
	case a1c > 8:
		return 0.90
	case a1c < 6.5:
		return 1.15
	case a1c < 7:
		return 1.08
	}
	return 1
}

func stressSensitivity(p models.PatientProfile) float64 {
	s := 1.0
	if p.DiabetesType == models.Type1 {
		s += 0.1
	}
	if p.Age > 60 {
		s += 0.1
	}
	if p.BMI > 30 {
		s += 0.1
	}
	s += 0.005 * p.DiabetesDurationYears
	return clamp(s, 0.8, 1.6)
}

func exerciseSensitivity(p models.PatientProfile) float64 {
	s := 1.0
	if p.DiabetesType == models.Type1 {
		s += 0.2
	}
	if p.Age > 65 {
		s -= 0.1
	}
	if p.BMI > 30 {
		s -= 0.1
	}
	if p.DiabetesDurationYears > 15 {
		s += 0.05
	}
	return clamp(s, 0.5, 1.5)
}

func insulinResistance(p models.PatientProfile) float64 {
	r := 1.0
	if p.DiabetesType == models.Type2 {
		r += 0.15
	}
	r += 0.02 * math.Max(0, p.BMI-25)
	if p.Age > 50 {
		r += 0.05
	}
	if p.DiabetesDurationYears > 10 {
		r += 0.05
	}
	if p.HasHbA1c && p.HbA1cRecent > 8 {
		r += 0.10
	}
	return clamp(r, 1, 2)
}

func hasInfection(conditions []models.Condition) bool {
	for _, c := range conditions {
		name := strings.ToLower(c.Name)
		for _, term := range infectionTerms {
			if strings.Contains(name, term) {
				return true
			}
		}
	}
	return false
}

// EstimatedAverageGlucose converts HbA1c (%) to mg/dL
func EstimatedAverageGlucose(a1c float64) float64 {
	return 28.7*a1c - 46.7
}

func initialGlucose(p models.PatientProfile, readings []float64) float64 {
	if n := len(readings); n > 0 {
		if g := readings[n-1]; g >= 40 && g <= 400 {
			return g
		}
	}
	if p.HasHbA1c {
		return clamp(0.8*EstimatedAverageGlucose(p.HbA1cRecent), 90, 180)
	}
	if p.DiabetesType == models.Type1 {
		return 140
	}
	return 135
}

func jitter(r *rand.Rand, sd float64) float64 {
	return clamp(r.NormFloat64()*sd, -2*sd, 2*sd)
}

func positiveOr(n models.Num, def float64) float64 {
	if n.Valid && n.Value > 0 {
		return n.Value
	}
	return def
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
