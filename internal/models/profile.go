package models

import "math"

// DiabetesType is the diabetes category used to select model parameters
type DiabetesType string

// Diabetes categories
const (
	Type1 DiabetesType = "T1"
	Type2 DiabetesType = "T2"
)

// PatientProfile holds the bounded physiological parameters derived from a
// patient record. It is built fresh for each simulation run.
type PatientProfile struct {
	PatientID    string       `json:"patient_id,omitempty"`
	WeightKg     float64      `json:"weight_kg"`
	HeightCm     float64      `json:"height_cm"`
	BMI          float64      `json:"bmi"`
	Age          float64      `json:"age"`
	DiabetesType DiabetesType `json:"diabetes_type"`

	InsulinSensitivity float64 `json:"insulin_sensitivity"` // mg/dL per unit
	CarbRatio          float64 `json:"carb_ratio"`          // grams per unit
	CorrectionFactor   float64 `json:"correction_factor"`   // mg/dL per unit
	BasalRate          float64 `json:"basal_rate"`          // units per hour
	TotalDailyInsulin  float64 `json:"total_daily_insulin"` // units per day

	GlucoseAbsorptionRate float64 `json:"glucose_absorption_rate"` // 1/h, inverse Gamma scale
	GlucoseClearanceRate  float64 `json:"glucose_clearance_rate"`  // 1/h, insulin-independent
	HepaticProductionRate float64 `json:"hepatic_production_rate"` // relative to nominal
	InsulinResistance     float64 `json:"insulin_resistance"`
	MetabolicRate         float64 `json:"metabolic_rate"`

	DiabetesDurationYears float64 `json:"diabetes_duration_years"`
	StressSensitivity     float64 `json:"stress_sensitivity"`
	ExerciseSensitivity   float64 `json:"exercise_sensitivity"`

	MealAbsorptionVariability    float64 `json:"meal_absorption_variability"`
	InsulinAbsorptionVariability float64 `json:"insulin_absorption_variability"`

	HbA1cRecent       float64 `json:"hba1c_recent"`
	HasHbA1c          bool    `json:"has_hba1c"`
	GlucoseMeanRecent float64 `json:"glucose_mean_recent"`
	GlucoseCVRecent   float64 `json:"glucose_cv_recent"`
	HasGlucoseHistory bool    `json:"has_glucose_history"`
	GlucoseReadings   int     `json:"glucose_readings"`

	InitialGlucose  float64 `json:"initial_glucose"`
	InfectionFactor float64 `json:"infection_factor"`
	DawnEffect      float64 `json:"dawn_effect"`
	DuskEffect      float64 `json:"dusk_effect"`
}

// Minimum values that keep the model from degenerating
const (
	MinInsulinSensitivity = 15.0
	MinCarbRatio          = 3.0
	MinCorrectionFactor   = 15.0
	MinBasalRate          = 0.1
	MinClearanceRate      = 0.05
	MinAbsorptionRate     = 0.5
)

// ApplySafetyClamps raises every rate and sensitivity to its minimum
func (p *PatientProfile) ApplySafetyClamps() {
	p.InsulinSensitivity = atLeast(p.InsulinSensitivity, MinInsulinSensitivity)
	p.CarbRatio = atLeast(p.CarbRatio, MinCarbRatio)
	p.CorrectionFactor = atLeast(p.CorrectionFactor, MinCorrectionFactor)
	p.BasalRate = atLeast(p.BasalRate, MinBasalRate)
	p.GlucoseClearanceRate = atLeast(p.GlucoseClearanceRate, MinClearanceRate)
	p.GlucoseAbsorptionRate = atLeast(p.GlucoseAbsorptionRate, MinAbsorptionRate)
	p.InsulinResistance = atLeast(p.InsulinResistance, 1)
	p.MetabolicRate = atLeast(p.MetabolicRate, 0.5)
	p.HepaticProductionRate = atLeast(p.HepaticProductionRate, 0.5)
	p.InfectionFactor = atLeast(p.InfectionFactor, 1)
	p.StressSensitivity = atLeast(p.StressSensitivity, 0.5)
	p.ExerciseSensitivity = atLeast(p.ExerciseSensitivity, 0.1)
	p.WeightKg = atLeast(p.WeightKg, 20)
	p.InitialGlucose = clamp(p.InitialGlucose, 40, 400)
}

func atLeast(v, floor float64) float64 {
	if math.IsNaN(v) || v < floor {
		return floor
	}
	return v
}
