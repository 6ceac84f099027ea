package models

// GlucoseMetrics are the clinical summary statistics of a trajectory.
// Time-based values are percentages of samples.
type GlucoseMetrics struct {
	TIR70180       float64 `json:"tir_70_180"`
	TIR70140       float64 `json:"tir_70_140"`
	TimeBelow70    float64 `json:"time_below_70"`
	TimeBelow54    float64 `json:"time_below_54"`
	TimeAbove180   float64 `json:"time_above_180"`
	TimeAbove250   float64 `json:"time_above_250"`
	MeanGlucose    float64 `json:"mean_glucose"`
	StdGlucose     float64 `json:"std_glucose"`
	CV             float64 `json:"cv_glucose"`
	EstimatedHbA1c float64 `json:"estimated_hba1c"`
	GMI            float64 `json:"gmi"`
	MAGE           float64 `json:"mage"`
	JIndex         float64 `json:"j_index"`
	CONGA          float64 `json:"conga"`
	GRI            float64 `json:"gri"`
	LBGI           float64 `json:"lbgi"`
	HBGI           float64 `json:"hbgi"`
	PeakGlucose    float64 `json:"peak_glucose"`
	PeakTimeHours  float64 `json:"peak_time_hours"`
	NadirGlucose   float64 `json:"nadir_glucose"`
	NadirTimeHours float64 `json:"nadir_time_hours"`
	Samples        int     `json:"samples"`
}

// RiskScores holds each risk component on a 0-100 scale
type RiskScores struct {
	HypoglycemiaMild       float64 `json:"hypoglycemia_mild"`
	HypoglycemiaSevere     float64 `json:"hypoglycemia_severe"`
	HyperglycemiaMild      float64 `json:"hyperglycemia_mild"`
	HyperglycemiaSevere    float64 `json:"hyperglycemia_severe"`
	ProlongedHypoglycemia  float64 `json:"prolonged_hypoglycemia"`
	ProlongedHyperglycemia float64 `json:"prolonged_hyperglycemia"`
	VariabilityRisk        float64 `json:"variability_risk"`
	InsulinStackingRisk    float64 `json:"insulin_stacking_risk"`
	ExerciseRelatedRisk    float64 `json:"exercise_related_risk"`
	MealSpikeRisk          float64 `json:"meal_spike_risk"`
	OverallRisk            float64 `json:"overall_risk"`
}

// Components returns every component score except the overall risk
func (r RiskScores) Components() []float64 {
	return []float64{
		r.HypoglycemiaMild,
		r.HypoglycemiaSevere,
		r.HyperglycemiaMild,
		r.HyperglycemiaSevere,
		r.ProlongedHypoglycemia,
		r.ProlongedHyperglycemia,
		r.VariabilityRisk,
		r.InsulinStackingRisk,
		r.ExerciseRelatedRisk,
		r.MealSpikeRisk,
	}
}

// ScenarioSummary echoes the adjusted therapy and the run's totals
type ScenarioSummary struct {
	Parameters               ScenarioParams `json:"parameters"`
	AdjustedBasalRate        float64        `json:"adjusted_basal_rate"`
	AdjustedCarbRatio        float64        `json:"adjusted_carb_ratio"`
	AdjustedCorrectionFactor float64        `json:"adjusted_correction_factor"`
	MealBolusUnits           float64        `json:"meal_bolus_units"`
	CorrectionBolusUnits     float64        `json:"correction_bolus_units"`
	TotalBasalUnits          float64        `json:"total_basal_units"`
	TotalInsulinUnits        float64        `json:"total_insulin_units"`
	TotalCarbs               float64        `json:"total_carbs"`
	MealTimeHours            float64        `json:"meal_time_hours"`
	ExerciseStartHours       float64        `json:"exercise_start_hours"`
	ExerciseEndHours         float64        `json:"exercise_end_hours"`
	StepMinutes              float64        `json:"step_minutes"` // effective output step
	DataPoints               int            `json:"data_points"`
	SolverFailures           int            `json:"solver_failures"`
	Warnings                 []string       `json:"warnings"`
}

// SimulationResults is the trajectory with everything derived from it
type SimulationResults struct {
	TimePoints         []float64       `json:"time_points"`
	GlucoseLevels      []float64       `json:"glucose_levels"`
	InsulinLevels      []float64       `json:"insulin_levels"`
	InterstitialLevels []float64       `json:"interstitial_levels"`
	GlucoseMetrics     GlucoseMetrics  `json:"glucose_metrics"`
	RiskScores         RiskScores      `json:"risk_scores"`
	SafetyAlerts       []string        `json:"safety_alerts"`
	Recommendations    []string        `json:"recommendations"`
	ScenarioSummary    ScenarioSummary `json:"scenario_summary"`
}

// MindmapNode is one node of the presentation tree
type MindmapNode struct {
	ID       string        `json:"id"`
	Label    string        `json:"label"`
	Value    string        `json:"value,omitempty"`
	Category string        `json:"category"`
	Color    string        `json:"color"`
	Children []MindmapNode `json:"children,omitempty"`
}

// ComparisonSnapshot summarizes one side of a baseline comparison
type ComparisonSnapshot struct {
	MeanGlucose    float64 `json:"mean_glucose"`
	CV             float64 `json:"cv_glucose"`
	TIR70180       float64 `json:"tir_70_180"`
	TimeBelow70    float64 `json:"time_below_70"`
	EstimatedHbA1c float64 `json:"estimated_hba1c"`
	Source         string  `json:"source"`
	Estimated      bool    `json:"estimated"`
}

// Improvements are scenario minus baseline; positive TIR change is better,
// negative mean, CV and HbA1c changes are better
type Improvements struct {
	TIRChange         float64 `json:"tir_change"`
	MeanGlucoseChange float64 `json:"mean_glucose_change"`
	CVChange          float64 `json:"cv_change"`
	HbA1cChange       float64 `json:"hba1c_change"`
	TimeBelow70Change float64 `json:"time_below_70_change"`
}

// ComparisonData compares the scenario against the patient's baseline
type ComparisonData struct {
	Baseline             ComparisonSnapshot `json:"baseline"`
	Scenario             ComparisonSnapshot `json:"scenario"`
	Improvements         Improvements       `json:"improvements"`
	ClinicalSignificance string             `json:"clinical_significance"`
	Interpretation       string             `json:"interpretation"`
}

// SimulationQuality describes how the run was produced
type SimulationQuality struct {
	IntegrationMethod string  `json:"integration_method"`
	RelativeTolerance float64 `json:"relative_tolerance"`
	AbsoluteTolerance float64 `json:"absolute_tolerance"`
	DataPoints        int     `json:"data_points"`
	SolverFailures    int     `json:"solver_failures"`
	WarningCount      int     `json:"warning_count"`
	NoiseScale        float64 `json:"noise_scale"`
	Seed              uint64  `json:"seed"`
	DurationMs        float64 `json:"duration_ms"`
}

// PatientFactors are the profile inputs that most influence the forecast
type PatientFactors struct {
	DiabetesType        string  `json:"diabetes_type"`
	InsulinResistance   float64 `json:"insulin_resistance"`
	MetabolicRate       float64 `json:"metabolic_rate"`
	StressSensitivity   float64 `json:"stress_sensitivity"`
	ExerciseSensitivity float64 `json:"exercise_sensitivity"`
	InfectionFactor     float64 `json:"infection_factor"`
	GlucoseReadings     int     `json:"glucose_readings"`
	HasHbA1c            bool    `json:"has_hba1c"`
	DataQuality         string  `json:"data_quality"`
}

// AdvancedAnalytics carries confidence and run metadata
type AdvancedAnalytics struct {
	ModelConfidence      float64           `json:"model_confidence"`
	ClinicalSignificance string            `json:"clinical_significance"`
	SimulationQuality    SimulationQuality `json:"simulation_quality"`
	PatientFactors       PatientFactors    `json:"patient_factors"`
}

// Response is the engine's output contract. Failed runs carry only
// success, error and message.
type Response struct {
	Success           bool               `json:"success"`
	RunID             string             `json:"run_id,omitempty"`
	Error             string             `json:"error,omitempty"`
	Message           string             `json:"message,omitempty"`
	PatientProfile    *PatientProfile    `json:"patient_profile,omitempty"`
	SimulationResults *SimulationResults `json:"simulation_results,omitempty"`
	MindmapData       *MindmapNode       `json:"mindmap_data,omitempty"`
	ComparisonData    *ComparisonData    `json:"comparison_data,omitempty"`
	AdvancedAnalytics *AdvancedAnalytics `json:"advanced_analytics,omitempty"`
}

// Failure builds the failure contract
func Failure(errType, message string) Response {
	return Response{Success: false, Error: errType, Message: message}
}
