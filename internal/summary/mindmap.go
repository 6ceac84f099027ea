// Package summary builds the presentation tree, the baseline comparison and
// the confidence estimate for a simulation run.
package summary

import (
	"fmt"

	"github.com/mrcode/glucose-twin/internal/models"
)

// Node colors, shared with the chart palette
const (
	ColorGreen  = "#4ade80"
	ColorYellow = "#facc15"
	ColorOrange = "#f97316"
	ColorRed    = "#ef4444"
	ColorBlue   = "#60a5fa"
)

// DefaultTopRecommendations is how many recommendations the tree shows
const DefaultTopRecommendations = 3

// Mindmap assembles the root -> profile / scenario / outcomes / risks /
// recommendations tree
func Mindmap(p models.PatientProfile, s models.ScenarioParams, m models.GlucoseMetrics, r models.RiskScores, recs []string, topN int) models.MindmapNode {
	if topN <= 0 {
		topN = DefaultTopRecommendations
	}

	root := models.MindmapNode{
		ID:       "root",
		Label:    "Glucose simulation",
		Value:    fmt.Sprintf("%s, %.0f h", p.DiabetesType, s.SimulationHours),
		Category: "root",
		Color:    RiskColor(r.OverallRisk),
	}
	root.Children = []models.MindmapNode{
		profileBranch(p),
		scenarioBranch(s),
		outcomesBranch(m),
		risksBranch(r),
		recommendationsBranch(recs, topN),
	}
	return root
}

func leaf(id, label, value, category, color string) models.MindmapNode {
	return models.MindmapNode{ID: id, Label: label, Value: value, Category: category, Color: color}
}

func profileBranch(p models.PatientProfile) models.MindmapNode {
	n := models.MindmapNode{ID: "profile", Label: "Patient profile", Category: "profile", Color: ColorBlue}
	n.Children = []models.MindmapNode{
		leaf("profile.type", "Diabetes type", string(p.DiabetesType), "profile", ColorBlue),
		leaf("profile.weight", "Weight", fmt.Sprintf("%.1f kg", p.WeightKg), "profile", ColorBlue),
		leaf("profile.isf", "Insulin sensitivity", fmt.Sprintf("%.1f mg/dL/U", p.InsulinSensitivity), "profile", ColorBlue),
		leaf("profile.icr", "Carb ratio", fmt.Sprintf("%.1f g/U", p.CarbRatio), "profile", ColorBlue),
		leaf("profile.basal", "Basal rate", fmt.Sprintf("%.2f U/h", p.BasalRate), "profile", ColorBlue),
		leaf("profile.resistance", "Insulin resistance", fmt.Sprintf("%.2f", p.InsulinResistance), "profile", levelColor(p.InsulinResistance, 1.3, 1.6, 1.8)),
	}
	if p.HasHbA1c {
		n.Children = append(n.Children,
			leaf("profile.hba1c", "Recent HbA1c", fmt.Sprintf("%.1f%%", p.HbA1cRecent), "profile", levelColor(p.HbA1cRecent, 7, 8, 9)))
	}
	return n
}

func scenarioBranch(s models.ScenarioParams) models.MindmapNode {
	change := func(v float64) string {
		return fmt.Sprintf("%+.0f%%", v)
	}
	changeColor := func(v float64) string {
		if v < 0 {
			v = -v
		}
		return levelColor(v, 20, 50, 100)
	}

	n := models.MindmapNode{ID: "scenario", Label: "Scenario", Category: "scenario", Color: ColorBlue}
	n.Children = []models.MindmapNode{
		leaf("scenario.basal", "Basal change", change(s.BasalChange), "scenario", changeColor(s.BasalChange)),
		leaf("scenario.bolus", "Bolus change", change(s.BolusChange), "scenario", changeColor(s.BolusChange)),
		leaf("scenario.carb_ratio", "Carb ratio change", change(s.CarbRatioChange), "scenario", changeColor(s.CarbRatioChange)),
		leaf("scenario.correction", "Correction factor change", change(s.CorrectionFactorChange), "scenario", changeColor(s.CorrectionFactorChange)),
		leaf("scenario.meal", "Meal", fmt.Sprintf("%.0f g at %.0f min", s.MealCarbs, s.MealTiming), "scenario", levelColor(s.MealCarbs, 60, 80, 120)),
	}
	if s.HasExercise() {
		n.Children = append(n.Children,
			leaf("scenario.exercise", "Exercise", fmt.Sprintf("%.0f%% for %.0f min", s.ExerciseIntensity, s.ExerciseDuration), "scenario", levelColor(s.ExerciseIntensity, 40, 70, 90)))
	}
	n.Children = append(n.Children,
		leaf("scenario.horizon", "Horizon", fmt.Sprintf("%.0f h every %.0f min", s.SimulationHours, s.TimeStepMinutes), "scenario", ColorBlue))
	return n
}

func outcomesBranch(m models.GlucoseMetrics) models.MindmapNode {
	tirColor := ColorRed
	switch {
	case m.TIR70180 >= 70:
		tirColor = ColorGreen
	case m.TIR70180 >= 50:
		tirColor = ColorYellow
	}
	nadirColor := ColorGreen
	switch {
	case m.NadirGlucose < 54:
		nadirColor = ColorRed
	case m.NadirGlucose < 70:
		nadirColor = ColorOrange
	}

	n := models.MindmapNode{ID: "outcomes", Label: "Outcomes", Category: "outcomes", Color: tirColor}
	n.Children = []models.MindmapNode{
		leaf("outcomes.tir", "Time in range", fmt.Sprintf("%.1f%%", m.TIR70180), "outcomes", tirColor),
		leaf("outcomes.mean", "Mean glucose", fmt.Sprintf("%.0f mg/dL", m.MeanGlucose), "outcomes", levelColor(m.MeanGlucose, 154, 183, 212)),
		leaf("outcomes.cv", "Variability", fmt.Sprintf("CV %.1f%%", m.CV), "outcomes", levelColor(m.CV, 36, 50, 60)),
		leaf("outcomes.hba1c", "Estimated HbA1c", fmt.Sprintf("%.1f%%", m.EstimatedHbA1c), "outcomes", levelColor(m.EstimatedHbA1c, 7, 8, 9)),
		leaf("outcomes.peak", "Peak", fmt.Sprintf("%.0f mg/dL at %.1f h", m.PeakGlucose, m.PeakTimeHours), "outcomes", levelColor(m.PeakGlucose, 180, 250, 300)),
		leaf("outcomes.nadir", "Nadir", fmt.Sprintf("%.0f mg/dL at %.1f h", m.NadirGlucose, m.NadirTimeHours), "outcomes", nadirColor),
	}
	return n
}

func risksBranch(r models.RiskScores) models.MindmapNode {
	items := []struct {
		id, label string
		value     float64
	}{
		{"hypo_mild", "Hypoglycemia", r.HypoglycemiaMild},
		{"hypo_severe", "Severe hypoglycemia", r.HypoglycemiaSevere},
		{"hyper_mild", "Hyperglycemia", r.HyperglycemiaMild},
		{"hyper_severe", "Severe hyperglycemia", r.HyperglycemiaSevere},
		{"prolonged_hypo", "Prolonged hypoglycemia", r.ProlongedHypoglycemia},
		{"prolonged_hyper", "Prolonged hyperglycemia", r.ProlongedHyperglycemia},
		{"variability", "Variability", r.VariabilityRisk},
		{"stacking", "Insulin stacking", r.InsulinStackingRisk},
		{"exercise", "Exercise", r.ExerciseRelatedRisk},
		{"meal_spike", "Meal spike", r.MealSpikeRisk},
	}

	n := models.MindmapNode{
		ID:       "risks",
		Label:    "Risks",
		Value:    fmt.Sprintf("overall %.0f/100", r.OverallRisk),
		Category: "risks",
		Color:    RiskColor(r.OverallRisk),
	}
	for _, it := range items {
		n.Children = append(n.Children,
			leaf("risks."+it.id, it.label, fmt.Sprintf("%.0f", it.value), "risks", RiskColor(it.value)))
	}
	return n
}

func recommendationsBranch(recs []string, topN int) models.MindmapNode {
	n := models.MindmapNode{ID: "recommendations", Label: "Recommendations", Category: "recommendations", Color: ColorBlue}
	for i, rec := range recs {
		if i == topN {
			break
		}
		n.Children = append(n.Children,
			leaf(fmt.Sprintf("recommendations.%d", i+1), fmt.Sprintf("#%d", i+1), rec, "recommendations", ColorBlue))
	}
	return n
}

// RiskColor maps a 0-100 risk score onto the palette
func RiskColor(score float64) string {
	return levelColor(score, 25, 50, 75)
}

// levelColor is green below warn, yellow below high, orange below critical, else red
func levelColor(v, warn, high, critical float64) string {
	switch {
	case v < warn:
		return ColorGreen
	case v < high:
		return ColorYellow
	case v < critical:
		return ColorOrange
	}
	return ColorRed
}
