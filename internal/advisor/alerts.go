// Package advisor turns metrics, risk scores and scenario parameters into
// ordered safety alerts and recommendations.
package advisor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mrcode/glucose-twin/internal/models"
)

// Severity orders alerts; lower sorts first
type Severity int

// Alert severities
const (
	Critical Severity = iota
	Warning
	Notice
)

// Prefix returns the tag printed in front of an alert
func (s Severity) Prefix() string {
	switch s {
	case Critical:
		return "🚨 CRITICAL:"
	case Warning:
		return "⚠️ WARNING:"
	default:
		return "ℹ️ NOTICE:"
	}
}

// SeverityOf reads the severity back from an alert's prefix
func SeverityOf(alert string) (Severity, bool) {
	for _, sev := range []Severity{Critical, Warning, Notice} {
		if strings.HasPrefix(alert, sev.Prefix()) {
			return sev, true
		}
	}
	return Notice, false
}

// String returns the lower-case severity name
func (s Severity) String() string {
	switch s {
	case Critical:
		return "critical"
	case Warning:
		return "warning"
	default:
		return "notice"
	}
}

// Alert thresholds
const (
	SevereLow          = 54.0
	Low                = 70.0
	SevereHigh         = 300.0
	High               = 250.0
	LargeChangePercent = 50.0
	LargeMealGrams     = 80.0
	HighCV             = 36.0
	VeryHighCV         = 50.0
	HighOverallRisk    = 70.0
	SustainedHypoScore = 50.0
	SustainedAbove250  = 25.0 // percent of time
	HighStackingScore  = 50.0
)

// Input is everything the rule tables look at
type Input struct {
	Profile  models.PatientProfile
	Scenario models.ScenarioParams
	Metrics  models.GlucoseMetrics
	Risks    models.RiskScores
}

type alert struct {
	severity Severity
	text     string
}

// Alerts evaluates every rule; all that fire are returned, most severe first
func Alerts(in Input) []string {
	m, r, s := in.Metrics, in.Risks, in.Scenario
	var out []alert
	add := func(sev Severity, format string, args ...any) {
		out = append(out, alert{sev, sev.Prefix() + " " + fmt.Sprintf(format, args...)})
	}

	if m.Samples > 0 {
		switch {
		case m.NadirGlucose < SevereLow:
			add(Critical, "Severe hypoglycemia predicted, minimum %.0f mg/dL at %.1f h. Reduce insulin or plan fast-acting carbohydrates.", m.NadirGlucose, m.NadirTimeHours)
		case m.NadirGlucose < Low:
			add(Warning, "Hypoglycemia predicted, minimum %.0f mg/dL at %.1f h.", m.NadirGlucose, m.NadirTimeHours)
		}
		switch {
		case m.PeakGlucose > SevereHigh:
			add(Critical, "Severe hyperglycemia predicted, peak %.0f mg/dL at %.1f h.", m.PeakGlucose, m.PeakTimeHours)
		case m.PeakGlucose > High:
			add(Warning, "Marked hyperglycemia predicted, peak %.0f mg/dL at %.1f h.", m.PeakGlucose, m.PeakTimeHours)
		}
	}

	if r.ProlongedHypoglycemia >= SustainedHypoScore {
		add(Critical, "Sustained hypoglycemia expected (prolonged hypoglycemia risk %.0f/100).", r.ProlongedHypoglycemia)
	}
	if m.TimeAbove250 > SustainedAbove250 {
		add(Warning, "Sustained severe hyperglycemia, %.0f%% of the time above 250 mg/dL.", m.TimeAbove250)
	}
	if r.OverallRisk > HighOverallRisk {
		add(Critical, "Overall risk %.0f/100 is very high for this scenario.", r.OverallRisk)
	}

	changes := []struct {
		name  string
		value float64
	}{
		{"Basal", s.BasalChange},
		{"Bolus", s.BolusChange},
		{"Carb ratio", s.CarbRatioChange},
		{"Correction factor", s.CorrectionFactorChange},
	}
	for _, c := range changes {
		if math.Abs(c.value) > LargeChangePercent {
			add(Warning, "%s change of %+.0f%% exceeds %.0f%%. Make large adjustments in smaller steps with clinical supervision.", c.name, c.value, LargeChangePercent)
		}
	}

	if s.HasExercise() && s.InsulinIncreased() {
		add(Warning, "Exercise combined with an insulin increase raises the risk of hypoglycemia.")
	}
	if r.InsulinStackingRisk > HighStackingScore {
		add(Warning, "Insulin stacking risk %.0f/100 from overlapping insulin increases.", r.InsulinStackingRisk)
	}

	switch {
	case m.CV > VeryHighCV:
		add(Warning, "Very high glycemic variability, CV %.1f%%.", m.CV)
	case m.CV > HighCV:
		add(Notice, "High glycemic variability, CV %.1f%% (target below 36%%).", m.CV)
	}
	if s.MealCarbs > LargeMealGrams {
		add(Notice, "Large meal of %.0f g carbohydrates.", s.MealCarbs)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].severity < out[j].severity
	})
	alerts := make([]string, len(out))
	for i, a := range out {
		alerts[i] = a.text
	}
	return alerts
}
