package summary

import (
	"fmt"
	"math"
	"strings"

	"github.com/mrcode/glucose-twin/internal/glycemic"
	"github.com/mrcode/glucose-twin/internal/models"
)

// Baseline sources
const (
	SourceGlucoseHistory = "glucose_history"
	SourceHbA1c          = "hba1c"
	SourceConservative   = "conservative_estimate"
	SourceSimulation     = "simulation"
)

// Conservative baseline used when history is insufficient
const (
	ConservativeMean = 154.0
	ConservativeCV   = 36.0
	ConservativeTIR  = 60.0
)

// Clinical significance levels
const (
	Significant = "significant"
	Moderate    = "moderate"
	Minimal     = "minimal"
)

// Compare builds the baseline-vs-scenario comparison. The baseline comes from
// recent readings, then HbA1c, then a conservative estimate flagged as such.
func Compare(record models.PatientRecord, p models.PatientProfile, m models.GlucoseMetrics) models.ComparisonData {
	baseline := Baseline(record, p)
	scenario := models.ComparisonSnapshot{
		MeanGlucose:    m.MeanGlucose,
		CV:             m.CV,
		TIR70180:       m.TIR70180,
		TimeBelow70:    m.TimeBelow70,
		EstimatedHbA1c: m.EstimatedHbA1c,
		Source:         SourceSimulation,
	}
	imp := models.Improvements{
		TIRChange:         scenario.TIR70180 - baseline.TIR70180,
		MeanGlucoseChange: scenario.MeanGlucose - baseline.MeanGlucose,
		CVChange:          scenario.CV - baseline.CV,
		HbA1cChange:       scenario.EstimatedHbA1c - baseline.EstimatedHbA1c,
		TimeBelow70Change: scenario.TimeBelow70 - baseline.TimeBelow70,
	}
	sig := Significance(imp)
	return models.ComparisonData{
		Baseline:             baseline,
		Scenario:             scenario,
		Improvements:         imp,
		ClinicalSignificance: sig,
		Interpretation:       interpret(imp, baseline, sig),
	}
}

// Baseline estimates the patient's current control
func Baseline(record models.PatientRecord, p models.PatientProfile) models.ComparisonSnapshot {
	switch {
	case p.HasGlucoseHistory:
		readings := record.GlucoseReadings()
		if len(readings) > 15 {
			readings = readings[len(readings)-15:]
		}
		m := glycemic.Calculate(nil, readings, 0)
		b := models.ComparisonSnapshot{
			MeanGlucose:    p.GlucoseMeanRecent,
			CV:             p.GlucoseCVRecent,
			TIR70180:       m.TIR70180,
			TimeBelow70:    m.TimeBelow70,
			EstimatedHbA1c: glycemic.EstimatedHbA1c(p.GlucoseMeanRecent),
			Source:         SourceGlucoseHistory,
		}
		if p.HasHbA1c {
			b.EstimatedHbA1c = p.HbA1cRecent
			b.Source = SourceGlucoseHistory + "+" + SourceHbA1c
		}
		return b

	case p.HasHbA1c:
		mean := 28.7*p.HbA1cRecent - 46.7
		return models.ComparisonSnapshot{
			MeanGlucose:    mean,
			CV:             ConservativeCV,
			TIR70180:       TIRFromMean(mean),
			TimeBelow70:    TimeBelowFromMean(mean, ConservativeCV),
			EstimatedHbA1c: p.HbA1cRecent,
			Source:         SourceHbA1c,
		}
	}

	return models.ComparisonSnapshot{
		MeanGlucose:    ConservativeMean,
		CV:             ConservativeCV,
		TIR70180:       ConservativeTIR,
		TimeBelow70:    TimeBelowFromMean(ConservativeMean, ConservativeCV),
		EstimatedHbA1c: glycemic.EstimatedHbA1c(ConservativeMean),
		Source:         SourceConservative,
		Estimated:      true,
	}
}

// TIRFromMean approximates time in range from mean glucose alone
func TIRFromMean(mean float64) float64 {
	tir := 100 - math.Max(0, mean-110)*0.6 - math.Max(0, 90-mean)*1.5
	return math.Max(10, math.Min(95, tir))
}

// TimeBelowFromMean approximates time below 70 from mean and CV
func TimeBelowFromMean(mean, cv float64) float64 {
	tb := math.Max(0, cv-30)*0.3 + math.Max(0, 120-mean)*0.1
	return math.Max(0, math.Min(20, tb))
}

// Significance grades the size of the change
func Significance(imp models.Improvements) string {
	tir, a1c := math.Abs(imp.TIRChange), math.Abs(imp.HbA1cChange)
	switch {
	case tir >= 5 || a1c >= 0.5:
		return Significant
	case tir >= 2 || a1c >= 0.3:
		return Moderate
	}
	return Minimal
}

func interpret(imp models.Improvements, baseline models.ComparisonSnapshot, sig string) string {
	var b strings.Builder
	switch {
	case imp.TIRChange > 0:
		fmt.Fprintf(&b, "Time in range improves by %.1f points", imp.TIRChange)
	case imp.TIRChange < 0:
		fmt.Fprintf(&b, "Time in range worsens by %.1f points", -imp.TIRChange)
	default:
		b.WriteString("Time in range is unchanged")
	}
	switch {
	case imp.HbA1cChange < 0:
		fmt.Fprintf(&b, " and estimated HbA1c falls by %.2f%%", -imp.HbA1cChange)
	case imp.HbA1cChange > 0:
		fmt.Fprintf(&b, " and estimated HbA1c rises by %.2f%%", imp.HbA1cChange)
	}
	fmt.Fprintf(&b, " versus the baseline (%s change).", sig)
	if baseline.Estimated {
		b.WriteString(" The baseline is a conservative estimate because recent history is limited.")
	}
	return b.String()
}
