package summary

import (
	"math"
	"time"

	"github.com/mrcode/glucose-twin/internal/models"
)

// Confidence bounds
const (
	MinConfidence = 30.0
	MaxConfidence = 95.0
)

// Confidence scores how much the forecast can be trusted, in [30, 95]. It
// grows with the volume and recency of history and drops when the run
// produced implausible risk, instability or solver warnings.
func Confidence(record models.PatientRecord, p models.PatientProfile, r models.RiskScores, m models.GlucoseMetrics, warnings int, now time.Time) float64 {
	c := 50.0
	c += math.Min(20, 1.5*float64(p.GlucoseReadings))

	if latest, ok := record.LatestGlucoseTime(); ok {
		age := now.Sub(latest)
		switch {
		case age <= 30*24*time.Hour:
			c += 10
		case age <= 90*24*time.Hour:
			c += 5
		}
	}
	if p.HasHbA1c {
		c += 10
	}

	if r.OverallRisk > 80 {
		c -= 15
	}
	if m.CV > 60 {
		c -= 10
	}
	c -= math.Min(10, 2*float64(warnings))

	return math.Max(MinConfidence, math.Min(MaxConfidence, c))
}

// PatientFactors summarizes the profile inputs behind the forecast
func PatientFactors(p models.PatientProfile) models.PatientFactors {
	quality := "limited"
	switch {
	case p.GlucoseReadings >= 10 && p.HasHbA1c:
		quality = "good"
	case p.HasGlucoseHistory || p.HasHbA1c:
		quality = "fair"
	}
	return models.PatientFactors{
		DiabetesType:        string(p.DiabetesType),
		InsulinResistance:   p.InsulinResistance,
		MetabolicRate:       p.MetabolicRate,
		StressSensitivity:   p.StressSensitivity,
		ExerciseSensitivity: p.ExerciseSensitivity,
		InfectionFactor:     p.InfectionFactor,
		GlucoseReadings:     p.GlucoseReadings,
		HasHbA1c:            p.HasHbA1c,
		DataQuality:         quality,
	}
}
