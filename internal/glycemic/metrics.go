// Package glycemic computes clinical glucose-control metrics from a sampled
// glucose trajectory.
package glycemic

import (
	"math"

	"github.com/mrcode/glucose-twin/internal/models"
)

// Glucose bands, mg/dL
const (
	VeryLow  = 54.0
	Low      = 70.0
	Tight    = 140.0
	High     = 180.0
	VeryHigh = 250.0
)

// MAGE thresholds, mg/dL
const (
	TurnThreshold      = 10.0
	ExcursionThreshold = 15.0
)

// Calculate derives every metric from glucose samples taken at times (hours),
// stepMinutes apart. Empty input yields zero metrics.
func Calculate(times, glucose []float64, stepMinutes float64) models.GlucoseMetrics {
	n := len(glucose)
	m := models.GlucoseMetrics{Samples: n}
	if n == 0 {
		return m
	}

	var below54, below70, inRange, inTight, above180, above250 int
	var sum float64
	peak, nadir := 0, 0
	for i, g := range glucose {
		sum += g
		switch {
		case g < Low:
			below70++
			if g < VeryLow {
				below54++
			}
		case g <= High:
			inRange++
		default:
			above180++
			if g > VeryHigh {
				above250++
			}
		}
		if g >= Low && g <= Tight {
			inTight++
		}
		if g > glucose[peak] {
			peak = i
		}
		if g < glucose[nadir] {
			nadir = i
		}
	}

	pct := func(c int) float64 { return float64(c) / float64(n) * 100 }
	m.TimeBelow54 = pct(below54)
	m.TimeBelow70 = pct(below70)
	m.TIR70180 = pct(inRange)
	m.TIR70140 = pct(inTight)
	m.TimeAbove180 = pct(above180)
	m.TimeAbove250 = pct(above250)

	m.MeanGlucose = sum / float64(n)
	var ss float64
	for _, g := range glucose {
		ss += (g - m.MeanGlucose) * (g - m.MeanGlucose)
	}
	m.StdGlucose = math.Sqrt(ss / float64(n))
	if m.MeanGlucose > 0 {
		m.CV = m.StdGlucose / m.MeanGlucose * 100
	}

	m.EstimatedHbA1c = EstimatedHbA1c(m.MeanGlucose)
	m.GMI = 3.31 + 0.02392*m.MeanGlucose
	m.MAGE = MAGE(glucose)
	m.JIndex = JIndex(m.MeanGlucose, m.StdGlucose)
	m.CONGA = CONGA(glucose, stepMinutes)
	m.GRI = GRI(m.TimeBelow54, m.TimeBelow70-m.TimeBelow54, m.TimeAbove250, m.TimeAbove180-m.TimeAbove250, m.CV)
	m.LBGI, m.HBGI = BloodGlucoseIndices(glucose)

	m.PeakGlucose = glucose[peak]
	m.NadirGlucose = glucose[nadir]
	if len(times) == n {
		m.PeakTimeHours = times[peak]
		m.NadirTimeHours = times[nadir]
	}
	return m
}

// EstimatedHbA1c converts a mean glucose (mg/dL) to HbA1c (%)
func EstimatedHbA1c(mean float64) float64 {
	return (mean + 46.7) / 28.7
}

// MAGE averages the swings between consecutive turning points that exceed
// ExcursionThreshold. A turning point is confirmed once the trace moves
// TurnThreshold away from the running extreme.
func MAGE(glucose []float64) float64 {
	if len(glucose) < 3 {
		return 0
	}

	var turns []float64
	extreme := glucose[0]
	dir := 0 // +1 rising, -1 falling, 0 undecided
	for _, g := range glucose[1:] {
		switch dir {
		case 0:
			if g >= extreme+TurnThreshold {
				turns = append(turns, extreme)
				dir, extreme = 1, g
			} else if g <= extreme-TurnThreshold {
				turns = append(turns, extreme)
				dir, extreme = -1, g
			}
		case 1:
			if g > extreme {
				extreme = g
			} else if g <= extreme-TurnThreshold {
				turns = append(turns, extreme)
				dir, extreme = -1, g
			}
		case -1:
			if g < extreme {
				extreme = g
			} else if g >= extreme+TurnThreshold {
				turns = append(turns, extreme)
				dir, extreme = 1, g
			}
		}
	}
	if dir != 0 {
		turns = append(turns, extreme)
	}

	var total float64
	var count int
	for i := 1; i < len(turns); i++ {
		if d := math.Abs(turns[i] - turns[i-1]); d > ExcursionThreshold {
			total += d
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// JIndex is 0.324 (mean + sd)^2 with both in mmol/L
func JIndex(mean, std float64) float64 {
	s := models.ToMmol(mean) + models.ToMmol(std)
	return 0.324 * s * s
}

// CONGA is the root mean square of glucose differences one hour apart
func CONGA(glucose []float64, stepMinutes float64) float64 {
	if stepMinutes <= 0 {
		return 0
	}
	lag := int(math.Round(60 / stepMinutes))
	if lag < 1 {
		lag = 1
	}
	if len(glucose) <= lag {
		return 0
	}
	var ss float64
	for i := lag; i < len(glucose); i++ {
		d := glucose[i] - glucose[i-lag]
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(glucose)-lag))
}

// GRI is the glycemia risk index from band percentages plus a variability
// penalty, capped at 100
func GRI(veryLow, low, veryHigh, high, cv float64) float64 {
	gri := 3.0*veryLow + 2.4*low + 1.6*veryHigh + 0.8*high + 0.5*math.Max(0, cv-36)
	return math.Min(100, gri)
}

// BloodGlucoseIndices returns the low and high blood glucose indices
func BloodGlucoseIndices(glucose []float64) (lbgi, hbgi float64) {
	if len(glucose) == 0 {
		return 0, 0
	}
	for _, g := range glucose {
		if g <= 0 {
			continue
		}
		f := 1.509 * (math.Pow(math.Log(g), 1.084) - 5.381)
		r := 10 * f * f
		if f < 0 {
			lbgi += r
		} else {
			hbgi += r
		}
	}
	n := float64(len(glucose))
	return lbgi / n, hbgi / n
}
