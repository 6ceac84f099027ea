// Package pkpd implements the six-compartment glucose/insulin model: plasma
// glucose, plasma insulin, fast and long-acting subcutaneous depots,
// interstitial glucose and the hepatic glycogen store.
package pkpd

import "math"

// State vector indices
const (
	Glucose      = iota // plasma glucose, mg/dL
	Insulin             // plasma insulin, mU/L
	FastDepot           // fast-acting subcutaneous insulin, U
	LongDepot           // long-acting subcutaneous insulin, U
	Interstitial        // interstitial glucose, mg/dL
	HepaticStore        // hepatic glycogen fill, 0-1
	StateSize
)

// Physiological bounds applied after every step
const (
	MinGlucose = 20.0
	MaxGlucose = 600.0
	MinInsulin = 0.0
	MaxInsulin = 200.0
)

// State is one snapshot of the compartments
type State [StateSize]float64

// Clamp bounds every compartment to its physiological range
func (s *State) Clamp() {
	s[Glucose] = bound(s[Glucose], MinGlucose, MaxGlucose)
	s[Interstitial] = bound(s[Interstitial], MinGlucose, MaxGlucose)
	s[Insulin] = bound(s[Insulin], MinInsulin, MaxInsulin)
	s[FastDepot] = math.Max(0, s[FastDepot])
	s[LongDepot] = math.Max(0, s[LongDepot])
	s[HepaticStore] = bound(s[HepaticStore], 0, 1)
}

// ClampGlucose bounds a glucose sample
func ClampGlucose(g float64) float64 {
	return bound(g, MinGlucose, MaxGlucose)
}

// ClampInsulin bounds an insulin sample
func ClampInsulin(i float64) float64 {
	return bound(i, MinInsulin, MaxInsulin)
}

func bound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
