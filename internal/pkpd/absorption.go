package pkpd

import "math"

// Meal absorption constants
const (
	MealShape           = 2.0  // Gamma shape
	MealScaleHours      = 0.75 // Gamma scale, 45 minutes
	CarbBioavailability = 0.9

	// gastric emptying slows for meals above MealReferenceCarbs
	MealReferenceCarbs = 60.0 // grams
	MealLoadExponent   = 0.3
)

// MealScale stretches the absorption scale for meals larger than
// MealReferenceCarbs by (carbs/MealReferenceCarbs)^MealLoadExponent
func MealScale(scaleHours, carbsGrams float64) float64 {
	if carbsGrams <= MealReferenceCarbs {
		return scaleHours
	}
	return scaleHours * math.Pow(carbsGrams/MealReferenceCarbs, MealLoadExponent)
}

// GammaPDF is the Gamma(shape, scale) density at t; zero for t <= 0
func GammaPDF(t, shape, scale float64) float64 {
	if t <= 0 || shape <= 0 || scale <= 0 {
		return 0
	}
	lg, _ := math.Lgamma(shape)
	return math.Exp((shape-1)*math.Log(t) - t/scale - lg - shape*math.Log(scale))
}

// CarbAppearance returns the rate (mg/dL/h) at which a meal of carbsGrams
// enters plasma glucose, hoursSinceMeal after eating, for a glucose
// distribution volume of volumeDL
func CarbAppearance(carbsGrams, hoursSinceMeal, scaleHours, volumeDL float64) float64 {
	if carbsGrams <= 0 || volumeDL <= 0 {
		return 0
	}
	return CarbBioavailability * carbsGrams * 1000 * GammaPDF(hoursSinceMeal, MealShape, scaleHours) / volumeDL
}
