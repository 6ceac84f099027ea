package advisor

import (
	"fmt"

	"github.com/mrcode/glucose-twin/internal/models"
)

// Clinical targets for the all-clear message
const (
	TargetTIR         = 70.0
	TargetCV          = 36.0
	TargetHbA1c       = 7.0
	TargetSevereHypo  = 1.0
	TargetTimeBelow70 = 4.0
	TargetTimeAbove   = 25.0
)

// AllTargetsMet is the closing message when every clinical target is reached
const AllTargetsMet = "✅ All clinical targets met: time in range above 70%, CV below 36%, estimated HbA1c below 7.0% and negligible severe hypoglycemia risk."

// Recommendations walks the rule table in a fixed order
func Recommendations(in Input) []string {
	m, r, s, p := in.Metrics, in.Risks, in.Scenario, in.Profile
	var recs []string
	add := func(format string, args ...any) {
		recs = append(recs, fmt.Sprintf(format, args...))
	}

	switch {
	case m.TIR70180 < 50:
		add("Time in range is %.0f%%. This scenario needs substantial adjustment before it is tried.", m.TIR70180)
	case m.TIR70180 < TargetTIR:
		add("Time in range is %.0f%%, below the 70%% target. Fine-tune meal insulin and timing.", m.TIR70180)
	default:
		add("Time in range is %.0f%%, meeting the 70%% target.", m.TIR70180)
	}

	switch {
	case r.HypoglycemiaSevere > 0:
		add("Reduce basal or bolus insulin; severe hypoglycemia is predicted.")
	case m.TimeBelow70 > TargetTimeBelow70:
		add("Time below 70 mg/dL is %.1f%%. Consider a 10-20%% insulin reduction.", m.TimeBelow70)
	case r.HypoglycemiaMild > 0:
		add("Keep fast-acting carbohydrates at hand; brief lows are predicted.")
	}

	if m.TimeAbove180 > TargetTimeAbove {
		if s.HasMeal() {
			add("Time above 180 mg/dL is %.0f%%. Bolus 15-20 minutes before eating or review the carb ratio.", m.TimeAbove180)
		} else {
			add("Time above 180 mg/dL is %.0f%%. Review basal insulin and the correction factor.", m.TimeAbove180)
		}
	}

	switch {
	case m.CV > VeryHighCV:
		add("Variability is very high (CV %.0f%%). Keep meal timing and carbohydrate amounts consistent.", m.CV)
	case m.CV > TargetCV:
		add("Variability is above target (CV %.0f%%). Smaller, evenly spaced meals help.", m.CV)
	}

	if s.HasExercise() {
		add("Check glucose before and after exercise and carry 15-20 g of fast-acting carbohydrates.")
		if s.InsulinIncreased() {
			add("Reduce the insulin dose around exercise rather than increasing it.")
		}
	} else if m.TimeAbove180 > TargetTimeAbove {
		add("A 15-30 minute walk after meals can blunt the post-meal peak.")
	}

	if s.MealCarbs > LargeMealGrams {
		add("Consider splitting the %.0f g meal or choosing slower-absorbing carbohydrates.", s.MealCarbs)
	}

	if p.DiabetesType == models.Type1 {
		if m.TimeAbove250 > 0 {
			add("Check ketones if glucose stays above 250 mg/dL.")
		}
	} else if m.TimeAbove180 > TargetTimeAbove {
		add("Discuss oral or non-insulin therapy adjustments with your care team.")
	}

	if m.TIR70180 > TargetTIR && m.CV < TargetCV && m.EstimatedHbA1c < TargetHbA1c && r.HypoglycemiaSevere < TargetSevereHypo {
		recs = append(recs, AllTargetsMet)
	}
	return recs
}
