package models

import "time"

// Treatment is a Nightscout care-portal entry (insulin, carbs, exercise, ...)
type Treatment struct {
	ID        string  `json:"_id"`
	EventType string  `json:"eventType"`
	Date      int64   `json:"date"` // Unix milliseconds
	CreatedAt string  `json:"created_at"`
	Insulin   float64 `json:"insulin"`  // units
	Carbs     float64 `json:"carbs"`    // grams
	Duration  float64 `json:"duration"` // minutes
	Absolute  float64 `json:"absolute"` // temp basal rate, units/hour
	Notes     string  `json:"notes"`
	EnteredBy string  `json:"enteredBy"`
}

// Time returns the time of the treatment
func (t *Treatment) Time() time.Time {
	if t.Date > 0 {
		return time.UnixMilli(t.Date)
	}
	parsed, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// HasInsulin returns true if this treatment includes insulin
func (t *Treatment) HasInsulin() bool {
	return t.Insulin > 0
}

// DeliveredInsulin returns the units delivered by the treatment, counting
// temp basals at their absolute rate over their duration
func (t *Treatment) DeliveredInsulin() float64 {
	if t.EventType == EventTempBasal && t.Absolute > 0 && t.Duration > 0 {
		return t.Absolute * t.Duration / 60
	}
	return t.Insulin
}

// IsBolus returns true if this is a bolus treatment
func (t *Treatment) IsBolus() bool {
	bolusTypes := map[string]bool{
		EventBolus:           true,
		EventSnackBolus:      true,
		EventMealBolus:       true,
		EventCorrectionBolus: true,
		EventComboBolus:      true,
		EventBolusWizard:     true,
	}
	return bolusTypes[t.EventType] || (t.HasInsulin() && t.EventType != EventTempBasal)
}

// Nightscout event types the importer understands
const (
	EventBolus           = "Bolus"
	EventSnackBolus      = "Snack Bolus"
	EventMealBolus       = "Meal Bolus"
	EventCorrectionBolus = "Correction Bolus"
	EventComboBolus      = "Combo Bolus"
	EventBolusWizard     = "Bolus Wizard"
	EventTempBasal       = "Temp Basal"
	EventExercise        = "Exercise"
	EventNote            = "Note"
)
