// Package models contains data structures used throughout the application
package models

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Num is an optional number decoded leniently: JSON numbers and numeric
// strings are accepted, everything else (null, text, objects) leaves it unset.
type Num struct {
	Value float64
	Valid bool
}

// N returns a set Num
func N(v float64) Num {
	return Num{Value: v, Valid: true}
}

// UnmarshalJSON never fails; malformed values are treated as missing
func (n *Num) UnmarshalJSON(b []byte) error {
	*n = Num{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", ".")), 64)
		if err != nil {
			return nil
		}
		v = parsed
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*n = N(v)
	return nil
}

// MarshalJSON writes null for unset values
func (n Num) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Or returns the value, or def when unset
func (n Num) Or(def float64) float64 {
	if !n.Valid {
		return def
	}
	return n.Value
}

// decodeFields decodes each known key of a JSON object independently so one
// malformed field cannot discard the rest. Non-objects are ignored.
func decodeFields(b []byte, fields map[string]any) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return
	}
	for key, dst := range fields {
		if v, ok := raw[key]; ok {
			_ = json.Unmarshal(v, dst)
		}
	}
}

// dateLayouts are the accepted measurement and birth date formats
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
}

// ParseDate parses a date string in any of the accepted layouts
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Condition is a diagnosis from the patient's condition list
type Condition struct {
	Name          string `json:"condition_name"`
	DiagnosisDate string `json:"diagnosis_date,omitempty"`
}

// UnmarshalJSON accepts either an object or a bare condition name
func (c *Condition) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*c = Condition{Name: name}
		return nil
	}
	decodeFields(b, map[string]any{
		"condition_name": &c.Name,
		"diagnosis_date": &c.DiagnosisDate,
	})
	return nil
}

// Measurement is one dated clinical measurement. Every numeric field is optional.
type Measurement struct {
	Date                   string `json:"date"`
	BloodGlucoseLevel      Num    `json:"blood_glucose_level"`
	BloodGlucoseType       string `json:"blood_glucose_type,omitempty"`
	HbA1c                  Num    `json:"hba1c"`
	WeightKg               Num    `json:"weight_kg"`
	BMI                    Num    `json:"bmi"`
	BloodPressureSystolic  Num    `json:"blood_pressure_systolic"`
	BloodPressureDiastolic Num    `json:"blood_pressure_diastolic"`
	InsulinUnits           Num    `json:"insulin_units"`
}

// UnmarshalJSON decodes fields independently
func (m *Measurement) UnmarshalJSON(b []byte) error {
	*m = Measurement{}
	decodeFields(b, map[string]any{
		"date":                     &m.Date,
		"blood_glucose_level":      &m.BloodGlucoseLevel,
		"blood_glucose_type":       &m.BloodGlucoseType,
		"hba1c":                    &m.HbA1c,
		"weight_kg":                &m.WeightKg,
		"bmi":                      &m.BMI,
		"blood_pressure_systolic":  &m.BloodPressureSystolic,
		"blood_pressure_diastolic": &m.BloodPressureDiastolic,
		"insulin_units":            &m.InsulinUnits,
	})
	return nil
}

// Time returns the measurement time, or the zero time when the date is unparseable
func (m *Measurement) Time() time.Time {
	t, _ := ParseDate(m.Date)
	return t
}

// PatientRecord is the raw patient history supplied by the caller
type PatientRecord struct {
	ID                    string        `json:"id,omitempty"`
	Name                  string        `json:"name,omitempty"`
	DateOfBirth           string        `json:"date_of_birth,omitempty"`
	Age                   Num           `json:"age"`
	Gender                string        `json:"gender,omitempty"`
	WeightKg              Num           `json:"weight_kg"`
	HeightCm              Num           `json:"height_cm"`
	DiabetesType          string        `json:"diabetes_type,omitempty"`
	DiabetesDurationYears Num           `json:"diabetes_duration_years"`
	Conditions            []Condition   `json:"conditions"`
	Measurements          []Measurement `json:"measurements"`
}

// UnmarshalJSON decodes fields independently; list elements that are not
// objects (or names, for conditions) are dropped
func (r *PatientRecord) UnmarshalJSON(b []byte) error {
	*r = PatientRecord{}
	var conditions, measurements []json.RawMessage
	decodeFields(b, map[string]any{
		"id":                      &r.ID,
		"name":                    &r.Name,
		"date_of_birth":           &r.DateOfBirth,
		"age":                     &r.Age,
		"gender":                  &r.Gender,
		"weight_kg":               &r.WeightKg,
		"height_cm":               &r.HeightCm,
		"diabetes_type":           &r.DiabetesType,
		"diabetes_duration_years": &r.DiabetesDurationYears,
		"conditions":              &conditions,
		"measurements":            &measurements,
	})

	for _, raw := range conditions {
		var c Condition
		_ = c.UnmarshalJSON(raw)
		if strings.TrimSpace(c.Name) != "" {
			r.Conditions = append(r.Conditions, c)
		}
	}
	for _, raw := range measurements {
		if len(raw) == 0 || raw[0] != '{' {
			continue
		}
		var m Measurement
		_ = m.UnmarshalJSON(raw)
		r.Measurements = append(r.Measurements, m)
	}
	return nil
}

// SortedMeasurements returns a chronological copy of the measurements.
// Undated measurements keep their relative order ahead of dated ones.
func (r *PatientRecord) SortedMeasurements() []Measurement {
	sorted := make([]Measurement, len(r.Measurements))
	copy(sorted, r.Measurements)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time().Before(sorted[j].Time())
	})
	return sorted
}

// GlucoseReadings returns the chronological glucose values in mg/dL
func (r *PatientRecord) GlucoseReadings() []float64 {
	var readings []float64
	for _, m := range r.SortedMeasurements() {
		if m.BloodGlucoseLevel.Valid && m.BloodGlucoseLevel.Value > 0 {
			readings = append(readings, m.BloodGlucoseLevel.Value)
		}
	}
	return readings
}

// LatestGlucoseTime returns the time of the newest dated glucose reading
func (r *PatientRecord) LatestGlucoseTime() (time.Time, bool) {
	var latest time.Time
	for _, m := range r.Measurements {
		if !m.BloodGlucoseLevel.Valid {
			continue
		}
		if t := m.Time(); t.After(latest) {
			latest = t
		}
	}
	return latest, !latest.IsZero()
}

// LatestHbA1c returns the most recent HbA1c value
func (r *PatientRecord) LatestHbA1c() (float64, bool) {
	sorted := r.SortedMeasurements()
	for i := len(sorted) - 1; i >= 0; i-- {
		if v := sorted[i].HbA1c; v.Valid && v.Value > 0 {
			return v.Value, true
		}
	}
	return 0, false
}

// SimulationRequest is the engine's input envelope
type SimulationRequest struct {
	PatientData    PatientRecord  `json:"patient_data"`
	ScenarioParams ScenarioParams `json:"scenario_params"`
	Seed           *uint64        `json:"seed,omitempty"`
	NoiseScale     *float64       `json:"noise_scale,omitempty"`
	Preset         string         `json:"preset,omitempty"`
}

// UnmarshalJSON decodes fields independently so a malformed seed or noise
// scale falls back to defaults instead of rejecting the request
func (r *SimulationRequest) UnmarshalJSON(b []byte) error {
	*r = SimulationRequest{ScenarioParams: DefaultScenario()}
	var noise Num
	var seed json.RawMessage
	decodeFields(b, map[string]any{
		"patient_data":    &r.PatientData,
		"scenario_params": &r.ScenarioParams,
		"seed":            &seed,
		"noise_scale":     &noise,
		"preset":          &r.Preset,
	})
	if v, ok := parseSeed(seed); ok {
		r.Seed = &v
	}
	if noise.Valid {
		v := noise.Value
		r.NoiseScale = &v
	}
	return nil
}

// parseSeed accepts a non-negative integer or a string holding one
func parseSeed(raw json.RawMessage) (uint64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v uint64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
