package models

import "time"

// MgdlPerMmol converts between mg/dL and mmol/L
const MgdlPerMmol = 18.0182

// ToMmol converts mg/dL to mmol/L
func ToMmol(mgdl float64) float64 {
	return mgdl / MgdlPerMmol
}

// ToMgdl converts mmol/L to mg/dL
func ToMgdl(mmol float64) float64 {
	return mmol * MgdlPerMmol
}

// GlucoseEntry is a sensor glucose reading as served by Nightscout
type GlucoseEntry struct {
	ID        string `json:"_id"`
	SGV       int    `json:"sgv"`  // mg/dL
	Date      int64  `json:"date"` // Unix milliseconds
	DateStr   string `json:"dateString"`
	Trend     int    `json:"trend"`
	Direction string `json:"direction"`
	Device    string `json:"device"`
	Type      string `json:"type"`
}

// Time returns the time of the glucose entry
func (g *GlucoseEntry) Time() time.Time {
	return time.UnixMilli(g.Date)
}

// IsValid reports whether the reading is a plausible sensor value
func (g *GlucoseEntry) IsValid() bool {
	return g.SGV >= 20 && g.SGV <= 600 && g.Date > 0
}

// ToMeasurement converts the reading into a patient measurement
func (g *GlucoseEntry) ToMeasurement() Measurement {
	return Measurement{
		Date:              g.Time().UTC().Format(time.RFC3339),
		BloodGlucoseLevel: N(float64(g.SGV)),
		BloodGlucoseType:  "cgm",
	}
}

// TrendArrow returns the Unicode arrow for the trend direction
func (g *GlucoseEntry) TrendArrow() string {
	arrows := map[string]string{
		"DoubleUp":      "⇈",
		"SingleUp":      "↑",
		"FortyFiveUp":   "↗",
		"Flat":          "→",
		"FortyFiveDown": "↘",
		"SingleDown":    "↓",
		"DoubleDown":    "⇊",
	}
	if arrow, ok := arrows[g.Direction]; ok {
		return arrow
	}
	return "-"
}

// ServerStatus represents the Nightscout server status
type ServerStatus struct {
	Status     string         `json:"status"`
	Name       string         `json:"name"`
	Version    string         `json:"version"`
	ServerTime string         `json:"serverTime"`
	APIEnabled bool           `json:"apiEnabled"`
	Settings   ServerSettings `json:"settings,omitempty"`
}

// ServerSettings contains the Nightscout settings the importer reads
type ServerSettings struct {
	Units      string     `json:"units"`
	Thresholds Thresholds `json:"thresholds,omitempty"`
}

// Thresholds contains Nightscout glucose threshold settings
type Thresholds struct {
	BGHigh         int `json:"bgHigh"`
	BGLow          int `json:"bgLow"`
	BGTargetTop    int `json:"bgTargetTop"`
	BGTargetBottom int `json:"bgTargetBottom"`
}
