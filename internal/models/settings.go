package models

import "sync"

// Settings holds the display thresholds and alert preferences shared by the
// watch monitor, desktop notifications and charts
type Settings struct {
	mu sync.RWMutex `json:"-"`

	// Connection settings
	NightscoutURL string `json:"nightscoutUrl"`
	APISecret     string `json:"apiSecret"` // Plain API secret (will be hashed)
	APIToken      string `json:"apiToken"`
	UseToken      bool   `json:"useToken"`

	Unit            string `json:"unit"`            // "mg/dL" or "mmol/L"
	RefreshInterval int    `json:"refreshInterval"` // seconds between watch runs
	HistoryHours    int    `json:"historyHours"`    // Nightscout history fed into each run

	// Glucose thresholds (mg/dL)
	TargetLow  int `json:"targetLow"`
	TargetHigh int `json:"targetHigh"`
	UrgentLow  int `json:"urgentLow"`
	UrgentHigh int `json:"urgentHigh"`

	// Alert settings
	EnableCriticalAlert bool `json:"enableCriticalAlert"`
	EnableWarningAlert  bool `json:"enableWarningAlert"`
	EnableNoticeAlert   bool `json:"enableNoticeAlert"`
	RepeatAlertMinutes  int  `json:"repeatAlertMinutes"` // 0 = alert once per patient and severity

	// Chart colors
	ChartColorInRange string `json:"chartColorInRange"`
	ChartColorHigh    string `json:"chartColorHigh"`
	ChartColorLow     string `json:"chartColorLow"`
	ChartColorUrgent  string `json:"chartColorUrgent"`
}

// DefaultSettings returns settings with default values
func DefaultSettings() *Settings {
	return &Settings{
		Unit:            "mg/dL",
		RefreshInterval: 300,
		HistoryHours:    24,

		TargetLow:  70,
		TargetHigh: 180,
		UrgentLow:  54,
		UrgentHigh: 250,

		EnableCriticalAlert: true,
		EnableWarningAlert:  true,
		EnableNoticeAlert:   false,
		RepeatAlertMinutes:  15,

		ChartColorInRange: "#4ade80", // Green
		ChartColorHigh:    "#facc15", // Yellow
		ChartColorLow:     "#f97316", // Orange
		ChartColorUrgent:  "#ef4444", // Red
	}
}

// Clone creates a copy of the settings
func (s *Settings) Clone() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Settings{}
	clone.copySettingsFields(s)
	return clone
}

// copySettingsFields copies all fields from other to s, excluding the mutex
func (s *Settings) copySettingsFields(other *Settings) {
	s.NightscoutURL = other.NightscoutURL
	s.APISecret = other.APISecret
	s.APIToken = other.APIToken
	s.UseToken = other.UseToken
	s.Unit = other.Unit
	s.RefreshInterval = other.RefreshInterval
	s.HistoryHours = other.HistoryHours
	s.TargetLow = other.TargetLow
	s.TargetHigh = other.TargetHigh
	s.UrgentLow = other.UrgentLow
	s.UrgentHigh = other.UrgentHigh
	s.EnableCriticalAlert = other.EnableCriticalAlert
	s.EnableWarningAlert = other.EnableWarningAlert
	s.EnableNoticeAlert = other.EnableNoticeAlert
	s.RepeatAlertMinutes = other.RepeatAlertMinutes
	s.ChartColorInRange = other.ChartColorInRange
	s.ChartColorHigh = other.ChartColorHigh
	s.ChartColorLow = other.ChartColorLow
	s.ChartColorUrgent = other.ChartColorUrgent
}

// IsConfigured returns true if a Nightscout source is set
func (s *Settings) IsConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.NightscoutURL != ""
}

// GetGlucoseStatus returns the status string for a glucose value
func (s *Settings) GetGlucoseStatus(mgdl float64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case mgdl < float64(s.UrgentLow):
		return "urgent_low"
	case mgdl < float64(s.TargetLow):
		return "low"
	case mgdl > float64(s.UrgentHigh):
		return "urgent_high"
	case mgdl > float64(s.TargetHigh):
		return "high"
	default:
		return "normal"
	}
}

// StatusColor returns the chart color for a glucose status
func (s *Settings) StatusColor(status string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch status {
	case "urgent_low", "urgent_high":
		return s.ChartColorUrgent
	case "low":
		return s.ChartColorLow
	case "high":
		return s.ChartColorHigh
	default:
		return s.ChartColorInRange
	}
}
