package models

import (
	"testing"
)

func TestDefaultSettings(t *testing.T) {
	settings := DefaultSettings()

	if settings.Unit != "mg/dL" {
		t.Errorf("Default unit = %s, want mg/dL", settings.Unit)
	}
	if settings.TargetLow != 70 {
		t.Errorf("Default target low = %d, want 70", settings.TargetLow)
	}
	if settings.TargetHigh != 180 {
		t.Errorf("Default target high = %d, want 180", settings.TargetHigh)
	}
	if settings.UrgentLow != 54 {
		t.Errorf("Default urgent low = %d, want 54", settings.UrgentLow)
	}
	if settings.UrgentHigh != 250 {
		t.Errorf("Default urgent high = %d, want 250", settings.UrgentHigh)
	}
	if settings.RepeatAlertMinutes != 15 {
		t.Errorf("Default repeat = %d, want 15", settings.RepeatAlertMinutes)
	}
}

func TestSettings_GetGlucoseStatus(t *testing.T) {
	settings := DefaultSettings()

	tests := []struct {
		name     string
		mgdl     float64
		expected string
	}{
		{"Urgent low", 50, "urgent_low"},
		{"Low", 60, "low"},
		{"Range low boundary", 70, "normal"},
		{"Normal", 120, "normal"},
		{"Range high boundary", 180, "normal"},
		{"High", 200, "high"},
		{"Urgent high", 260, "urgent_high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := settings.GetGlucoseStatus(tt.mgdl)
			if result != tt.expected {
				t.Errorf("GetGlucoseStatus(%v) = %s, want %s", tt.mgdl, result, tt.expected)
			}
		})
	}
}

func TestSettings_StatusColor(t *testing.T) {
	settings := DefaultSettings()

	if got := settings.StatusColor("urgent_low"); got != "#ef4444" {
		t.Errorf("StatusColor(urgent_low) = %s, want #ef4444", got)
	}
	if got := settings.StatusColor("normal"); got != "#4ade80" {
		t.Errorf("StatusColor(normal) = %s, want #4ade80", got)
	}
}

func TestSettings_Clone(t *testing.T) {
	original := DefaultSettings()
	original.NightscoutURL = "https://test.example.com"

	clone := original.Clone()

	if clone.NightscoutURL != original.NightscoutURL {
		t.Error("Clone did not copy NightscoutURL")
	}

	clone.NightscoutURL = "https://modified.example.com"
	if original.NightscoutURL == clone.NightscoutURL {
		t.Error("Modifying clone affected original")
	}
}

func TestSettings_IsConfigured(t *testing.T) {
	settings := DefaultSettings()

	if settings.IsConfigured() {
		t.Error("Empty settings should not be configured")
	}

	settings.NightscoutURL = "https://test.example.com"
	if !settings.IsConfigured() {
		t.Error("Settings with URL should be configured")
	}
}
