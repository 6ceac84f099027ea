// Package notifications raises desktop alerts for simulated outcomes
package notifications

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/mrcode/glucose-twin/internal/advisor"
	"github.com/mrcode/glucose-twin/internal/models"
)

// Notifier delivers one notification
type Notifier interface {
	Notify(title, message string) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(title, message string) error

// Notify calls f
func (f NotifierFunc) Notify(title, message string) error { return f(title, message) }

// Desktop sends system notifications through beeep
var Desktop Notifier = NotifierFunc(func(title, message string) error {
	return beeep.Notify(title, message, "")
})

// Manager sends the most severe alert of each run, throttled per patient
type Manager struct {
	settings      *models.Settings
	notifier      Notifier
	lastAlertTime map[string]time.Time
	now           func() time.Time
	mu            sync.Mutex
}

// NewManager creates a notification manager. A nil notifier uses Desktop.
func NewManager(settings *models.Settings, notifier Notifier) *Manager {
	if settings == nil {
		settings = models.DefaultSettings()
	}
	if notifier == nil {
		notifier = Desktop
	}
	return &Manager{
		settings:      settings,
		notifier:      notifier,
		lastAlertTime: make(map[string]time.Time),
		now:           time.Now,
	}
}

// NotifyResult notifies about the most severe enabled alert in resp. It
// reports whether a notification went out. A run without an enabled alert
// re-arms the patient's alerts.
func (m *Manager) NotifyResult(patientID string, resp models.Response) (bool, error) {
	if !resp.Success || resp.SimulationResults == nil {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	alert, sev, ok := m.pickAlert(resp.SimulationResults.SafetyAlerts)
	if !ok {
		m.clearAlertState(patientID)
		return false, nil
	}

	key := patientID + "/" + sev.String()
	if lastTime, seen := m.lastAlertTime[key]; seen {
		if m.settings.RepeatAlertMinutes <= 0 {
			return false, nil
		}
		if m.now().Sub(lastTime) < time.Duration(m.settings.RepeatAlertMinutes)*time.Minute {
			return false, nil
		}
	}

	title, message := formatNotification(patientID, alert, sev, resp.SimulationResults.RiskScores.OverallRisk)
	if err := m.notifier.Notify(title, message); err != nil {
		return false, fmt.Errorf("sending notification: %w", err)
	}
	m.lastAlertTime[key] = m.now()
	return true, nil
}

// pickAlert returns the first alert whose severity is enabled. Alerts arrive
// most severe first.
func (m *Manager) pickAlert(alerts []string) (string, advisor.Severity, bool) {
	for _, a := range alerts {
		sev, _ := advisor.SeverityOf(a)
		if m.enabled(sev) {
			return a, sev, true
		}
	}
	return "", advisor.Notice, false
}

func (m *Manager) enabled(sev advisor.Severity) bool {
	switch sev {
	case advisor.Critical:
		return m.settings.EnableCriticalAlert
	case advisor.Warning:
		return m.settings.EnableWarningAlert
	default:
		return m.settings.EnableNoticeAlert
	}
}

func formatNotification(patientID, alert string, sev advisor.Severity, overallRisk float64) (string, string) {
	who := patientID
	if who == "" {
		who = "patient"
	}

	var title string
	switch sev {
	case advisor.Critical:
		title = "🚨 Critical forecast for " + who
	case advisor.Warning:
		title = "⚠️ Forecast warning for " + who
	default:
		title = "ℹ️ Forecast notice for " + who
	}

	text := strings.TrimSpace(strings.TrimPrefix(alert, sev.Prefix()))
	return title, fmt.Sprintf("%s Overall risk %.0f/100.", text, overallRisk)
}

// clearAlertState forgets past alerts for one patient. m.mu must be held.
func (m *Manager) clearAlertState(patientID string) {
	for key := range m.lastAlertTime {
		if strings.HasPrefix(key, patientID+"/") {
			delete(m.lastAlertTime, key)
		}
	}
}

// SendTestNotification sends a test notification
func (m *Manager) SendTestNotification() error {
	return m.notifier.Notify("glucose-twin", "Test notification - alerts are working!")
}
