// Package store archives simulation responses so they can be fetched, charted
// and listed per patient after the run.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mrcode/glucose-twin/internal/models"
)

// ErrNotFound is returned when no run has the requested id
var ErrNotFound = errors.New("simulation run not found")

// Record is one archived run
type Record struct {
	ID          string          `json:"id"`
	PatientID   string          `json:"patient_id"`
	CreatedAt   time.Time       `json:"created_at"`
	OverallRisk float64         `json:"overall_risk"`
	Response    models.Response `json:"response"`
}

// Store persists successful runs
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	ListByPatient(ctx context.Context, patientID string, limit int) ([]Record, error)
	Close()
}

// NewRecord wraps a successful response for archiving
func NewRecord(resp models.Response, patientID string, now time.Time) Record {
	rec := Record{
		ID:        resp.RunID,
		PatientID: patientID,
		CreatedAt: now.UTC(),
		Response:  resp,
	}
	if resp.SimulationResults != nil {
		rec.OverallRisk = resp.SimulationResults.RiskScores.OverallRisk
	}
	return rec
}
