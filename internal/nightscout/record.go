package nightscout

import (
	"sort"
	"time"

	"github.com/mrcode/glucose-twin/internal/models"
)

// BuildRecord merges Nightscout history into the demographics record. Valid
// SGV readings become CGM glucose measurements and insulin-bearing treatments
// become insulin_units measurements. Duplicate readings (same timestamp) are
// kept once. Existing measurements on demographics are preserved.
func BuildRecord(demographics models.PatientRecord, entries []models.GlucoseEntry, treatments []models.Treatment) models.PatientRecord {
	record := demographics
	record.Measurements = append([]models.Measurement(nil), demographics.Measurements...)

	seen := make(map[int64]bool, len(entries))
	sorted := append([]models.GlucoseEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })
	for i := range sorted {
		e := &sorted[i]
		if !e.IsValid() || seen[e.Date] {
			continue
		}
		seen[e.Date] = true
		record.Measurements = append(record.Measurements, e.ToMeasurement())
	}

	for i := range treatments {
		t := &treatments[i]
		units := t.DeliveredInsulin()
		at := t.Time()
		if units <= 0 || at.IsZero() {
			continue
		}
		record.Measurements = append(record.Measurements, models.Measurement{
			Date:         at.UTC().Format(time.RFC3339),
			InsulinUnits: models.N(units),
		})
	}
	return record
}
