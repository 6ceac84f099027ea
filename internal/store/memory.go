package store

import (
	"context"
	"fmt"
	"sync"
)

// DefaultCapacity bounds the in-memory archive
const DefaultCapacity = 500

// Memory keeps the most recent runs, evicting the oldest once full
type Memory struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	byID     map[string]Record
}

// NewMemory returns an archive holding at most capacity runs
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{capacity: capacity, byID: make(map[string]Record)}
}

// Save stores rec, replacing a run with the same id
func (m *Memory) Save(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("saving run: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[rec.ID]; !ok {
		m.order = append(m.order, rec.ID)
	}
	m.byID[rec.ID] = rec

	for len(m.order) > m.capacity {
		delete(m.byID, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

// Get returns the run with the given id
func (m *Memory) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// ListByPatient returns the patient's runs, newest first
func (m *Memory) ListByPatient(_ context.Context, patientID string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.byID[m.order[i]]
		if rec.PatientID != patientID {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Len returns how many runs are held
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Close is a no-op
func (m *Memory) Close() {}
