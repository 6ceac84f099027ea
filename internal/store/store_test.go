package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mrcode/glucose-twin/internal/models"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func record(id, patient string, minutes int, risk float64) Record {
	resp := models.Response{
		Success:           true,
		RunID:             id,
		SimulationResults: &models.SimulationResults{RiskScores: models.RiskScores{OverallRisk: risk}},
	}
	return NewRecord(resp, patient, t0.Add(time.Duration(minutes)*time.Minute))
}

func TestNewRecord(t *testing.T) {
	rec := record("run-1", "p1", 0, 42)
	if rec.ID != "run-1" || rec.PatientID != "p1" || rec.OverallRisk != 42 || !rec.CreatedAt.Equal(t0) {
		t.Errorf("rec = %+v", rec)
	}
}

func TestMemory_SaveGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	if err := m.Save(ctx, record("a", "p1", 0, 10)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := m.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OverallRisk != 10 {
		t.Errorf("risk = %v", got.OverallRisk)
	}
	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := m.Save(ctx, Record{}); err == nil {
		t.Error("empty id should be rejected")
	}
}

func TestMemory_Eviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)
	for i := range 5 {
		_ = m.Save(ctx, record(fmt.Sprintf("r%d", i), "p1", i, 0))
	}

	if m.Len() != 3 {
		t.Fatalf("len = %d, want 3", m.Len())
	}
	for _, id := range []string{"r0", "r1"} {
		if _, err := m.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s should have been evicted", id)
		}
	}

	// replacing keeps a single slot
	_ = m.Save(ctx, record("r4", "p1", 9, 99))
	if m.Len() != 3 {
		t.Errorf("len after replace = %d", m.Len())
	}
}

func TestMemory_ListByPatient(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	_ = m.Save(ctx, record("a", "p1", 0, 0))
	_ = m.Save(ctx, record("b", "p2", 1, 0))
	_ = m.Save(ctx, record("c", "p1", 2, 0))
	_ = m.Save(ctx, record("d", "p1", 3, 0))

	tests := []struct {
		patient string
		limit   int
		want    []string
	}{
		{"p1", 0, []string{"d", "c", "a"}},
		{"p1", 2, []string{"d", "c"}},
		{"p2", 0, []string{"b"}},
		{"p3", 0, nil},
	}
	for _, tt := range tests {
		got, err := m.ListByPatient(ctx, tt.patient, tt.limit)
		if err != nil {
			t.Fatalf("ListByPatient: %v", err)
		}
		var ids []string
		for _, r := range got {
			ids = append(ids, r.ID)
		}
		if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
			t.Errorf("ListByPatient(%s, %d) = %v, want %v", tt.patient, tt.limit, ids, tt.want)
		}
	}
}

func TestMemory_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(50)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("r%d", i)
			_ = m.Save(ctx, record(id, "p", i, 0))
			_, _ = m.Get(ctx, id)
			_, _ = m.ListByPatient(ctx, "p", 5)
		}()
	}
	wg.Wait()
	if m.Len() != 20 {
		t.Errorf("len = %d, want 20", m.Len())
	}
}

// fakeConn stands in for pgxpool with a map keyed by id
type fakeConn struct {
	mu      sync.Mutex
	rows    map[string][]any
	execErr error
	execs   []string
	closed  bool
}

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.vals[i].(string)
		case *time.Time:
			*p = r.vals[i].(time.Time)
		case *float64:
			*p = r.vals[i].(float64)
		case *[]byte:
			*p = r.vals[i].([]byte)
		}
	}
	return nil
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	return (&fakeRow{vals: r.rows[r.pos-1]}).Scan(dest...)
}

func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close()     {}

func (c *fakeConn) QueryRow(_ context.Context, _ string, args ...any) pgRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	vals, ok := c.rows[args[0].(string)]
	if !ok {
		return &fakeRow{err: pgx.ErrNoRows}
	}
	return &fakeRow{vals: vals}
}

func (c *fakeConn) Query(_ context.Context, _ string, args ...any) (pgRows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	patient, limit := args[0].(string), args[1].(int)

	var matched [][]any
	for _, vals := range c.rows {
		if vals[1] == patient {
			matched = append(matched, vals)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i][2].(time.Time).After(matched[j][2].(time.Time))
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return &fakeRows{rows: matched}, nil
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.execErr != nil {
		return c.execErr
	}
	c.execs = append(c.execs, sql)
	if strings.HasPrefix(sql, "INSERT") {
		c.rows[args[0].(string)] = []any{args[0], args[1], args[2], args[3], args[4]}
	}
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func TestPostgres_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConn{rows: map[string][]any{}}
	s := newPostgres(conn)

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(conn.execs[0], "CREATE TABLE IF NOT EXISTS simulation_runs") {
		t.Errorf("migration sql = %q", conn.execs[0])
	}

	for i, id := range []string{"r1", "r2", "r3"} {
		if err := s.Save(ctx, record(id, "p1", i, float64(10*i))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := s.Get(ctx, "r2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OverallRisk != 10 || got.Response.RunID != "r2" || got.Response.SimulationResults == nil {
		t.Errorf("got = %+v", got)
	}

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	list, err := s.ListByPatient(ctx, "p1", 2)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if len(list) != 2 || list[0].ID != "r3" || list[1].ID != "r2" {
		t.Errorf("list = %+v", list)
	}

	s.Close()
	if !conn.closed {
		t.Error("Close did not close the connection")
	}
}

func TestPostgres_Errors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")
	s := newPostgres(&fakeConn{rows: map[string][]any{}, execErr: boom})

	if err := s.Save(ctx, record("r1", "p1", 0, 0)); !errors.Is(err, boom) {
		t.Errorf("Save err = %v", err)
	}
	if err := s.Migrate(ctx); !errors.Is(err, boom) {
		t.Errorf("Migrate err = %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, boom) {
		t.Errorf("Ping err = %v", err)
	}

	bad := &fakeConn{rows: map[string][]any{"x": {"x", "p", t0, 1.0, []byte("not json")}}}
	if _, err := newPostgres(bad).Get(ctx, "x"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("corrupt row err = %v", err)
	}
}

func TestPostgres_StoresJSON(t *testing.T) {
	conn := &fakeConn{rows: map[string][]any{}}
	_ = newPostgres(conn).Save(context.Background(), record("r1", "p1", 0, 5))

	var resp models.Response
	if err := json.Unmarshal(conn.rows["r1"][4].([]byte), &resp); err != nil {
		t.Fatalf("stored response is not JSON: %v", err)
	}
	if !resp.Success || resp.RunID != "r1" {
		t.Errorf("stored = %+v", resp)
	}
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
