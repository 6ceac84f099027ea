package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration creates the archive table. It is safe to run repeatedly.
const Migration = `
CREATE TABLE IF NOT EXISTS simulation_runs (
    id           UUID PRIMARY KEY,
    patient_id   TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    overall_risk DOUBLE PRECISION NOT NULL,
    response     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_simulation_runs_patient
    ON simulation_runs (patient_id, created_at DESC);
`

type pgRow interface {
	Scan(dest ...any) error
}

type pgRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// pgConn is the slice of pgxpool the archive needs
type pgConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgRow
	Query(ctx context.Context, sql string, args ...any) (pgRows, error)
	Exec(ctx context.Context, sql string, args ...any) error
	Close()
}

// Postgres archives runs in the simulation_runs table
type Postgres struct {
	db pgConn
}

// NewPostgres connects to databaseURL, verifies the connection and applies
// the migration
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := newPostgres(&poolConn{pool: pool})
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgres(db pgConn) *Postgres {
	return &Postgres{db: db}
}

// Migrate applies the table DDL
func (s *Postgres) Migrate(ctx context.Context) error {
	if err := s.db.Exec(ctx, Migration); err != nil {
		return fmt.Errorf("migrate simulation_runs: %w", err)
	}
	return nil
}

// Save upserts rec
func (s *Postgres) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec.Response)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	const query = `INSERT INTO simulation_runs (id, patient_id, created_at, overall_risk, response)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET patient_id   = EXCLUDED.patient_id,
                               created_at   = EXCLUDED.created_at,
                               overall_risk = EXCLUDED.overall_risk,
                               response     = EXCLUDED.response`

	if err := s.db.Exec(ctx, query, rec.ID, rec.PatientID, rec.CreatedAt, rec.OverallRisk, data); err != nil {
		return fmt.Errorf("save simulation run: %w", err)
	}
	return nil
}

// Get loads one run
func (s *Postgres) Get(ctx context.Context, id string) (Record, error) {
	const query = `SELECT id::text, patient_id, created_at, overall_risk, response
FROM simulation_runs WHERE id = $1`

	rec, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get simulation run: %w", err)
	}
	return rec, nil
}

// ListByPatient returns the patient's runs, newest first
func (s *Postgres) ListByPatient(ctx context.Context, patientID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id::text, patient_id, created_at, overall_risk, response
FROM simulation_runs WHERE patient_id = $1
ORDER BY created_at DESC LIMIT $2`

	rows, err := s.db.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list simulation runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan simulation run: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list simulation runs: %w", err)
	}
	return out, nil
}

// Ping checks the database answers
func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the pool
func (s *Postgres) Close() {
	s.db.Close()
}

func scanRecord(row pgRow) (Record, error) {
	var (
		rec  Record
		data []byte
		at   time.Time
	)
	if err := row.Scan(&rec.ID, &rec.PatientID, &at, &rec.OverallRisk, &data); err != nil {
		return Record{}, err
	}
	rec.CreatedAt = at.UTC()
	if err := json.Unmarshal(data, &rec.Response); err != nil {
		return Record{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return rec, nil
}

// poolConn adapts *pgxpool.Pool, whose Exec also returns a command tag
type poolConn struct {
	pool *pgxpool.Pool
}

func (c *poolConn) QueryRow(ctx context.Context, sql string, args ...any) pgRow {
	return c.pool.QueryRow(ctx, sql, args...)
}

func (c *poolConn) Query(ctx context.Context, sql string, args ...any) (pgRows, error) {
	return c.pool.Query(ctx, sql, args...)
}

func (c *poolConn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.pool.Exec(ctx, sql, args...)
	return err
}

func (c *poolConn) Close() {
	c.pool.Close()
}
