package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Record is one finished run as the gateways persist it.
type Record struct {
	RunID       string    `json:"run_id"`
	Variant     string    `json:"variant"`
	Objective   string    `json:"objective"`
	Decision    string    `json:"decision"`
	Iterations  int       `json:"iterations"`
	FinalAnswer string    `json:"final_answer"`
	PlanJSON    string    `json:"plan,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

type RunStore struct {
	DB *sql.DB
}

func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{DB: db}
}

// Save inserts rec, replacing an earlier record with the same run id.
func (s *RunStore) Save(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return errors.New("save run: empty run id")
	}
	query := `INSERT OR REPLACE INTO runs
		(run_id, variant, objective, decision, iterations, final_answer, plan_json, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.DB.ExecContext(ctx, query,
		rec.RunID, rec.Variant, rec.Objective, rec.Decision, rec.Iterations,
		rec.FinalAnswer, rec.PlanJSON, rec.Error,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunID, err)
	}
	return nil
}

const runColumns = `run_id, variant, objective, decision, iterations, final_answer, plan_json, error, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec              Record
		started, finished string
	)
	err := row.Scan(&rec.RunID, &rec.Variant, &rec.Objective, &rec.Decision, &rec.Iterations,
		&rec.FinalAnswer, &rec.PlanJSON, &rec.Error, &started, &finished)
	if err != nil {
		return rec, err
	}
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return rec, fmt.Errorf("run %s started_at: %w", rec.RunID, err)
	}
	if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return rec, fmt.Errorf("run %s finished_at: %w", rec.RunID, err)
	}
	return rec, nil
}

func (s *RunStore) Get(ctx context.Context, runID string) (Record, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List returns the most recent runs first.
func (s *RunStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
