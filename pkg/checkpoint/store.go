package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/orchestra/pkg/events"
	"github.com/harun/orchestra/pkg/plan"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound is returned when a plan has no stored checkpoint
	ErrNotFound = errors.New("checkpoint not found")
)

// Record is a stored checkpoint together with the run that captured it
type Record struct {
	PlanID     string          `json:"plan_id"`
	RunID      string          `json:"run_id"`
	Checkpoint plan.Checkpoint `json:"checkpoint"`
}

// Config holds checkpoint store configuration
type Config struct {
	DBPath string
	Logger *zerolog.Logger
}

// Store is a SQLite-backed checkpoint log. Checkpoints are append-only;
// saving an id twice keeps the first copy.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (creating if needed) the database at cfg.DBPath
func NewStore(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Logger == nil {
		l := log.Logger
		cfg.Logger = &l
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger.With().Str("component", "checkpoint").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Debug().Str("path", cfg.DBPath).Msg("Checkpoint store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			plan_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			phase_index INTEGER NOT NULL,
			phase_id TEXT NOT NULL,
			step_id TEXT NOT NULL DEFAULT '',
			completed_steps TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_plan ON checkpoints(plan_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save appends a checkpoint for a plan run
func (s *Store) Save(ctx context.Context, planID, runID string, cp plan.Checkpoint) error {
	if planID == "" {
		return errors.New("plan id is required")
	}
	if cp.ID == "" {
		return errors.New("checkpoint id is required")
	}

	steps, err := json.Marshal(cp.CompletedSteps)
	if err != nil {
		return fmt.Errorf("failed to encode completed steps: %w", err)
	}

	ts := cp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO checkpoints
			(id, plan_id, run_id, phase_index, phase_id, step_id, completed_steps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, planID, runID, cp.PhaseIndex, cp.PhaseID, cp.StepID, string(steps), ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Debug().
		Str("planId", planID).
		Str("runId", runID).
		Str("checkpointId", cp.ID).
		Int("phaseIndex", cp.PhaseIndex).
		Msg("Checkpoint saved")
	return nil
}

// List returns a plan's checkpoints in the order they were saved
func (s *Store) List(ctx context.Context, planID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, run_id, phase_index, phase_id, step_id, completed_steps, created_at
		FROM checkpoints
		WHERE plan_id = ?
		ORDER BY seq`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
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

// Latest returns the most recently saved checkpoint of a plan
func (s *Store) Latest(ctx context.Context, planID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, plan_id, run_id, phase_index, phase_id, step_id, completed_steps, created_at
		FROM checkpoints
		WHERE plan_id = ?
		ORDER BY seq DESC
		LIMIT 1`, planID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Resume builds an execution state seeded from the latest checkpoint of a
// plan. It returns ErrNotFound when the plan has none.
func (s *Store) Resume(ctx context.Context, planID string) (*plan.ExecutionState, error) {
	rec, err := s.Latest(ctx, planID)
	if err != nil {
		return nil, err
	}
	return plan.StateFromCheckpoint(planID, rec.Checkpoint), nil
}

// Delete removes every checkpoint of a plan and returns how many were removed
func (s *Store) Delete(ctx context.Context, planID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE plan_id = ?", planID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return res.RowsAffected()
}

// Attach saves every checkpoint the emitter reports. The returned function
// detaches the store.
func (s *Store) Attach(em *events.Emitter) func() {
	return events.Subscribe(em, func(ev events.CheckpointCaptured) {
		if err := s.Save(context.Background(), ev.PlanID, ev.RunID, ev.Checkpoint); err != nil {
			s.logger.Error().
				Err(err).
				Str("planId", ev.PlanID).
				Str("checkpointId", ev.Checkpoint.ID).
				Msg("Failed to persist checkpoint")
		}
	})
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec       Record
		steps     string
		createdAt int64
	)
	err := sc.Scan(
		&rec.Checkpoint.ID,
		&rec.PlanID,
		&rec.RunID,
		&rec.Checkpoint.PhaseIndex,
		&rec.Checkpoint.PhaseID,
		&rec.Checkpoint.StepID,
		&steps,
		&createdAt,
	)
	if err != nil {
		return Record{}, err
	}

	if err := json.Unmarshal([]byte(steps), &rec.Checkpoint.CompletedSteps); err != nil {
		return Record{}, fmt.Errorf("failed to decode completed steps: %w", err)
	}
	if rec.Checkpoint.CompletedSteps == nil {
		rec.Checkpoint.CompletedSteps = []string{}
	}
	rec.Checkpoint.Timestamp = time.Unix(0, createdAt)
	return rec, nil
}
