// Package persistence stores generated schedules to Postgres and the
// user-control and upgrader state records to atomic JSON files.
package persistence

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// Store wraps a Postgres connection used to persist generated schedules.
// A Store whose db is nil (what Open returns for an empty connString)
// disables persistence entirely, so callers can unconditionally call SaveSchedule without a
// separate enabled/disabled branch at every call site.
type Store struct {
	db *sql.DB
}

// Open connects to connString. An empty connString disables persistence and
// returns a Store whose methods are no-ops.
func Open(connString string) (*Store, error) {
	if connString == "" {
		return &Store{}, nil
	}
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("persistence: open: %w", err)
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates the schedule_blocks table if it does not already
// exist; called once at startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schedule_blocks (
			block_start TIMESTAMPTZ PRIMARY KEY,
			duration_minutes INTEGER NOT NULL,
			mode TEXT NOT NULL,
			reason TEXT NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			based_on_price_version TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("persistence: ensure schema: %w", err)
	}
	return nil
}

// SaveSchedule persists every block of schedule, replacing any existing rows
// at or after the schedule's earliest block start within one transaction so
// a partial write never leaves stale and fresh blocks mixed together.
func (s *Store) SaveSchedule(ctx context.Context, schedule model.OperationSchedule) error {
	if s.db == nil || len(schedule.ScheduledBlocks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin tx: %w", err)
	}
	defer tx.Rollback()

	minStart := schedule.ScheduledBlocks[0].BlockStart
	for _, b := range schedule.ScheduledBlocks {
		if b.BlockStart.Before(minStart) {
			minStart = b.BlockStart
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_blocks WHERE block_start >= $1`, minStart); err != nil {
		return fmt.Errorf("persistence: delete existing blocks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO schedule_blocks (block_start, duration_minutes, mode, reason, generated_at, based_on_price_version)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (block_start) DO UPDATE SET
			duration_minutes = EXCLUDED.duration_minutes,
			mode = EXCLUDED.mode,
			reason = EXCLUDED.reason,
			generated_at = EXCLUDED.generated_at,
			based_on_price_version = EXCLUDED.based_on_price_version
	`)
	if err != nil {
		return fmt.Errorf("persistence: prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range schedule.ScheduledBlocks {
		if _, err := stmt.ExecContext(ctx, b.BlockStart, b.DurationMinutes, b.Mode.String(), b.Reason, schedule.GeneratedAt, schedule.BasedOnPriceVersion); err != nil {
			return fmt.Errorf("persistence: insert block %s: %w", b.BlockStart, err)
		}
	}

	return tx.Commit()
}

// Close releases the underlying connection, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
