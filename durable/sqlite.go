package durable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/internal/sqlite"
)

var _ core.CheckpointStore = (*SQLiteStore)(nil)

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	execution_id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	round INTEGER NOT NULL,
	step TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	best_score REAL NOT NULL,
	candidate TEXT,
	saved_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status, saved_at);
`

// SQLiteStore persists checkpoints in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlite.Open(ctx, path, checkpointSchema)
	if err != nil {
		return nil, fmt.Errorf("durable: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the checkpoint.
func (s *SQLiteStore) Save(ctx context.Context, cp core.Checkpoint) error {
	if cp.ExecutionID == "" {
		return fmt.Errorf("durable: checkpoint without execution id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (
			execution_id, task_id, agent_id, round, step, status, error, best_score, candidate, saved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			task_id=excluded.task_id,
			agent_id=excluded.agent_id,
			round=excluded.round,
			step=excluded.step,
			status=excluded.status,
			error=excluded.error,
			best_score=excluded.best_score,
			candidate=excluded.candidate,
			saved_at=excluded.saved_at`,
		cp.ExecutionID, cp.TaskID, cp.AgentID, cp.Round, cp.Step, string(cp.Status),
		cp.Error, cp.BestScore, cp.Candidate, cp.SavedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("durable: save %s: %w", cp.ExecutionID, err)
	}
	return nil
}

const selectCheckpoint = `
	SELECT execution_id, task_id, agent_id, round, step, status, error, best_score, candidate, saved_at
	FROM checkpoints`

// Load returns the checkpoint or core.ErrCheckpointNotFound.
func (s *SQLiteStore) Load(ctx context.Context, executionID string) (core.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, selectCheckpoint+` WHERE execution_id = ?`, executionID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Checkpoint{}, fmt.Errorf("durable: %s: %w", executionID, core.ErrCheckpointNotFound)
	}
	if err != nil {
		return core.Checkpoint{}, fmt.Errorf("durable: load %s: %w", executionID, err)
	}
	return cp, nil
}

// List returns checkpoints newest first.
func (s *SQLiteStore) List(ctx context.Context, status core.ExecutionStatus, limit int) ([]core.Checkpoint, error) {
	query := selectCheckpoint
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY saved_at DESC, execution_id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("durable: list: %w", err)
	}
	defer rows.Close()

	var out []core.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("durable: scan: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("durable: list: %w", err)
	}
	return out, nil
}

// Delete removes the checkpoint.
func (s *SQLiteStore) Delete(ctx context.Context, executionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("durable: delete %s: %w", executionID, err)
	}
	return nil
}

// DeleteOlderThan removes finished checkpoints saved before cutoff.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE status IN (?, ?) AND saved_at < ?`,
		string(core.StatusCompleted), string(core.StatusFailed), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("durable: delete older than %s: %w", cutoff.UTC().Format(time.RFC3339), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("durable: delete older than: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (core.Checkpoint, error) {
	var (
		cp        core.Checkpoint
		status    string
		errText   sql.NullString
		candidate sql.NullString
	)
	if err := row.Scan(&cp.ExecutionID, &cp.TaskID, &cp.AgentID, &cp.Round, &cp.Step, &status,
		&errText, &cp.BestScore, &candidate, &cp.SavedAt); err != nil {
		return core.Checkpoint{}, err
	}
	cp.Status = core.ExecutionStatus(status)
	cp.Error = errText.String
	cp.Candidate = candidate.String
	return cp, nil
}
