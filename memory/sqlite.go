package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/internal/sqlite"
)

var _ core.MemoryStore = (*SQLiteStore)(nil)

const memorySchema = `
CREATE TABLE IF NOT EXISTS memory_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	task_digest TEXT NOT NULL,
	result_summary TEXT NOT NULL,
	accepted BOOLEAN NOT NULL,
	score REAL NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_records_agent ON memory_records(agent_id, id);
`

// SQLiteStore persists memory records in SQLite. Records for one agent are
// ordered by their insertion id.
type SQLiteStore struct {
	db    *sql.DB
	locks agentLocks
	opts  Options
}

// NewSQLiteStore opens or creates the database at path. Use
// sqlite.MemoryPath (":memory:") for a throwaway database.
func NewSQLiteStore(ctx context.Context, path string, optFns ...func(o *Options)) (*SQLiteStore, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	db, err := sqlite.Open(ctx, path, memorySchema)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	return &SQLiteStore{db: db, opts: opts}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends a record and applies the retention limit.
func (s *SQLiteStore) Record(ctx context.Context, agentID string, task *core.Task, result *core.TaskResult) error {
	if agentID == "" || task == nil || result == nil {
		return fmt.Errorf("memory: record requires agent, task and result")
	}
	rec := core.NewMemoryRecord(agentID, task, result, s.opts.Now())

	unlock := s.locks.lock(agentID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_records (agent_id, task_digest, result_summary, accepted, score, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.AgentID, rec.TaskDigest, rec.ResultSummary, rec.Accepted, rec.Score, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("memory: insert record: %w", err)
	}

	if max := s.opts.MaxRecordsPerAgent; max > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM memory_records
			WHERE agent_id = ? AND id NOT IN (
				SELECT id FROM memory_records WHERE agent_id = ? ORDER BY id DESC LIMIT ?
			)`, agentID, agentID, max)
		if err != nil {
			return fmt.Errorf("memory: apply retention: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("memory: commit: %w", err)
	}
	return nil
}

// Recall returns up to k records for the agent, most recent first.
func (s *SQLiteStore) Recall(ctx context.Context, agentID string, k int) ([]core.MemoryRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, task_digest, result_summary, accepted, score, created_at
		FROM memory_records
		WHERE agent_id = ?
		ORDER BY id DESC
		LIMIT ?`, agentID, k)
	if err != nil {
		return nil, fmt.Errorf("memory: query records: %w", err)
	}
	defer rows.Close()

	var out []core.MemoryRecord
	for rows.Next() {
		var rec core.MemoryRecord
		if err := rows.Scan(&rec.AgentID, &rec.TaskDigest, &rec.ResultSummary, &rec.Accepted, &rec.Score, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate records: %w", err)
	}
	return out, nil
}
