package core

import (
	"context"
	"time"
	"unicode/utf8"
)

// MemoryRecord is an append-only entry describing how an agent handled a
// task. Records are keyed by (AgentID, TaskDigest).
type MemoryRecord struct {
	AgentID       string    `json:"agent_id"`
	TaskDigest    string    `json:"task_digest"`
	ResultSummary string    `json:"result_summary"`
	Accepted      bool      `json:"accepted"`
	Score         float64   `json:"score"`
	CreatedAt     time.Time `json:"created_at"`
}

// MemoryStore persists per-agent records and recalls them for later tasks.
// Implementations must serialize mutations for the same agent while allowing
// different agents to proceed independently.
type MemoryStore interface {
	// Record appends a record describing result for task.
	Record(ctx context.Context, agentID string, task *Task, result *TaskResult) error
	// Recall returns up to k records for the agent, most recent first.
	Recall(ctx context.Context, agentID string, k int) ([]MemoryRecord, error)
}

// maxSummaryLen bounds the summary stored per record.
const maxSummaryLen = 512

// NewMemoryRecord derives the record persisted for a finished task.
func NewMemoryRecord(agentID string, task *Task, result *TaskResult, now time.Time) MemoryRecord {
	summary := "task: " + task.Description + "\nresult: " + result.Text()
	if len(summary) > maxSummaryLen {
		cut := maxSummaryLen
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut]
	}
	return MemoryRecord{
		AgentID:       agentID,
		TaskDigest:    task.Digest(),
		ResultSummary: summary,
		Accepted:      result.Accepted,
		Score:         result.ScoreValue(),
		CreatedAt:     now.UTC(),
	}
}
