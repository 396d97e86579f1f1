package telemetry

import "time"

// Kind identifies a lifecycle event.
type Kind string

const (
	KindRoundCompleted Kind = "round_completed"
	KindTaskAccepted   Kind = "task_accepted"
	KindTaskExhausted  Kind = "task_exhausted"
)

// Event is a single lifecycle notification.
type Event struct {
	Kind       Kind      `json:"kind"`
	TaskID     string    `json:"task_id"`
	AgentID    string    `json:"agent_id"`
	RoundCount int       `json:"round_count"`
	FinalScore float64   `json:"final_score"`
	Timestamp  time.Time `json:"timestamp"`
}
