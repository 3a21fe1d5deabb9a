package models

import "time"

// Checkpoint is an immutable snapshot of pipeline state. Checkpoints form
// an append-only chain per session; only the latest is needed for resume,
// older ones are retained for audit. Checkpoint IDs are ULIDs, so the
// lexicographically greatest ID is the most recent.
type Checkpoint struct {
	SessionID    string         `json:"session_id"`
	CheckpointID string         `json:"checkpoint_id"`
	State        *PipelineState `json:"state"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Session is the durable association between a document identity and its
// chain of checkpoints.
type Session struct {
	SessionID        string    `json:"session_id"`
	DocumentIdentity string    `json:"document_identity"`
	LastCheckpointID string    `json:"last_checkpoint_id"`
	IterationCount   int       `json:"iteration_count"`
	CreatedAt        time.Time `json:"created_at"`
}
