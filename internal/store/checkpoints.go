package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ferrow/reqscope/pkg/models"
)

// Store persists sessions and their checkpoint chains.
//
// PutCheckpoint is safe under at-most-one-writer-per-session concurrency:
// sessions never write concurrently with themselves, and WAL mode plus
// per-call transactions keep distinct sessions from interfering.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a Store over an opened database
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// PutCheckpoint appends an immutable snapshot of state to the session's
// chain and records it as the session's latest, in a single transaction.
// Returns the new checkpoint ID (a ULID; IDs sort by creation time).
func (s *Store) PutCheckpoint(sessionID string, state *models.PipelineState) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	id := ulid.Make().String()
	now := time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO checkpoints (checkpoint_id, session_id, state_json, created_at) VALUES (?, ?, ?, ?)`,
		id, sessionID, string(data), now.Unix(),
	); err != nil {
		return "", fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	res, err := tx.Exec(
		`UPDATE sessions SET last_checkpoint_id = ? WHERE session_id = ?`,
		id, sessionID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", fmt.Errorf("unknown session: %s", sessionID)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	s.logger.Debug("Checkpoint saved",
		"session_id", sessionID,
		"checkpoint_id", id,
		"stage", state.CurrentStage,
		"next_stage", state.NextStage)

	return id, nil
}

// LatestCheckpoint returns the most recent checkpoint for a session, or
// nil if the session has none.
func (s *Store) LatestCheckpoint(sessionID string) (*models.Checkpoint, error) {
	row := s.db.QueryRow(
		`SELECT checkpoint_id, state_json, created_at
		 FROM checkpoints WHERE session_id = ?
		 ORDER BY checkpoint_id DESC LIMIT 1`,
		sessionID,
	)

	var (
		id        string
		stateJSON string
		createdAt int64
	)
	if err := row.Scan(&id, &stateJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest checkpoint: %w", err)
	}

	var state models.PipelineState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}

	return &models.Checkpoint{
		SessionID:    sessionID,
		CheckpointID: id,
		State:        &state,
		CreatedAt:    time.Unix(createdAt, 0),
	}, nil
}

// CheckpointCount returns the number of checkpoints in a session's chain
func (s *Store) CheckpointCount(sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM checkpoints WHERE session_id = ?`, sessionID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count checkpoints: %w", err)
	}
	return n, nil
}
