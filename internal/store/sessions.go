package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ferrow/reqscope/pkg/models"
)

// ErrNoPriorAnalysis indicates a refine-type request for a session that
// has no checkpoint to build on. This is fatal and user-actionable.
var ErrNoPriorAnalysis = errors.New("no prior analysis found for this document; run analyze first")

// GetOrCreateSession maps a document identity to a durable session. With
// forceNew a fresh session is always allocated, orphaning any earlier
// session for the same identity (its checkpoints are retained for audit).
func (s *Store) GetOrCreateSession(documentIdentity string, forceNew bool) (*models.Session, error) {
	if !forceNew {
		sess, err := s.sessionByIdentity(documentIdentity)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
	}

	sess := &models.Session{
		SessionID:        uuid.New().String(),
		DocumentIdentity: documentIdentity,
		CreatedAt:        time.Now(),
	}
	if _, err := s.db.Exec(
		`INSERT INTO sessions (session_id, document_identity, created_at) VALUES (?, ?, ?)`,
		sess.SessionID, sess.DocumentIdentity, sess.CreatedAt.Unix(),
	); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("Created session",
		"session_id", sess.SessionID,
		"document_identity", documentIdentity,
		"force_new", forceNew)

	return sess, nil
}

// LoadLatestCheckpoint returns the state of the session's most recent
// checkpoint, or nil if the session has no checkpoints yet.
func (s *Store) LoadLatestCheckpoint(sessionID string) (*models.PipelineState, error) {
	cp, err := s.LatestCheckpoint(sessionID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}
	return cp.State, nil
}

// BumpIteration increments the session's iteration count and returns the
// new value. Used by refine requests.
func (s *Store) BumpIteration(sessionID string) (int, error) {
	if _, err := s.db.Exec(
		`UPDATE sessions SET iteration_count = iteration_count + 1 WHERE session_id = ?`,
		sessionID,
	); err != nil {
		return 0, fmt.Errorf("failed to bump iteration: %w", err)
	}
	var n int
	if err := s.db.QueryRow(
		`SELECT iteration_count FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to read iteration: %w", err)
	}
	return n, nil
}

// SessionByID returns a session by its ID, or nil when unknown
func (s *Store) SessionByID(sessionID string) (*models.Session, error) {
	return s.scanSession(s.db.QueryRow(
		`SELECT session_id, document_identity, last_checkpoint_id, iteration_count, created_at
		 FROM sessions WHERE session_id = ?`, sessionID))
}

// ListSessions returns all sessions, newest first
func (s *Store) ListSessions() ([]models.Session, error) {
	rows, err := s.db.Query(
		`SELECT session_id, document_identity, last_checkpoint_id, iteration_count, created_at
		 FROM sessions ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var (
			sess      models.Session
			createdAt int64
		)
		if err := rows.Scan(&sess.SessionID, &sess.DocumentIdentity,
			&sess.LastCheckpointID, &sess.IterationCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.CreatedAt = time.Unix(createdAt, 0)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionByIdentity returns the newest session for a document identity,
// or nil when the document has never been analyzed.
func (s *Store) SessionByIdentity(documentIdentity string) (*models.Session, error) {
	return s.sessionByIdentity(documentIdentity)
}

func (s *Store) sessionByIdentity(documentIdentity string) (*models.Session, error) {
	return s.scanSession(s.db.QueryRow(
		`SELECT session_id, document_identity, last_checkpoint_id, iteration_count, created_at
		 FROM sessions WHERE document_identity = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, documentIdentity))
}

func (s *Store) scanSession(row *sql.Row) (*models.Session, error) {
	var (
		sess      models.Session
		createdAt int64
	)
	if err := row.Scan(&sess.SessionID, &sess.DocumentIdentity,
		&sess.LastCheckpointID, &sess.IterationCount, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	return &sess, nil
}
