package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"healthsignal/pkg"
)

// SessionStore persists conversation records keyed by session id. The
// store is the source of truth between turns; the orchestrator never
// trusts an in-memory copy across turns.
type SessionStore struct {
	DB *sql.DB
}

// NewSessionStore wraps an existing sql.DB. The caller manages the
// connection lifecycle.
func NewSessionStore(db *sql.DB) *SessionStore { return &SessionStore{DB: db} }

// Load returns the conversation record for a session, or a fresh record
// with empty defaults when the session has never been saved.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*pkg.ConversationRecord, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT record FROM sessions WHERE session_id = $1`, sessionID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return pkg.NewConversationRecord(sessionID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	var rec pkg.ConversationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	if rec.SessionID == "" {
		rec.SessionID = sessionID
	}
	return &rec, nil
}

// Save writes the complete record with full-overwrite semantics.
func (s *SessionStore) Save(ctx context.Context, sessionID string, rec *pkg.ConversationRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sessionID, err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO sessions (session_id, record, updated_at)
         VALUES ($1, $2, NOW())
         ON CONFLICT (session_id)
         DO UPDATE SET record = EXCLUDED.record, updated_at = NOW()`,
		sessionID, raw,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	return nil
}
