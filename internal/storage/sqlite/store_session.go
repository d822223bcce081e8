package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sessiondomain "github.com/storyweave/storyweave/internal/session/domain"
	"github.com/storyweave/storyweave/internal/storage"
)

// PutSession upserts the session row and its presence records. Presence rows
// keep their original joined_at so roster order survives rewrites.
func (s *Store) PutSession(ctx context.Context, session sessiondomain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO sessions (
		   id, story_id, active, current_turn_holder, turn_started_at,
		   created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   active = excluded.active,
		   current_turn_holder = excluded.current_turn_holder,
		   turn_started_at = excluded.turn_started_at,
		   updated_at = excluded.updated_at`,
		session.ID,
		session.StoryID,
		boolToInt(session.Active),
		session.CurrentTurnHolder,
		toMillis(session.TurnStartedAt),
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	for seq, record := range session.Presence {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO session_presence (
			   session_id, participant_id, conn_id, connected, last_active, joined_at
			 ) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, participant_id) DO UPDATE SET
			   conn_id = excluded.conn_id,
			   connected = excluded.connected,
			   last_active = excluded.last_active`,
			session.ID,
			record.ParticipantID,
			record.ConnID,
			boolToInt(record.Connected),
			toMillis(record.LastActive),
			seq,
		)
		if err != nil {
			return fmt.Errorf("upsert presence for %s: %w", record.ParticipantID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session transaction: %w", err)
	}
	return nil
}

// GetSession loads one session with its presence records.
func (s *Store) GetSession(ctx context.Context, id string) (sessiondomain.Session, error) {
	if err := ctx.Err(); err != nil {
		return sessiondomain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return sessiondomain.Session{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return sessiondomain.Session{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, story_id, active, current_turn_holder, turn_started_at,
		        created_at, updated_at
		 FROM sessions WHERE id = ?`,
		id,
	)
	return s.scanSessionWithPresence(ctx, row)
}

// GetSessionByStory loads the session coordinating the given story.
func (s *Store) GetSessionByStory(ctx context.Context, storyID string) (sessiondomain.Session, error) {
	if err := ctx.Err(); err != nil {
		return sessiondomain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return sessiondomain.Session{}, fmt.Errorf("storage is not configured")
	}
	storyID = strings.TrimSpace(storyID)
	if storyID == "" {
		return sessiondomain.Session{}, fmt.Errorf("story id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, story_id, active, current_turn_holder, turn_started_at,
		        created_at, updated_at
		 FROM sessions WHERE story_id = ?`,
		storyID,
	)
	return s.scanSessionWithPresence(ctx, row)
}

// ListActiveSessions returns active sessions, most recently created first.
func (s *Store) ListActiveSessions(ctx context.Context) ([]sessiondomain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, story_id, active, current_turn_holder, turn_started_at,
		        created_at, updated_at
		 FROM sessions WHERE active = 1 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []sessiondomain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		presence, err := s.loadPresence(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		session.Presence = presence
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) scanSessionWithPresence(ctx context.Context, row rowScanner) (sessiondomain.Session, error) {
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sessiondomain.Session{}, storage.ErrNotFound
		}
		return sessiondomain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	presence, err := s.loadPresence(ctx, session.ID)
	if err != nil {
		return sessiondomain.Session{}, err
	}
	session.Presence = presence
	return session, nil
}

func (s *Store) loadPresence(ctx context.Context, sessionID string) ([]sessiondomain.PresenceRecord, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT participant_id, conn_id, connected, last_active
		 FROM session_presence WHERE session_id = ? ORDER BY joined_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query presence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var presence []sessiondomain.PresenceRecord
	for rows.Next() {
		var record sessiondomain.PresenceRecord
		var connected int
		var lastActive int64
		if err := rows.Scan(&record.ParticipantID, &record.ConnID, &connected, &lastActive); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		record.Connected = connected != 0
		record.LastActive = fromMillis(lastActive)
		presence = append(presence, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presence: %w", err)
	}
	return presence, nil
}

func scanSession(row rowScanner) (sessiondomain.Session, error) {
	var session sessiondomain.Session
	var active int
	var turnStartedAt, createdAt, updatedAt int64
	err := row.Scan(
		&session.ID,
		&session.StoryID,
		&active,
		&session.CurrentTurnHolder,
		&turnStartedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return sessiondomain.Session{}, err
	}
	session.Active = active != 0
	session.TurnStartedAt = fromMillis(turnStartedAt)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	return session, nil
}
