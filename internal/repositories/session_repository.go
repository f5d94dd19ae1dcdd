package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vidproof/backend/internal/db"
	"github.com/vidproof/backend/internal/session"
)

// PostgresSessionStore persists bot conversation sessions to PostgreSQL so that any
// replica answering a webhook sees the same state.
type PostgresSessionStore struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresSessionStore constructs a session store backed by PostgreSQL.
func NewPostgresSessionStore(pool db.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool, now: time.Now}
}

// Set stores or replaces the participant's session.
func (s *PostgresSessionStore) Set(ctx context.Context, sess session.Session) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO bot_sessions (telegram_id, step, pending_video_ref, updated_at, expires_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (telegram_id)
        DO UPDATE SET step = EXCLUDED.step,
                      pending_video_ref = EXCLUDED.pending_video_ref,
                      updated_at = EXCLUDED.updated_at,
                      expires_at = EXCLUDED.expires_at
    `, sess.ParticipantID, string(sess.Step), sess.PendingVideoRef, sess.UpdatedAt.UTC(), sess.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert bot session: %w", err)
	}

	return nil
}

// Get loads a live session. Expired rows are reported as session.ErrNotFound.
func (s *PostgresSessionStore) Get(ctx context.Context, participantID int64) (session.Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return session.Session{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT telegram_id, step, pending_video_ref, updated_at, expires_at
        FROM bot_sessions
        WHERE telegram_id = $1 AND expires_at > $2
    `, participantID, s.now().UTC())

	var (
		sess session.Session
		step string
	)
	if err := row.Scan(&sess.ParticipantID, &step, &sess.PendingVideoRef, &sess.UpdatedAt, &sess.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("select bot session: %w", err)
	}

	sess.Step = session.Step(step)
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	return sess, nil
}

// Delete removes the participant's session.
func (s *PostgresSessionStore) Delete(ctx context.Context, participantID int64) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM bot_sessions WHERE telegram_id = $1`, participantID)
	if err != nil {
		return fmt.Errorf("delete bot session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}

	return nil
}

// Sweep deletes expired sessions and returns how many were removed.
func (s *PostgresSessionStore) Sweep(ctx context.Context) (int, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM bot_sessions WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep bot sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

var _ session.Store = (*PostgresSessionStore)(nil)
