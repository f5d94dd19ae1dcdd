package session

import (
	"context"
	"errors"
	"time"
)

// Manager stamps expiry times on sessions and hides expired ones, on top of any Store.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager constructs a Manager whose sessions live for ttl after their last write.
func NewManager(store Store, ttl time.Duration) *Manager {
	if store == nil {
		panic("session: store must not be nil")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}
}

// WithNowFunc allows tests to override the time source.
func (m *Manager) WithNowFunc(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Current returns the participant's live session, or a StepNone session when there is none.
func (m *Manager) Current(ctx context.Context, participantID int64) (Session, error) {
	sess, err := m.store.Get(ctx, participantID)
	if errors.Is(err, ErrNotFound) {
		return Session{ParticipantID: participantID, Step: StepNone}, nil
	}
	if err != nil {
		return Session{}, err
	}
	if sess.Expired(m.now()) {
		_ = m.store.Delete(ctx, participantID)
		return Session{ParticipantID: participantID, Step: StepNone}, nil
	}
	return sess, nil
}

// Transition moves the participant to step, refreshing the expiry.
func (m *Manager) Transition(ctx context.Context, participantID int64, step Step, pendingVideoRef string) error {
	if step == StepNone {
		return m.Clear(ctx, participantID)
	}
	now := m.now().UTC()
	return m.store.Set(ctx, Session{
		ParticipantID:   participantID,
		Step:            step,
		PendingVideoRef: pendingVideoRef,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(m.ttl),
	})
}

// Clear removes any session held by the participant.
func (m *Manager) Clear(ctx context.Context, participantID int64) error {
	err := m.store.Delete(ctx, participantID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
