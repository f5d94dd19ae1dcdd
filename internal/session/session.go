// Package session keeps the short-lived conversational state of bot participants.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the participant has no live session.
var ErrNotFound = errors.New("session not found")

// Step is the position of a participant inside a multi-message flow.
type Step string

const (
	StepNone          Step = "NONE"
	StepAwaitingVideo Step = "AWAITING_VIDEO"
	StepAwaitingTitle Step = "AWAITING_TITLE"
)

// Session is the conversational state of one participant.
type Session struct {
	ParticipantID int64
	Step          Step
	// PendingVideoRef is the transport file id of an uploaded video, set only in StepAwaitingTitle.
	PendingVideoRef string
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the session is past its expiry at the given instant.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store persists sessions keyed by participant id. Implementations must treat expired
// sessions as absent.
type Store interface {
	Get(ctx context.Context, participantID int64) (Session, error)
	Set(ctx context.Context, session Session) error
	Delete(ctx context.Context, participantID int64) error
}
