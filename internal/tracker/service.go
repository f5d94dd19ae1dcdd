// Package tracker owns task bookkeeping: fan-out assignment when profiles or videos are
// created, rejection of evidence, reminders, video broadcasts and expiry cleanup.
package tracker

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/vidproof/backend/internal/repositories"
)

// DefaultVideoTTL is how long uploaded and bot-sent videos stay available.
const DefaultVideoTTL = 7 * 24 * time.Hour

var (
	// ErrInvalidInput reports a request missing required fields.
	ErrInvalidInput = errors.New("tracker: invalid input")
	// ErrVideoInactive is returned when broadcasting a deactivated video.
	ErrVideoInactive = errors.New("tracker: video is inactive")
)

// Messenger sends outbound chat messages.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	// SendVideo sends a video by transport file id or public URL.
	SendVideo(ctx context.Context, chatID int64, ref, caption string) error
}

// ObjectStore keeps uploaded video files.
type ObjectStore interface {
	Save(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// SessionSweeper reclaims expired bot sessions.
type SessionSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Dependencies aggregates the collaborators of a Service.
type Dependencies struct {
	Profiles repositories.ProfileRepository
	Videos   repositories.VideoRepository
	Tasks    repositories.TaskRepository

	Messenger Messenger
	Objects   ObjectStore
	Sessions  SessionSweeper

	// Concurrency bounds in-flight sends for admin broadcasts and reminders.
	Concurrency int
	VideoTTL    time.Duration
	NowFunc     func() time.Time
	NewID       func() string
}

// Service implements the task tracking operations shared by the bot and the admin API.
type Service struct {
	profiles repositories.ProfileRepository
	videos   repositories.VideoRepository
	tasks    repositories.TaskRepository

	messenger Messenger
	objects   ObjectStore
	sessions  SessionSweeper

	concurrency int
	videoTTL    time.Duration
	now         func() time.Time
	newID       func() string
}

// NewService constructs a Service. Profiles, Videos and Tasks are required.
func NewService(deps Dependencies) *Service {
	if deps.Profiles == nil || deps.Videos == nil || deps.Tasks == nil {
		panic("tracker: repositories must not be nil")
	}
	s := &Service{
		profiles:    deps.Profiles,
		videos:      deps.Videos,
		tasks:       deps.Tasks,
		messenger:   deps.Messenger,
		objects:     deps.Objects,
		sessions:    deps.Sessions,
		concurrency: deps.Concurrency,
		videoTTL:    deps.VideoTTL,
		now:         deps.NowFunc,
		newID:       deps.NewID,
	}
	if s.concurrency <= 0 {
		s.concurrency = 8
	}
	if s.videoTTL <= 0 {
		s.videoTTL = DefaultVideoTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}
