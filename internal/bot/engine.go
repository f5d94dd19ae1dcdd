// Package bot implements the conversation engine behind the Telegram bot: it routes each
// inbound update by command, attachment and session state, and runs the registration,
// upload, evidence and reporting flows.
package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vidproof/backend/internal/logging"
	"github.com/vidproof/backend/internal/models"
	"github.com/vidproof/backend/internal/session"
	"github.com/vidproof/backend/internal/tracker"
)

// Update is one inbound message, already decoded from the transport.
type Update struct {
	UpdateID      int
	ParticipantID int64
	ChatID        int64
	FirstName     string
	Text          string
	// Photos holds the size variants of an attached photo, smallest first.
	Photos []Photo
	Video  *VideoAttachment
}

// Photo is one size variant of a photo attachment.
type Photo struct {
	FileID   string
	Width    int
	Height   int
	FileSize int
}

// VideoAttachment describes an attached video.
type VideoAttachment struct {
	FileID   string
	FileSize int64
	Duration int
}

// Messenger is the outbound side of the chat transport.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendVideo(ctx context.Context, chatID int64, ref, caption string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// EvidenceStore keeps evidence images.
type EvidenceStore interface {
	Save(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ProfileFinder looks participants up by transport id.
type ProfileFinder interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (models.Profile, error)
}

// TaskStore is the task access the flows need.
type TaskStore interface {
	OldestPending(ctx context.Context, profileID string) (models.TaskDetail, error)
	Complete(ctx context.Context, taskID, evidenceURL string, at time.Time) error
	CountPending(ctx context.Context, profileID string) (int, error)
	ListRecentForProfile(ctx context.Context, profileID string, limit int) ([]models.TaskDetail, error)
	ListPending(ctx context.Context) ([]models.TaskDetail, error)
}

// Tracker creates profiles and videos together with their task fan-out.
type Tracker interface {
	RegisterProfile(ctx context.Context, telegramID int64, fullName string) (models.Profile, int, error)
	AssignActiveVideos(ctx context.Context, profile models.Profile) (int, error)
	CreateVideo(ctx context.Context, in tracker.VideoInput) (models.Video, error)
	AssignVideo(ctx context.Context, video models.Video) ([]models.Profile, error)
}

// CompressFunc shrinks an image. Engines fall back to the original bytes on error.
type CompressFunc func([]byte) ([]byte, error)

// Dependencies aggregates the collaborators of an Engine.
type Dependencies struct {
	Profiles  ProfileFinder
	Tasks     TaskStore
	Tracker   Tracker
	Sessions  *session.Manager
	Locker    *session.Locker
	Messenger Messenger
	Evidence  EvidenceStore
	Compress  CompressFunc

	// Location renders dates in participant-facing messages.
	Location *time.Location
	NowFunc  func() time.Time
}

// Engine processes updates one participant at a time.
type Engine struct {
	profiles  ProfileFinder
	tasks     TaskStore
	tracker   Tracker
	sessions  *session.Manager
	locker    *session.Locker
	messenger Messenger
	evidence  EvidenceStore
	compress  CompressFunc
	loc       *time.Location
	now       func() time.Time
}

// NewEngine constructs an Engine. Every dependency except Compress, Location and NowFunc
// is required.
func NewEngine(deps Dependencies) *Engine {
	if deps.Profiles == nil || deps.Tasks == nil || deps.Tracker == nil || deps.Sessions == nil || deps.Messenger == nil || deps.Evidence == nil {
		panic("bot: missing engine dependency")
	}
	e := &Engine{
		profiles:  deps.Profiles,
		tasks:     deps.Tasks,
		tracker:   deps.Tracker,
		sessions:  deps.Sessions,
		locker:    deps.Locker,
		messenger: deps.Messenger,
		evidence:  deps.Evidence,
		compress:  deps.Compress,
		loc:       deps.Location,
		now:       deps.NowFunc,
	}
	if e.locker == nil {
		e.locker = session.NewLocker()
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// HandleUpdate runs the single flow the update routes to. Updates from the same
// participant are processed one after another. The returned error is for logging only;
// the participant has already been told when something failed.
func (e *Engine) HandleUpdate(ctx context.Context, u Update) error {
	if u.ParticipantID == 0 {
		return nil
	}
	if u.ChatID == 0 {
		u.ChatID = u.ParticipantID
	}

	unlock := e.locker.Lock(u.ParticipantID)
	defer unlock()

	ctx = logging.WithParticipant(ctx, u.ParticipantID)
	ctx, span := logging.StartSpan(ctx, "bot.update", slog.Int("update_id", u.UpdateID))

	err := e.dispatch(ctx, u)
	span.EndWithError(err)
	return err
}

func (e *Engine) dispatch(ctx context.Context, u Update) error {
	switch command(u.Text) {
	case "/start":
		if err := e.sessions.Clear(ctx, u.ParticipantID); err != nil {
			logging.FromContext(ctx).Warn("clear session on start", "error", err)
		}
		return e.handleStart(ctx, u)
	case "/video":
		return e.handleUploadInit(ctx, u)
	case "/reporte":
		return e.handlePendingReport(ctx, u)
	case "/mievidencia", "/mi_evidencia":
		return e.handleMyTasks(ctx, u)
	case "/cancelar":
		return e.handleCancel(ctx, u)
	}

	if u.Video != nil {
		sess, err := e.sessions.Current(ctx, u.ParticipantID)
		if err != nil {
			return e.fail(ctx, u.ChatID, msgGenericError, "load session", err)
		}
		if sess.Step != session.StepAwaitingVideo {
			return e.reply(ctx, u.ChatID, msgSendVideoCommandFirst)
		}
		return e.handleUploadReceive(ctx, u)
	}

	if len(u.Photos) > 0 {
		return e.handleEvidence(ctx, u)
	}

	if strings.TrimSpace(u.Text) != "" {
		sess, err := e.sessions.Current(ctx, u.ParticipantID)
		if err != nil {
			return e.fail(ctx, u.ChatID, msgGenericError, "load session", err)
		}
		if sess.Step == session.StepAwaitingTitle && sess.PendingVideoRef != "" {
			return e.handleUploadFinalize(ctx, u, sess)
		}
		return e.handleText(ctx, u)
	}

	return nil
}

func (e *Engine) handleCancel(ctx context.Context, u Update) error {
	if err := e.sessions.Clear(ctx, u.ParticipantID); err != nil {
		return e.fail(ctx, u.ChatID, msgGenericError, "clear session", err)
	}
	return e.reply(ctx, u.ChatID, msgCancelled)
}

// command returns the bot command a message starts with, without any @botname suffix.
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}

func (e *Engine) reply(ctx context.Context, chatID int64, text string) error {
	if err := e.messenger.SendText(ctx, chatID, text); err != nil {
		logging.FromContext(ctx).Warn("reply not delivered", "chatId", chatID, "error", err)
		return err
	}
	return nil
}

// fail logs err, tells the participant text and returns err.
func (e *Engine) fail(ctx context.Context, chatID int64, text, op string, err error) error {
	logging.FromContext(ctx).Error(op, "error", err)
	_ = e.reply(ctx, chatID, text)
	return fmt.Errorf("%s: %w", op, err)
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}
