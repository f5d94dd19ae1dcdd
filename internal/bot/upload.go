package bot

import (
	"context"
	"strings"

	"github.com/vidproof/backend/internal/broadcast"
	"github.com/vidproof/backend/internal/logging"
	"github.com/vidproof/backend/internal/models"
	"github.com/vidproof/backend/internal/session"
	"github.com/vidproof/backend/internal/tracker"
)

func (e *Engine) handleUploadInit(ctx context.Context, u Update) error {
	if err := e.sessions.Transition(ctx, u.ParticipantID, session.StepAwaitingVideo, ""); err != nil {
		return e.fail(ctx, u.ChatID, msgGenericError, "start upload session", err)
	}
	return e.reply(ctx, u.ChatID, msgUploadPrompt)
}

func (e *Engine) handleUploadReceive(ctx context.Context, u Update) error {
	if u.Video.FileID == "" {
		return e.reply(ctx, u.ChatID, msgSendVideoCommandFirst)
	}
	if err := e.sessions.Transition(ctx, u.ParticipantID, session.StepAwaitingTitle, u.Video.FileID); err != nil {
		return e.fail(ctx, u.ChatID, msgGenericError, "store uploaded video", err)
	}
	return e.reply(ctx, u.ChatID, videoReceivedMessage(u.Video.FileSize))
}

// handleUploadFinalize publishes the uploaded video under the given title: it stores the
// video, assigns it to every active profile and sends it to each of them in turn.
func (e *Engine) handleUploadFinalize(ctx context.Context, u Update, sess session.Session) error {
	title := strings.TrimSpace(u.Text)
	if title == "" {
		return e.reply(ctx, u.ChatID, msgAskTitleAgain)
	}
	logger := logging.FromContext(ctx)

	_ = e.reply(ctx, u.ChatID, msgProcessingVideo)

	video, err := e.tracker.CreateVideo(ctx, tracker.VideoInput{
		Title:       title,
		URL:         models.TelegramVideoPrefix + sess.PendingVideoRef,
		Description: telegramVideoDescription,
		Type:        models.VideoTypeTelegram,
	})
	if err != nil {
		e.endUpload(ctx, u.ParticipantID)
		return e.fail(ctx, u.ChatID, msgVideoSaveError, "create video", err)
	}

	recipients, err := e.tracker.AssignVideo(ctx, video)
	if err != nil {
		e.endUpload(ctx, u.ParticipantID)
		return e.fail(ctx, u.ChatID, msgVideoAssignError, "assign video", err)
	}
	if len(recipients) == 0 {
		e.endUpload(ctx, u.ParticipantID)
		return e.reply(ctx, u.ChatID, msgNoRecipients)
	}

	chatIDs := make([]int64, 0, len(recipients))
	for _, profile := range recipients {
		chatIDs = append(chatIDs, profile.TelegramID)
	}

	caption := broadcastCaption(title)
	result := broadcast.Sequential(ctx, chatIDs, func(ctx context.Context, chatID int64) error {
		return e.messenger.SendVideo(ctx, chatID, sess.PendingVideoRef, caption)
	})
	for _, failure := range result.Failed {
		logger.Warn("video not delivered", "chatId", failure.ChatID, "error", failure.Err)
	}
	logger.Info("video published", "videoId", video.ID, "delivered", result.DeliveredCount(), "failed", result.FailedCount())

	e.endUpload(ctx, u.ParticipantID)
	return e.reply(ctx, u.ChatID, publishSummaryMessage(title, result.DeliveredCount(), result.FailedCount()))
}

func (e *Engine) endUpload(ctx context.Context, participantID int64) {
	if err := e.sessions.Clear(ctx, participantID); err != nil {
		logging.FromContext(ctx).Warn("clear upload session", "error", err)
	}
}
