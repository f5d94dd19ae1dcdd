package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/vidproof/backend/internal/logging"
	"github.com/vidproof/backend/internal/repositories"
)

const evidenceContentType = "image/jpeg"

// handleEvidence attaches the photo to the participant's oldest pending task. The task is
// only marked done once the image is stored; if that update fails the image is removed.
func (e *Engine) handleEvidence(ctx context.Context, u Update) error {
	logger := logging.FromContext(ctx)

	profile, err := e.profiles.FindByTelegramID(ctx, u.ParticipantID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return e.reply(ctx, u.ChatID, msgRegisterFirst)
	case err != nil:
		return e.fail(ctx, u.ChatID, msgGenericError, "find profile", err)
	}

	task, err := e.tasks.OldestPending(ctx, profile.ID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return e.reply(ctx, u.ChatID, msgNoPendingTasks)
	case err != nil:
		return e.fail(ctx, u.ChatID, msgGenericError, "find pending task", err)
	}

	photo := u.Photos[len(u.Photos)-1]
	data, err := e.messenger.DownloadFile(ctx, photo.FileID)
	if err != nil {
		return e.fail(ctx, u.ChatID, msgImageFetchError, "download photo", err)
	}

	if e.compress != nil {
		compressed, err := e.compress(data)
		if err != nil {
			logger.Warn("compress evidence, keeping original", "error", err)
		} else {
			data = compressed
		}
	}

	now := e.clock()
	key := fmt.Sprintf("evidence/%d/%s_%d.jpg", u.ParticipantID, task.TaskID, now.UnixMilli())
	url, err := e.evidence.Save(ctx, key, bytes.NewReader(data), evidenceContentType)
	if err != nil {
		return e.fail(ctx, u.ChatID, msgImageSaveError, "store evidence", err)
	}

	if err := e.tasks.Complete(ctx, task.TaskID, url, now); err != nil {
		if delErr := e.evidence.Delete(ctx, key); delErr != nil {
			logger.Error("remove orphaned evidence", "key", key, "error", delErr)
		}
		return e.fail(ctx, u.ChatID, msgTaskUpdateError, "complete task", err)
	}
	logger.Info("evidence recorded", "taskId", task.TaskID, "key", key, "bytes", len(data))

	remaining, err := e.tasks.CountPending(ctx, profile.ID)
	if err != nil {
		logger.Warn("count pending tasks", "error", err)
	}
	return e.reply(ctx, u.ChatID, evidenceReceivedMessage(task.VideoTitle, remaining, err == nil))
}
