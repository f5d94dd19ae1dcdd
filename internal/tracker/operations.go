package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vidproof/backend/internal/broadcast"
	"github.com/vidproof/backend/internal/logging"
	"github.com/vidproof/backend/internal/models"
)

// RejectResult describes the outcome of a rejection.
type RejectResult struct {
	Task     models.TaskDetail `json:"-"`
	Changed  bool              `json:"changed"`
	Notified bool              `json:"notified"`
}

// Reject resets a done task to pending and clears its evidence, then tries to tell the
// participant. A pending task is left as is. Notification failures are logged only.
func (s *Service) Reject(ctx context.Context, taskID string) (RejectResult, error) {
	ctx, span := logging.StartSpan(ctx, "tracker.reject", slog.String("task_id", taskID))

	changed, err := s.tasks.Reset(ctx, taskID)
	if err != nil {
		span.EndWithError(err)
		return RejectResult{}, fmt.Errorf("reset task: %w", err)
	}

	detail, err := s.tasks.FindDetail(ctx, taskID)
	if err != nil {
		span.EndWithError(err)
		return RejectResult{Changed: changed}, fmt.Errorf("load task: %w", err)
	}

	result := RejectResult{Task: detail, Changed: changed}
	if s.messenger != nil {
		if err := s.messenger.SendText(ctx, detail.TelegramID, rejectionMessage); err != nil {
			logging.FromContext(ctx).Warn("rejection notice not delivered", "telegramId", detail.TelegramID, "error", err)
		} else {
			result.Notified = true
		}
	}

	span.End()
	return result, nil
}

// NotifyVideo broadcasts an active video to every active profile with bounded concurrency.
// Link videos go out as a text message, hosted videos as a video message.
func (s *Service) NotifyVideo(ctx context.Context, videoID string) (broadcast.Result, error) {
	if s.messenger == nil {
		return broadcast.Result{}, errors.New("notify video: messenger not configured")
	}

	video, err := s.videos.FindByID(ctx, videoID)
	if err != nil {
		return broadcast.Result{}, fmt.Errorf("load video: %w", err)
	}
	if !video.Active {
		return broadcast.Result{}, ErrVideoInactive
	}

	profiles, err := s.profiles.ListActive(ctx)
	if err != nil {
		return broadcast.Result{}, fmt.Errorf("list active profiles: %w", err)
	}

	chatIDs := make([]int64, 0, len(profiles))
	for _, profile := range profiles {
		chatIDs = append(chatIDs, profile.TelegramID)
	}

	send := s.videoSender(video)
	ctx, span := logging.StartSpan(ctx, "tracker.notify_video", slog.String("video_id", video.ID), slog.Int("recipients", len(chatIDs)))
	result := broadcast.Fanout(ctx, chatIDs, s.concurrency, send)
	logFailures(ctx, "video notification not delivered", result)
	span.End()

	return result, nil
}

func (s *Service) videoSender(video models.Video) broadcast.SendFunc {
	if fileID, ok := video.TelegramFileID(); ok {
		caption := newVideoCaption(video)
		return func(ctx context.Context, chatID int64) error {
			return s.messenger.SendVideo(ctx, chatID, fileID, caption)
		}
	}
	if video.Type == models.VideoTypeFile {
		caption := newVideoCaption(video)
		return func(ctx context.Context, chatID int64) error {
			return s.messenger.SendVideo(ctx, chatID, video.URL, caption)
		}
	}
	text := newVideoLinkMessage(video)
	return func(ctx context.Context, chatID int64) error {
		return s.messenger.SendText(ctx, chatID, text)
	}
}

// ReminderReport summarises a reminder run.
type ReminderReport struct {
	Participants int              `json:"participants"`
	PendingTasks int              `json:"pendingTasks"`
	Result       broadcast.Result `json:"-"`
}

// SendReminders sends every participant with pending tasks one message listing them.
func (s *Service) SendReminders(ctx context.Context) (ReminderReport, error) {
	if s.messenger == nil {
		return ReminderReport{}, errors.New("send reminders: messenger not configured")
	}

	ctx, span := logging.StartSpan(ctx, "tracker.reminders")

	pending, err := s.tasks.ListPending(ctx)
	if err != nil {
		span.EndWithError(err)
		return ReminderReport{}, fmt.Errorf("list pending tasks: %w", err)
	}

	type reminder struct {
		name   string
		titles []string
	}
	byChat := make(map[int64]*reminder)
	var chatIDs []int64
	for _, task := range pending {
		r, ok := byChat[task.TelegramID]
		if !ok {
			r = &reminder{name: task.FullName}
			byChat[task.TelegramID] = r
			chatIDs = append(chatIDs, task.TelegramID)
		}
		r.titles = append(r.titles, task.VideoTitle)
	}

	result := broadcast.Fanout(ctx, chatIDs, s.concurrency, func(ctx context.Context, chatID int64) error {
		r := byChat[chatID]
		return s.messenger.SendText(ctx, chatID, reminderMessage(r.name, r.titles))
	})
	logFailures(ctx, "reminder not delivered", result)

	report := ReminderReport{Participants: len(chatIDs), PendingTasks: len(pending), Result: result}
	logging.FromContext(ctx).Info("reminders sent", "participants", report.Participants, "delivered", result.DeliveredCount(), "failed", result.FailedCount())
	span.End()
	return report, nil
}

// CleanupReport summarises an expiry run.
type CleanupReport struct {
	Expired        int `json:"expired"`
	ObjectsDeleted int `json:"objectsDeleted"`
	Errors         int `json:"errors"`
	SessionsSwept  int `json:"sessionsSwept"`
}

// CleanupExpiredVideos deactivates videos past their expiry and removes their stored files.
// A video whose file cannot be deleted is left untouched for the next run. Expired bot
// sessions are swept as well.
func (s *Service) CleanupExpiredVideos(ctx context.Context) (CleanupReport, error) {
	ctx, span := logging.StartSpan(ctx, "tracker.cleanup")
	logger := logging.FromContext(ctx)

	videos, err := s.videos.ListExpired(ctx, s.clock())
	if err != nil {
		span.EndWithError(err)
		return CleanupReport{}, fmt.Errorf("list expired videos: %w", err)
	}

	var report CleanupReport
	for _, video := range videos {
		if video.StorageKey != "" {
			if s.objects == nil {
				logger.Warn("expired video file kept, object storage not configured", "videoId", video.ID, "key", video.StorageKey)
				report.Errors++
				continue
			}
			if err := s.objects.Delete(ctx, video.StorageKey); err != nil {
				logger.Error("delete expired video file", "videoId", video.ID, "key", video.StorageKey, "error", err)
				report.Errors++
				continue
			}
			report.ObjectsDeleted++
		}

		if err := s.videos.Expire(ctx, video.ID); err != nil {
			logger.Error("expire video", "videoId", video.ID, "error", err)
			report.Errors++
			continue
		}
		logger.Info("video expired", "videoId", video.ID, "title", video.Title)
		report.Expired++
	}

	if s.sessions != nil {
		swept, err := s.sessions.Sweep(ctx)
		if err != nil {
			logger.Error("sweep bot sessions", "error", err)
			report.Errors++
		}
		report.SessionsSwept = swept
	}

	span.End()
	return report, nil
}

func logFailures(ctx context.Context, msg string, result broadcast.Result) {
	logger := logging.FromContext(ctx)
	for _, failure := range result.Failed {
		logger.Warn(msg, "chatId", failure.ChatID, "error", failure.Err)
	}
}
