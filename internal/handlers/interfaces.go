package handlers

import (
	"context"
	"io"

	"github.com/vidproof/backend/internal/bot"
	"github.com/vidproof/backend/internal/broadcast"
	"github.com/vidproof/backend/internal/models"
	"github.com/vidproof/backend/internal/telegram"
	"github.com/vidproof/backend/internal/tracker"
)

// UpdateProcessor runs the bot flows for one inbound update.
type UpdateProcessor interface {
	HandleUpdate(ctx context.Context, u bot.Update) error
}

// Tracker captures the task bookkeeping operations exposed through the admin API.
type Tracker interface {
	Stats(ctx context.Context) (models.Stats, error)
	Monitor(ctx context.Context, filter models.TaskFilter) ([]models.TaskDetail, error)
	Reject(ctx context.Context, taskID string) (tracker.RejectResult, error)

	ListVideos(ctx context.Context) ([]models.Video, error)
	PublishVideo(ctx context.Context, in tracker.VideoInput) (models.Video, int, error)
	UploadVideo(ctx context.Context, title, description, filename string, r io.Reader, contentType string) (models.Video, int, error)
	SetVideoActive(ctx context.Context, id string, active bool) error
	NotifyVideo(ctx context.Context, videoID string) (broadcast.Result, error)

	ListProfiles(ctx context.Context) ([]models.Profile, error)
	RegisterProfile(ctx context.Context, telegramID int64, fullName string) (models.Profile, int, error)
	SetProfileActive(ctx context.Context, id string, active bool) error
}

// Jobs are the scheduled maintenance operations.
type Jobs interface {
	SendReminders(ctx context.Context) (tracker.ReminderReport, error)
	CleanupExpiredVideos(ctx context.Context) (tracker.CleanupReport, error)
}

// WebhookRegistrar manages the bot's webhook registration.
type WebhookRegistrar interface {
	SetWebhook(ctx context.Context, url, secret string) error
	WebhookInfo(ctx context.Context) (telegram.WebhookInfo, error)
}

// Pinger reports whether a backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}
