package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/vidproof/backend/internal/models"
)

// ProfileRepository defines the data access contract for participant profiles.
type ProfileRepository interface {
	Create(ctx context.Context, profile models.Profile) error
	FindByID(ctx context.Context, id string) (models.Profile, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (models.Profile, error)
	List(ctx context.Context) ([]models.Profile, error)
	ListActive(ctx context.Context) ([]models.Profile, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// VideoRepository defines the data access contract for videos.
type VideoRepository interface {
	Create(ctx context.Context, video models.Video) error
	FindByID(ctx context.Context, id string) (models.Video, error)
	List(ctx context.Context) ([]models.Video, error)
	ListActive(ctx context.Context) ([]models.Video, error)
	SetActive(ctx context.Context, id string, active bool) error
	ListExpired(ctx context.Context, now time.Time) ([]models.Video, error)
	Expire(ctx context.Context, id string) error
}

// TaskRepository defines the data access contract for tasks and the task monitor view.
type TaskRepository interface {
	// CreateBatch inserts tasks, skipping (profile, video) pairs that already exist, and
	// returns how many rows were inserted.
	CreateBatch(ctx context.Context, tasks []models.Task) (int, error)
	FindDetail(ctx context.Context, taskID string) (models.TaskDetail, error)
	// OldestPending returns the profile's earliest pending task.
	OldestPending(ctx context.Context, profileID string) (models.TaskDetail, error)
	// Complete marks a pending task done. It returns ErrNotFound when the task is not pending.
	Complete(ctx context.Context, taskID, evidenceURL string, at time.Time) error
	// Reset moves a done task back to pending and reports whether anything changed.
	Reset(ctx context.Context, taskID string) (bool, error)
	CountPending(ctx context.Context, profileID string) (int, error)
	ListRecentForProfile(ctx context.Context, profileID string, limit int) ([]models.TaskDetail, error)
	ListPending(ctx context.Context) ([]models.TaskDetail, error)
	Monitor(ctx context.Context, filter models.TaskFilter) ([]models.TaskDetail, error)
	Stats(ctx context.Context) (models.Stats, error)
}

func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}

func completionPct(done, pending int) float64 {
	total := done + pending
	if total == 0 {
		return 0
	}
	pct := float64(done) * 100 / float64(total)
	return float64(int(pct*100+0.5)) / 100
}
