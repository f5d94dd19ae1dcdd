package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vidproof/backend/internal/models"
)

func seedMemory(t *testing.T) (*MemoryStore, models.Profile, []models.Video) {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	profile := models.Profile{ID: "p-1", TelegramID: 42, FullName: "Ana Quispe", Active: true, CreatedAt: base}
	if err := store.Profiles().Create(ctx, profile); err != nil {
		t.Fatalf("create profile: %v", err)
	}

	videos := []models.Video{
		{ID: "v-b", Title: "Second", Active: true, CreatedAt: base.Add(time.Minute)},
		{ID: "v-a", Title: "First", Active: true, CreatedAt: base},
	}
	for _, video := range videos {
		if err := store.Videos().Create(ctx, video); err != nil {
			t.Fatalf("create video: %v", err)
		}
	}
	return store, profile, videos
}

func TestMemoryProfileRepository_RejectsDuplicateTelegramID(t *testing.T) {
	store, profile, _ := seedMemory(t)

	dup := profile
	dup.ID = "p-2"
	if err := store.Profiles().Create(context.Background(), dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryTaskRepository_CreateBatchSkipsExistingPairs(t *testing.T) {
	store, profile, videos := seedMemory(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []models.Task{
		{ID: "t-1", ProfileID: profile.ID, VideoID: videos[0].ID, CreatedAt: now},
		{ID: "t-2", ProfileID: profile.ID, VideoID: videos[1].ID, CreatedAt: now},
	}
	inserted, err := store.Tasks().CreateBatch(ctx, batch)
	if err != nil || inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d (%v)", inserted, err)
	}

	again := []models.Task{{ID: "t-3", ProfileID: profile.ID, VideoID: videos[0].ID, CreatedAt: now}}
	inserted, err = store.Tasks().CreateBatch(ctx, again)
	if err != nil || inserted != 0 {
		t.Fatalf("expected duplicate pair to be skipped, got %d (%v)", inserted, err)
	}

	if _, err := store.Tasks().CreateBatch(ctx, []models.Task{{ID: "t-4", ProfileID: "missing", VideoID: videos[0].ID}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown profile, got %v", err)
	}
}

func TestMemoryTaskRepository_OldestPendingBreaksTiesByVideoCreation(t *testing.T) {
	store, profile, videos := seedMemory(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Same assignment instant; v-a was created first.
	if _, err := store.Tasks().CreateBatch(ctx, []models.Task{
		{ID: "t-1", ProfileID: profile.ID, VideoID: videos[0].ID, CreatedAt: now},
		{ID: "t-2", ProfileID: profile.ID, VideoID: videos[1].ID, CreatedAt: now},
	}); err != nil {
		t.Fatalf("create tasks: %v", err)
	}

	oldest, err := store.Tasks().OldestPending(ctx, profile.ID)
	if err != nil {
		t.Fatalf("oldest pending: %v", err)
	}
	if oldest.VideoID != "v-a" {
		t.Fatalf("expected task for v-a, got %s", oldest.VideoID)
	}
}

func TestMemoryTaskRepository_CompleteAndReset(t *testing.T) {
	store, profile, videos := seedMemory(t)
	ctx := context.Background()
	tasks := store.Tasks()

	if _, err := tasks.CreateBatch(ctx, []models.Task{{ID: "t-1", ProfileID: profile.ID, VideoID: videos[0].ID}}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	changed, err := tasks.Reset(ctx, "t-1")
	if err != nil || changed {
		t.Fatalf("reset of pending task should be a no-op, got %v (%v)", changed, err)
	}

	at := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := tasks.Complete(ctx, "t-1", "https://cdn.example.com/e.jpg", at); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := tasks.Complete(ctx, "t-1", "https://cdn.example.com/other.jpg", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound completing a done task, got %v", err)
	}

	stats, _ := tasks.Stats(ctx)
	if stats.DoneTasks != 1 || stats.PendingTasks != 0 || stats.CompletionPct != 100 {
		t.Fatalf("unexpected stats after completion: %+v", stats)
	}

	changed, err = tasks.Reset(ctx, "t-1")
	if err != nil || !changed {
		t.Fatalf("expected reset to change a done task, got %v (%v)", changed, err)
	}
	detail, err := tasks.FindDetail(ctx, "t-1")
	if err != nil {
		t.Fatalf("find detail: %v", err)
	}
	if detail.Status != models.TaskStatusPending || detail.EvidenceURL != "" || detail.CompletedAt != nil {
		t.Fatalf("reset did not clear evidence: %+v", detail)
	}

	if _, err := tasks.Reset(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound resetting unknown task, got %v", err)
	}
}

func TestMemoryVideoRepository_ExpireClearsStorage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	for _, v := range []models.Video{
		{ID: "old", Type: models.VideoTypeFile, URL: "https://cdn/x.mp4", StorageKey: "videos/x.mp4", Active: true, ExpiresAt: &past},
		{ID: "fresh", Type: models.VideoTypeFile, StorageKey: "videos/y.mp4", Active: true, ExpiresAt: &future},
		{ID: "link", Type: models.VideoTypeLink, Active: true},
	} {
		if err := store.Videos().Create(ctx, v); err != nil {
			t.Fatalf("create video: %v", err)
		}
	}

	expired, _ := store.Videos().ListExpired(ctx, now)
	if len(expired) != 1 || expired[0].ID != "old" {
		t.Fatalf("unexpected expired videos: %+v", expired)
	}

	if err := store.Videos().Expire(ctx, "old"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	video, _ := store.Videos().FindByID(ctx, "old")
	if video.Active || video.StorageKey != "" || video.URL != "" {
		t.Fatalf("expected expired video to be cleared, got %+v", video)
	}

	expired, _ = store.Videos().ListExpired(ctx, now)
	if len(expired) != 0 {
		t.Fatalf("expected nothing left to expire, got %+v", expired)
	}
}

func TestCompletionPctRoundsToTwoDecimals(t *testing.T) {
	if got := completionPct(1, 2); got != 33.33 {
		t.Fatalf("expected 33.33, got %v", got)
	}
	if got := completionPct(0, 0); got != 0 {
		t.Fatalf("expected 0 for no tasks, got %v", got)
	}
}
