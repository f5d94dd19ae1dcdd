package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vidproof/backend/internal/models"
)

// MemoryStore keeps profiles, videos and tasks in process memory. It backs
// VIDPROOF_STORE=memory and doubles as a fake for package tests. The three repositories
// returned by Profiles, Videos and Tasks share its state.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
	videos   map[string]models.Video
	tasks    map[string]models.Task
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]models.Profile),
		videos:   make(map[string]models.Video),
		tasks:    make(map[string]models.Task),
		now:      time.Now,
	}
}

// Profiles returns the store's profile repository.
func (s *MemoryStore) Profiles() *MemoryProfileRepository { return &MemoryProfileRepository{s: s} }

// Videos returns the store's video repository.
func (s *MemoryStore) Videos() *MemoryVideoRepository { return &MemoryVideoRepository{s: s} }

// Tasks returns the store's task repository.
func (s *MemoryStore) Tasks() *MemoryTaskRepository { return &MemoryTaskRepository{s: s} }

// MemoryProfileRepository implements ProfileRepository on a MemoryStore.
type MemoryProfileRepository struct{ s *MemoryStore }

func (r *MemoryProfileRepository) Create(_ context.Context, profile models.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.profiles[profile.ID]; ok {
		return ErrConflict
	}
	for _, existing := range r.s.profiles {
		if existing.TelegramID == profile.TelegramID {
			return ErrConflict
		}
	}
	r.s.profiles[profile.ID] = profile
	return nil
}

func (r *MemoryProfileRepository) FindByID(_ context.Context, id string) (models.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	profile, ok := r.s.profiles[id]
	if !ok {
		return models.Profile{}, ErrNotFound
	}
	return profile, nil
}

func (r *MemoryProfileRepository) FindByTelegramID(_ context.Context, telegramID int64) (models.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, profile := range r.s.profiles {
		if profile.TelegramID == telegramID {
			return profile, nil
		}
	}
	return models.Profile{}, ErrNotFound
}

func (r *MemoryProfileRepository) List(_ context.Context) ([]models.Profile, error) {
	return r.s.listProfiles(false), nil
}

func (r *MemoryProfileRepository) ListActive(_ context.Context) ([]models.Profile, error) {
	return r.s.listProfiles(true), nil
}

func (r *MemoryProfileRepository) SetActive(_ context.Context, id string, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	profile, ok := r.s.profiles[id]
	if !ok {
		return ErrNotFound
	}
	profile.Active = active
	profile.UpdatedAt = r.s.now().UTC()
	r.s.profiles[id] = profile
	return nil
}

func (s *MemoryStore) listProfiles(activeOnly bool) []models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles := make([]models.Profile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		if activeOnly && !profile.Active {
			continue
		}
		profiles = append(profiles, profile)
	}
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].FullName != profiles[j].FullName {
			return profiles[i].FullName < profiles[j].FullName
		}
		return profiles[i].ID < profiles[j].ID
	})
	return profiles
}

// MemoryVideoRepository implements VideoRepository on a MemoryStore.
type MemoryVideoRepository struct{ s *MemoryStore }

func (r *MemoryVideoRepository) Create(_ context.Context, video models.Video) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.videos[video.ID]; ok {
		return ErrConflict
	}
	if video.Type == "" {
		video.Type = models.VideoTypeLink
	}
	r.s.videos[video.ID] = video
	return nil
}

func (r *MemoryVideoRepository) FindByID(_ context.Context, id string) (models.Video, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	video, ok := r.s.videos[id]
	if !ok {
		return models.Video{}, ErrNotFound
	}
	return video, nil
}

// List returns every video, newest first.
func (r *MemoryVideoRepository) List(_ context.Context) ([]models.Video, error) {
	videos := r.s.listVideos(func(models.Video) bool { return true })
	for i, j := 0, len(videos)-1; i < j; i, j = i+1, j-1 {
		videos[i], videos[j] = videos[j], videos[i]
	}
	return videos, nil
}

// ListActive returns active videos, oldest first.
func (r *MemoryVideoRepository) ListActive(_ context.Context) ([]models.Video, error) {
	return r.s.listVideos(func(v models.Video) bool { return v.Active }), nil
}

func (r *MemoryVideoRepository) SetActive(_ context.Context, id string, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	video, ok := r.s.videos[id]
	if !ok {
		return ErrNotFound
	}
	video.Active = active
	video.UpdatedAt = r.s.now().UTC()
	r.s.videos[id] = video
	return nil
}

func (r *MemoryVideoRepository) ListExpired(_ context.Context, now time.Time) ([]models.Video, error) {
	return r.s.listVideos(func(v models.Video) bool {
		return v.ExpiresAt != nil && v.ExpiresAt.Before(now) && (v.Active || v.StorageKey != "")
	}), nil
}

func (r *MemoryVideoRepository) Expire(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	video, ok := r.s.videos[id]
	if !ok {
		return ErrNotFound
	}
	video.Active = false
	video.StorageKey = ""
	if video.Type == models.VideoTypeFile {
		video.URL = ""
	}
	video.UpdatedAt = r.s.now().UTC()
	r.s.videos[id] = video
	return nil
}

// listVideos returns matching videos ordered by creation time ascending.
func (s *MemoryStore) listVideos(keep func(models.Video) bool) []models.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()

	videos := make([]models.Video, 0, len(s.videos))
	for _, video := range s.videos {
		if keep(video) {
			videos = append(videos, video)
		}
	}
	sort.Slice(videos, func(i, j int) bool {
		if !videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].CreatedAt.Before(videos[j].CreatedAt)
		}
		return videos[i].ID < videos[j].ID
	})
	return videos
}

// MemoryTaskRepository implements TaskRepository on a MemoryStore.
type MemoryTaskRepository struct{ s *MemoryStore }

func (r *MemoryTaskRepository) CreateBatch(_ context.Context, tasks []models.Task) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, task := range tasks {
		if _, ok := r.s.profiles[task.ProfileID]; !ok {
			return 0, ErrNotFound
		}
		if _, ok := r.s.videos[task.VideoID]; !ok {
			return 0, ErrNotFound
		}
	}

	inserted := 0
	for _, task := range tasks {
		if r.s.hasTaskLocked(task.ProfileID, task.VideoID) {
			continue
		}
		if _, ok := r.s.tasks[task.ID]; ok {
			continue
		}
		if task.Status == "" {
			task.Status = models.TaskStatusPending
		}
		r.s.tasks[task.ID] = task
		inserted++
	}
	return inserted, nil
}

func (r *MemoryTaskRepository) FindDetail(_ context.Context, taskID string) (models.TaskDetail, error) {
	details := r.s.details(func(t models.Task) bool { return t.ID == taskID })
	if len(details) == 0 {
		return models.TaskDetail{}, ErrNotFound
	}
	return details[0].TaskDetail, nil
}

func (r *MemoryTaskRepository) OldestPending(_ context.Context, profileID string) (models.TaskDetail, error) {
	details := r.s.details(func(t models.Task) bool {
		return t.ProfileID == profileID && t.Status == models.TaskStatusPending
	})
	if len(details) == 0 {
		return models.TaskDetail{}, ErrNotFound
	}
	sort.Slice(details, func(i, j int) bool { return details[i].assignedBefore(details[j]) })
	return details[0].TaskDetail, nil
}

func (r *MemoryTaskRepository) Complete(_ context.Context, taskID, evidenceURL string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	task, ok := r.s.tasks[taskID]
	if !ok || task.Status != models.TaskStatusPending {
		return ErrNotFound
	}
	completed := at.UTC()
	task.Status = models.TaskStatusDone
	task.EvidenceURL = evidenceURL
	task.CompletedAt = &completed
	task.UpdatedAt = completed
	r.s.tasks[taskID] = task
	return nil
}

func (r *MemoryTaskRepository) Reset(_ context.Context, taskID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	task, ok := r.s.tasks[taskID]
	if !ok {
		return false, ErrNotFound
	}
	if task.Status != models.TaskStatusDone {
		return false, nil
	}
	task.Status = models.TaskStatusPending
	task.EvidenceURL = ""
	task.CompletedAt = nil
	task.UpdatedAt = r.s.now().UTC()
	r.s.tasks[taskID] = task
	return true, nil
}

func (r *MemoryTaskRepository) CountPending(_ context.Context, profileID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	count := 0
	for _, task := range r.s.tasks {
		if task.ProfileID == profileID && task.Status == models.TaskStatusPending {
			count++
		}
	}
	return count, nil
}

func (r *MemoryTaskRepository) ListRecentForProfile(_ context.Context, profileID string, limit int) ([]models.TaskDetail, error) {
	if limit <= 0 {
		limit = 10
	}
	details := r.s.details(func(t models.Task) bool { return t.ProfileID == profileID })
	sort.Slice(details, func(i, j int) bool { return details[j].assignedBefore(details[i]) })
	if len(details) > limit {
		details = details[:limit]
	}
	return unwrapDetails(details), nil
}

func (r *MemoryTaskRepository) ListPending(_ context.Context) ([]models.TaskDetail, error) {
	details := r.s.details(func(t models.Task) bool { return t.Status == models.TaskStatusPending })
	sort.Slice(details, func(i, j int) bool {
		a, b := details[i], details[j]
		if a.FullName != b.FullName {
			return a.FullName < b.FullName
		}
		if a.ProfileID != b.ProfileID {
			return a.ProfileID < b.ProfileID
		}
		return a.assignedBefore(b)
	})
	return unwrapDetails(details), nil
}

func (r *MemoryTaskRepository) Monitor(_ context.Context, filter models.TaskFilter) ([]models.TaskDetail, error) {
	details := r.s.details(func(t models.Task) bool {
		if filter.Status != "" && t.Status != filter.Status {
			return false
		}
		if filter.VideoID != "" && t.VideoID != filter.VideoID {
			return false
		}
		if filter.ProfileID != "" && t.ProfileID != filter.ProfileID {
			return false
		}
		return true
	})
	sort.Slice(details, func(i, j int) bool {
		a, b := details[i], details[j]
		if !a.AssignedAt.Equal(b.AssignedAt) {
			return a.AssignedAt.After(b.AssignedAt)
		}
		return a.TaskID < b.TaskID
	})
	return unwrapDetails(details), nil
}

func (r *MemoryTaskRepository) Stats(_ context.Context) (models.Stats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var stats models.Stats
	for _, profile := range r.s.profiles {
		if profile.Active {
			stats.ActiveProfiles++
		}
	}
	for _, video := range r.s.videos {
		if video.Active {
			stats.ActiveVideos++
		}
	}
	for _, task := range r.s.tasks {
		switch task.Status {
		case models.TaskStatusPending:
			stats.PendingTasks++
		case models.TaskStatusDone:
			stats.DoneTasks++
		}
	}
	stats.CompletionPct = completionPct(stats.DoneTasks, stats.PendingTasks)
	return stats, nil
}

func (s *MemoryStore) hasTaskLocked(profileID, videoID string) bool {
	for _, task := range s.tasks {
		if task.ProfileID == profileID && task.VideoID == videoID {
			return true
		}
	}
	return false
}

// monitorRow mirrors a task_monitor row, including the video creation time used for ordering.
type monitorRow struct {
	models.TaskDetail
	videoCreatedAt time.Time
}

func (a monitorRow) assignedBefore(b monitorRow) bool {
	if !a.AssignedAt.Equal(b.AssignedAt) {
		return a.AssignedAt.Before(b.AssignedAt)
	}
	if !a.videoCreatedAt.Equal(b.videoCreatedAt) {
		return a.videoCreatedAt.Before(b.videoCreatedAt)
	}
	return strings.Compare(a.TaskID, b.TaskID) < 0
}

func (s *MemoryStore) details(keep func(models.Task) bool) []monitorRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]monitorRow, 0)
	for _, task := range s.tasks {
		if !keep(task) {
			continue
		}
		video := s.videos[task.VideoID]
		profile := s.profiles[task.ProfileID]
		rows = append(rows, monitorRow{
			TaskDetail: models.TaskDetail{
				TaskID:      task.ID,
				Status:      task.Status,
				EvidenceURL: task.EvidenceURL,
				CompletedAt: task.CompletedAt,
				AssignedAt:  task.CreatedAt,
				VideoID:     video.ID,
				VideoTitle:  video.Title,
				VideoURL:    video.URL,
				ProfileID:   profile.ID,
				TelegramID:  profile.TelegramID,
				FullName:    profile.FullName,
			},
			videoCreatedAt: video.CreatedAt,
		})
	}
	return rows
}

func unwrapDetails(rows []monitorRow) []models.TaskDetail {
	if len(rows) == 0 {
		return nil
	}
	details := make([]models.TaskDetail, len(rows))
	for i, row := range rows {
		details[i] = row.TaskDetail
	}
	return details
}

var (
	_ ProfileRepository = (*MemoryProfileRepository)(nil)
	_ VideoRepository   = (*MemoryVideoRepository)(nil)
	_ TaskRepository    = (*MemoryTaskRepository)(nil)
)
