package tracker

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vidproof/backend/internal/logging"
	"github.com/vidproof/backend/internal/models"
)

// MinNameLength is the minimum number of characters in a participant's full name.
const MinNameLength = 3

// ValidName reports whether name, already trimmed, is acceptable as a participant name.
func ValidName(name string) bool {
	return utf8.RuneCountInString(name) >= MinNameLength && !strings.HasPrefix(name, "/")
}

// RegisterProfile creates an active profile and assigns it one task per active video. It
// returns the profile and the number of tasks created.
func (s *Service) RegisterProfile(ctx context.Context, telegramID int64, fullName string) (models.Profile, int, error) {
	fullName = strings.TrimSpace(fullName)
	if telegramID == 0 || !ValidName(fullName) {
		return models.Profile{}, 0, ErrInvalidInput
	}

	now := s.clock()
	profile := models.Profile{
		ID:           s.newID(),
		TelegramID:   telegramID,
		FullName:     fullName,
		Active:       true,
		RegisteredAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		return models.Profile{}, 0, fmt.Errorf("create profile: %w", err)
	}

	created, err := s.AssignActiveVideos(ctx, profile)
	if err != nil {
		return profile, 0, err
	}

	logging.FromContext(ctx).Info("profile registered", "profileId", profile.ID, "telegramId", telegramID, "tasks", created)
	return profile, created, nil
}

// AssignActiveVideos gives profile one task per active video it is still missing and
// returns how many tasks were created. Running it again is harmless.
func (s *Service) AssignActiveVideos(ctx context.Context, profile models.Profile) (int, error) {
	videos, err := s.videos.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active videos: %w", err)
	}

	now := s.clock()
	tasks := make([]models.Task, 0, len(videos))
	for _, video := range videos {
		tasks = append(tasks, s.newTask(profile.ID, video.ID, now))
	}
	created, err := s.tasks.CreateBatch(ctx, tasks)
	if err != nil {
		return 0, fmt.Errorf("assign tasks to profile: %w", err)
	}
	return created, nil
}

// VideoInput describes a video to create.
type VideoInput struct {
	Title       string
	URL         string
	Description string
	Type        models.VideoType
	StorageKey  string
}

// CreateVideo stores an active video. File and telegram videos expire after the video TTL.
func (s *Service) CreateVideo(ctx context.Context, in VideoInput) (models.Video, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.URL = strings.TrimSpace(in.URL)
	if in.Type == "" {
		in.Type = models.VideoTypeLink
	}
	if in.Title == "" || in.URL == "" {
		return models.Video{}, ErrInvalidInput
	}

	now := s.clock()
	video := models.Video{
		ID:          s.newID(),
		Title:       in.Title,
		URL:         in.URL,
		Description: strings.TrimSpace(in.Description),
		Type:        in.Type,
		StorageKey:  in.StorageKey,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Type == models.VideoTypeFile || in.Type == models.VideoTypeTelegram {
		expires := now.Add(s.videoTTL)
		video.ExpiresAt = &expires
	}

	if err := s.videos.Create(ctx, video); err != nil {
		return models.Video{}, fmt.Errorf("create video: %w", err)
	}
	return video, nil
}

// AssignVideo creates one pending task per active profile for video and returns the
// profiles it was assigned to. No active profiles yields an empty slice and no error.
func (s *Service) AssignVideo(ctx context.Context, video models.Video) ([]models.Profile, error) {
	profiles, err := s.profiles.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active profiles: %w", err)
	}
	if len(profiles) == 0 {
		return nil, nil
	}

	now := s.clock()
	tasks := make([]models.Task, 0, len(profiles))
	for _, profile := range profiles {
		tasks = append(tasks, s.newTask(profile.ID, video.ID, now))
	}
	created, err := s.tasks.CreateBatch(ctx, tasks)
	if err != nil {
		return nil, fmt.Errorf("assign video to profiles: %w", err)
	}

	logging.FromContext(ctx).Info("video assigned", "videoId", video.ID, "profiles", len(profiles), "tasks", created)
	return profiles, nil
}

// PublishVideo creates a video and assigns it to every active profile.
func (s *Service) PublishVideo(ctx context.Context, in VideoInput) (models.Video, int, error) {
	video, err := s.CreateVideo(ctx, in)
	if err != nil {
		return models.Video{}, 0, err
	}
	profiles, err := s.AssignVideo(ctx, video)
	if err != nil {
		return video, 0, err
	}
	return video, len(profiles), nil
}

// UploadVideo stores a video file under videos/ and publishes it. The stored object is
// removed again when the video row cannot be created.
func (s *Service) UploadVideo(ctx context.Context, title, description, filename string, r io.Reader, contentType string) (models.Video, int, error) {
	if s.objects == nil {
		return models.Video{}, 0, fmt.Errorf("upload video: object storage not configured")
	}
	if strings.TrimSpace(title) == "" {
		return models.Video{}, 0, ErrInvalidInput
	}

	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".mp4"
	}
	key := fmt.Sprintf("videos/%d_%s%s", s.clock().UnixMilli(), s.newID(), ext)

	url, err := s.objects.Save(ctx, key, r, contentType)
	if err != nil {
		return models.Video{}, 0, fmt.Errorf("store video file: %w", err)
	}

	video, err := s.CreateVideo(ctx, VideoInput{
		Title:       title,
		URL:         url,
		Description: description,
		Type:        models.VideoTypeFile,
		StorageKey:  key,
	})
	if err != nil {
		if delErr := s.objects.Delete(ctx, key); delErr != nil {
			logging.FromContext(ctx).Error("remove orphaned video file", "key", key, "error", delErr)
		}
		return models.Video{}, 0, err
	}

	profiles, err := s.AssignVideo(ctx, video)
	if err != nil {
		return video, 0, err
	}
	return video, len(profiles), nil
}

// SetVideoActive toggles whether a video is assigned to new profiles.
func (s *Service) SetVideoActive(ctx context.Context, id string, active bool) error {
	return s.videos.SetActive(ctx, id, active)
}

// SetProfileActive toggles whether a profile receives new tasks and broadcasts.
func (s *Service) SetProfileActive(ctx context.Context, id string, active bool) error {
	return s.profiles.SetActive(ctx, id, active)
}

// ListVideos returns every video, newest first.
func (s *Service) ListVideos(ctx context.Context) ([]models.Video, error) {
	return s.videos.List(ctx)
}

// ListProfiles returns every profile ordered by name.
func (s *Service) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	return s.profiles.List(ctx)
}

// Monitor returns task monitor rows matching filter.
func (s *Service) Monitor(ctx context.Context, filter models.TaskFilter) ([]models.TaskDetail, error) {
	return s.tasks.Monitor(ctx, filter)
}

// Stats returns the dashboard counters.
func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	return s.tasks.Stats(ctx)
}

func (s *Service) newTask(profileID, videoID string, now time.Time) models.Task {
	return models.Task{
		ID:        s.newID(),
		VideoID:   videoID,
		ProfileID: profileID,
		Status:    models.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
