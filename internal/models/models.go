package models

import (
	"strings"
	"time"
)

// Profile represents a participant registered through the bot or the admin API.
type Profile struct {
	ID           string    `json:"id"`
	TelegramID   int64     `json:"telegramId"`
	FullName     string    `json:"fullName"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registeredAt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// VideoType describes where a video is hosted.
type VideoType string

const (
	VideoTypeLink     VideoType = "link"
	VideoTypeFile     VideoType = "file"
	VideoTypeTelegram VideoType = "telegram"
)

// TelegramVideoPrefix marks video URLs that hold a Telegram file id instead of a URL.
const TelegramVideoPrefix = "telegram:"

// Video is a piece of content every active participant must watch.
type Video struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Description string     `json:"description,omitempty"`
	Type        VideoType  `json:"type"`
	StorageKey  string     `json:"storageKey,omitempty"`
	Active      bool       `json:"active"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TelegramFileID returns the Telegram file id for telegram-hosted videos.
func (v Video) TelegramFileID() (string, bool) {
	if v.Type != VideoTypeTelegram {
		return "", false
	}
	fileID, ok := strings.CutPrefix(v.URL, TelegramVideoPrefix)
	if !ok || fileID == "" {
		return "", false
	}
	return fileID, true
}

// TaskStatus is the completion state of a task.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusDone    TaskStatus = "done"
)

// Task links one profile to one video.
type Task struct {
	ID          string     `json:"id"`
	VideoID     string     `json:"videoId"`
	ProfileID   string     `json:"profileId"`
	Status      TaskStatus `json:"status"`
	EvidenceURL string     `json:"evidenceUrl,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TaskDetail is a task joined with its video and profile display data.
type TaskDetail struct {
	TaskID      string     `json:"taskId"`
	Status      TaskStatus `json:"status"`
	EvidenceURL string     `json:"evidenceUrl,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	AssignedAt  time.Time  `json:"assignedAt"`
	VideoID     string     `json:"videoId"`
	VideoTitle  string     `json:"videoTitle"`
	VideoURL    string     `json:"videoUrl"`
	ProfileID   string     `json:"profileId"`
	TelegramID  int64      `json:"telegramId"`
	FullName    string     `json:"fullName"`
}

// TaskFilter narrows task monitor queries. Empty fields match everything.
type TaskFilter struct {
	Status    TaskStatus `json:"status,omitempty"`
	VideoID   string     `json:"videoId,omitempty"`
	ProfileID string     `json:"profileId,omitempty"`
}

// Stats aggregates dashboard counters.
type Stats struct {
	ActiveProfiles int     `json:"activeProfiles"`
	ActiveVideos   int     `json:"activeVideos"`
	PendingTasks   int     `json:"pendingTasks"`
	DoneTasks      int     `json:"doneTasks"`
	CompletionPct  float64 `json:"completionPct"`
}
