package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/vidproof/backend/internal/broadcast"
	"github.com/vidproof/backend/internal/logging"
	"github.com/vidproof/backend/internal/models"
	"github.com/vidproof/backend/internal/repositories"
	"github.com/vidproof/backend/internal/tracker"
)

const defaultMaxUploadBytes = 200 << 20

// AdminHandler implements the dashboard API.
type AdminHandler struct {
	Tracker        Tracker
	MaxUploadBytes int64
}

type createVideoRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	URL         string `json:"url" validate:"required,url,max=2048"`
	Description string `json:"description" validate:"max=2000"`
}

type uploadVideoForm struct {
	Title       string `validate:"required,max=200"`
	Description string `validate:"max=2000"`
}

type createProfileRequest struct {
	TelegramID int64  `json:"telegramId" validate:"required,gt=0"`
	FullName   string `json:"fullName" validate:"required,min=3,max=120"`
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type taskQuery struct {
	Status    string `validate:"omitempty,oneof=pending done"`
	VideoID   string `validate:"omitempty,uuid"`
	ProfileID string `validate:"omitempty,uuid"`
}

type createdResponse struct {
	Video    *models.Video   `json:"video,omitempty"`
	Profile  *models.Profile `json:"profile,omitempty"`
	Assigned int             `json:"assigned"`
}

type failedDelivery struct {
	ChatID int64  `json:"chatId"`
	Error  string `json:"error"`
}

type deliveryResponse struct {
	Delivered int              `json:"delivered"`
	Failed    int              `json:"failed"`
	Failures  []failedDelivery `json:"failures,omitempty"`
}

func deliverySummary(res broadcast.Result) deliveryResponse {
	out := deliveryResponse{Delivered: res.DeliveredCount(), Failed: res.FailedCount()}
	for _, f := range res.Failed {
		out.Failures = append(out.Failures, failedDelivery{ChatID: f.ChatID, Error: f.Err.Error()})
	}
	return out
}

// Stats handles GET /api/v1/stats.
func (h AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.Tracker.Stats(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("load stats", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	respondJSON(ctx, w, http.StatusOK, stats)
}

// Tasks handles GET /api/v1/tasks.
func (h AdminHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	query := taskQuery{
		Status:    strings.ToLower(strings.TrimSpace(q.Get("status"))),
		VideoID:   strings.TrimSpace(q.Get("video_id")),
		ProfileID: strings.TrimSpace(q.Get("profile_id")),
	}
	if err := validateStruct(query); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	tasks, err := h.Tracker.Monitor(ctx, models.TaskFilter{
		Status:    models.TaskStatus(query.Status),
		VideoID:   query.VideoID,
		ProfileID: query.ProfileID,
	})
	if err != nil {
		logging.FromContext(ctx).Error("load tasks", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load tasks")
		return
	}
	if tasks == nil {
		tasks = []models.TaskDetail{}
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"tasks": tasks})
}

// Reject handles POST /api/v1/tasks/{id}/reject.
func (h AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(r)
	if !ok {
		respondError(ctx, w, http.StatusNotFound, "task not found")
		return
	}

	res, err := h.Tracker.Reject(ctx, id)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "task not found")
		return
	case err != nil:
		logging.FromContext(ctx).Error("reject task", "taskId", id, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to reject task")
		return
	}
	respondJSON(ctx, w, http.StatusOK, res)
}

// ListVideos handles GET /api/v1/videos.
func (h AdminHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	videos, err := h.Tracker.ListVideos(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("list videos", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load videos")
		return
	}
	if videos == nil {
		videos = []models.Video{}
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"videos": videos})
}

// CreateVideo handles POST /api/v1/videos. A JSON body creates a link video; a multipart
// body with a file part uploads it.
func (h AdminHandler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.uploadVideo(w, r)
		return
	}

	ctx := r.Context()
	var req createVideoRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	video, assigned, err := h.Tracker.PublishVideo(ctx, tracker.VideoInput{
		Title:       req.Title,
		URL:         req.URL,
		Description: req.Description,
		Type:        models.VideoTypeLink,
	})
	if err != nil {
		h.videoError(w, r, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, createdResponse{Video: &video, Assigned: assigned})
}

func (h AdminHandler) uploadVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	reader, err := r.MultipartReader()
	if err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	var form uploadVideoForm
	for {
		part, err := reader.NextPart()
		if err != nil {
			respondError(ctx, w, http.StatusBadRequest, "multipart body has no file part")
			return
		}
		switch part.FormName() {
		case "title", "description":
			value, err := readFormValue(part)
			if err != nil {
				respondError(ctx, w, http.StatusBadRequest, "invalid form field")
				return
			}
			if part.FormName() == "title" {
				form.Title = value
			} else {
				form.Description = value
			}
			continue
		case "file":
		default:
			continue
		}

		if err := validateStruct(form); err != nil {
			respondError(ctx, w, http.StatusBadRequest, "title must precede the file part: "+err.Error())
			return
		}
		contentType := part.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		video, assigned, err := h.Tracker.UploadVideo(ctx, form.Title, form.Description, part.FileName(), part, contentType)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondError(ctx, w, http.StatusRequestEntityTooLarge, "file too large")
				return
			}
			h.videoError(w, r, err)
			return
		}
		respondJSON(ctx, w, http.StatusCreated, createdResponse{Video: &video, Assigned: assigned})
		return
	}
}

func (h AdminHandler) videoError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if errors.Is(err, tracker.ErrInvalidInput) {
		respondError(ctx, w, http.StatusBadRequest, "title and url are required")
		return
	}
	logging.FromContext(ctx).Error("create video", "error", err)
	respondError(ctx, w, http.StatusInternalServerError, "failed to create video")
}

// SetVideoActive handles POST /api/v1/videos/{id}/active.
func (h AdminHandler) SetVideoActive(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, "video", h.Tracker.SetVideoActive)
}

// NotifyVideo handles POST /api/v1/videos/{id}/notify.
func (h AdminHandler) NotifyVideo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(r)
	if !ok {
		respondError(ctx, w, http.StatusNotFound, "video not found")
		return
	}

	res, err := h.Tracker.NotifyVideo(ctx, id)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "video not found")
		return
	case errors.Is(err, tracker.ErrVideoInactive):
		respondError(ctx, w, http.StatusConflict, "video is inactive")
		return
	case err != nil:
		logging.FromContext(ctx).Error("notify video", "videoId", id, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to notify participants")
		return
	}
	respondJSON(ctx, w, http.StatusOK, deliverySummary(res))
}

// ListProfiles handles GET /api/v1/profiles.
func (h AdminHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profiles, err := h.Tracker.ListProfiles(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("list profiles", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load profiles")
		return
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"profiles": profiles})
}

// CreateProfile handles POST /api/v1/profiles.
func (h AdminHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	profile, assigned, err := h.Tracker.RegisterProfile(ctx, req.TelegramID, req.FullName)
	switch {
	case errors.Is(err, tracker.ErrInvalidInput):
		respondError(ctx, w, http.StatusBadRequest, "invalid full name")
		return
	case errors.Is(err, repositories.ErrConflict):
		respondError(ctx, w, http.StatusConflict, "telegram id already registered")
		return
	case err != nil:
		logging.FromContext(ctx).Error("create profile", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create profile")
		return
	}
	respondJSON(ctx, w, http.StatusCreated, createdResponse{Profile: &profile, Assigned: assigned})
}

// SetProfileActive handles POST /api/v1/profiles/{id}/active.
func (h AdminHandler) SetProfileActive(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, "profile", h.Tracker.SetProfileActive)
}

func (h AdminHandler) setActive(w http.ResponseWriter, r *http.Request, kind string, set func(ctx context.Context, id string, active bool) error) {
	ctx := r.Context()
	id, ok := pathID(r)
	if !ok {
		respondError(ctx, w, http.StatusNotFound, kind+" not found")
		return
	}

	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	err := set(ctx, id, *req.Active)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, kind+" not found")
		return
	case err != nil:
		logging.FromContext(ctx).Error("update active flag", "kind", kind, "id", id, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to update "+kind)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"id": id, "active": *req.Active})
}

// pathID returns the {id} path value when it is a well-formed identifier.
func pathID(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" || validate.Var(id, "uuid") != nil {
		return "", false
	}
	return id, true
}

func readFormValue(part io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, 4096))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
