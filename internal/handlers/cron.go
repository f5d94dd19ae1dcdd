package handlers

import (
	"net/http"

	"github.com/vidproof/backend/internal/logging"
)

// CronHandler exposes the scheduled jobs to an external scheduler.
type CronHandler struct {
	Jobs Jobs
}

type reminderResponse struct {
	Participants int `json:"participants"`
	PendingTasks int `json:"pendingTasks"`
	deliveryResponse
}

// Reminders handles GET /api/cron/reminders.
func (h CronHandler) Reminders(w http.ResponseWriter, r *http.Request) {
	ctx, span := logging.StartSpan(r.Context(), "cron.reminders")
	report, err := h.Jobs.SendReminders(ctx)
	span.EndWithError(err)
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, "failed to send reminders")
		return
	}
	respondJSON(ctx, w, http.StatusOK, reminderResponse{
		Participants:     report.Participants,
		PendingTasks:     report.PendingTasks,
		deliveryResponse: deliverySummary(report.Result),
	})
}

// Cleanup handles GET /api/cron/cleanup.
func (h CronHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	ctx, span := logging.StartSpan(r.Context(), "cron.cleanup")
	report, err := h.Jobs.CleanupExpiredVideos(ctx)
	span.EndWithError(err)
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, "failed to clean up videos")
		return
	}
	respondJSON(ctx, w, http.StatusOK, report)
}
