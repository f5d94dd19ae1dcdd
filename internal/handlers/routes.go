package handlers

import (
	"net/http"
	"time"

	"github.com/vidproof/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Updates  UpdateProcessor
	Tracker  Tracker
	Jobs     Jobs
	Webhooks WebhookRegistrar
	// Database is pinged by the health check when set.
	Database Pinger

	WebhookURL     string
	WebhookSecret  string
	UpdateTimeout  time.Duration
	CronSecret     string
	AdminTokenHash string
	MaxUploadBytes int64

	// Limiter throttles admin, cron and setup endpoints per client IP.
	Limiter middleware.RateLimiter
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Database: deps.Database}
	webhook := WebhookHandler{Updates: deps.Updates, Secret: deps.WebhookSecret, Timeout: deps.UpdateTimeout}
	admin := AdminHandler{Tracker: deps.Tracker, MaxUploadBytes: deps.MaxUploadBytes}
	cron := CronHandler{Jobs: deps.Jobs}
	setup := SetupHandler{Webhooks: deps.Webhooks, URL: deps.WebhookURL, Secret: deps.WebhookSecret}

	adminOnly := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, middleware.RateLimit(deps.Limiter, "admin"), middleware.RequireTokenHash(deps.AdminTokenHash))
	}
	cronOnly := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, middleware.RateLimit(deps.Limiter, "cron"), middleware.RequireSecret(deps.CronSecret))
	}

	mux.HandleFunc("GET /healthz", health.Handle)

	mux.HandleFunc("POST /api/telegram/webhook", webhook.Receive)
	mux.HandleFunc("GET /api/telegram/webhook", webhook.Status)
	mux.Handle("POST /api/telegram/setup", adminOnly(setup.Register))
	mux.Handle("GET /api/telegram/setup", adminOnly(setup.Info))

	mux.Handle("GET /api/cron/reminders", cronOnly(cron.Reminders))
	mux.Handle("GET /api/cron/cleanup", cronOnly(cron.Cleanup))

	mux.Handle("GET /api/v1/stats", adminOnly(admin.Stats))
	mux.Handle("GET /api/v1/tasks", adminOnly(admin.Tasks))
	mux.Handle("POST /api/v1/tasks/{id}/reject", adminOnly(admin.Reject))
	mux.Handle("GET /api/v1/videos", adminOnly(admin.ListVideos))
	mux.Handle("POST /api/v1/videos", adminOnly(admin.CreateVideo))
	mux.Handle("POST /api/v1/videos/{id}/active", adminOnly(admin.SetVideoActive))
	mux.Handle("POST /api/v1/videos/{id}/notify", adminOnly(admin.NotifyVideo))
	mux.Handle("GET /api/v1/profiles", adminOnly(admin.ListProfiles))
	mux.Handle("POST /api/v1/profiles", adminOnly(admin.CreateProfile))
	mux.Handle("POST /api/v1/profiles/{id}/active", adminOnly(admin.SetProfileActive))
}
