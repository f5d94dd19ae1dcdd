package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vidproof/backend/internal/bot"
	"github.com/vidproof/backend/internal/config"
	"github.com/vidproof/backend/internal/db"
	"github.com/vidproof/backend/internal/handlers"
	"github.com/vidproof/backend/internal/logging"
	"github.com/vidproof/backend/internal/media"
	"github.com/vidproof/backend/internal/middleware"
	"github.com/vidproof/backend/internal/repositories"
	"github.com/vidproof/backend/internal/session"
	"github.com/vidproof/backend/internal/storage"
	"github.com/vidproof/backend/internal/tracker"
)

const (
	memoryObjectBaseURL = "memory://vidproof"
	rateLimiterTTL      = 10 * time.Minute
)

// transport is the chat transport as seen by the bot, the tracker and the setup endpoints.
type transport interface {
	bot.Messenger
	handlers.WebhookRegistrar
}

type objectStore interface {
	tracker.ObjectStore
	bot.EvidenceStore
}

type sessionStore interface {
	session.Store
	tracker.SessionSweeper
}

// components holds the wired application.
type components struct {
	tracker  *tracker.Service
	engine   *bot.Engine
	handlers handlers.Dependencies
}

// buildDependencies wires together concrete implementations. pool may be nil when the
// memory store is configured.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, tg transport) (*components, error) {
	if tg == nil {
		return nil, errors.New("app: chat transport is required")
	}
	logger := logging.FromContext(ctx)

	var (
		profiles repositories.ProfileRepository
		videos   repositories.VideoRepository
		tasks    repositories.TaskRepository
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		store := repositories.NewMemoryStore()
		profiles, videos, tasks = store.Profiles(), store.Videos(), store.Tasks()
	default:
		if pool == nil {
			return nil, errors.New("app: postgres store requires a database pool")
		}
		profiles = repositories.NewPostgresProfileRepository(pool)
		videos = repositories.NewPostgresVideoRepository(pool)
		tasks = repositories.NewPostgresTaskRepository(pool)
	}

	var sessions sessionStore
	switch cfg.SessionStore {
	case config.StoreDriverPostgres:
		if pool == nil {
			return nil, errors.New("app: postgres session store requires a database pool")
		}
		sessions = repositories.NewPostgresSessionStore(pool)
	default:
		sessions = session.NewMemoryStore()
	}

	var objects objectStore
	if cfg.ObjectStore.Bucket != "" {
		s3, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("configure object storage: %w", err)
		}
		objects = s3
	} else {
		logger.Warn("no bucket configured, keeping evidence and uploads in memory")
		objects = storage.NewMemoryStorage(memoryObjectBaseURL)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, using UTC", "timezone", cfg.Timezone, "error", err)
		loc = time.UTC
	}

	svc := tracker.NewService(tracker.Dependencies{
		Profiles:    profiles,
		Videos:      videos,
		Tasks:       tasks,
		Messenger:   tg,
		Objects:     objects,
		Sessions:    sessions,
		Concurrency: cfg.BroadcastConcurrency,
		VideoTTL:    cfg.VideoTTL,
	})

	engine := bot.NewEngine(bot.Dependencies{
		Profiles:  profiles,
		Tasks:     tasks,
		Tracker:   svc,
		Sessions:  session.NewManager(sessions, cfg.SessionTTL),
		Locker:    session.NewLocker(),
		Messenger: tg,
		Evidence:  objects,
		Compress:  media.Compress,
		Location:  loc,
	})

	deps := handlers.Dependencies{
		Updates:        engine,
		Tracker:        svc,
		Jobs:           svc,
		Webhooks:       tg,
		WebhookURL:     cfg.Telegram.WebhookURL,
		WebhookSecret:  cfg.Telegram.WebhookSecret,
		UpdateTimeout:  cfg.UpdateTimeout,
		CronSecret:     cfg.CronSecret,
		AdminTokenHash: cfg.AdminTokenHash,
		Limiter:        middleware.NewIPRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.RateLimitBurst, rateLimiterTTL),
	}
	if pinger, ok := pool.(handlers.Pinger); ok {
		deps.Database = pinger
	}

	return &components{tracker: svc, engine: engine, handlers: deps}, nil
}
