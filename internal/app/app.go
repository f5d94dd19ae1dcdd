package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vidproof/backend/internal/config"
	"github.com/vidproof/backend/internal/db"
	"github.com/vidproof/backend/internal/handlers"
	"github.com/vidproof/backend/internal/httpserver"
	"github.com/vidproof/backend/internal/logging"
	"github.com/vidproof/backend/internal/middleware"
	"github.com/vidproof/backend/internal/telegram"
	"github.com/vidproof/backend/internal/tracker"
)

// Run bootstraps the VidProof backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, poll, migrate, seed, webhook, remind, or cleanup")
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "poll":
		return poll(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "seed":
		return runSeed(ctx, args[1:])
	case "webhook":
		return runWebhook(ctx, args[1:])
	case "remind":
		return runJob(ctx, "reminders", func(ctx context.Context, svc *tracker.Service) (any, error) {
			return svc.SendReminders(ctx)
		})
	case "cleanup":
		return runJob(ctx, "cleanup", func(ctx context.Context, svc *tracker.Service) (any, error) {
			return svc.CleanupExpiredVideos(ctx)
		})
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// runtime is a fully wired process: configuration, logger, database and transport.
type runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	client     *telegram.Client
	components *components
	closers    []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func setup(ctx context.Context) (context.Context, *runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return ctx, nil, err
	}

	logger, logCloser := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	slog.SetDefault(logger)
	ctx = logging.WithLogger(ctx, logger)

	rt := &runtime{cfg: cfg, logger: logger}
	rt.closers = append(rt.closers, func() { _ = logCloser.Close() })

	var pool db.Pool
	if cfg.StoreDriver == config.StoreDriverPostgres {
		pgPool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			rt.Close()
			return ctx, nil, err
		}
		rt.closers = append(rt.closers, pgPool.Close)
		pool = pgPool
	}

	client, err := telegram.NewClient(cfg.Telegram)
	if err != nil {
		rt.Close()
		return ctx, nil, err
	}
	rt.client = client

	rt.components, err = buildDependencies(ctx, pool, cfg, client)
	if err != nil {
		rt.Close()
		return ctx, nil, err
	}
	return ctx, rt, nil
}

func serve(ctx context.Context) error {
	ctx, rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, rt.components.handlers)

	handler := middleware.RequestLogger(logger)(mux)

	srv := httpserver.New(rt.cfg.AppPort, handler, httpserver.Options{
		WriteTimeout: rt.cfg.UpdateTimeout + 15*time.Second,
	})

	logger.Info("starting http server", "port", rt.cfg.AppPort, "bot", rt.client.Username())

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

const pollTimeoutSeconds = 50

// poll runs the bot with long polling instead of a webhook, for local development.
func poll(ctx context.Context) error {
	ctx, rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.client.Poll(ctx, rt.components.engine, telegram.PollOptions{
		Timeout:       pollTimeoutSeconds,
		UpdateTimeout: rt.cfg.UpdateTimeout,
	})
}

func runWebhook(ctx context.Context, args []string) error {
	command := "info"
	if len(args) > 0 {
		command = args[0]
	}

	ctx, rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	switch command {
	case "set":
		url := rt.cfg.Telegram.WebhookURL
		if len(args) > 1 {
			url = args[1]
		}
		if err := rt.client.SetWebhook(ctx, url, rt.cfg.Telegram.WebhookSecret); err != nil {
			return err
		}
		fmt.Printf("webhook set to %s\n", url)
		return nil
	case "info":
		info, err := rt.client.WebhookInfo(ctx)
		if err != nil {
			return err
		}
		return printJSON(info)
	default:
		return fmt.Errorf("unknown webhook command %q", command)
	}
}

func runJob(ctx context.Context, name string, job func(context.Context, *tracker.Service) (any, error)) error {
	ctx, rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, span := logging.StartSpan(ctx, "job."+name)
	report, err := job(ctx, rt.components.tracker)
	span.EndWithError(err)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
