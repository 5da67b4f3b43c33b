package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nadmax/harvq/internal/api"
	"github.com/nadmax/harvq/internal/config"
	"github.com/nadmax/harvq/internal/logger"
	"github.com/nadmax/harvq/internal/middleware"
	"github.com/nadmax/harvq/internal/queue"
	"github.com/nadmax/harvq/internal/repository"
	"github.com/nadmax/harvq/internal/runner"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("HARVQ_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	lg, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo repository.TaskRepository
	if cfg.Postgres.DSN != "" {
		pg, err := repository.NewPostgresTaskRepository(cfg.Postgres.DSN, lg.Named("repository"))
		if err != nil {
			lg.Fatalw("failed to connect to Postgres", "error", err)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				lg.Warnw("failed to close Postgres repository", "error", err)
			}
		}()

		if err := pg.Migrate(ctx); err != nil {
			lg.Fatalw("failed to migrate task history", "error", err)
		}
		repo = pg
	}

	q, err := queue.NewQueue(cfg.Redis.Addr, repo)
	if err != nil {
		lg.Fatalw("failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
	}
	defer func() {
		if err := q.Close(); err != nil {
			lg.Warnw("failed to close server queue", "error", err)
		}
	}()

	r := runner.New(q, cfg.Harvest.PostsLimitMax, lg.Named("runner"))
	apiHandler := api.NewAPI(r, q, lg.Named("api"))

	go startMetricsCollector(ctx, q, lg.Named("metrics"))

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      middleware.LoggingMiddleware(lg.Named("http"))(middleware.MetricsMiddleware(apiHandler)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			lg.Warnw("server shutdown failed", "error", err)
		}
	}()

	lg.Infow("server starting", "addr", srv.Addr, "redis", cfg.Redis.Addr, "history", repo != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Fatalw("server failed", "error", err)
	}
	lg.Info("server stopped")
}
