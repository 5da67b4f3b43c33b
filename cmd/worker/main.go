package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nadmax/harvq/internal/config"
	"github.com/nadmax/harvq/internal/export"
	"github.com/nadmax/harvq/internal/harvest"
	"github.com/nadmax/harvq/internal/keyword"
	"github.com/nadmax/harvq/internal/logger"
	"github.com/nadmax/harvq/internal/notify"
	"github.com/nadmax/harvq/internal/queue"
	"github.com/nadmax/harvq/internal/repository"
	"github.com/nadmax/harvq/internal/session"
	"github.com/nadmax/harvq/internal/worker"
	"github.com/nadmax/harvq/internal/worker/handlers"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
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
		repo = pg
	}

	q, err := queue.NewQueue(cfg.Redis.Addr, repo)
	if err != nil {
		lg.Fatalw("failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
	}
	defer func() {
		if err := q.Close(); err != nil {
			lg.Warnw("failed to close worker queue", "error", err)
		}
	}()

	nc, err := nats.Connect(cfg.Session.NatsURL, nats.Name("harvq-"+cfg.Worker.ID))
	if err != nil {
		lg.Fatalw("failed to connect to session gateway", "url", cfg.Session.NatsURL, "error", err)
	}
	defer nc.Close()

	client := session.NewClient(nc, session.Options{
		SubjectPrefix: cfg.Session.SubjectPrefix,
		Timeout:       cfg.Session.Timeout,
		Rate:          cfg.Session.Rate,
		Burst:         cfg.Session.Burst,
	}, lg.Named("session"))

	expander, err := keyword.NewExpander(cfg.Keywords)
	if err != nil {
		lg.Fatalw("failed to build keyword expander", "expander", cfg.Keywords.Kind, "error", err)
	}

	harvester := harvest.NewHarvester(client, keyword.NewFilter(expander), cfg.Harvest.Options, lg.Named("harvest"))
	handler := handlers.NewHarvestHandler(harvester, export.NewExporter(cfg.Export.OutputDir), lg.Named("handler"))

	w := worker.NewWorker(cfg.Worker.ID, q, handler.Handle, lg.Named("worker"))
	w.SetConcurrency(cfg.Worker.Concurrency)
	w.SetPollInterval(cfg.Worker.PollInterval)
	w.SetClaimTimeout(cfg.Worker.ClaimTimeout)
	if n := buildNotifier(cfg.Notify, lg.Named("notify")); n != nil {
		w.SetNotifier(n)
	}

	lg.Infow("worker starting",
		"worker_id", cfg.Worker.ID,
		"concurrency", cfg.Worker.Concurrency,
		"output_dir", cfg.Export.OutputDir,
		"history", repo != nil,
	)
	w.Start(ctx)
	lg.Info("worker shut down")
}

func buildNotifier(cfg config.NotifyConfig, logger *zap.SugaredLogger) notify.Notifier {
	var notifiers notify.Multi

	if cfg.Email.Enabled() {
		notifiers = append(notifiers, notify.NewEmailNotifier(
			cfg.Email.APIKey, "", cfg.Email.FromName, cfg.Email.FromEmail, cfg.Email.To, logger,
		))
	}

	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Warnw("telegram notifications disabled", "error", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}

	if len(notifiers) == 0 {
		return nil
	}
	return notifiers
}
