package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/catalogimport/internal/catalog/postgres"
	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/notify"
	"github.com/JonMunkholm/catalogimport/internal/queue"
	"github.com/JonMunkholm/catalogimport/internal/web"
)

func main() {
	// Overload lets .env override the environment
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_encoding", cfg.Import.Encoding,
		"queue_enabled", cfg.Queue.Enabled(),
		"kafka_enabled", len(cfg.Notify.KafkaBrokers) > 0,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	pool, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to database")

	store := postgres.New(pool)
	opts := []core.Option{core.WithLogger(slog.Default())}

	var kafkaNotifier *notify.KafkaNotifier
	if len(cfg.Notify.KafkaBrokers) > 0 {
		kafkaNotifier = notify.NewKafkaNotifier(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic, slog.Default())
		opts = append(opts, core.WithNotifier(notify.Multi{notify.LogNotifier{}, kafkaNotifier}))
	}

	var (
		rdb  *redis.Client
		jobs *queue.Queue
	)
	if cfg.Queue.Enabled() {
		rdb, err = queue.Connect(ctx, cfg.Queue.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		jobs = queue.New(rdb, cfg.Queue.Key)
		opts = append(opts, core.WithDispatcher(jobs))
	}

	service, err := core.NewService(store, store, cfg.Import, opts...)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg, store.Ping)

	jobCtx, cancelJobs := context.WithCancel(context.Background())

	go service.StartReportJanitor(jobCtx, core.JanitorConfig{
		Retention:     cfg.Import.ReportRetention,
		CheckInterval: cfg.Import.JanitorInterval,
	})

	if jobs != nil {
		worker := queue.NewWorker(jobs, service, cfg.Queue.PollTimeout, slog.Default())
		go worker.Run(jobCtx)
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		status := service.Limiter().Status()
		if status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
		}
		if err := service.Drain(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		}

		if kafkaNotifier != nil {
			if err := kafkaNotifier.Close(); err != nil {
				slog.Error("close kafka writer", "error", err)
			}
		}
		if rdb != nil {
			rdb.Close()
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
	slog.Info("server stopped")
}
