package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"immobilier/server/config"
	"immobilier/server/internal/api"
	"immobilier/server/internal/auth"
	"immobilier/server/internal/database"
	"immobilier/server/internal/geoapi"
	"immobilier/server/internal/loader"
	"immobilier/server/internal/metrics"
	"immobilier/server/internal/notify"
	"immobilier/server/internal/processor"
	"immobilier/server/internal/queue"
	"immobilier/server/internal/scheduler"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, keeping info")
	}

	logger.Infof("Using database at: %s", cfg.Database.Path)
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	hasher := auth.NewPasswordHasher(0)
	if cfg.Auth.AdminUsername != "" {
		created, err := auth.BootstrapAdmin(context.Background(), db, hasher, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword)
		if err != nil {
			logger.WithError(err).Fatal("Failed to bootstrap admin account")
		}
		logger.WithFields(logrus.Fields{
			"username": cfg.Auth.AdminUsername,
			"created":  created,
		}).Info("Admin account ready")
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	dvfLoader := loader.New(loader.Options{
		DataDir:          cfg.Ingestion.DataDir,
		BatchSize:        cfg.Ingestion.BatchSize,
		FallbackEncoding: cfg.Ingestion.FallbackEncoding,
		HTTPTimeout:      cfg.Ingestion.HTTPTimeout,
		RetryInitial:     cfg.Ingestion.RetryInitial,
		RetryWindow:      cfg.Ingestion.MaxRetryWindow,
	}, nil, logger)

	communes := geoapi.NewClient(geoapi.Options{
		BaseURL:          cfg.Communes.APIURL,
		Timeout:          cfg.Communes.HTTPTimeout,
		RetryInitial:     cfg.Communes.RetryInitial,
		RetryWindow:      cfg.Communes.RetryWindow,
		FailureThreshold: cfg.Communes.BreakerFailures,
		OpenTimeout:      cfg.Communes.BreakerOpenTimeout,
	}, logger)

	proc := processor.New(db, dvfLoader, communes, processor.Options{
		SourceURL:   cfg.Ingestion.SourceURL,
		OutlierMode: cfg.Ingestion.OutlierMode,
		StrictDates: cfg.Ingestion.StrictDates,
		Dedup:       cfg.Ingestion.Dedup,
	}, m, logger)

	telegram := notify.NewService(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	if telegram.Enabled() {
		proc.WithNotifier(telegram)
		logger.Info("Telegram job notifications enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs := queue.NewJobQueue(cfg.Queue.BufferSize, logger)
	jobs.Subscribe(proc.HandleJob)
	jobs.OnDepthChange(m.SetQueueDepth)
	jobs.Start(ctx)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(jobs, cfg.Scheduler.Hour, cfg.Scheduler.RunOnStartup, logger)
		sched.Start()
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		logger.WithError(err).Fatal("Invalid JWT configuration")
	}

	handler := api.NewHandler(api.Deps{
		DB:       db,
		Jobs:     jobs,
		Tokens:   tokens,
		Hasher:   hasher,
		Upstream: communes,
		Logger:   logger,
	})

	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, handler, api.RouteOptions{
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     m,
		Gatherer:    prometheus.DefaultGatherer,
		AuthLimiter: api.NewRateLimiter(ctx, cfg.Auth.RateLimit, cfg.Auth.RateBurst),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	if sched != nil {
		sched.Stop()
	}
	if err := jobs.Close(); err != nil {
		logger.WithError(err).Error("Failed to close job queue")
	}
}
