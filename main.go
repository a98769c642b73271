// Package main is the entry point for the receipt tracker API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"gitlab.com/yelinaung/receipt-tracker/internal/config"
	"gitlab.com/yelinaung/receipt-tracker/internal/database"
	"gitlab.com/yelinaung/receipt-tracker/internal/gemini"
	"gitlab.com/yelinaung/receipt-tracker/internal/google"
	"gitlab.com/yelinaung/receipt-tracker/internal/importer"
	"gitlab.com/yelinaung/receipt-tracker/internal/ingest"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"gitlab.com/yelinaung/receipt-tracker/internal/notify"
	"gitlab.com/yelinaung/receipt-tracker/internal/repository"
	"gitlab.com/yelinaung/receipt-tracker/internal/server"
	"gitlab.com/yelinaung/receipt-tracker/internal/storage"
	"gitlab.com/yelinaung/receipt-tracker/internal/syncer"
	"gitlab.com/yelinaung/receipt-tracker/internal/telemetry"
	"gitlab.com/yelinaung/receipt-tracker/internal/uploadsession"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("receipt-tracker %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Configure(cfg.LogLevel, cfg.LogFormat)
	logger.InitHashSalt()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.TelemetryExporter, version)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to set up telemetry")
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Log.Error().Err(err).Msg("Failed to flush telemetry")
		}
	}()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	logger.Log.Info().Msg("Database initialized successfully")

	receipts := repository.NewReceiptRepository(pool)
	categories := repository.NewCategoryRepository(pool)
	profiles := repository.NewProfileRepository(pool)
	syncJobs := repository.NewSyncJobRepository(pool)
	sessions := repository.NewUploadSessionRepository(pool)

	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	objects, err := storage.NewS3Store(ctx, storage.Options{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		PublicBaseURL:   cfg.S3PublicBaseURL,
		HTTPClient:      httpClient,
	})
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to create object store")
	}
	if cfg.S3PublicBaseURL == "" {
		logger.Log.Warn().Msg("S3_PUBLIC_BASE_URL is not set; stored receipts get expiring signed URLs")
	}
	storageHosts, err := objects.URLHosts(ctx)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to resolve object store host")
	}
	fetcher := storage.NewFetcher(httpClient, cfg.MaxUploadBytes, storageHosts...)

	extractor, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, gemini.WithHTTPClient(httpClient))
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	if !cfg.GoogleOAuthConfigured() {
		logger.Log.Warn().Msg("Google OAuth client is not configured; expired Google tokens cannot be refreshed")
	}
	refresher := google.NewTokenRefresher(profiles, google.OAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		HTTPClient:   httpClient,
	})
	services := google.NewServiceFactory(httpClient.Transport, google.Endpoints{})
	locker := database.NewAdvisoryLocker(pool)
	drive := google.NewDriveClient(services, refresher, locker, fetcher, cfg.DefaultDriveFolder)
	sheets := google.NewSheetsClient(services, refresher, locker)

	pipeline := ingest.New(ingest.Deps{
		Store:      objects,
		Extractor:  extractor,
		Receipts:   receipts,
		Categories: categories,
		Profiles:   profiles,
		Queue:      syncJobs,
		Fetcher:    fetcher,
	})
	manager := uploadsession.NewManager(sessions, objects, pipeline, cfg.UploadSessionTTL)

	notifier, err := notify.NewTelegram(cfg.TelegramBotToken)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to create Telegram notifier")
	}

	worker := syncer.New(syncer.Deps{
		Queue:    syncJobs,
		Receipts: receipts,
		Profiles: profiles,
		Drive:    drive,
		Sheets:   sheets,
		Notifier: notifier,
	}, syncer.Options{
		Workers:      cfg.SyncWorkers,
		MaxAttempts:  cfg.SyncMaxAttempts,
		PollInterval: cfg.SyncPollInterval,
	})

	api := server.New(server.Deps{
		Ingestor:   pipeline,
		Sessions:   manager,
		Drive:      drive,
		Sheets:     sheets,
		Migrator:   importer.New(sheets, receipts),
		Receipts:   receipts,
		Categories: categories,
		Profiles:   profiles,
		SyncJobs:   syncJobs,
		DB:         pool,
	}, server.Options{
		JWTSecret:      cfg.AuthJWTSecret,
		PublicBaseURL:  cfg.PublicBaseURL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		DefaultFolder:  cfg.DefaultDriveFolder,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(api.Handler(), "receipt-tracker"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Log.Info().Msg("Shutting down...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		manager.Listen(gctx, database.NewListener(pool))
		return nil
	})
	g.Go(func() error {
		manager.RunSweeper(gctx, uploadsession.SweepInterval)
		return nil
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		logger.Log.Info().Str("addr", cfg.HTTPAddr).Str("version", version).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Error().Err(err).Msg("Server stopped with error")
	}

	// In-flight phone uploads keep analyzing after their request returns.
	manager.Wait()
	logger.Log.Info().Msg("Shutdown complete")
}
