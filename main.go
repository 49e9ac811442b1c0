package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"mediarelay/internal/auth"
	"mediarelay/internal/cleanup"
	"mediarelay/internal/config"
	"mediarelay/internal/credential"
	"mediarelay/internal/ingest"
	"mediarelay/internal/logging"
	"mediarelay/internal/merge"
	"mediarelay/internal/metrics"
	"mediarelay/internal/notify"
	"mediarelay/internal/pipeline"
	"mediarelay/internal/platform"
	"mediarelay/internal/publish"
	"mediarelay/internal/s3"
	"mediarelay/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()
	logger := logging.New("mediarelay")
	defer logger.Sync()

	platformConfig, err := config.LoadPlatformConfig()
	if err != nil {
		logger.Error("failed to load platform config", "error", err)
		os.Exit(1)
	}
	profile := platformConfig.GetProfile(cfg.PlatformName)

	s3Client, err := s3.NewClient(ctx, cfg.S3Region, cfg.S3Bucket, cfg.AWSAccessKey, cfg.AWSSecretKey, cfg.S3Endpoint)
	if err != nil {
		logger.Error("failed to create S3 client", "error", err)
		os.Exit(1)
	}

	dynamoClient, err := store.NewDynamoClient(ctx, cfg.S3Region, cfg.AWSAccessKey, cfg.AWSSecretKey, "")
	if err != nil {
		logger.Error("failed to create DynamoDB client", "error", err)
		os.Exit(1)
	}

	sessions := store.NewSessionStore(dynamoClient, cfg.SessionsTable)
	creds := store.NewCredentialStore(dynamoClient, cfg.CredsTable)
	jobs := store.NewJobStore(dynamoClient, cfg.JobsTable)
	artifacts := store.NewArtifactStore(dynamoClient, cfg.ArtifactsTable)

	var credCache credential.Cache
	if cfg.RedisURL != "" {
		redisCache, err := credential.NewRedisCache(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to create credential cache", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		credCache = redisCache
	}

	var notifier notify.Notifier
	if cfg.NotifyQueueURL != "" {
		sqsNotifier, err := notify.NewSQSNotifier(ctx, cfg.S3Region, cfg.AWSAccessKey, cfg.AWSSecretKey, cfg.NotifyQueueURL, logger)
		if err != nil {
			logger.Error("failed to create SQS notifier", "error", err)
			os.Exit(1)
		}
		notifier = sqsNotifier
	}

	platformClient := platform.NewClient(platform.Config{
		TokenURL:     profile.TokenURL,
		SubmitURL:    profile.SubmitURL,
		StatusURL:    profile.StatusURL,
		ClientKey:    profile.ClientKey,
		ClientSecret: profile.ClientSecret,
	})

	collector := metrics.NewCollector()
	credManager := credential.NewManager(creds, credCache, platformClient, cfg.PlatformName,
		profile.RefreshBuffer(), profile.RefreshTokenTTL(), collector, logger)

	ingestService := ingest.NewService(sessions, s3Client, profile, collector, logger)
	assembler := merge.NewAssembler(sessions, artifacts, s3Client, profile, collector, logger)
	cleaner := cleanup.NewCoordinator(s3Client, collector, logger)
	submitter := publish.NewSubmitter(jobs, credManager, platformClient, collector, logger)
	poller := publish.NewPoller(jobs, credManager, platformClient, notifier,
		profile.PollInterval(), profile.MaxPollAttempts, collector, logger)

	pollBudget := profile.PollInterval()*time.Duration(profile.MaxPollAttempts) + 30*time.Second
	pipelineService := pipeline.NewService(assembler, submitter, poller, cleaner, jobs, pollBudget, logger)

	reconciler := publish.NewReconciler(ctx, jobs, sessions, poller, cleaner,
		profile.ReconcileAfter(), time.Minute, collector, logger)
	reconciler.Start()

	ingestHandler := ingest.NewHandler(ingestService, logger)
	pipelineHandler := pipeline.NewHandler(pipelineService, collector, logger)

	mux := http.NewServeMux()

	// APIs
	mux.HandleFunc("/v1/sessions", ingestHandler.HandleCreateSession)
	mux.HandleFunc("/v1/sessions/{session_id}/chunks/{index}", ingestHandler.HandleReceiveChunk)
	mux.HandleFunc("/v1/sessions/{session_id}/publish", pipelineHandler.HandlePublish)
	mux.HandleFunc("/v1/jobs/{job_id}", pipelineHandler.HandleJobStatus)
	mux.HandleFunc("/v1/jobs/{job_id}/cleanup", pipelineHandler.HandleCleanup)
	mux.HandleFunc("/metrics", pipelineHandler.HandleMetrics)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	middleware := auth.APIKeyMiddleware(&auth.Config{APIKey: cfg.APIKey})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      middleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "platform", cfg.PlatformName)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	reconciler.Shutdown()
	pipelineService.Wait()
	logger.Info("server exited")
}
