package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Brownie44l1/detect-offload/internal/config"
	"github.com/Brownie44l1/detect-offload/internal/handlers"
	"github.com/Brownie44l1/detect-offload/internal/jobs"
	"github.com/Brownie44l1/detect-offload/internal/logger"
	"github.com/Brownie44l1/detect-offload/internal/metric"
	"github.com/Brownie44l1/detect-offload/internal/model"
	"github.com/Brownie44l1/detect-offload/internal/publish"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init(cfg.AppName, cfg.AppLogLevel)
	metric.Init(cfg.StatsdAddress, cfg.AppName, cfg.AppEnv, cfg.AppMetricSamplingRate)
	defer metric.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector, err := model.NewONNXDetector(cfg.OrtLibraryPath, model.DetectorConfig{
		InputSize:           cfg.ModelInputSize,
		Labels:              cfg.ModelLabels,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		IouThreshold:        cfg.IouThreshold,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize detector")
	}
	defer detector.Close()

	store, err := jobs.NewStore(cfg.UploadDir, cfg.OutputDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize job store")
	}
	models, err := jobs.NewModelStage(cfg.UploadDir, cfg.ModelFileName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize model stage")
	}

	var publisher publish.Publisher = publish.Noop{}
	if cfg.S3Enabled {
		publisher, err = publish.NewS3Publisher(ctx, publish.S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 publisher")
		}
	}

	service := jobs.NewService(jobs.ServiceConfig{
		Store:            store,
		Models:           models,
		IDs:              jobs.NewIDGenerator(time.Now),
		Runner:           model.NewRunner(detector),
		Publisher:        publisher,
		InferenceTimeout: cfg.InferenceTimeout,
	})
	defer service.Close()

	handler := handlers.NewHandler(service, cfg.MaxUploadBytes)
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.AppPort),
		Handler:           handlers.NewRouter(handler, cfg.AppEnv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Msgf("Server starting on port %d", cfg.AppPort)
	log.Info().Msgf("Staged model path: %s", models.Path())
	log.Info().Msgf("Output root: %s", store.OutputDir())
	log.Info().Msgf("Classes: %v", cfg.ModelLabels)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	<-shutdownDone
	log.Info().Msg("Server stopped")
}
