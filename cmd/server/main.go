package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/whisper-service/internal/admission"
	"github.com/codebuildervaibhav/whisper-service/internal/cleanup"
	"github.com/codebuildervaibhav/whisper-service/internal/config"
	"github.com/codebuildervaibhav/whisper-service/internal/logging"
	"github.com/codebuildervaibhav/whisper-service/internal/queue"
	"github.com/codebuildervaibhav/whisper-service/internal/server"
	"github.com/codebuildervaibhav/whisper-service/internal/service"
	"github.com/codebuildervaibhav/whisper-service/internal/transcription"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logBuffer := logging.NewLogBuffer(1000)
	logger := logging.New(cfg.Server.Mode, logBuffer)
	defer logger.Sync()

	if err := cleanup.EnsureTempDirExists(cfg.Storage.TempDir); err != nil {
		logger.Fatal("Failed to create temp directory", zap.Error(err))
	}

	logger.Info("Initializing components...")

	engine := transcription.NewWhisperEngine(transcription.WhisperConfig{
		Model:       cfg.Whisper.Model,
		Device:      cfg.Whisper.Device,
		ComputeType: cfg.Whisper.ComputeType,
		CPUThreads:  cfg.Whisper.Threads,
		NumWorkers:  cfg.Whisper.NumWorkers,
		Python:      cfg.Whisper.Python,
		Normalize:   cfg.Whisper.Normalize,
		TempDir:     cfg.Storage.TempDir,
	}, logger)

	slot := queue.NewSlot(logger)
	slot.Start()

	svc := service.NewTranscribeService(admission.NewGate(), slot, engine, cfg.MaxTranscriptionTime(), logger)

	cleanupScheduler := cleanup.NewScheduler(
		cfg.Storage.TempDir,
		time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Cleanup.MaxAgeHours)*time.Hour,
		logger,
	)
	cleanupScheduler.Start()

	app := server.New(svc, server.Options{
		Model:         cfg.Whisper.Model,
		TempDir:       cfg.Storage.TempDir,
		MaxFileSizeMB: cfg.Limits.MaxFileSizeMB,
		AccessLog:     true,
		Logs:          logBuffer,
		Logger:        logger,
	})

	// The model loads in the background so /health answers right away;
	// /transcribe returns 503 until it is ready.
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), cfg.ModelLoadTimeout())
	go func() {
		defer cancelLoad()
		if err := svc.LoadModel(loadCtx); err != nil {
			logger.Error("Model failed to load, transcription disabled", zap.Error(err))
		}
	}()

	addr := cfg.Addr()
	logger.Info("Server starting",
		zap.String("addr", addr),
		zap.String("model", cfg.Whisper.Model),
		zap.Duration("max_transcription_time", cfg.MaxTranscriptionTime()))
	logger.Info("Endpoints: POST /transcribe, GET /ws/transcribe, GET /health, GET /logs")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logger.Info("Shutting down gracefully...")
		cancelLoad()
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			logger.Warn("HTTP shutdown", zap.Error(err))
		}
	}()

	if err := app.Listen(addr); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}

	// Stopping the slot cancels a running job, which kills the worker process
	slot.Stop()
	if err := engine.Close(); err != nil {
		logger.Warn("Whisper worker exit", zap.Error(err))
	}
	cleanupScheduler.Stop()
}
