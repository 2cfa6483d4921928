package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"lookoutconnect/internal/config"
	"lookoutconnect/internal/domain"
	"lookoutconnect/internal/repository"
	"lookoutconnect/internal/service"
	"lookoutconnect/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		os.Stdout.WriteString("CRITICAL: Failed to load config: " + err.Error() + "\n")
		return 1
	}

	log, err := logger.NewSugared(cfg.App.LogLevel)
	if err != nil {
		os.Stdout.WriteString("CRITICAL: Failed to initialize logger: " + err.Error() + "\n")
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog := log.Desugar()

	uploader, err := repository.NewDetectUploader(&cfg.Upload, zlog)
	if err != nil {
		log.Errorf("Failed to create uploader: %v", err)
		return 1
	}

	var archive repository.ArchiveRepository
	if cfg.Archive.Enabled {
		archive, err = repository.NewS3Repository(ctx, &cfg.Archive, zlog)
		if err != nil {
			log.Errorf("Failed to create archive repository: %v", err)
			return 1
		}
	}

	svc := service.NewSnapshotService(uploader, archive, cfg, zlog)

	result, err := svc.Run(ctx)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSourceNotFound):
			log.Errorw("Source path does not exist", "source", cfg.Source.Path, "error", err)
		case errors.Is(err, domain.ErrOptimize):
			log.Errorf("Script terminated due to resizing/optimization failure: %v", err)
		default:
			log.Errorf("Run failed: %v", err)
		}
		return 1
	}

	log.Infof("Script finished (outcome: %s, upload success: %t)", result.Outcome, result.UploadSuccess)

	return 0
}
