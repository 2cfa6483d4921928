package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lookoutconnect/internal/config"
	"lookoutconnect/internal/domain"
	"lookoutconnect/internal/repository"
	"lookoutconnect/pkg/utils"
)

const timeLayout = "2006-01-02 15:04:05"

type SnapshotService interface {
	Run(ctx context.Context) (*domain.RunResult, error)
}

type snapshotService struct {
	uploader repository.Uploader
	archive  repository.ArchiveRepository
	cfg      *config.Config
	log      *zap.Logger
	proc     *utils.ImageProcessor
	now      func() time.Time
}

// NewSnapshotService wires the pipeline. archive may be nil, in which case
// uploaded snapshots are not archived.
func NewSnapshotService(uploader repository.Uploader, archive repository.ArchiveRepository, cfg *config.Config, log *zap.Logger) SnapshotService {
	return &snapshotService{
		uploader: uploader,
		archive:  archive,
		cfg:      cfg,
		log:      log,
		proc:     utils.NewImageProcessor(log),
		now:      time.Now,
	}
}

// Run executes one pass of the pipeline. A nil error covers every outcome
// that should exit 0, including a failed upload.
func (s *snapshotService) Run(ctx context.Context) (*domain.RunResult, error) {
	candidate, err := s.proc.FindNewestImage(s.cfg.Source.Path)
	if err != nil {
		return nil, fmt.Errorf("locate newest image: %w", err)
	}

	if candidate == nil {
		s.log.Info("No image file found", zap.String("source", s.cfg.Source.Path))
		return &domain.RunResult{Outcome: domain.OutcomeNoImage}, nil
	}

	s.log.Info("Found newest image",
		zap.String("file", filepath.Base(candidate.Path)),
		zap.String("path", candidate.Path))

	result := &domain.RunResult{Candidate: candidate}

	if !s.isFresh(candidate) {
		s.log.Info("Newest file is older than threshold, nothing to upload",
			zap.Int("threshold_minutes", s.cfg.Source.ThresholdMinutes))
		result.Outcome = domain.OutcomeStale
		return result, nil
	}

	processed, err := s.proc.Optimize(candidate.Path, s.cfg.App.WorkDir, utils.ResizeOptions{
		Width:   s.cfg.Image.TargetWidth,
		Height:  s.cfg.Image.TargetHeight,
		Quality: s.cfg.Image.JPEGQuality,
	})
	if err != nil {
		return result, err
	}
	result.Processed = processed

	defer s.cleanup(candidate.Path, processed.Path)

	if err := s.uploader.Upload(ctx, processed.Path); err != nil {
		s.log.Error("Upload failed", zap.String("path", processed.Path), zap.Error(err))
		result.Outcome = domain.OutcomeUploadFailed
		return result, nil
	}

	result.Outcome = domain.OutcomeUploaded
	result.UploadSuccess = true

	if s.archive != nil {
		archiveCtx, cancel := context.WithTimeout(ctx, s.cfg.Upload.Timeout)
		defer cancel()

		key, err := s.archiveSnapshot(archiveCtx, processed)
		if err != nil {
			s.log.Warn("Failed to archive snapshot", zap.Error(err))
		} else {
			result.ArchiveKey = key
		}
	}

	return result, nil
}

func (s *snapshotService) isFresh(candidate *domain.CandidateFile) bool {
	threshold := s.now().Add(-s.cfg.Source.Threshold())

	s.log.Info("Checking file age",
		zap.String("file_mod_time", candidate.ModTime.Format(timeLayout)),
		zap.String("threshold_time", threshold.Format(timeLayout)),
		zap.Int("threshold_minutes", s.cfg.Source.ThresholdMinutes))

	return !candidate.ModTime.Before(threshold)
}

func (s *snapshotService) archiveSnapshot(ctx context.Context, processed *domain.ProcessedFile) (string, error) {
	file, err := os.Open(processed.Path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	key := fmt.Sprintf("snapshots/%s/%s.jpg", s.now().UTC().Format("2006/01/02"), uuid.NewString())
	if err := s.archive.UploadFile(ctx, key, file, processed.Size, s.cfg.Upload.ContentType); err != nil {
		return "", err
	}
	return key, nil
}

// cleanup removes the uploaded file when it is an optimizer artifact. The
// source file is never touched.
func (s *snapshotService) cleanup(sourcePath, uploadedPath string) {
	if samePath(sourcePath, uploadedPath) {
		s.log.Info("Retained original source file, no deletion necessary",
			zap.String("path", sourcePath))
		return
	}

	if err := os.Remove(uploadedPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Info("No processed file found for cleanup", zap.String("path", uploadedPath))
			return
		}
		s.log.Error("Failed to delete processed file", zap.String("path", uploadedPath), zap.Error(err))
		return
	}

	s.log.Info("Deleted processed file", zap.String("file", filepath.Base(uploadedPath)))
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
