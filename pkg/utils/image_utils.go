package utils

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"lookoutconnect/internal/domain"
)

const timestampLayout = "20060102_150405"

type ResizeOptions struct {
	Width   int
	Height  int
	Quality int
}

type ImageProcessor struct {
	log *zap.Logger
	now func() time.Time
}

func NewImageProcessor(log *zap.Logger) *ImageProcessor {
	return &ImageProcessor{log: log, now: time.Now}
}

// FindNewestImage returns the .jpg/.jpeg file in dir with the latest
// modification time, or nil when the directory holds none. Subdirectories
// are not searched.
func (p *ImageProcessor) FindNewestImage(dir string) (*domain.CandidateFile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, dir)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrSourceNotFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var newest *domain.CandidateFile
	for _, entry := range entries {
		if !IsJPEGName(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		fi, err := os.Stat(path)
		if err != nil {
			p.log.Warn("Skipping unreadable file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		if fi.IsDir() {
			continue
		}

		// ReadDir is sorted by name, so equal mtimes keep the first name.
		if newest == nil || fi.ModTime().After(newest.ModTime) {
			newest = &domain.CandidateFile{Path: path, ModTime: fi.ModTime()}
		}
	}

	return newest, nil
}

func IsJPEGName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".jpg" || ext == ".jpeg"
}

// Optimize stretches the image at srcPath to opts.Width x opts.Height and
// keeps whichever of the original and the re-encoded copy is smaller. Ties
// keep the original. The original is never modified or removed.
func (p *ImageProcessor) Optimize(srcPath, outputDir string, opts ResizeOptions) (*domain.ProcessedFile, error) {
	stamp := p.now().Format(timestampLayout)
	suffix := uuid.NewString()[:8]
	tempPath := filepath.Join(outputDir, fmt.Sprintf("temp_resized_%s_%s.jpg", stamp, suffix))

	p.log.Info("Resizing image",
		zap.String("input", srcPath),
		zap.Int("width", opts.Width),
		zap.Int("height", opts.Height))

	keepTemp := false
	defer func() {
		if keepTemp {
			return
		}
		if err := os.Remove(tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.log.Error("Failed to remove temp file", zap.String("path", tempPath), zap.Error(err))
		}
	}()

	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrOptimize, err)
	}
	originalSize := srcInfo.Size()
	p.log.Info("Original file size", zap.String("size", FormatSize(originalSize)))

	resizedSize, err := p.resizeToFile(srcPath, tempPath, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrOptimize, err)
	}
	p.log.Info("Temp resized size", zap.String("size", FormatSize(resizedSize)))

	if originalSize <= resizedSize {
		p.log.Info("Keeping original file, it is smaller or equal in size",
			zap.String("path", srcPath))
		return &domain.ProcessedFile{Path: srcPath, Size: originalSize}, nil
	}

	finalPath := filepath.Join(outputDir, fmt.Sprintf("camera_snapshot_resized_%s_%s.jpg", stamp, suffix))
	if err := os.Rename(tempPath, finalPath); err != nil {
		return nil, fmt.Errorf("%w: rename resized file: %w", domain.ErrOptimize, err)
	}
	keepTemp = true

	p.log.Info("Keeping resized file",
		zap.String("path", finalPath),
		zap.String("saved", FormatSize(originalSize-resizedSize)))

	return &domain.ProcessedFile{Path: finalPath, Resized: true, Size: resizedSize}, nil
}

func (p *ImageProcessor) resizeToFile(srcPath, dstPath string, opts ResizeOptions) (int64, error) {
	file, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", srcPath, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	out, err := os.Create(dstPath)
	if err != nil {
		return 0, err
	}

	if err := jpeg.Encode(out, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		out.Close()
		return 0, fmt.Errorf("encode %s: %w", dstPath, err)
	}
	if err := out.Close(); err != nil {
		return 0, err
	}

	info, err := os.Stat(dstPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func FormatSize(size int64) string {
	switch {
	case size >= 1024*1024:
		return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
	case size >= 1024:
		return fmt.Sprintf("%.2f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
