package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Source  SourceConfig
	Upload  UploadConfig
	Image   ImageConfig
	Archive ArchiveConfig
	App     AppConfig
}

type SourceConfig struct {
	Path             string
	ThresholdMinutes int
}

type UploadConfig struct {
	URL         string
	APIKey      string
	ContentType string
	Timeout     time.Duration
}

type ImageConfig struct {
	TargetWidth  int
	TargetHeight int
	JPEGQuality  int
}

// ArchiveConfig points at an S3-compatible bucket that receives a copy of
// every uploaded snapshot. Ignored unless Enabled.
type ArchiveConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UsePathStyle    bool
}

type AppConfig struct {
	WorkDir  string
	LogLevel string
}

func Load() (*Config, error) {
	viper.SetDefault("SOURCE_PATH", "/path/to/your/image/directory")
	viper.SetDefault("TIME_THRESHOLD_MINUTES", 5)
	viper.SetDefault("UPLOAD_URL", "https://lax.pop.roboticscats.com/api/detects")
	viper.SetDefault("UPLOAD_API_KEY", "")
	viper.SetDefault("UPLOAD_CONTENT_TYPE", "image/jpeg")
	viper.SetDefault("UPLOAD_TIMEOUT", 30*time.Second)
	viper.SetDefault("IMAGE_TARGET_WIDTH", 1920)
	viper.SetDefault("IMAGE_TARGET_HEIGHT", 1080)
	viper.SetDefault("IMAGE_JPEG_QUALITY", 75)
	viper.SetDefault("ARCHIVE_ENABLED", false)
	viper.SetDefault("ARCHIVE_S3_ENDPOINT", "")
	viper.SetDefault("ARCHIVE_S3_ACCESS_KEY_ID", "")
	viper.SetDefault("ARCHIVE_S3_SECRET_ACCESS_KEY", "")
	viper.SetDefault("ARCHIVE_S3_BUCKET_NAME", "snapshots")
	viper.SetDefault("ARCHIVE_S3_REGION", "us-east-1")
	viper.SetDefault("ARCHIVE_S3_USE_PATH_STYLE", true)
	viper.SetDefault("APP_WORK_DIR", "")
	viper.SetDefault("LOG_LEVEL", "info")

	viper.AutomaticEnv()

	cfg := &Config{
		Source: SourceConfig{
			Path:             viper.GetString("SOURCE_PATH"),
			ThresholdMinutes: viper.GetInt("TIME_THRESHOLD_MINUTES"),
		},
		Upload: UploadConfig{
			URL:         viper.GetString("UPLOAD_URL"),
			APIKey:      viper.GetString("UPLOAD_API_KEY"),
			ContentType: viper.GetString("UPLOAD_CONTENT_TYPE"),
			Timeout:     viper.GetDuration("UPLOAD_TIMEOUT"),
		},
		Image: ImageConfig{
			TargetWidth:  viper.GetInt("IMAGE_TARGET_WIDTH"),
			TargetHeight: viper.GetInt("IMAGE_TARGET_HEIGHT"),
			JPEGQuality:  viper.GetInt("IMAGE_JPEG_QUALITY"),
		},
		Archive: ArchiveConfig{
			Enabled:         viper.GetBool("ARCHIVE_ENABLED"),
			Endpoint:        viper.GetString("ARCHIVE_S3_ENDPOINT"),
			AccessKeyID:     viper.GetString("ARCHIVE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: viper.GetString("ARCHIVE_S3_SECRET_ACCESS_KEY"),
			BucketName:      viper.GetString("ARCHIVE_S3_BUCKET_NAME"),
			Region:          viper.GetString("ARCHIVE_S3_REGION"),
			UsePathStyle:    viper.GetBool("ARCHIVE_S3_USE_PATH_STYLE"),
		},
		App: AppConfig{
			WorkDir:  viper.GetString("APP_WORK_DIR"),
			LogLevel: viper.GetString("LOG_LEVEL"),
		},
	}

	if err := resolvePaths(cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// resolvePaths makes the source path absolute and defaults the work dir to
// the directory holding the executable.
func resolvePaths(cfg *Config) error {
	src, err := filepath.Abs(cfg.Source.Path)
	if err != nil {
		return fmt.Errorf("source path %s: %w", cfg.Source.Path, err)
	}
	cfg.Source.Path = src

	if cfg.App.WorkDir == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		cfg.App.WorkDir = filepath.Dir(exe)
	}

	workDir, err := filepath.Abs(cfg.App.WorkDir)
	if err != nil {
		return fmt.Errorf("work dir %s: %w", cfg.App.WorkDir, err)
	}
	cfg.App.WorkDir = workDir

	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Upload.URL == "" {
		errs = append(errs, errors.New("UPLOAD_URL is required"))
	}
	if c.Upload.ContentType == "" {
		errs = append(errs, errors.New("UPLOAD_CONTENT_TYPE is required"))
	}
	if c.Upload.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_TIMEOUT must be positive, got %s", c.Upload.Timeout))
	}
	if c.Image.TargetWidth <= 0 || c.Image.TargetHeight <= 0 {
		errs = append(errs, fmt.Errorf("target resolution must be positive, got %dx%d",
			c.Image.TargetWidth, c.Image.TargetHeight))
	}
	if c.Image.JPEGQuality < 1 || c.Image.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("IMAGE_JPEG_QUALITY must be in [1,100], got %d", c.Image.JPEGQuality))
	}
	if c.Source.ThresholdMinutes < 0 {
		errs = append(errs, fmt.Errorf("TIME_THRESHOLD_MINUTES must not be negative, got %d", c.Source.ThresholdMinutes))
	}
	if c.Archive.Enabled && c.Archive.BucketName == "" {
		errs = append(errs, errors.New("ARCHIVE_S3_BUCKET_NAME is required when archiving is enabled"))
	}

	return errors.Join(errs...)
}

func (c *SourceConfig) Threshold() time.Duration {
	return time.Duration(c.ThresholdMinutes) * time.Minute
}
