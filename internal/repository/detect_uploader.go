package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"lookoutconnect/internal/config"
)

// maxResponseBody caps how much of the API response is read for logging.
const maxResponseBody = 64 * 1024

type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// UploadError is returned when the endpoint answers with a non-2xx status.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload rejected with status %d", e.StatusCode)
}

type detectUploader struct {
	client   *http.Client
	endpoint *url.URL
	cfg      *config.UploadConfig
	log      *zap.Logger
}

func NewDetectUploader(cfg *config.UploadConfig, log *zap.Logger) (Uploader, error) {
	endpoint, err := buildEndpoint(cfg.URL, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("invalid upload url: %w", err)
	}

	return &detectUploader{
		client:   &http.Client{Timeout: cfg.Timeout},
		endpoint: endpoint,
		cfg:      cfg,
		log:      log,
	}, nil
}

func (u *detectUploader) Upload(ctx context.Context, path string) error {
	u.log.Info("Uploading image", zap.String("file", filepath.Base(path)))

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint.String(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", u.cfg.ContentType)

	resp, err := u.client.Do(req)
	if err != nil {
		u.log.Error("Request error during upload", zap.Error(err))
		return fmt.Errorf("post image: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		u.log.Warn("Failed to read response body", zap.Error(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		u.log.Error("HTTP error during upload",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return &UploadError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	u.log.Info("Image uploaded",
		zap.Int("status", resp.StatusCode),
		zap.Int("size", len(data)),
		zap.String("body", string(body)))

	return nil
}

// buildEndpoint appends apiKey as a query parameter when one is set.
func buildEndpoint(rawURL, apiKey string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		q := parsed.Query()
		q.Set("apiKey", apiKey)
		parsed.RawQuery = q.Encode()
	}
	return parsed, nil
}
