package service

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lookoutconnect/internal/config"
	"lookoutconnect/internal/domain"
	"lookoutconnect/internal/repository"
)

var fixedNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	cfg      *config.Config
	srcDir   string
	workDir  string
	requests chan []byte
}

func newEnv(t *testing.T, status int) *testEnv {
	t.Helper()
	env := &testEnv{
		srcDir:   t.TempDir(),
		workDir:  t.TempDir(),
		requests: make(chan []byte, 1),
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/detects", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		assert.NoError(t, err)
		env.requests <- body
		c.Status(status)
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	env.cfg = &config.Config{
		Source: config.SourceConfig{Path: env.srcDir, ThresholdMinutes: 5},
		Upload: config.UploadConfig{
			URL:         srv.URL + "/api/detects",
			ContentType: "image/jpeg",
			Timeout:     5 * time.Second,
		},
		Image: config.ImageConfig{TargetWidth: 64, TargetHeight: 48, JPEGQuality: 75},
		App:   config.AppConfig{WorkDir: env.workDir},
	}
	return env
}

func (e *testEnv) service(t *testing.T, archive repository.ArchiveRepository) *snapshotService {
	t.Helper()
	up, err := repository.NewDetectUploader(&e.cfg.Upload, zap.NewNop())
	require.NoError(t, err)
	return e.serviceWith(up, archive)
}

func (e *testEnv) serviceWith(up repository.Uploader, archive repository.ArchiveRepository) *snapshotService {
	svc := NewSnapshotService(up, archive, e.cfg, zap.NewNop()).(*snapshotService)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func writeNoiseJPEG(t *testing.T, path string, w, h int, mtime time.Time) {
	t.Helper()
	rnd := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 100}))
	require.NoError(t, f.Close())
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	list, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, e := range list {
		names = append(names, e.Name())
	}
	return names
}

type failingUploader struct {
	calls int
	seen  []string
}

func (f *failingUploader) Upload(_ context.Context, path string) error {
	f.calls++
	_, err := os.Stat(path)
	if err == nil {
		f.seen = append(f.seen, path)
	}
	return errors.New("connection refused")
}

type recordingArchive struct {
	key  string
	body string
	err  error
}

func (r *recordingArchive) UploadFile(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, _ := io.ReadAll(body)
	r.key = key
	r.body = string(data)
	return r.err
}

type stalledArchive struct{}

func (stalledArchive) UploadFile(ctx context.Context, _ string, _ io.Reader, _ int64, _ string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(3 * time.Second):
		return nil
	}
}

func TestRunMissingSourceDir(t *testing.T) {
	env := newEnv(t, http.StatusOK)
	env.cfg.Source.Path = filepath.Join(env.srcDir, "missing")

	_, err := env.service(t, nil).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}

func TestRunNoImage(t *testing.T) {
	env := newEnv(t, http.StatusOK)
	require.NoError(t, os.WriteFile(filepath.Join(env.srcDir, "notes.txt"), []byte("x"), 0o644))

	result, err := env.service(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoImage, result.Outcome)
	assert.False(t, result.UploadSuccess)
}

func TestRunStaleFileStopsBeforeOptimize(t *testing.T) {
	env := newEnv(t, http.StatusOK)
	src := filepath.Join(env.srcDir, "old.jpg")
	writeNoiseJPEG(t, src, 320, 240, fixedNow.Add(-6*time.Minute))

	up := &failingUploader{}
	result, err := env.serviceWith(up, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeStale, result.Outcome)
	assert.Nil(t, result.Processed)
	assert.Zero(t, up.calls)
	assert.Empty(t, entries(t, env.workDir))
}

func TestRunThresholdBoundaryIsFresh(t *testing.T) {
	env := newEnv(t, http.StatusOK)
	src := filepath.Join(env.srcDir, "edge.jpg")
	writeNoiseJPEG(t, src, 320, 240, fixedNow.Add(-5*time.Minute))

	result, err := env.service(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUploaded, result.Outcome)
	<-env.requests
}

func TestRunUploadsResizedAndCleansUp(t *testing.T) {
	env := newEnv(t, http.StatusOK)
	writeNoiseJPEG(t, filepath.Join(env.srcDir, "older.jpg"), 32, 32, fixedNow.Add(-2*time.Minute))
	src := filepath.Join(env.srcDir, "newest.jpg")
	writeNoiseJPEG(t, src, 320, 240, fixedNow.Add(-time.Minute))

	result, err := env.service(t, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeUploaded, result.Outcome)
	assert.True(t, result.UploadSuccess)
	assert.Equal(t, src, result.Candidate.Path)
	require.NotNil(t, result.Processed)
	assert.True(t, result.Processed.Resized)

	body := <-env.requests
	assert.Equal(t, result.Processed.Size, int64(len(body)))

	cfg, err := jpeg.DecodeConfig(strings.NewReader(string(body)))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)

	assert.Empty(t, entries(t, env.workDir))
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestRunUploadsOriginalWhenSmaller(t *testing.T) {
	env := newEnv(t, http.StatusOK)
	env.cfg.Image.TargetWidth, env.cfg.Image.TargetHeight = 1920, 1080
	src := filepath.Join(env.srcDir, "small.jpg")
	writeNoiseJPEG(t, src, 16, 16, fixedNow)

	original, err := os.ReadFile(src)
	require.NoError(t, err)

	result, err := env.service(t, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeUploaded, result.Outcome)
	assert.False(t, result.Processed.Resized)
	assert.Equal(t, src, result.Processed.Path)
	assert.Equal(t, original, <-env.requests)

	_, err = os.Stat(src)
	assert.NoError(t, err)
	assert.Empty(t, entries(t, env.workDir))
}

func TestRunUploadRejectedStillCleansUp(t *testing.T) {
	env := newEnv(t, http.StatusInternalServerError)
	src := filepath.Join(env.srcDir, "snap.jpg")
	writeNoiseJPEG(t, src, 320, 240, fixedNow)

	result, err := env.service(t, nil).Run(context.Background())
	require.NoError(t, err)
	<-env.requests

	assert.Equal(t, domain.OutcomeUploadFailed, result.Outcome)
	assert.False(t, result.UploadSuccess)
	assert.True(t, result.Processed.Resized)
	assert.Empty(t, entries(t, env.workDir))
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestRunNetworkFailureStillCleansUp(t *testing.T) {
	env := newEnv(t, http.StatusOK)
	src := filepath.Join(env.srcDir, "snap.jpg")
	writeNoiseJPEG(t, src, 320, 240, fixedNow)

	up := &failingUploader{}
	archive := &recordingArchive{}
	result, err := env.serviceWith(up, archive).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeUploadFailed, result.Outcome)
	assert.Equal(t, 1, up.calls)
	require.Len(t, up.seen, 1)
	assert.Equal(t, env.workDir, filepath.Dir(up.seen[0]))
	assert.Empty(t, archive.key)
	assert.Empty(t, entries(t, env.workDir))
}

func TestRunOptimizeFailure(t *testing.T) {
	env := newEnv(t, http.StatusOK)
	src := filepath.Join(env.srcDir, "corrupt.jpg")
	require.NoError(t, os.WriteFile(src, []byte("garbage"), 0o644))
	require.NoError(t, os.Chtimes(src, fixedNow, fixedNow))

	up := &failingUploader{}
	_, err := env.serviceWith(up, nil).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrOptimize)
	assert.Zero(t, up.calls)
	assert.Empty(t, entries(t, env.workDir))

	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestRunArchivesAfterUpload(t *testing.T) {
	env := newEnv(t, http.StatusOK)
	src := filepath.Join(env.srcDir, "snap.jpg")
	writeNoiseJPEG(t, src, 320, 240, fixedNow)

	archive := &recordingArchive{}
	result, err := env.service(t, archive).Run(context.Background())
	require.NoError(t, err)

	body := <-env.requests
	assert.True(t, strings.HasPrefix(archive.key, "snapshots/2026/10/14/"))
	assert.Equal(t, archive.key, result.ArchiveKey)
	assert.Equal(t, string(body), archive.body)
	assert.Empty(t, entries(t, env.workDir))
}

func TestRunArchiveFailureIsNotFatal(t *testing.T) {
	env := newEnv(t, http.StatusOK)
	writeNoiseJPEG(t, filepath.Join(env.srcDir, "snap.jpg"), 320, 240, fixedNow)

	result, err := env.service(t, &recordingArchive{err: errors.New("bucket missing")}).Run(context.Background())
	require.NoError(t, err)
	<-env.requests

	assert.Equal(t, domain.OutcomeUploaded, result.Outcome)
	assert.Empty(t, result.ArchiveKey)
}

func TestRunArchiveBoundedByUploadTimeout(t *testing.T) {
	env := newEnv(t, http.StatusOK)
	env.cfg.Upload.Timeout = 200 * time.Millisecond
	writeNoiseJPEG(t, filepath.Join(env.srcDir, "snap.jpg"), 320, 240, fixedNow)

	start := time.Now()
	result, err := env.service(t, stalledArchive{}).Run(context.Background())
	elapsed := time.Since(start)
	require.NoError(t, err)
	<-env.requests

	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, domain.OutcomeUploaded, result.Outcome)
	assert.Empty(t, result.ArchiveKey)
	assert.Empty(t, entries(t, env.workDir))
}

func TestCleanupKeepsSource(t *testing.T) {
	env := newEnv(t, http.StatusOK)
	src := filepath.Join(env.srcDir, "snap.jpg")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	artifact := filepath.Join(env.workDir, "camera_snapshot_resized_x.jpg")
	require.NoError(t, os.WriteFile(artifact, []byte("y"), 0o644))

	svc := env.serviceWith(&failingUploader{}, nil)

	svc.cleanup(src, filepath.Join(env.srcDir, ".", "snap.jpg"))
	_, err := os.Stat(src)
	assert.NoError(t, err)

	svc.cleanup(src, artifact)
	_, err = os.Stat(artifact)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// Already gone: logged, not fatal.
	svc.cleanup(src, artifact)
}
