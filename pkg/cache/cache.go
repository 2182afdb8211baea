// Package cache downloads report run archives and keeps an extracted copy
// on disk so repeated indexing of the same archive does not re-download it.
package cache

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// markerFile records when an archive was fetched, for expiry checks.
const markerFile = ".fetched-at"

// Cache fetches and extracts run archives into a local directory.
type Cache struct {
	log    logrus.FieldLogger
	dir    string
	maxAge time.Duration
	client *http.Client
}

// New creates a cache rooted at cfg.Dir.
func New(log logrus.FieldLogger, cfg config.CacheConfig) (*Cache, error) {
	var maxAge time.Duration

	if cfg.MaxAge != "" {
		parsed, err := time.ParseDuration(cfg.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("parsing cache max_age: %w", err)
		}

		maxAge = parsed
	}

	return &Cache{
		log:    log.WithField("component", "cache"),
		dir:    cfg.Dir,
		maxAge: maxAge,
		client: http.DefaultClient,
	}, nil
}

// FetchArchive downloads the zip archive at url and extracts it under the
// cache directory, returning the extraction path. A previously extracted
// copy is reused while it is within max_age.
func (c *Cache) FetchArchive(ctx context.Context, url string) (string, error) {
	target := filepath.Join(c.dir, "archives", hashURL(url))

	if c.isFresh(target) {
		c.log.WithField("path", target).Info("Using cached archive")

		return target, nil
	}

	c.log.WithField("url", url).Info("Downloading archive")

	archivePath, size, err := c.download(ctx, url)
	if err != nil {
		return "", err
	}

	defer func() { _ = os.Remove(archivePath) }()

	// Extract into a fresh directory so a stale copy never mixes with the
	// new one.
	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("removing stale archive: %w", err)
	}

	if err := extractZip(archivePath, target); err != nil {
		return "", fmt.Errorf("extracting archive: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := os.WriteFile(filepath.Join(target, markerFile), []byte(now), 0o644); err != nil {
		return "", fmt.Errorf("writing fetch marker: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"path": target,
		"size": units.HumanSize(float64(size)),
	}).Info("Archive cached")

	return target, nil
}

// isFresh reports whether an extracted copy exists and is within max_age.
func (c *Cache) isFresh(target string) bool {
	info, err := os.Stat(filepath.Join(target, markerFile))
	if err != nil {
		return false
	}

	if c.maxAge == 0 {
		return true
	}

	return time.Since(info.ModTime()) < c.maxAge
}

// download fetches url to a temporary file and returns its path and size.
func (c *Cache) download(ctx context.Context, url string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("downloading: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "archive-*.zip")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}

	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return "", 0, fmt.Errorf("writing archive: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return "", 0, fmt.Errorf("closing archive: %w", err)
	}

	return tmp.Name(), size, nil
}

// extractZip extracts the archive at path into targetDir.
func extractZip(path, targetDir string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}

	defer func() { _ = r.Close() }()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}

	cleanTarget := filepath.Clean(targetDir)

	for _, f := range r.File {
		// Sanitize path to prevent directory traversal.
		target := filepath.Join(targetDir, filepath.Clean(f.Name))
		if !strings.HasPrefix(target, cleanTarget+string(os.PathSeparator)) {
			return fmt.Errorf("invalid zip entry: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}

			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating parent directory: %w", err)
		}

		if err := extractZipFile(f, target); err != nil {
			return err
		}
	}

	return nil
}

func extractZipFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening zip entry: %w", err)
	}

	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()

		return fmt.Errorf("extracting file: %w", err)
	}

	return dst.Close()
}

// hashURL returns a short stable digest of a URL for cache directory names.
func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))

	return hex.EncodeToString(sum[:8])
}
