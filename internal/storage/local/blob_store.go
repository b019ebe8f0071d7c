// Package local implements a local filesystem document store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir roots every path when set. Empty means paths are used as given.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes documents to the local filesystem. It never creates
// directories: the target directory must already exist.
type BlobStore struct {
	baseDir string
}

// New creates a new local filesystem-backed store.
func New(cfg Config) (*BlobStore, error) {
	baseDir := strings.TrimSpace(cfg.BaseDir)
	if baseDir == "" {
		return &BlobStore{}, nil
	}
	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, fmt.Errorf("stat base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base directory %q is not a directory", baseDir)
	}
	return &BlobStore{baseDir: baseDir}, nil
}

// PutObject writes data to path, replacing any existing file, and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}

	fullPath := filepath.Clean(path)
	if s.baseDir != "" {
		cleanBaseDir := filepath.Clean(s.baseDir)
		fullPath = filepath.Join(cleanBaseDir, path)
		if !strings.HasPrefix(fullPath, cleanBaseDir+string(filepath.Separator)) {
			return "", errors.New("path traversal detected")
		}
	}

	// #nosec G304 -- the path is derived from configuration and checked above.
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", fullPath, err)
	}
	if _, err := io.Copy(f, data); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			return "", fmt.Errorf("write %s: %w (close: %v)", fullPath, err, closeErr)
		}
		return "", fmt.Errorf("write %s: %w", fullPath, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", fullPath, err)
	}

	abs, err := filepath.Abs(fullPath)
	if err != nil {
		abs = fullPath
	}
	return "file://" + abs, nil
}
