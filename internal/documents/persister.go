// Package documents saves documents referenced from catalog pages.
package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Persister fetches binary payloads and writes them to a DocumentStore.
type Persister struct {
	fetcher crawler.Fetcher
	store   crawler.DocumentStore
	logger  *zap.Logger
}

// New creates a Persister.
func New(fetcher crawler.Fetcher, store crawler.DocumentStore, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{fetcher: fetcher, store: store, logger: logger.Named("documents")}
}

// SaveBinary fetches rawURL as binary and writes it to directory/filename,
// replacing any existing document. An empty filename is derived from the
// URL's last path segment. Fetch failures are returned unchanged and nothing
// is written.
func (p *Persister) SaveBinary(ctx context.Context, rawURL, directory, filename string, params crawler.FetchRequest) (string, error) {
	if p.fetcher == nil || p.store == nil {
		return "", errors.New("persister is not configured")
	}
	params.URL = rawURL
	params.Format = crawler.FormatBinary
	resp, err := p.fetcher.Fetch(ctx, params)
	if err != nil {
		metrics.ObserveDocument("fetch_failed")
		return "", err
	}

	if filename == "" {
		filename = crawler.FilenameFromURL(rawURL)
	}
	target := path.Join(directory, filename)
	contentType := http.DetectContentType(resp.Body)
	uri, err := p.store.PutObject(ctx, target, contentType, bytes.NewReader(resp.Body))
	if err != nil {
		metrics.ObserveDocument("write_failed")
		return "", fmt.Errorf("save %s: %w", rawURL, err)
	}
	metrics.ObserveDocument("saved")
	p.logger.Debug("Saved document",
		zap.String("url", rawURL),
		zap.String("uri", uri),
		zap.Int("bytes", len(resp.Body)),
	)
	return uri, nil
}
