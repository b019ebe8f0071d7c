// Package catalog discovers the detail pages listed on the catalog landing page.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// DefaultGroupPattern matches the ids of the collapsible catalog groups.
const DefaultGroupPattern = "collapse-images-collapse"

// Config controls where the catalog lives and how it is fetched.
type Config struct {
	URL          string
	GroupPattern string
	// Fetch carries retries, timeout and user agent. URL and Format are set per call.
	Fetch crawler.FetchRequest
}

// Indexer lists catalog entries.
type Indexer struct {
	fetcher crawler.Fetcher
	base    *url.URL
	pattern *regexp.Regexp
	fetch   crawler.FetchRequest
	logger  *zap.Logger
}

// New validates cfg and builds an Indexer.
func New(fetcher crawler.Fetcher, cfg Config, logger *zap.Logger) (*Indexer, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	base, err := url.Parse(cfg.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid catalog url %q", cfg.URL)
	}
	expr := cfg.GroupPattern
	if expr == "" {
		expr = DefaultGroupPattern
	}
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile group pattern: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		fetcher: fetcher,
		base:    base,
		pattern: pattern,
		fetch:   cfg.Fetch,
		logger:  logger.Named("catalog"),
	}, nil
}

// URL returns the catalog landing URL.
func (i *Indexer) URL() string {
	return i.base.String()
}

// ListEntries fetches the landing page and returns every entry URL in
// document order. A fetch failure yields an empty slice and the fetch error.
func (i *Indexer) ListEntries(ctx context.Context) ([]string, error) {
	req := i.fetch
	req.URL = i.base.String()
	req.Format = crawler.FormatText
	resp, err := i.fetcher.Fetch(ctx, req)
	if err != nil {
		return []string{}, fmt.Errorf("list entries: %w", err)
	}
	entries, err := ParseEntries(strings.NewReader(resp.Text), i.base, i.pattern, i.logger)
	if err != nil {
		return []string{}, fmt.Errorf("list entries: %w", err)
	}
	i.logger.Info("Catalog indexed", zap.String("url", req.URL), zap.Int("entries", len(entries)))
	return entries, nil
}

// ParseEntries collects the link target of every list item inside the body
// containers whose id matches pattern. Links are resolved against base.
// Items without a link are skipped.
func ParseEntries(r io.Reader, base *url.URL, pattern *regexp.Regexp, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse catalog markup: %w", err)
	}

	groups := doc.Find("body div[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")
		return pattern.MatchString(id)
	})

	entries := make([]string, 0)
	groups.Each(func(_ int, group *goquery.Selection) {
		group.Find("li").Each(func(_ int, item *goquery.Selection) {
			href, ok := item.Find("a[href]").First().Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				logger.Debug("Catalog item without link", zap.String("text", strings.TrimSpace(item.Text())))
				return
			}
			resolved, err := crawler.ResolveURL(base, href)
			if err != nil {
				logger.Warn("Unresolvable catalog link", zap.String("href", href), zap.Error(err))
				return
			}
			if canonical, err := crawler.CanonicalURL(resolved); err == nil {
				resolved = canonical
			}
			entries = append(entries, resolved)
		})
	})
	return entries, nil
}
