// Package extract turns catalog detail pages into program records.
//
// Every optional part of a page (credit load, mentions, curriculum, each
// term and each item) is extracted independently. A missing or malformed
// optional part is recorded as a partial-extraction fault on the record and
// never aborts the page. Only a missing program name discards the entry.
package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/pacing"
)

// Selectors locate the parts of a detail page.
type Selectors struct {
	MainContainer string
	Name          string
	InfoBlock     string
	MentionBlock  string
	Curriculum    string
	Term          string
}

// DefaultSelectors returns the selectors for the published catalog layout.
func DefaultSelectors() Selectors {
	return Selectors{
		MainContainer: "div#main-container",
		Name:          "header h1#degree-name",
		InfoBlock:     "div#collapse-images-collapse-academic-information dl",
		MentionBlock:  "div.pla-estudis-selector",
		Curriculum:    "div#collapse-images-collapse-curriculum",
		Term:          "div.pla-estudis-quadrimestre:not([id])",
	}
}

// DefaultCategories maps lowercase item classes to categories.
func DefaultCategories() map[string]crawler.Category {
	return map[string]crawler.Category{
		"obligatòria": crawler.CategoryMandatory,
		"optativa":    crawler.CategoryElective,
		"projecte":    crawler.CategoryCapstone,
	}
}

// Config controls how pages are fetched and read.
type Config struct {
	Selectors Selectors
	// CreditLabel is the info-block key holding the aggregate credit load.
	CreditLabel string
	// MentionPrefix is stripped from mention display names.
	MentionPrefix string
	// NoMentionClass marks items offered outside any mention.
	NoMentionClass string
	Categories     map[string]crawler.Category
	// Fetch carries retries, timeout and user agent for page and document fetches.
	Fetch crawler.FetchRequest
	// DocumentInterval spaces out document downloads within one program.
	DocumentInterval time.Duration
}

// DefaultConfig returns the configuration for the published catalog layout.
func DefaultConfig() Config {
	return Config{
		Selectors:        DefaultSelectors(),
		CreditLabel:      "Càrrega lectiva",
		MentionPrefix:    `^Menció en *`,
		NoMentionClass:   "sense-especialitat",
		Categories:       DefaultCategories(),
		DocumentInterval: 5 * time.Second,
	}
}

// Options tune a single extraction.
type Options struct {
	// Verbose raises partial-extraction notes from debug to info level.
	Verbose bool
	// PersistDocs saves every linked item document into OutputDir.
	PersistDocs bool
	OutputDir   string
}

// DocumentSaver persists a referenced document.
type DocumentSaver interface {
	SaveBinary(ctx context.Context, rawURL, directory, filename string, params crawler.FetchRequest) (string, error)
}

// Extractor fetches and parses detail pages.
type Extractor struct {
	fetcher       crawler.Fetcher
	saver         DocumentSaver
	clock         crawler.Clock
	cfg           Config
	mentionPrefix *regexp.Regexp
	categories    map[string]crawler.Category
	logger        *zap.Logger
}

// New validates cfg and builds an Extractor. saver may be nil when documents
// are never persisted.
func New(fetcher crawler.Fetcher, saver DocumentSaver, clock crawler.Clock, cfg Config, logger *zap.Logger) (*Extractor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	defaults := DefaultConfig()
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = defaults.Selectors
	}
	if cfg.CreditLabel == "" {
		cfg.CreditLabel = defaults.CreditLabel
	}
	if cfg.NoMentionClass == "" {
		cfg.NoMentionClass = defaults.NoMentionClass
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = defaults.Categories
	}
	var prefix *regexp.Regexp
	if cfg.MentionPrefix != "" {
		var err error
		if prefix, err = regexp.Compile(cfg.MentionPrefix); err != nil {
			return nil, fmt.Errorf("compile mention prefix: %w", err)
		}
	}
	categories := make(map[string]crawler.Category, len(cfg.Categories))
	for class, category := range cfg.Categories {
		categories[strings.ToLower(normalizeText(class))] = category
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		fetcher:       fetcher,
		saver:         saver,
		clock:         clock,
		cfg:           cfg,
		mentionPrefix: prefix,
		categories:    categories,
		logger:        logger.Named("extract"),
	}, nil
}

// Extract fetches pageURL and parses it into a program record. Fetch
// failures and a missing program name return an empty record and an error;
// every other problem is recorded on ProgramRecord.Faults.
func (e *Extractor) Extract(ctx context.Context, pageURL string, opts Options) (crawler.ProgramRecord, error) {
	req := e.cfg.Fetch
	req.URL = pageURL
	req.Format = crawler.FormatText
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		if opts.Verbose {
			e.logger.Info("Could not download program page", zap.String("url", pageURL), zap.Error(err))
		}
		return crawler.ProgramRecord{}, fmt.Errorf("extract %s: %w", pageURL, err)
	}

	program, err := e.Parse(strings.NewReader(resp.Text), pageURL, opts)
	if err != nil {
		return crawler.ProgramRecord{}, err
	}

	if opts.PersistDocs && len(program.Items) > 0 {
		e.persistDocuments(ctx, program, opts)
	}
	return program, nil
}

func (e *Extractor) persistDocuments(ctx context.Context, program crawler.ProgramRecord, opts Options) {
	if e.saver == nil {
		e.logger.Warn("Document persistence requested without a document store", zap.String("program", program.Name))
		return
	}
	timer := pacing.New(e.cfg.DocumentInterval, pacing.Relative, e.clock)
	timer.Prime()
	for _, item := range program.Items {
		if item.SourceURL == "" {
			continue
		}
		metrics.ObservePacingWait("document", timer.Wait(ctx))
		if ctx.Err() != nil {
			return
		}
		if _, err := e.saver.SaveBinary(ctx, item.SourceURL, opts.OutputDir, "", e.cfg.Fetch); err != nil {
			e.logger.Warn("Could not save item document",
				zap.String("program", program.Name),
				zap.String("item", item.Name),
				zap.String("url", item.SourceURL),
				zap.Error(err),
			)
		}
	}
}

func (e *Extractor) note(opts Options, msg string, fields ...zap.Field) {
	level := zapcore.DebugLevel
	if opts.Verbose {
		level = zapcore.InfoLevel
	}
	if ce := e.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}
