// Package pipeline runs a full crawl: list the catalog, extract every entry
// at a fixed pace, and hand each program to the configured sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/pacing"
	"github.com/JakeFAU/catalog-crawler/internal/telemetry"
)

const tracerName = "github.com/JakeFAU/catalog-crawler/internal/pipeline"

// DefaultProgramInterval spaces out detail-page fetches.
const DefaultProgramInterval = 20 * time.Second

// Indexer lists the catalog entries to crawl.
type Indexer interface {
	ListEntries(ctx context.Context) ([]string, error)
	URL() string
}

// Extractor turns one entry URL into a program record.
type Extractor interface {
	Extract(ctx context.Context, pageURL string, opts extract.Options) (crawler.ProgramRecord, error)
}

// Config controls a run.
type Config struct {
	ProgramInterval time.Duration
	Extract         extract.Options
	// Topic receives one event per extracted program when a publisher is set.
	Topic string
}

// Failure describes an entry that produced no record.
type Failure struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Summary is the state of a run. Status returns it while the run is active
// and Run returns the final value.
type Summary struct {
	RunID      string            `json:"run_id"`
	CatalogURL string            `json:"catalog_url"`
	Status     crawler.RunStatus `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitzero"`
	Current    string            `json:"current,omitempty"`
	Totals     crawler.RunTotals `json:"totals"`
	Failures   []Failure         `json:"failures,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// ProgramEvent is published for every extracted program.
type ProgramEvent struct {
	RunID   string               `json:"run_id"`
	Program string               `json:"program"`
	URL     string               `json:"url"`
	Credits string               `json:"credits"`
	Items   []crawler.ItemRecord `json:"items"`
	Faults  []string             `json:"faults,omitempty"`
}

// Pipeline sequences the indexer, the extractor and the sinks.
type Pipeline struct {
	indexer   Indexer
	extractor Extractor
	sinks     []crawler.ProgramSink
	publisher crawler.Publisher
	recorder  crawler.RunRecorder
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	mu      sync.RWMutex
	summary Summary
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithPublisher publishes a ProgramEvent for every extracted program.
func WithPublisher(p crawler.Publisher) Option {
	return func(pl *Pipeline) {
		pl.publisher = p
	}
}

// WithRunRecorder records the run lifecycle.
func WithRunRecorder(r crawler.RunRecorder) Option {
	return func(pl *Pipeline) {
		pl.recorder = r
	}
}

// WithIDGenerator replaces the run ID generator.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(pl *Pipeline) {
		if ids != nil {
			pl.ids = ids
		}
	}
}

// New builds a Pipeline. At least one sink is required.
func New(
	indexer Indexer,
	extractor Extractor,
	sinks []crawler.ProgramSink,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) (*Pipeline, error) {
	if indexer == nil || extractor == nil {
		return nil, errors.New("indexer and extractor are required")
	}
	if len(sinks) == 0 {
		return nil, errors.New("at least one program sink is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		indexer:   indexer,
		extractor: extractor,
		sinks:     sinks,
		ids:       uuid.NewUUIDGenerator(),
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Status returns a snapshot of the current or last run.
func (p *Pipeline) Status() Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := p.summary
	out.Failures = append([]Failure(nil), p.summary.Failures...)
	return out
}

func (p *Pipeline) update(fn func(*Summary)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.summary)
}

// Run executes one crawl. Failing to list the catalog and failing to write
// to a sink are fatal; every other per-entry failure is logged and skipped.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	runID, err := p.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "crawl", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	started := p.clock.Now()
	p.update(func(s *Summary) {
		*s = Summary{
			RunID:      runID,
			CatalogURL: p.indexer.URL(),
			Status:     crawler.RunRunning,
			StartedAt:  started,
		}
	})
	logger := p.logger.With(zap.String("run_id", runID))
	logger.Info("Starting crawl", zap.String("catalog", p.indexer.URL()))
	if p.recorder != nil {
		if err := p.recorder.StartRun(ctx, runID, started, p.indexer.URL()); err != nil {
			logger.Warn("Could not record run start", zap.Error(err))
		}
	}

	entries, err := p.indexer.ListEntries(ctx)
	if err != nil {
		return p.finish(ctx, logger, fmt.Errorf("list catalog entries: %w", err))
	}
	p.update(func(s *Summary) { s.Totals.Entries = len(entries) })
	logger.Info("Catalog listed", zap.Int("entries", len(entries)))

	timer := pacing.New(p.interval(), pacing.Relative, p.clock)
	timer.Prime()
	for _, entry := range entries {
		metrics.ObservePacingWait("program", timer.Wait(ctx))
		if err := ctx.Err(); err != nil {
			return p.finish(ctx, logger, fmt.Errorf("crawl interrupted: %w", err))
		}
		p.update(func(s *Summary) { s.Current = entry })
		if err := p.crawlEntry(ctx, logger, runID, entry); err != nil {
			return p.finish(ctx, logger, err)
		}
	}

	return p.finish(ctx, logger, nil)
}

// crawlEntry extracts one entry and writes it to every sink. Only sink
// failures are returned.
func (p *Pipeline) crawlEntry(ctx context.Context, logger *zap.Logger, runID, entry string) error {
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "extract program", trace.WithAttributes(attribute.String("url", entry)))
	defer span.End()

	program, err := p.extractor.Extract(ctx, entry, p.cfg.Extract)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		logger.Warn("Skipping entry", zap.String("url", entry), zap.Error(err))
		metrics.ObserveProgram("failed")
		p.update(func(s *Summary) {
			s.Totals.Failed++
			s.Failures = append(s.Failures, Failure{URL: entry, Reason: err.Error()})
		})
		return nil
	}
	span.SetAttributes(
		attribute.String("program", program.Name),
		attribute.Int("items", len(program.Items)),
		attribute.Int("faults", len(program.Faults)),
	)

	for _, sink := range p.sinks {
		if err := sink.WriteProgram(ctx, runID, program); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sink write failed")
			return fmt.Errorf("write program %q: %w", program.Name, err)
		}
	}
	metrics.ObserveProgram("ok")
	rows := len(crawler.Flatten(program))
	p.update(func(s *Summary) {
		s.Totals.Programs++
		s.Totals.Items += len(program.Items)
		s.Totals.Rows += rows
	})
	logger.Info("Program extracted",
		zap.String("program", program.Name),
		zap.Int("items", len(program.Items)),
		zap.Int("faults", len(program.Faults)),
	)
	p.publish(ctx, logger, runID, program)
	return nil
}

func (p *Pipeline) interval() time.Duration {
	if p.cfg.ProgramInterval < 0 {
		return 0
	}
	return p.cfg.ProgramInterval
}

func (p *Pipeline) publish(ctx context.Context, logger *zap.Logger, runID string, program crawler.ProgramRecord) {
	if p.publisher == nil {
		return
	}
	event := ProgramEvent{
		RunID:   runID,
		Program: program.Name,
		URL:     program.SourceURL,
		Credits: program.CreditLoad,
		Items:   program.Items,
		Faults:  program.Faults,
	}
	id, err := p.publisher.Publish(ctx, p.cfg.Topic, event)
	if err != nil {
		logger.Error("Publish program event failed", zap.String("program", program.Name), zap.Error(err))
		return
	}
	logger.Debug("Published program event", zap.String("program", program.Name), zap.String("message_id", id))
}

func (p *Pipeline) finish(ctx context.Context, logger *zap.Logger, runErr error) (Summary, error) {
	finished := p.clock.Now()
	p.update(func(s *Summary) {
		s.FinishedAt = finished
		s.Current = ""
		s.Status = crawler.RunSuccess
		if runErr != nil {
			s.Status = crawler.RunError
			s.Error = runErr.Error()
		}
	})
	summary := p.Status()

	if p.recorder != nil {
		// The run outcome is recorded even when ctx was canceled.
		recordCtx := context.WithoutCancel(ctx)
		if err := p.recorder.CompleteRun(recordCtx, summary.RunID, finished, summary.Status, summary.Totals, summary.Error); err != nil {
			logger.Warn("Could not record run completion", zap.Error(err))
		}
	}

	if runErr != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "crawl failed")
		logger.Error("Crawl failed", zap.Error(runErr))
		return summary, runErr
	}
	logger.Info("Crawl finished",
		zap.Int("entries", summary.Totals.Entries),
		zap.Int("programs", summary.Totals.Programs),
		zap.Int("failed", summary.Totals.Failed),
		zap.Int("rows", summary.Totals.Rows),
		zap.Duration("elapsed", finished.Sub(summary.StartedAt)),
	)
	return summary, nil
}
