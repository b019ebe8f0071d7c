// Package collyfetcher implements the resilient Fetcher using gocolly.
//
// A fetch consults robots.txt once, then issues GET attempts through a fresh
// clone of a base collector. Server faults (5xx) are retried up to the
// request's retry budget after an absolute backoff proportional to the
// latency of the failed attempt. Timeouts and transport faults are returned
// to the caller without retrying.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/pacing"
)

// DefaultBackoffFactor multiplies the latency of a failed attempt to get the retry delay.
const DefaultBackoffFactor = 10

// Config controls collector behavior. UserAgent and Timeout fill in requests
// that leave them empty.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	BackoffFactor float64
	MaxBodyBytes  int
}

// Waiter caps the outbound request rate.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	robots        crawler.RobotsPolicy
	limiter       Waiter
	clock         crawler.Clock
	logger        *zap.Logger
	baseCollector *colly.Collector
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithClock replaces the clock used for retry backoff.
func WithClock(clock crawler.Clock) Option {
	return func(f *Fetcher) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithLimiter consults l before every network attempt.
func WithLimiter(l Waiter) Option {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// WithTransport replaces the HTTP transport used by the collector.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		if rt != nil {
			f.baseCollector.WithTransport(rt)
		}
	}
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type attemptResult struct {
	url     string
	status  int
	body    []byte
	latency time.Duration
}

// New builds a Fetcher. A nil robots policy allows every URL.
func New(cfg Config, robots crawler.RobotsPolicy, logger *zap.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = DefaultBackoffFactor
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = max(cfg.MaxBodyBytes, 0)
	c.WithTransport(newHTTPTransport())

	f := &Fetcher{
		cfg:           cfg,
		robots:        robots,
		clock:         system.New(),
		logger:        logger.Named("fetcher"),
		baseCollector: c,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	userAgent := request.UserAgent
	if userAgent == "" {
		userAgent = f.cfg.UserAgent
	}
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	retriesLeft := max(request.MaxRetries, 0)

	if f.robots != nil && !f.robots.Allowed(ctx, request.URL, userAgent) {
		f.logger.Info("Robots.txt disallows fetch", zap.String("url", request.URL))
		return f.fail(&crawler.FetchError{Kind: crawler.FailureRobotsDisallowed, URL: request.URL})
	}

	// The backoff timer is local to this call so retries never disturb the caller's pacing.
	backoff := pacing.New(0, pacing.Absolute, f.clock)
	attempts := 0
	for {
		attempts++
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, request.URL); err != nil {
				return f.fail(classify(request.URL, err))
			}
		}

		res, err := f.attempt(ctx, request.URL, userAgent, timeout)
		metrics.ObserveAttempt(request.URL, res.latency)
		if err != nil {
			return f.fail(classify(request.URL, err))
		}

		if isServerFault(res.status) && retriesLeft > 0 {
			retriesLeft--
			delay := time.Duration(f.cfg.BackoffFactor * float64(res.latency))
			f.logger.Warn("Server fault; retrying",
				zap.String("url", request.URL),
				zap.Int("status", res.status),
				zap.Int("attempt", attempts),
				zap.Int("retries_left", retriesLeft),
				zap.Duration("backoff", delay),
			)
			metrics.ObserveRetry(request.URL)
			backoff.WaitFor(ctx, delay, pacing.Absolute)
			if ctx.Err() != nil {
				return f.fail(classify(request.URL, ctx.Err()))
			}
			continue
		}

		if res.status != http.StatusOK {
			return f.fail(&crawler.FetchError{
				Kind:       crawler.FailureHTTPStatus,
				URL:        request.URL,
				StatusCode: res.status,
			})
		}

		resp := crawler.FetchResponse{
			URL:        res.url,
			StatusCode: res.status,
			Latency:    res.latency,
			Attempts:   attempts,
		}
		if request.Format == crawler.FormatText {
			resp.Text = string(res.body)
			resp.IsText = true
		} else {
			resp.Body = res.body
		}
		metrics.ObserveFetch(request.URL, "success", len(res.body))
		f.logger.Debug("Fetched",
			zap.String("url", request.URL),
			zap.Int("bytes", len(res.body)),
			zap.Int("attempts", attempts),
			zap.Duration("latency", res.latency),
		)
		return resp, nil
	}
}

func (f *Fetcher) fail(err *crawler.FetchError) (crawler.FetchResponse, error) {
	metrics.ObserveFetch(err.URL, err.Kind.String(), 0)
	return crawler.FetchResponse{}, err
}

func (f *Fetcher) attempt(ctx context.Context, url, userAgent string, timeout time.Duration) (attemptResult, error) {
	collector := f.baseCollector.Clone()
	collector.UserAgent = userAgent
	collector.Context = ctx
	collector.SetRequestTimeout(timeout)

	var (
		result   attemptResult
		fetchErr error
	)
	f.configureCollectorHooks(collector, &result, &fetchErr)

	start := time.Now()
	err := f.runCollector(ctx, collector, url, &fetchErr)
	result.latency = time.Since(start)
	return result, err
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *attemptResult, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = attemptResult{
			url:    r.Request.URL.String(),
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// Visit observes ctx through collector.Context and returns promptly.
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func classify(url string, err error) *crawler.FetchError {
	kind := crawler.FailureTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = crawler.FailureTimeout
	}
	return &crawler.FetchError{Kind: kind, URL: url, Err: err}
}

func isServerFault(status int) bool {
	return status >= 500 && status <= 599
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
