package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsConfig controls how robots.txt is consulted.
type RobotsConfig struct {
	Respect bool
	// Cache keeps the parsed robots.txt per host for the lifetime of the enforcer.
	// When false the file is fetched again on every check.
	Cache            bool
	DefaultUserAgent string
	Timeout          time.Duration
}

// RobotsEnforcer enforces robots.txt directives per host.
type RobotsEnforcer struct {
	client    *http.Client
	cache     sync.Map
	useCache  bool
	userAgent string
	logger    *zap.Logger
}

// NewRobotsEnforcer builds a RobotsPolicy respecting the config toggle.
func NewRobotsEnforcer(cfg RobotsConfig, client *http.Client, logger *zap.Logger) RobotsPolicy {
	if !cfg.Respect {
		return &allowAllPolicy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &RobotsEnforcer{
		client:    client,
		useCache:  cfg.Cache,
		userAgent: cfg.DefaultUserAgent,
		logger:    logger.Named("robots"),
	}
}

// Allowed implements RobotsPolicy.
func (r *RobotsEnforcer) Allowed(ctx context.Context, rawURL string, userAgent string) bool {
	if r == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	if userAgent == "" {
		userAgent = r.userAgent
	}
	data, err := r.load(ctx, parsed, userAgent)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	return data.TestAgent(parsed.RequestURI(), userAgent)
}

func (r *RobotsEnforcer) load(ctx context.Context, parsed *url.URL, userAgent string) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if r.useCache {
		if data, ok := r.cache.Load(hostKey); ok {
			cached, assertOK := data.(*robotstxt.RobotsData)
			if !assertOK {
				return nil, fmt.Errorf("robots cache type mismatch: %T", data)
			}
			return cached, nil
		}
	}

	robotsURL := url.URL{
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   path.Join("/", "robots.txt"),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	if r.useCache {
		r.cache.Store(hostKey, data)
	}
	return data, nil
}

type allowAllPolicy struct{}

func (a *allowAllPolicy) Allowed(context.Context, string, string) bool { return true }
