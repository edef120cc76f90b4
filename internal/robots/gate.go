// Package robots enforces robots.txt directives per host with a TTL cache.
package robots

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

const maxRobotsBody = 1 << 20

// Gate answers allow/deny per URL, caching parsed rules per host. When the
// robots.txt fetch fails the gate fails open: availability is preferred over
// strict compliance, and the event is logged at warning level.
type Gate struct {
	client *http.Client
	clock  func() time.Time
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]entry
}

type entry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithHTTPClient overrides the HTTP client used to fetch robots.txt.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gate) { g.client = c }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.clock = now }
}

// NewGate builds a Gate whose cached rulesets expire after ttl.
func NewGate(ttl time.Duration, logger *zap.Logger, opts ...Option) *Gate {
	g := &Gate{
		client: &http.Client{Timeout: 10 * time.Second},
		clock:  time.Now,
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]entry),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Allowed reports whether userAgent may fetch rawURL.
func (g *Gate) Allowed(ctx context.Context, rawURL, userAgent string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data, err := g.load(ctx, parsed, userAgent)
	if err != nil {
		g.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

// Invalidate drops the cached ruleset for a host.
func (g *Gate) Invalidate(host string) {
	g.mu.Lock()
	delete(g.cache, strings.ToLower(host))
	g.mu.Unlock()
}

func (g *Gate) load(ctx context.Context, parsed *url.URL, userAgent string) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)

	g.mu.RLock()
	cached, ok := g.cache[hostKey]
	g.mu.RUnlock()
	if ok && (g.ttl <= 0 || g.clock().Sub(cached.fetchedAt) < g.ttl) {
		return cached.data, nil
	}

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}

	g.mu.Lock()
	g.cache[hostKey] = entry{data: data, fetchedAt: g.clock()}
	g.mu.Unlock()
	return data, nil
}
