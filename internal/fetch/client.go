// Package fetch retrieves raw page content with politeness gating and
// retry/backoff, via plain HTTP or a JS-rendering backend.
package fetch

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/hbarton/webharvest/internal/domainstats"
	"github.com/hbarton/webharvest/internal/metrics"
	"github.com/hbarton/webharvest/internal/ratelimit"
	"github.com/hbarton/webharvest/internal/scrape"
)

// RobotsPolicy answers allow/deny per URL. A nil policy bypasses robots
// compliance entirely.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL, userAgent string) bool
}

// Renderer produces a fully rendered DOM for JS-heavy pages.
type Renderer interface {
	Render(ctx context.Context, url string) (scrape.FetchResponse, error)
	Close()
}

// Config controls one Client. A Client carries the politeness settings of
// the run it was built for.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	RenderJS    bool
}

// Client implements scrape.Fetcher. Order per fetch: robots gate, rate
// limiter, attempt (plain or rendered) with exponential backoff between
// failed attempts.
type Client struct {
	cfg      Config
	limiter  *ratelimit.Limiter
	robots   RobotsPolicy
	renderer Renderer
	getter   *collyGetter
	stats    *domainstats.Registry
	logger   *zap.Logger
}

// NewClient builds a Client. robots may be nil (compliance disabled);
// renderer may be nil when RenderJS is off; stats may be nil.
func NewClient(
	cfg Config,
	limiter *ratelimit.Limiter,
	robots RobotsPolicy,
	renderer Renderer,
	stats *domainstats.Registry,
	logger *zap.Logger,
) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &Client{
		cfg:      cfg,
		limiter:  limiter,
		robots:   robots,
		renderer: renderer,
		getter:   newCollyGetter(cfg.UserAgent, cfg.Timeout),
		stats:    stats,
		logger:   logger,
	}
}

// Fetch retrieves one page. Robots denial surfaces as ErrRobotsDenied
// without counting an attempt; transport failures retry up to MaxRetries
// attempts before surfacing an ExhaustedError.
func (c *Client) Fetch(ctx context.Context, rawURL string) (scrape.FetchResponse, error) {
	domain := domainOf(rawURL)

	if c.robots != nil && !c.robots.Allowed(ctx, rawURL, c.cfg.UserAgent) {
		metrics.ObserveRobotsDenied(domain)
		metrics.ObservePageFetched(domain, "robots_denied")
		return scrape.FetchResponse{}, fmt.Errorf("%s: %w", rawURL, ErrRobotsDenied)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return scrape.FetchResponse{}, err
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.ObserveFetchRetry(domain)
			if err := c.backoff(ctx, attempt-1); err != nil {
				return scrape.FetchResponse{}, err
			}
		}

		resp, err := c.attempt(ctx, rawURL)
		if err == nil {
			resp.Attempts = attempt + 1
			c.record(domain, false)
			metrics.ObservePageFetched(domain, "ok")
			return resp, nil
		}
		lastErr = err
		c.record(domain, true)
		c.logger.Warn("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return scrape.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
		}
	}

	metrics.ObservePageFetched(domain, "exhausted")
	return scrape.FetchResponse{}, &ExhaustedError{
		URL:      rawURL,
		Attempts: c.cfg.MaxRetries,
		Last:     lastErr,
	}
}

// Close releases the rendering subsystem, if any.
func (c *Client) Close() {
	if c.renderer != nil {
		c.renderer.Close()
	}
}

func (c *Client) attempt(ctx context.Context, rawURL string) (scrape.FetchResponse, error) {
	attemptCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	if c.cfg.RenderJS && c.renderer != nil {
		return c.renderer.Render(attemptCtx, rawURL)
	}
	return c.getter.get(attemptCtx, rawURL)
}

// backoff sleeps base * 2^attempt, honoring context cancellation.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(float64(c.cfg.BackoffBase) * math.Pow(2, float64(attempt)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (c *Client) record(domain string, failed bool) {
	if c.stats != nil {
		c.stats.RecordRequest(domain, failed)
	}
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
