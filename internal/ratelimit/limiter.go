// Package ratelimit implements the per-domain minimum-interval gate used by
// the fetcher.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hbarton/webharvest/internal/metrics"
)

// Limiter grants at most one request per interval per domain. Domains are
// independent; concurrent callers for the same domain serialize to one grant
// per interval.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
}

// New creates a Limiter granting rps requests per second per domain.
// rps <= 0 disables limiting.
func New(rps float64) *Limiter {
	l := rate.Limit(rps)
	if rps <= 0 {
		l = rate.Inf
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    l,
	}
}

// Allow reports whether the minimum inter-request interval has elapsed for
// the domain, consuming the grant if so.
func (l *Limiter) Allow(domain string) bool {
	return l.forDomain(domain).Allow()
}

// Wait blocks until a grant is available for the URL's domain, respecting
// the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := domainOf(rawURL)
	start := time.Now()
	if err := l.forDomain(domain).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, d)
	}
	return nil
}

func (l *Limiter) forDomain(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[domain]
	if !ok {
		// Burst 1 gives minimum-interval semantics rather than bursting.
		limiter = rate.NewLimiter(l.limit, 1)
		l.limiters[domain] = limiter
	}
	return limiter
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
