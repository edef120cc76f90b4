package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/hbarton/webharvest/internal/scrape"
)

// collyGetter performs single plain-HTTP GET attempts through a shared Colly
// collector with a pooled transport.
type collyGetter struct {
	userAgent string
	timeout   time.Duration
	base      *colly.Collector
}

func newCollyGetter(userAgent string, timeout time.Duration) *collyGetter {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	// Robots compliance and revisit tracking belong to the caller.
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &collyGetter{
		userAgent: userAgent,
		timeout:   timeout,
		base:      c,
	}
}

// get executes one HTTP GET, returning the response or the transport/status
// error for that attempt.
func (g *collyGetter) get(ctx context.Context, url string) (scrape.FetchResponse, error) {
	collector := g.base.Clone()
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	if g.userAgent != "" {
		collector.UserAgent = g.userAgent
	}
	collector.SetRequestTimeout(g.timeout)

	var (
		result   scrape.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
	})
	collector.OnResponse(func(r *colly.Response) {
		result = scrape.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return scrape.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return scrape.FetchResponse{}, fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return scrape.FetchResponse{}, fmt.Errorf("response %s: %w", url, fetchErr)
		}
		return result, nil
	}
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
