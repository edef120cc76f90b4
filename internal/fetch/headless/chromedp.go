// Package headless renders pages that require JavaScript using chromedp.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/hbarton/webharvest/internal/scrape"
)

// Config controls the behavior of the renderer.
type Config struct {
	UserAgent   string
	NavTimeout  time.Duration
	SettleDelay time.Duration
}

// Renderer drives a headless Chrome via chromedp. The browser allocator is a
// scoped resource: acquired lazily on the first Render, one tab context per
// fetch, torn down by Close at the end of the run that required it.
type Renderer struct {
	cfg Config

	mu          sync.Mutex
	allocator   context.Context
	allocCancel context.CancelFunc
	closed      bool
}

// New creates a Renderer. No browser process is started until the first
// Render call.
func New(cfg Config) *Renderer {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = time.Second
	}
	return &Renderer{cfg: cfg}
}

// Render navigates to url and returns the fully rendered DOM.
func (r *Renderer) Render(ctx context.Context, url string) (scrape.FetchResponse, error) {
	allocator, err := r.acquireAllocator()
	if err != nil {
		return scrape.FetchResponse{}, err
	}

	taskCtx, taskCancel := chromedp.NewContext(allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavTimeout)
	defer cancel()

	// Propagate caller cancellation into the browser task.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var html, finalURL string
	start := time.Now()
	actions := []chromedp.Action{
		r.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return scrape.FetchResponse{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, responseURL := meta.snapshot(url, finalURL)
	return scrape.FetchResponse{
		URL:        responseURL,
		StatusCode: status,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Rendered:   true,
	}, nil
}

// Close tears down the browser allocator. Subsequent Render calls fail.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.allocCancel != nil {
		r.allocCancel()
		r.allocCancel = nil
		r.allocator = nil
	}
}

func (r *Renderer) acquireAllocator() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("renderer is closed")
	}
	if r.allocator == nil {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
		)
		r.allocator, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	return r.allocator, nil
}

func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type responseMeta struct {
	mu     sync.Mutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot(requestURL, finalURL string) (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	url := m.url
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
