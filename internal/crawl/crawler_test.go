package crawl

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	archivemem "github.com/hbarton/webharvest/internal/archive/memory"
	"github.com/hbarton/webharvest/internal/dedup"
	"github.com/hbarton/webharvest/internal/extract"
	"github.com/hbarton/webharvest/internal/scrape"
	"github.com/hbarton/webharvest/internal/storage/memory"
)

type fakeFetcher struct {
	pages map[string]string
	calls map[string]int
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{pages: pages, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (scrape.FetchResponse, error) {
	f.calls[url]++
	body, ok := f.pages[url]
	if !ok {
		return scrape.FetchResponse{}, errors.New("connection refused")
	}
	return scrape.FetchResponse{URL: url, StatusCode: 200, Body: []byte(body), Attempts: 1}, nil
}

func itemsPage(next string, titles ...string) string {
	page := "<html><body>"
	for _, title := range titles {
		page += fmt.Sprintf(`<div class="item"><h2>%s</h2></div>`, title)
	}
	if next != "" {
		page += fmt.Sprintf(`<a class="next" href=%q>next</a>`, next)
	}
	return page + "</body></html>"
}

func listingConfig(seeds ...string) scrape.JobConfig {
	return scrape.JobConfig{
		SeedURLs: seeds,
		Schema: scrape.Schema{
			Container: ".item",
			Fields: []scrape.FieldSpec{
				{Name: "title", Selector: "h2"},
			},
		},
		Pagination: scrape.Pagination{
			Mode:         scrape.PaginationSelector,
			NextSelector: "a.next",
		},
		MaxPages: 10,
	}
}

func newCrawler(t *testing.T, fetcher scrape.Fetcher) *Crawler {
	t.Helper()
	logger := zap.NewNop()
	return New(fetcher, extract.New(logger), dedup.New(memory.NewItemStore()), nil, logger)
}

func TestCrawlFollowsSelectorPagination(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://shop.example.com/list":        itemsPage("/list?page=2", "Widget", "Gadget"),
		"https://shop.example.com/list?page=2": itemsPage("/list?page=3", "Sprocket"),
		"https://shop.example.com/list?page=3": itemsPage("", "Flange"),
	})
	c := newCrawler(t, fetcher)

	job := scrape.Job{ID: "job-1", Config: listingConfig("https://shop.example.com/list")}
	result, err := c.Crawl(context.Background(), job, "run-1")
	require.NoError(t, err)

	require.Equal(t, 3, result.PagesVisited)
	require.Equal(t, 4, result.TotalFound)
	require.Len(t, result.Survivors, 4)
	require.Zero(t, result.PageErrors)
	require.Equal(t, []string{
		"https://shop.example.com/list",
		"https://shop.example.com/list?page=2",
		"https://shop.example.com/list?page=3",
	}, result.VisitedURLs)
}

func TestCrawlMaxPagesStopsDiscovery(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://shop.example.com/list":        itemsPage("/list?page=2", "Widget"),
		"https://shop.example.com/list?page=2": itemsPage("/list?page=3", "Gadget"),
	})
	c := newCrawler(t, fetcher)

	job := scrape.Job{ID: "job-1", Config: listingConfig("https://shop.example.com/list")}
	job.Config.MaxPages = 1

	result, err := c.Crawl(context.Background(), job, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.PagesVisited)
	require.Equal(t, []string{"https://shop.example.com/list"}, result.VisitedURLs)
	require.Zero(t, fetcher.calls["https://shop.example.com/list?page=2"])
}

func TestCrawlFetchesEachURLOnce(t *testing.T) {
	t.Parallel()

	// Page two links back to page one; the frontier must not revisit it.
	fetcher := newFakeFetcher(map[string]string{
		"https://shop.example.com/list":        itemsPage("/list?page=2", "Widget"),
		"https://shop.example.com/list?page=2": itemsPage("https://shop.example.com/list", "Gadget"),
	})
	c := newCrawler(t, fetcher)

	job := scrape.Job{ID: "job-1", Config: listingConfig("https://shop.example.com/list")}
	result, err := c.Crawl(context.Background(), job, "run-1")
	require.NoError(t, err)
	require.Equal(t, 2, result.PagesVisited)
	require.Equal(t, 1, fetcher.calls["https://shop.example.com/list"])
}

func TestCrawlCountsFetchErrorsAndContinues(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://shop.example.com/b": itemsPage("", "Widget"),
	})
	c := newCrawler(t, fetcher)

	job := scrape.Job{ID: "job-1", Config: listingConfig(
		"https://shop.example.com/a",
		"https://shop.example.com/b",
	)}
	result, err := c.Crawl(context.Background(), job, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.PageErrors)
	require.Equal(t, 1, result.PagesVisited)
	require.Len(t, result.Survivors, 1)
}

func TestCrawlDeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://shop.example.com/list":        itemsPage("/list?page=2", "Widget", "Gadget"),
		"https://shop.example.com/list?page=2": itemsPage("", "Widget"),
	})
	c := newCrawler(t, fetcher)

	job := scrape.Job{ID: "job-1", Config: listingConfig("https://shop.example.com/list")}
	result, err := c.Crawl(context.Background(), job, "run-1")
	require.NoError(t, err)
	require.Equal(t, 3, result.TotalFound)
	require.Equal(t, 1, result.Duplicates)
	require.Len(t, result.Survivors, 2)
}

func TestCrawlExpandsPatternOncePerSeed(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://shop.example.com/list?p=1": itemsPage("", "Widget"),
		"https://shop.example.com/list?p=2": itemsPage("", "Gadget"),
		"https://shop.example.com/list?p=3": itemsPage("", "Sprocket"),
	})
	c := newCrawler(t, fetcher)

	cfg := listingConfig("https://shop.example.com/list?p=1")
	cfg.Pagination = scrape.Pagination{
		Mode:      scrape.PaginationPattern,
		Pattern:   "https://shop.example.com/list?p={page}",
		StartPage: 1,
		EndPage:   3,
	}
	job := scrape.Job{ID: "job-1", Config: cfg}

	result, err := c.Crawl(context.Background(), job, "run-1")
	require.NoError(t, err)
	require.Equal(t, 3, result.PagesVisited)
	for url, n := range fetcher.calls {
		require.Equal(t, 1, n, "url %s fetched more than once", url)
	}
}

func TestCrawlStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://shop.example.com/a": itemsPage("", "Widget"),
		"https://shop.example.com/b": itemsPage("", "Gadget"),
	})
	c := newCrawler(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := scrape.Job{ID: "job-1", Config: listingConfig(
		"https://shop.example.com/a",
		"https://shop.example.com/b",
	)}
	result, err := c.Crawl(ctx, job, "run-1")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, result.PagesVisited)
}

func TestCrawlArchivesPageSnapshots(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://shop.example.com/list": itemsPage("", "Widget"),
	})
	blobs := archivemem.New()
	logger := zap.NewNop()
	c := New(fetcher, extract.New(logger), dedup.New(memory.NewItemStore()), blobs, logger)

	job := scrape.Job{ID: "job-1", Config: listingConfig("https://shop.example.com/list")}
	_, err := c.Crawl(context.Background(), job, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, blobs.Len())
}

func TestCrawlRespectsMaxDepth(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://shop.example.com/list":        itemsPage("/list?page=2", "Widget"),
		"https://shop.example.com/list?page=2": itemsPage("/list?page=3", "Gadget"),
		"https://shop.example.com/list?page=3": itemsPage("", "Sprocket"),
	})
	c := newCrawler(t, fetcher)

	job := scrape.Job{ID: "job-1", Config: listingConfig("https://shop.example.com/list")}
	job.Config.MaxDepth = 1

	result, err := c.Crawl(context.Background(), job, "run-1")
	require.NoError(t, err)
	require.Equal(t, 2, result.PagesVisited)
	require.Zero(t, fetcher.calls["https://shop.example.com/list?page=3"])
}
