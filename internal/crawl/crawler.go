// Package crawl drives the fetch, extract, dedup, paginate loop for one run.
package crawl

import (
	"context"
	"crypto/sha256"
	"fmt"

	"go.uber.org/zap"

	"github.com/hbarton/webharvest/internal/dedup"
	"github.com/hbarton/webharvest/internal/extract"
	"github.com/hbarton/webharvest/internal/paginate"
	"github.com/hbarton/webharvest/internal/scrape"
)

// DefaultMaxPages bounds runs whose configuration left the page budget
// unset.
const DefaultMaxPages = 100

// Survivor is a record that passed deduplication, paired with the
// fingerprint under which it was admitted.
type Survivor struct {
	Record      scrape.Record
	Fingerprint string
}

// Result is the outcome of draining one run's frontier.
type Result struct {
	Survivors    []Survivor
	TotalFound   int
	Duplicates   int
	PagesVisited int
	PageErrors   int
	VisitedURLs  []string
}

// Crawler executes the frontier loop. It is built once per run around a
// fetcher carrying that run's politeness settings.
type Crawler struct {
	fetcher   scrape.Fetcher
	extractor *extract.Extractor
	dedup     *dedup.Deduplicator
	blobs     scrape.BlobStore
	logger    *zap.Logger
}

// New builds a Crawler. blobs may be nil to skip page snapshots.
func New(
	fetcher scrape.Fetcher,
	extractor *extract.Extractor,
	dedup *dedup.Deduplicator,
	blobs scrape.BlobStore,
	logger *zap.Logger,
) *Crawler {
	return &Crawler{
		fetcher:   fetcher,
		extractor: extractor,
		dedup:     dedup,
		blobs:     blobs,
		logger:    logger,
	}
}

type frontierEntry struct {
	url   string
	depth int
}

// Crawl seeds the frontier with the job's seed URLs and drains it
// breadth-first until exhaustion, page budget, or cancellation. Fetch
// failures are per-page and non-fatal; storage failures abort the run.
// A URL is fetched at most once per run regardless of how often pagination
// rediscovers it.
func (c *Crawler) Crawl(ctx context.Context, job scrape.Job, runID string) (Result, error) {
	cfg := job.Config
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var result Result
	frontier := make([]frontierEntry, 0, len(cfg.SeedURLs))
	queued := make(map[string]struct{})
	visited := make(map[string]struct{})
	seeds := make(map[string]struct{}, len(cfg.SeedURLs))
	expandedSeeds := make(map[string]struct{})

	for _, seed := range cfg.SeedURLs {
		seeds[seed] = struct{}{}
		if _, ok := queued[seed]; ok {
			continue
		}
		queued[seed] = struct{}{}
		frontier = append(frontier, frontierEntry{url: seed})
	}

	for len(frontier) > 0 && result.PagesVisited < maxPages {
		// Cancellation is cooperative, checked once per iteration; an
		// in-flight fetch always finishes or times out.
		if err := ctx.Err(); err != nil {
			return result, err
		}

		entry := frontier[0]
		frontier = frontier[1:]
		if _, seen := visited[entry.url]; seen {
			continue
		}

		resp, err := c.fetcher.Fetch(ctx, entry.url)
		if err != nil {
			result.PageErrors++
			c.logger.Warn("page fetch failed",
				zap.String("run_id", runID),
				zap.String("url", entry.url),
				zap.Error(err),
			)
			continue
		}

		visited[entry.url] = struct{}{}
		result.PagesVisited++
		result.VisitedURLs = append(result.VisitedURLs, entry.url)

		c.snapshot(ctx, job.ID, runID, entry.url, resp.Body)

		pageURL := resp.URL
		if pageURL == "" {
			pageURL = entry.url
		}
		records, err := c.extractor.Extract(resp.Body, cfg.Schema, pageURL)
		if err != nil {
			result.PageErrors++
			c.logger.Warn("extraction failed",
				zap.String("run_id", runID),
				zap.String("url", entry.url),
				zap.Error(err),
			)
			continue
		}
		result.TotalFound += len(records)

		for _, record := range records {
			fp, isNew, err := c.dedup.IsNew(ctx, job.ID, record)
			if err != nil {
				return result, fmt.Errorf("dedup record from %s: %w", entry.url, err)
			}
			if !isNew {
				result.Duplicates++
				continue
			}
			result.Survivors = append(result.Survivors, Survivor{Record: record, Fingerprint: fp})
		}

		c.logger.Debug("page processed",
			zap.String("run_id", runID),
			zap.String("url", entry.url),
			zap.Int("records", len(records)),
		)

		if result.PagesVisited >= maxPages || !cfg.Pagination.Enabled() {
			continue
		}
		next, err := c.nextURLs(cfg, resp.Body, pageURL, entry.url, seeds, expandedSeeds)
		if err != nil {
			c.logger.Warn("pagination discovery failed",
				zap.String("run_id", runID),
				zap.String("url", entry.url),
				zap.Error(err),
			)
			continue
		}
		for _, u := range next {
			if _, seen := visited[u]; seen {
				continue
			}
			if _, inQueue := queued[u]; inQueue {
				continue
			}
			if cfg.MaxDepth > 0 && entry.depth+1 > cfg.MaxDepth {
				continue
			}
			queued[u] = struct{}{}
			frontier = append(frontier, frontierEntry{url: u, depth: entry.depth + 1})
		}
	}

	return result, nil
}

// nextURLs applies the pagination rule. Pattern rules are pure functions of
// the rule and expand exactly once per seed URL to avoid re-queueing the
// same batch from every page.
func (c *Crawler) nextURLs(
	cfg scrape.JobConfig,
	body []byte,
	baseURL, currentURL string,
	seeds, expandedSeeds map[string]struct{},
) ([]string, error) {
	if cfg.Pagination.Mode == scrape.PaginationPattern {
		if _, isSeed := seeds[currentURL]; !isSeed {
			return nil, nil
		}
		if _, done := expandedSeeds[currentURL]; done {
			return nil, nil
		}
		expandedSeeds[currentURL] = struct{}{}
		return paginate.Expand(cfg.Pagination, currentURL), nil
	}
	return paginate.NextURLs(body, cfg.Pagination, baseURL, currentURL)
}

// snapshot archives the raw page body when a blob store is configured.
// Failures are logged, never fatal.
func (c *Crawler) snapshot(ctx context.Context, jobID, runID, url string, body []byte) {
	if c.blobs == nil {
		return
	}
	path := fmt.Sprintf("%s/%s/%x.html", jobID, runID, sha256.Sum256([]byte(url)))
	if _, err := c.blobs.PutObject(ctx, path, "text/html; charset=utf-8", body); err != nil {
		c.logger.Warn("page snapshot failed", zap.String("url", url), zap.Error(err))
	}
}
