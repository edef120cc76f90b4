package paginate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hbarton/webharvest/internal/scrape"
)

func TestNextURLs_Selector(t *testing.T) {
	t.Parallel()

	html := []byte(`<html><body><a class="next" href="/list?page=2">next</a></body></html>`)
	rule := scrape.Pagination{Mode: scrape.PaginationSelector, NextSelector: "a.next"}

	urls, err := NextURLs(html, rule, "https://example.com/list", "https://example.com/list")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/list?page=2"}, urls)
}

func TestNextURLs_SelectorAbsent(t *testing.T) {
	t.Parallel()

	html := []byte(`<html><body><p>last page</p></body></html>`)
	rule := scrape.Pagination{Mode: scrape.PaginationSelector, NextSelector: "a.next"}

	urls, err := NextURLs(html, rule, "https://example.com/list", "https://example.com/list")
	require.NoError(t, err)
	require.Empty(t, urls)
}

func TestNextURLs_SelectorWithoutHref(t *testing.T) {
	t.Parallel()

	html := []byte(`<html><body><a class="next">next</a></body></html>`)
	rule := scrape.Pagination{Mode: scrape.PaginationSelector, NextSelector: "a.next"}

	urls, err := NextURLs(html, rule, "https://example.com/list", "https://example.com/list")
	require.NoError(t, err)
	require.Empty(t, urls)
}

func TestExpand_OmitsCurrentPage(t *testing.T) {
	t.Parallel()

	rule := scrape.Pagination{
		Mode:      scrape.PaginationPattern,
		Pattern:   "https://example.com/items?p={page}",
		StartPage: 1,
		EndPage:   3,
	}

	urls := Expand(rule, "https://example.com/items?p=1")
	require.Equal(t, []string{
		"https://example.com/items?p=2",
		"https://example.com/items?p=3",
	}, urls)
}

func TestNextURLs_PatternIgnoresDocument(t *testing.T) {
	t.Parallel()

	rule := scrape.Pagination{
		Mode:      scrape.PaginationPattern,
		Pattern:   "https://example.com/p/{page}",
		StartPage: 2,
		EndPage:   2,
	}

	urls, err := NextURLs(nil, rule, "https://example.com/p/1", "https://example.com/p/1")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/p/2"}, urls)
}

func TestNextURLs_NoRule(t *testing.T) {
	t.Parallel()

	urls, err := NextURLs([]byte("<html></html>"), scrape.Pagination{}, "https://example.com/", "https://example.com/")
	require.NoError(t, err)
	require.Empty(t, urls)
}
