// Package paginate discovers next-page targets from a document or a URL
// pattern.
package paginate

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hbarton/webharvest/internal/scrape"
)

// NextURLs returns further page candidates for the rule. Selector rules
// inspect the document; pattern rules delegate to Expand and ignore the
// document entirely.
func NextURLs(html []byte, rule scrape.Pagination, baseURL, currentURL string) ([]string, error) {
	switch rule.Mode {
	case scrape.PaginationSelector:
		return nextFromSelector(html, rule.NextSelector, baseURL)
	case scrape.PaginationPattern:
		return Expand(rule, currentURL), nil
	default:
		return nil, nil
	}
}

// Expand generates every URL in [StartPage, EndPage] from the pattern,
// omitting the current page URL. It is a pure function of the rule, so the
// crawler evaluates it once per seed rather than once per page.
func Expand(rule scrape.Pagination, currentURL string) []string {
	if rule.Mode != scrape.PaginationPattern {
		return nil
	}
	var out []string
	for page := rule.StartPage; page <= rule.EndPage; page++ {
		u := strings.ReplaceAll(rule.Pattern, scrape.PagePlaceholder, strconv.Itoa(page))
		if u == currentURL {
			continue
		}
		out = append(out, u)
	}
	return out
}

// nextFromSelector finds the first element matching the selector and
// resolves its navigable attribute against baseURL. A missing element or
// attribute yields no candidates.
func nextFromSelector(html []byte, selector, baseURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	el := doc.Find(selector).First()
	if el.Length() == 0 {
		return nil, nil
	}
	href, ok := el.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return nil, nil
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, nil
	}
	return []string{base.ResolveReference(ref).String()}, nil
}
