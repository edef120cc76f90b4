// Package extract applies a field schema to an HTML document, producing
// structured records.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/hbarton/webharvest/internal/scrape"
)

// Extractor turns documents into records. Extraction never fails a run:
// selector misses degrade to null fields and bad numbers keep the raw string.
type Extractor struct {
	logger *zap.Logger
}

// New builds an Extractor.
func New(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract parses html and applies schema. Each container match becomes one
// record scope (the whole document when no container is declared). Scopes
// where every field missed are dropped. Relative URL values are resolved
// against baseURL.
func (e *Extractor) Extract(html []byte, schema scrape.Schema, baseURL string) ([]scrape.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var scopes []*goquery.Selection
	if schema.Container != "" {
		doc.Find(schema.Container).Each(func(_ int, sel *goquery.Selection) {
			scopes = append(scopes, sel)
		})
	} else {
		scopes = append(scopes, doc.Selection)
	}

	records := make([]scrape.Record, 0, len(scopes))
	for _, scope := range scopes {
		fields := make(map[string]any, len(schema.Fields))
		hasData := false
		// Fields evaluate in declared order; order only decides which miss
		// is logged first, never the values.
		for _, f := range schema.Fields {
			value := e.fieldValue(scope, f, base, baseURL)
			fields[f.Name] = value
			if value != nil {
				hasData = true
			}
		}
		if hasData {
			records = append(records, scrape.Record{Fields: fields, SourceURL: baseURL})
		}
	}
	return records, nil
}

// fieldValue resolves one field within a scope, or nil when the selector
// misses.
func (e *Extractor) fieldValue(scope *goquery.Selection, f scrape.FieldSpec, base *url.URL, pageURL string) any {
	el := scope.Find(f.Selector).First()
	if el.Length() == 0 {
		e.logger.Debug("selector missed",
			zap.String("field", f.Name),
			zap.String("selector", f.Selector),
			zap.String("url", pageURL),
		)
		return nil
	}

	var raw string
	switch f.EffectiveAttr() {
	case scrape.AttrText:
		raw = strings.TrimSpace(el.Text())
	case scrape.AttrHTML:
		h, err := goquery.OuterHtml(el)
		if err != nil {
			return nil
		}
		raw = h
	default:
		raw, _ = el.Attr(f.EffectiveAttr())
	}

	switch f.EffectiveType() {
	case scrape.FieldTypeURL:
		if raw == "" {
			return raw
		}
		return resolveURL(base, raw)
	case scrape.FieldTypeNumber:
		if raw == "" {
			return raw
		}
		// Strip thousands separators; keep the raw string when parsing fails.
		n, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			e.logger.Debug("number coercion failed; keeping raw value",
				zap.String("field", f.Name), zap.String("value", raw))
			return raw
		}
		return n
	default:
		return raw
	}
}

func resolveURL(base *url.URL, raw string) string {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}
