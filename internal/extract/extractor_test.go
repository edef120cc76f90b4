package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hbarton/webharvest/internal/scrape"
)

const listingHTML = `<html><body>
<div class="item"><h2>Alpha</h2><a href="/a">more</a><span class="price">1,234.50</span></div>
<div class="item"><h2>Beta</h2><a href="https://other.example.com/b">more</a><span class="price">99</span></div>
<div class="item"><h2>Gamma</h2></div>
<div class="item"></div>
<div class="item"></div>
</body></html>`

func listingSchema() scrape.Schema {
	return scrape.Schema{
		Container: "div.item",
		Fields: []scrape.FieldSpec{
			{Name: "title", Selector: "h2"},
			{Name: "link", Selector: "a", Attr: "href", Type: scrape.FieldTypeURL},
			{Name: "price", Selector: "span.price", Type: scrape.FieldTypeNumber},
		},
	}
}

func TestExtractor_ContainerScopes(t *testing.T) {
	t.Parallel()

	ex := New(zap.NewNop())
	records, err := ex.Extract([]byte(listingHTML), listingSchema(), "https://shop.example.com/list")
	require.NoError(t, err)

	// Five container matches, two fully empty scopes dropped.
	require.Len(t, records, 3)

	first := records[0].Fields
	require.Equal(t, "Alpha", first["title"])
	require.Equal(t, "https://shop.example.com/a", first["link"])
	require.InDelta(t, 1234.50, first["price"], 0.001)

	second := records[1].Fields
	require.Equal(t, "https://other.example.com/b", second["link"])
	require.InDelta(t, 99.0, second["price"], 0.001)

	// Partial scope keeps nulls for missed fields.
	third := records[2].Fields
	require.Equal(t, "Gamma", third["title"])
	require.Nil(t, third["link"])
	require.Nil(t, third["price"])

	for _, r := range records {
		require.Equal(t, "https://shop.example.com/list", r.SourceURL)
	}
}

func TestExtractor_WholeDocumentScope(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>Page</title></head><body><h1>Heading</h1></body></html>`
	schema := scrape.Schema{
		Fields: []scrape.FieldSpec{{Name: "heading", Selector: "h1"}},
	}

	ex := New(zap.NewNop())
	records, err := ex.Extract([]byte(html), schema, "https://example.com/")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Heading", records[0].Fields["heading"])
}

func TestExtractor_NumberCoercionFailSoft(t *testing.T) {
	t.Parallel()

	html := `<div class="p"><span>about ten</span></div>`
	schema := scrape.Schema{
		Container: "div.p",
		Fields:    []scrape.FieldSpec{{Name: "price", Selector: "span", Type: scrape.FieldTypeNumber}},
	}

	ex := New(zap.NewNop())
	records, err := ex.Extract([]byte(html), schema, "https://example.com/")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "about ten", records[0].Fields["price"])
}

func TestExtractor_HTMLAttr(t *testing.T) {
	t.Parallel()

	html := `<div class="c"><p>Hello <b>world</b></p></div>`
	schema := scrape.Schema{
		Container: "div.c",
		Fields:    []scrape.FieldSpec{{Name: "body", Selector: "p", Attr: scrape.AttrHTML}},
	}

	ex := New(zap.NewNop())
	records, err := ex.Extract([]byte(html), schema, "https://example.com/")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Contains(t, records[0].Fields["body"], "<b>world</b>")
}

func TestExtractor_AllScopesEmpty(t *testing.T) {
	t.Parallel()

	html := `<div class="item"></div><div class="item"></div>`
	ex := New(zap.NewNop())
	records, err := ex.Extract([]byte(html), listingSchema(), "https://example.com/")
	require.NoError(t, err)
	require.Empty(t, records)
}
