package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// linkElements are the anchor-like elements whose href is followed.
var linkElements = []string{"a", "area"}

// Extract parses raw HTML served from baseURL into a Page. Malformed markup
// degrades to empty fields; an unusable baseURL yields a page without links.
func Extract(baseURL, raw string) (crawler.Page, error) {
	doc, err := Parse(raw)
	if err != nil {
		return crawler.Page{}, &crawler.ParseError{URL: baseURL, Err: err}
	}
	return FromDocument(baseURL, doc), nil
}

// FromDocument builds a Page from an already parsed Document.
func FromDocument(baseURL string, doc Document) crawler.Page {
	var links []string
	if base, err := url.Parse(baseURL); err == nil && base.IsAbs() {
		links = ResolveLinks(base, doc.AttrValues("href", linkElements...))
	}
	return crawler.NewPage(baseURL, doc.Title(), doc.VisibleText("body"), links)
}

// ResolveLinks resolves each href against base and keeps the absolute http(s)
// results in input order.
func ResolveLinks(base *url.URL, hrefs []string) []string {
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		if !crawler.IsCrawlable(resolved) {
			continue
		}
		out = append(out, resolved.String())
	}
	return out
}

// Extractor adapts Extract to crawler.Extractor for in-goroutine use.
type Extractor struct{}

// Extract implements crawler.Extractor.
func (Extractor) Extract(_ context.Context, baseURL, raw string) (crawler.Page, error) {
	return Extract(baseURL, raw)
}
