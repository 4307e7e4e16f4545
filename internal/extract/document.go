package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is the tolerant view of a parsed HTML page used by the extractor.
type Document interface {
	// Title returns the text of the first title element, or "".
	Title() string
	// VisibleText returns the whitespace-collapsed text of the first element
	// named tag, ignoring script-like content, or "" when tag is absent.
	VisibleText(tag string) string
	// AttrValues returns, in document order, the value of attr on every
	// element named by one of tags. Elements without attr are skipped.
	AttrValues(attr string, tags ...string) []string
}

// hiddenElements never contribute visible text.
var hiddenElements = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
}

type queryDocument struct {
	doc *goquery.Document
}

// Parse builds a Document from raw HTML.
func Parse(raw string) (Document, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &queryDocument{doc: goquery.NewDocumentFromNode(root)}, nil
}

func (d *queryDocument) Title() string {
	return collapseSpace(d.doc.Find("title").First().Text())
}

func (d *queryDocument) VisibleText(tag string) string {
	sel := d.doc.Find(tag).First()
	if sel.Length() == 0 {
		return ""
	}
	var b strings.Builder
	for _, n := range sel.Nodes {
		writeVisibleText(&b, n)
	}
	return collapseSpace(b.String())
}

func (d *queryDocument) AttrValues(attr string, tags ...string) []string {
	if len(tags) == 0 {
		return nil
	}
	var out []string
	d.doc.Find(strings.Join(tags, ", ")).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(attr); ok {
			out = append(out, v)
		}
	})
	return out
}

func writeVisibleText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.ElementNode:
		if _, hidden := hiddenElements[n.Data]; hidden {
			return
		}
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeVisibleText(b, c)
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
