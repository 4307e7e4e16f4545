package crawler

// Page is the immutable result of fetching and parsing one URL.
//
// Fields are unexported so that a Page cannot be altered after the extractor
// builds it; Links returns a copy of the link list.
type Page struct {
	url   string
	title string
	body  string
	links []string
}

// NewPage builds a Page. The links slice is copied.
func NewPage(url, title, body string, links []string) Page {
	var cp []string
	if len(links) > 0 {
		cp = make([]string, len(links))
		copy(cp, links)
	}
	return Page{
		url:   url,
		title: title,
		body:  body,
		links: cp,
	}
}

// URL is the absolute URL the page content was served from.
func (p Page) URL() string {
	return p.url
}

// Title is the text of the document title, possibly empty.
func (p Page) Title() string {
	return p.title
}

// Body is the visible text of the document body, possibly empty.
func (p Page) Body() string {
	return p.body
}

// Links returns the absolute http(s) links in document order. Duplicates are
// preserved.
func (p Page) Links() []string {
	if len(p.links) == 0 {
		return nil
	}
	out := make([]string, len(p.links))
	copy(out, p.links)
	return out
}

// LinkCount reports how many links the page carries.
func (p Page) LinkCount() int {
	return len(p.links)
}
