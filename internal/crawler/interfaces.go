package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves one URL and returns the parsed page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Extractor turns raw HTML into a Page. Implementations must not touch
// shared mutable state so they can run on any goroutine.
type Extractor interface {
	Extract(ctx context.Context, baseURL, html string) (Page, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, baseURL, html string) (Page, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, baseURL, html string) (Page, error) {
	return f(ctx, baseURL, html)
}

// Frontier is the queue of URLs awaiting a crawl.
type Frontier interface {
	// Push appends url without blocking.
	Push(url string) error
	// Pop suspends until a URL is available, the frontier closes, or ctx ends.
	Pop(ctx context.Context) (string, error)
}

// VisitedSet grants the exclusive right to crawl a URL.
type VisitedSet interface {
	// Claim atomically inserts url and reports whether it was absent.
	Claim(url string) bool
}

// WorkTracker counts URLs that were pushed but not yet fully processed.
type WorkTracker interface {
	Add(n int)
	Done()
}

// PageHandler receives every successfully fetched page exactly once.
type PageHandler func(ctx context.Context, page Page)

// Publisher delivers a JSON-encodable payload to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RetryPolicy decides whether a failed fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces 16-byte crawl IDs.
type IDGenerator interface {
	NewID() ([16]byte, error)
}
