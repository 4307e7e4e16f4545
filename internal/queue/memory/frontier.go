// Package memory provides the in-process crawl frontier.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Frontier is an unbounded FIFO of URLs awaiting a fetch. Push never blocks;
// Pop suspends until an item arrives, the frontier closes or ctx ends.
type Frontier struct {
	mu     sync.Mutex
	items  []string
	ready  chan struct{}
	done   chan struct{}
	closed bool
}

// NewFrontier constructs an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends rawURL. Non-absolute or non-http(s) URLs are rejected.
func (f *Frontier) Push(rawURL string) error {
	if !crawler.IsCrawlableURL(rawURL) {
		return fmt.Errorf("push %q: %w", rawURL, crawler.ErrInvalidURL)
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return crawler.ErrFrontierClosed
	}
	f.items = append(f.items, rawURL)
	f.mu.Unlock()
	f.signal()
	return nil
}

// Pop removes the oldest URL. Items pushed before Close are still handed out;
// once empty and closed it returns crawler.ErrFrontierClosed.
func (f *Frontier) Pop(ctx context.Context) (string, error) {
	for {
		f.mu.Lock()
		if len(f.items) > 0 {
			next := f.items[0]
			f.items[0] = ""
			f.items = f.items[1:]
			remaining := len(f.items)
			f.mu.Unlock()
			if remaining > 0 {
				f.signal()
			}
			return next, nil
		}
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return "", crawler.ErrFrontierClosed
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("frontier pop canceled: %w", ctx.Err())
		case <-f.done:
		case <-f.ready:
		}
	}
}

// Close wakes every waiting Pop. Safe to call more than once.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
}

// Len reports the number of queued URLs.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *Frontier) signal() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}
