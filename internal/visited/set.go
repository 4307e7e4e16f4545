// Package visited holds the set of URLs a crawl has already claimed.
package visited

import (
	"sync"
	"sync/atomic"
)

// Set is a concurrent check-and-insert set of URL strings.
type Set struct {
	seen  sync.Map
	count atomic.Int64
}

// New returns an empty set.
func New() *Set {
	return &Set{}
}

// Claim stores url if it has not been seen before and returns true.
// The empty string is never claimable.
func (s *Set) Claim(url string) bool {
	if url == "" {
		return false
	}
	if _, loaded := s.seen.LoadOrStore(url, struct{}{}); loaded {
		return false
	}
	s.count.Add(1)
	return true
}

// Contains reports whether url was claimed.
func (s *Set) Contains(url string) bool {
	_, ok := s.seen.Load(url)
	return ok
}

// Len returns the number of claimed URLs.
func (s *Set) Len() int64 {
	return s.count.Load()
}
