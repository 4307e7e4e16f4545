package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/frontier-crawler/internal/progress"
)

const defaultRecentCapacity = 1024

// RecentSink keeps the most recent events in a ring for the ops API.
type RecentSink struct {
	mu    sync.RWMutex
	ring  []progress.Event
	next  int
	full  bool
	total int64
}

// NewRecentSink retains up to capacity events (default 1024).
func NewRecentSink(capacity int) *RecentSink {
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}
	return &RecentSink{ring: make([]progress.Event, capacity)}
}

// Consume appends batch, overwriting the oldest events.
func (s *RecentSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.ring[s.next] = evt
		s.next = (s.next + 1) % len(s.ring)
		if s.next == 0 {
			s.full = true
		}
		s.total++
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty stage matches
// every event. A non-positive limit returns nil.
func (s *RecentSink) Recent(limit int, stage progress.Stage) []progress.Event {
	if limit <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	size := s.next
	if s.full {
		size = len(s.ring)
	}
	out := make([]progress.Event, 0, min(limit, size))
	for i := 0; i < size && len(out) < limit; i++ {
		idx := (s.next - 1 - i + len(s.ring)) % len(s.ring)
		evt := s.ring[idx]
		if stage != "" && evt.Stage != stage {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// Total returns how many events were consumed overall.
func (s *RecentSink) Total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Close implements progress.Sink.
func (s *RecentSink) Close(context.Context) error {
	return nil
}
