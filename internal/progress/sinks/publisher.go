package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/progress"
)

// LifecycleMessage is the payload published for crawl start and end events.
type LifecycleMessage struct {
	CrawlID   string    `json:"crawl_id"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	DurMillis int64     `json:"duration_ms,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// PublisherSink forwards crawl lifecycle events to a publisher topic.
// Per-URL events are ignored.
type PublisherSink struct {
	publisher crawler.Publisher
	topic     string
}

// NewPublisherSink returns a sink publishing to topic.
func NewPublisherSink(publisher crawler.Publisher, topic string) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic}
}

// Consume publishes CRAWL_START, CRAWL_DONE and CRAWL_ERROR events.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageCrawlStart, progress.StageCrawlDone, progress.StageCrawlError:
		default:
			continue
		}
		msg := LifecycleMessage{
			CrawlID:   evt.CrawlUUID().String(),
			Stage:     string(evt.Stage),
			Timestamp: evt.TS,
			DurMillis: evt.Dur.Milliseconds(),
			Note:      evt.Note,
		}
		if _, err := s.publisher.Publish(ctx, s.topic, msg); err != nil {
			return fmt.Errorf("publish %s: %w", evt.Stage, err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
