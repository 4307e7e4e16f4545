// Package pagesink reports fetched pages: a log line per page and, when a
// publisher is configured, a JSON summary on a topic.
package pagesink

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/hash/sha256"
	"github.com/JakeFAU/frontier-crawler/internal/id/uuid"
	"github.com/JakeFAU/frontier-crawler/internal/telemetry"
)

const publishTimeout = 10 * time.Second

// Summary is the published form of a page.
type Summary struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Links     []string  `json:"links"`
	BodyBytes int       `json:"body_bytes"`
	BodySHA   string    `json:"body_sha256"`
	CrawlID   string    `json:"crawl_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Reporter implements crawler.PageHandler via Handle.
type Reporter struct {
	crawlID   string
	publisher crawler.Publisher
	topic     string
	clock     crawler.Clock
	hasher    *sha256.Hasher
	logger    *zap.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// New builds a Reporter. publisher may be nil to only log.
func New(crawlID [16]byte, publisher crawler.Publisher, topic string, clock crawler.Clock, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		crawlID:   uuid.String(crawlID),
		publisher: publisher,
		topic:     topic,
		clock:     clock,
		hasher:    sha256.New(),
		logger:    logger,
	}
}

// Handle logs page and publishes its summary. Publish failures are logged
// and counted; they never stop the crawl.
func (r *Reporter) Handle(ctx context.Context, page crawler.Page) {
	r.logger.Info("page fetched",
		zap.String("url", page.URL()),
		zap.String("title", page.Title()),
		zap.Int("links", page.LinkCount()),
		zap.Int("body_bytes", len(page.Body())))

	if r.publisher == nil {
		return
	}
	summary := Summary{
		URL:       page.URL(),
		Title:     page.Title(),
		Links:     page.Links(),
		BodyBytes: len(page.Body()),
		BodySHA:   r.hasher.Sum(page.Body()),
		CrawlID:   r.crawlID,
		Timestamp: r.now(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	pubCtx, span := telemetry.Tracer("pagesink").Start(pubCtx, "publish page summary")
	defer span.End()
	span.SetAttributes(attribute.String("url", page.URL()), attribute.String("topic", r.topic))

	if _, err := r.publisher.Publish(pubCtx, r.topic, summary); err != nil {
		r.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		r.logger.Warn("publish page summary failed", zap.String("url", page.URL()), zap.Error(err))
		return
	}
	r.published.Add(1)
}

// Published returns the number of summaries delivered.
func (r *Reporter) Published() int64 {
	return r.published.Load()
}

// Failed returns the number of summaries that could not be delivered.
func (r *Reporter) Failed() int64 {
	return r.failed.Load()
}

func (r *Reporter) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now()
}
