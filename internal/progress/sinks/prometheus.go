package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/frontier-crawler/internal/progress"
)

// PrometheusSink turns progress events into crawl counters.
type PrometheusSink struct {
	crawlsStarted   prometheus.Counter
	crawlsCompleted *prometheus.CounterVec
	crawlsRunning   prometheus.Gauge
	crawlRuntime    *prometheus.HistogramVec

	pagesFetched  *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	bodyBytes     *prometheus.CounterVec
	linksFound    prometheus.Counter
	fetchDuration *prometheus.HistogramVec

	running *crawlTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_crawls_started_total",
			Help: "Crawls started.",
		}),
		crawlsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_crawls_completed_total",
			Help: "Crawls finished, partitioned by result.",
		}, []string{"result"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_crawls_running",
			Help: "Crawls currently running.",
		}),
		crawlRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_crawl_runtime_seconds",
			Help:    "Wall time per finished crawl.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		}, []string{"result"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_pages_fetched_total",
			Help: "Pages fetched and parsed, partitioned by site.",
		}, []string{"site"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_errors_total",
			Help: "Failed fetches, partitioned by site and error kind.",
		}, []string{"site", "kind"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_urls_skipped_total",
			Help: "URLs popped but not fetched, partitioned by reason.",
		}, []string{"reason"}),
		bodyBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_body_bytes_total",
			Help: "Extracted body text bytes per site.",
		}, []string{"site"}),
		linksFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_links_discovered_total",
			Help: "Outbound links extracted from fetched pages.",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch and parse latency, partitioned by status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"status_class"}),
		running: newCrawlTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.crawlsStarted,
		s.crawlsCompleted,
		s.crawlsRunning,
		s.crawlRuntime,
		s.pagesFetched,
		s.fetchErrors,
		s.skipped,
		s.bodyBytes,
		s.linksFound,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	switch evt.Stage {
	case progress.StageCrawlStart:
		s.crawlsStarted.Inc()
		if s.running.start(evt.CrawlID) {
			s.crawlsRunning.Inc()
		}
	case progress.StageCrawlDone:
		s.finish(evt, "success")
	case progress.StageCrawlError:
		s.finish(evt, "error")
	case progress.StageFetchDone:
		s.pagesFetched.WithLabelValues(site).Inc()
		if evt.Bytes > 0 {
			s.bodyBytes.WithLabelValues(site).Add(float64(evt.Bytes))
		}
		if evt.Links > 0 {
			s.linksFound.Add(float64(evt.Links))
		}
		s.observeFetch(evt)
	case progress.StageFetchError:
		s.fetchErrors.WithLabelValues(site, evt.ErrorKind).Inc()
		s.observeFetch(evt)
	case progress.StageSkipDuplicate:
		s.skipped.WithLabelValues("duplicate").Inc()
	case progress.StageSkipLimit:
		s.skipped.WithLabelValues("limit").Inc()
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.crawlsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.crawlRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.running.complete(evt.CrawlID) {
		s.crawlsRunning.Dec()
	}
}

func (s *PrometheusSink) observeFetch(evt progress.Event) {
	if evt.Dur <= 0 {
		return
	}
	class := string(evt.StatusClass)
	if class == "" {
		class = string(progress.StatusOther)
	}
	s.fetchDuration.WithLabelValues(class).Observe(evt.Dur.Seconds())
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type crawlTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newCrawlTracker() *crawlTracker {
	return &crawlTracker{running: make(map[[16]byte]struct{})}
}

func (t *crawlTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *crawlTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
