// Package metrics exposes the live Prometheus gauges of a crawl and the
// handler that serves them.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerFrontierDepth       prometheus.Gauge
	crawlerInflightURLs        prometheus.Gauge
	crawlerActiveWorkers       prometheus.Gauge
	crawlerParseBacklog        prometheus.Gauge
	crawlerVisitedURLs         prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFrontierDepth = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_frontier_depth",
			Help: "URLs waiting in the frontier.",
		})
		crawlerInflightURLs = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_inflight_urls",
			Help: "URLs pushed but not yet fully processed.",
		})
		crawlerActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Workers currently fetching a page.",
		})
		crawlerParseBacklog = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_parse_backlog",
			Help: "Parse jobs queued for the offload pool.",
		})
		crawlerVisitedURLs = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_visited_urls",
			Help: "URLs claimed in the visited set.",
		})
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the default registry merged with extra gatherers.
func HandlerFor(extra ...prometheus.Gatherer) http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
	gatherers = append(gatherers, extra...)
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

// SetFrontierDepth records the frontier length.
func SetFrontierDepth(n int) {
	Init()
	crawlerFrontierDepth.Set(float64(n))
}

// SetInflight records the outstanding work count.
func SetInflight(n int64) {
	Init()
	crawlerInflightURLs.Set(float64(n))
}

// SetParseBacklog records queued parse jobs.
func SetParseBacklog(n int) {
	Init()
	crawlerParseBacklog.Set(float64(n))
}

// SetVisited records the size of the visited set.
func SetVisited(n int64) {
	Init()
	crawlerVisitedURLs.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
