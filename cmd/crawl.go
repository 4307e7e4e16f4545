// Package cmd defines the CLI commands for the crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/api"
	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/config"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/dispatcher"
	"github.com/JakeFAU/frontier-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/frontier-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/frontier-crawler/internal/id/uuid"
	"github.com/JakeFAU/frontier-crawler/internal/logging"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"github.com/JakeFAU/frontier-crawler/internal/pagesink"
	"github.com/JakeFAU/frontier-crawler/internal/parsepool"
	"github.com/JakeFAU/frontier-crawler/internal/progress"
	"github.com/JakeFAU/frontier-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/frontier-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/frontier-crawler/internal/telemetry"
)

const (
	serviceName          = "frontier-crawler"
	defaultPageTopic     = "crawler-pages"
	shutdownTimeout      = 10 * time.Second
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl everything reachable from the seed URLs",
		Long: `Seeds the frontier, runs the worker pool until no URL is pending or
the process is interrupted, then prints a summary of the crawl.`,
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.StringSlice("seed", nil, "seed URL (repeatable)")
	flags.Int("workers", 0, "number of fetch workers")
	flags.Int("parse-workers", 0, "number of HTML parse goroutines")
	flags.Duration("timeout", 0, "per-request timeout")
	flags.Int("max-pages", 0, "stop fetching after this many pages (0 = unlimited)")
	flags.Int("port", 0, "ops HTTP server port (0 = disabled)")
	flags.String("user-agent", "", "User-Agent header for requests")
	flags.Bool("development", true, "human-readable development logging")

	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config
	logger := appInstance.Logger
	if len(cfg.Crawler.Seeds) == 0 {
		return errors.New("at least one seed URL is required (--seed or crawler.seeds)")
	}

	stats, err := runCrawl(cmd.Context(), cfg, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	printSummary(cmd.OutOrStdout(), stats)
	logger.Info("Crawl command finished.")
	return nil
}

// runCrawl wires the crawl components from cfg and runs one crawl.
func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger) (dispatcher.Stats, error) {
	crawlID, err := uuid.New().NewID()
	if err != nil {
		return dispatcher.Stats{}, err
	}
	clock := system.New()

	tp, err := telemetry.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return dispatcher.Stats{}, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if serr := tp.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("tracer provider shutdown failed", zap.Error(serr))
		}
	}()
	ctx, span := telemetry.Tracer("crawler").Start(ctx, "crawl",
		trace.WithAttributes(attribute.String("crawl_id", uuid.String(crawlID))))
	defer span.End()

	pool := parsepool.New(parsepool.Config{
		Workers:   cfg.Crawler.ParseWorkers,
		QueueSize: cfg.Crawler.ParseQueue,
	}, extract.Extract, logging.Component(logger, "parsepool"))
	defer pool.Close()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:       cfg.Crawler.UserAgent,
		Timeout:         cfg.Crawler.RequestTimeout,
		MaxBodyBytes:    cfg.Crawler.MaxBodyBytes,
		MaxConnsPerHost: cfg.Crawler.MaxConnsPerHost,
		MaxIdleConns:    cfg.Crawler.MaxIdleConns,
	}, pool, cfg.RetryPolicy(), logging.Component(logger, "fetcher"))

	publisher, closePublisher, err := buildPublisher(ctx, cfg.PubSub, logger)
	if err != nil {
		return dispatcher.Stats{}, err
	}
	defer closePublisher()

	topic := cfg.PubSub.TopicName
	if topic == "" {
		topic = defaultPageTopic
	}
	reporter := pagesink.New(crawlID, publisher, topic, clock, logging.Component(logger, "pages"))

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return dispatcher.Stats{}, err
	}
	recent := sinks.NewRecentSink(0)
	hubSinks := []progress.Sink{promSink, recent}
	if cfg.Progress.LogEvents {
		hubSinks = append(hubSinks, sinks.NewLogSink(logging.Component(logger, "progress")))
	}
	if publisher != nil && cfg.PubSub.LifecycleTopic != "" {
		hubSinks = append(hubSinks, sinks.NewPublisherSink(publisher, cfg.PubSub.LifecycleTopic))
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait,
		Logger:         logging.Component(logger, "progress"),
	}, hubSinks...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("progress hub close failed", zap.Error(cerr))
		}
	}()

	disp := dispatcher.New(dispatcher.Config{
		Workers:       cfg.Crawler.Workers,
		MaxPages:      cfg.Crawler.MaxPages,
		NormalizeURLs: cfg.Crawler.NormalizeURLs,
		CrawlID:       crawlID,
	}, fetcher, reporter.Handle, hub, clock, logging.Component(logger, "dispatcher"))

	stopServer, err := startOpsServer(ctx, cfg.Server.Port, disp, registry, recent, logger)
	if err != nil {
		return dispatcher.Stats{}, err
	}
	defer stopServer()

	stats, err := disp.Run(ctx, cfg.Crawler.Seeds...)
	logger.Info("page reports",
		zap.Int64("published", reporter.Published()),
		zap.Int64("publish_failed", reporter.Failed()),
		zap.Int64("progress_dropped", hub.Dropped()))
	return stats, err
}

// buildPublisher returns the page publisher and its cleanup function. With
// Pub/Sub disabled the publisher is nil and pages are only logged.
func buildPublisher(ctx context.Context, cfg config.PubSubConfig, logger *zap.Logger) (crawler.Publisher, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	publisher := pubsubpublisher.New(client, cfg.TopicName)
	cleanup := func() {
		publisher.Close()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	logger.Info("publishing pages to pubsub",
		zap.String("project_id", cfg.ProjectID),
		zap.String("topic", cfg.TopicName))
	return publisher, cleanup, nil
}

// startOpsServer serves the ops API while the crawl runs. Port 0 disables it.
func startOpsServer(
	ctx context.Context,
	port int,
	stats api.StatsSource,
	registry prometheus.Gatherer,
	events api.EventSource,
	logger *zap.Logger,
) (func(), error) {
	if port <= 0 {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	srv := api.NewServer(stats, logging.Component(logger, "api"),
		api.WithMetricsHandler(metrics.HandlerFor(registry)),
		api.WithEvents(events))

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if serr := srv.Serve(serveCtx, ln); serr != nil {
			logger.Error("ops server failed", zap.Error(serr))
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func printSummary(w io.Writer, stats dispatcher.Stats) {
	fmt.Fprintf(w, "crawl %s finished in %s\n", stats.CrawlID, stats.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  fetched:    %d\n", stats.Fetched)
	fmt.Fprintf(w, "  failed:     %d\n", stats.Failed)
	fmt.Fprintf(w, "  duplicates: %d\n", stats.Duplicates)
	fmt.Fprintf(w, "  skipped:    %d\n", stats.Skipped)
	fmt.Fprintf(w, "  discovered: %d\n", stats.Discovered)
	fmt.Fprintf(w, "  visited:    %d\n", stats.Visited)
}
